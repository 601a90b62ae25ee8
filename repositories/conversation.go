//go:generate go run go.uber.org/mock/mockgen -source=conversation.go -destination=../mocks/mock_conversation_repository.go -package=mocks
package repositories

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"conv-core/domain"
	"conv-core/domain/search"
	cerrors "conv-core/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

type IConversationRepository interface {
	Get(id string) (*domain.Conversation, error)
	Put(c *domain.Conversation) error
	Delete(id string) error
	Search(query string) ([]*domain.Conversation, error)
	FetchGroups(member string) ([]*domain.Conversation, error)
	FetchActive() ([]*domain.Conversation, error)
}

// ConversationRepository persists aggregates in BadgerDB. Secondary
// lookups are key-encoded:
//
//	conv:{id}                         aggregate record (JSON)
//	idx:search:{token}:{id}           one entry per search token
//	idx:group:{member}:{id}           group membership
//	idx:inbox:{^activity:019d}:{id}   activity order, timestamp complemented
//	                                  so a forward scan walks newest first
//
// Index entries are rewritten inside the same transaction as the record,
// so a reader never observes stale tokens.
type ConversationRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewConversationRepository(db *badger.DB, log *slog.Logger) ConversationRepository {
	return ConversationRepository{db: db, log: log}
}

func convKey(id string) []byte {
	return []byte("conv:" + id)
}

func searchKey(token, id string) []byte {
	return []byte("idx:search:" + token + ":" + id)
}

func groupKey(member, id string) []byte {
	return []byte("idx:group:" + member + ":" + id)
}

func inboxKey(activity int64, id string) []byte {
	return []byte(fmt.Sprintf("idx:inbox:%019d:%s", math.MaxInt64-activity, id))
}

func (r ConversationRepository) Get(id string) (*domain.Conversation, error) {
	var c *domain.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(convKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			c = &domain.Conversation{}
			return json.Unmarshal(v, c)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, cerrors.ErrNotFound
	}
	if err != nil {
		return nil, cerrors.Persistence(err)
	}
	return c, nil
}

// Put writes the aggregate and rebuilds its index entries. The previous
// record is read first so entries for dropped tokens, removed members
// and the old inbox position are deleted in the same transaction.
func (r ConversationRepository) Put(c *domain.Conversation) error {
	value, err := json.Marshal(c)
	if err != nil {
		return cerrors.Persistence(err)
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		if err := r.dropIndexes(txn, c.ID); err != nil {
			return err
		}
		if err := txn.Set(convKey(c.ID), value); err != nil {
			return err
		}
		for _, token := range c.Tokens {
			if err := txn.Set(searchKey(token, c.ID), []byte(c.ID)); err != nil {
				return err
			}
		}
		for _, member := range c.Members {
			if err := txn.Set(groupKey(member, c.ID), []byte(c.ID)); err != nil {
				return err
			}
		}
		if c.LastActivity > 0 {
			if err := txn.Set(inboxKey(c.LastActivity, c.ID), []byte(c.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return cerrors.Persistence(err)
	}
	return nil
}

func (r ConversationRepository) Delete(id string) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		if err := r.dropIndexes(txn, id); err != nil {
			return err
		}
		return txn.Delete(convKey(id))
	})
	if err != nil {
		return cerrors.Persistence(err)
	}
	return nil
}

func (r ConversationRepository) dropIndexes(txn *badger.Txn, id string) error {
	item, err := txn.Get(convKey(id))
	if err == badger.ErrKeyNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	var previous domain.Conversation
	if err := item.Value(func(v []byte) error {
		return json.Unmarshal(v, &previous)
	}); err != nil {
		return err
	}
	for _, token := range previous.Tokens {
		if err := txn.Delete(searchKey(token, id)); err != nil {
			return err
		}
	}
	for _, member := range previous.Members {
		if err := txn.Delete(groupKey(member, id)); err != nil {
			return err
		}
	}
	if previous.LastActivity > 0 {
		if err := txn.Delete(inboxKey(previous.LastActivity, id)); err != nil {
			return err
		}
	}
	return nil
}

// Search normalizes the query and walks the half-open token range
// [q, UpperBound(q)) over the search index. Conversations matching on
// several tokens are deduplicated.
func (r ConversationRepository) Search(query string) ([]*domain.Conversation, error) {
	q := search.NormalizeQuery(query)
	if q == "" {
		return nil, cerrors.ErrEmptyQuery
	}
	lower := []byte("idx:search:" + q)
	upper := []byte("idx:search:" + search.UpperBound(q))

	ids, err := r.scanIDs(lower, upper)
	if err != nil {
		return nil, err
	}
	return r.resolve(lo.Uniq(ids))
}

// FetchGroups lists every group a member id appears in.
func (r ConversationRepository) FetchGroups(member string) ([]*domain.Conversation, error) {
	prefix := []byte("idx:group:" + member + ":")
	ids, err := r.scanPrefix(prefix)
	if err != nil {
		return nil, err
	}
	return r.resolve(ids)
}

// FetchActive returns every conversation with activity, newest first.
// Ordering falls out of the complemented timestamp in the inbox keys.
func (r ConversationRepository) FetchActive() ([]*domain.Conversation, error) {
	ids, err := r.scanPrefix([]byte("idx:inbox:"))
	if err != nil {
		return nil, err
	}
	return r.resolve(ids)
}

// Index values carry the conversation id so ids containing the key
// separator never have to be parsed back out of the key.
func (r ConversationRepository) scanPrefix(prefix []byte) ([]string, error) {
	var ids []string
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			ids = append(ids, string(value))
		}
		return nil
	})
	if err != nil {
		return nil, cerrors.Persistence(err)
	}
	return ids, nil
}

func (r ConversationRepository) scanIDs(lower, upper []byte) ([]string, error) {
	var ids []string
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(lower); it.Valid(); it.Next() {
			item := it.Item()
			if bytes.Compare(item.Key(), upper) >= 0 {
				break
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			ids = append(ids, string(value))
		}
		return nil
	})
	if err != nil {
		return nil, cerrors.Persistence(err)
	}
	return ids, nil
}

func (r ConversationRepository) resolve(ids []string) ([]*domain.Conversation, error) {
	conversations := make([]*domain.Conversation, 0, len(ids))
	for _, id := range ids {
		c, err := r.Get(id)
		if err == cerrors.ErrNotFound {
			r.log.Debug("Dangling index entry", "conversation", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}
	return conversations, nil
}
