//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"conv-core/domain"
	cerrors "conv-core/errors"

	"github.com/dgraph-io/badger/v4"
)

type IMessageRepository interface {
	Store(m *domain.Message) error
	MarkRead(m *domain.Message) error
	Delete(m *domain.Message) error
	Unread(conversationID string) ([]*domain.Message, error)
	FetchConversation(conversationID string, limit int) ([]*domain.Message, error)
	Last(conversationID string) (*domain.Message, error)
	DeleteAll(conversationID string) error
}

// MessageRepository persists messages in BadgerDB.
// The primary key is "msg:{conversation_id}:{received_at:019d}:{uuid}":
// the zero-padded receive timestamp makes a forward scan chronological,
// and the UUID disambiguates two messages accepted in the same
// millisecond. Unread messages carry a parallel
// "idx:unread:{conversation_id}:{received_at:019d}:{uuid}" entry whose
// value is the primary key; marking read deletes the entry in the same
// transaction that rewrites the record.
type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) MessageRepository {
	return MessageRepository{db: db, log: log}
}

func messageKey(m *domain.Message) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", m.ConversationID, m.ReceivedAt, m.ID))
}

func unreadKey(m *domain.Message) []byte {
	return []byte(fmt.Sprintf("idx:unread:%s:%019d:%s", m.ConversationID, m.ReceivedAt, m.ID))
}

func messagePrefix(conversationID string) []byte {
	return []byte("msg:" + conversationID + ":")
}

func (r MessageRepository) Store(m *domain.Message) error {
	value, err := json.Marshal(m)
	if err != nil {
		return cerrors.Persistence(err)
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(messageKey(m), value); err != nil {
			return err
		}
		if m.Unread {
			return txn.Set(unreadKey(m), messageKey(m))
		}
		return txn.Delete(unreadKey(m))
	})
	if err != nil {
		return cerrors.Persistence(err)
	}
	return nil
}

// MarkRead flips the unread flag off and retires the unread index entry.
func (r MessageRepository) MarkRead(m *domain.Message) error {
	m.Unread = false
	return r.Store(m)
}

// Delete removes a message record together with its unread index entry.
func (r MessageRepository) Delete(m *domain.Message) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(messageKey(m)); err != nil {
			return err
		}
		return txn.Delete(unreadKey(m))
	})
	if err != nil {
		return cerrors.Persistence(err)
	}
	return nil
}

// Unread returns every unread message of a conversation in ReceivedAt
// order, via a range scan over the unread index.
func (r MessageRepository) Unread(conversationID string) ([]*domain.Message, error) {
	var messages []*domain.Message
	prefix := []byte("idx:unread:" + conversationID + ":")
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			item, err := txn.Get(key)
			if err == badger.ErrKeyNotFound {
				r.log.Debug("Dangling unread entry", "key", string(key))
				continue
			}
			if err != nil {
				return err
			}
			var m domain.Message
			if err := item.Value(func(v []byte) error {
				return json.Unmarshal(v, &m)
			}); err != nil {
				return err
			}
			messages = append(messages, &m)
		}
		return nil
	})
	if err != nil {
		return nil, cerrors.Persistence(err)
	}
	return messages, nil
}

// FetchConversation returns up to limit messages of a conversation,
// newest first. A limit of zero or less means no limit.
func (r MessageRepository) FetchConversation(conversationID string, limit int) ([]*domain.Message, error) {
	var messages []*domain.Message
	prefix := messagePrefix(conversationID)
	err := r.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Seek past the last possible key of this conversation, then
		// walk backwards while still inside the prefix.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(messages) == limit {
				break
			}
			var m domain.Message
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &m)
			}); err != nil {
				return err
			}
			messages = append(messages, &m)
		}
		return nil
	})
	if err != nil {
		return nil, cerrors.Persistence(err)
	}
	return messages, nil
}

// Last returns the newest message of a conversation, or nil when the
// conversation holds none.
func (r MessageRepository) Last(conversationID string) (*domain.Message, error) {
	messages, err := r.FetchConversation(conversationID, 1)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}
	return messages[0], nil
}

// DeleteAll removes every message of a conversation together with any
// unread index entries, used by the destroy/archive operation.
func (r MessageRepository) DeleteAll(conversationID string) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		for _, prefix := range [][]byte{
			messagePrefix(conversationID),
			[]byte("idx:unread:" + conversationID + ":"),
		} {
			options := badger.DefaultIteratorOptions
			options.PrefetchValues = false
			it := txn.NewIterator(options)
			var keys [][]byte
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			it.Close()
			for _, key := range keys {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return cerrors.Persistence(err)
	}
	return nil
}
