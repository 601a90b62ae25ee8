// Package trust computes verification state across a conversation's
// participants. Verification is a stored flag on private conversations
// and a derived property on groups: member trust can change underneath a
// group at any time (key rotation), so group trust is recomputed from
// live member state on every call instead of being cached.
package trust

import (
	cerrors "conv-core/errors"
	"conv-core/domain"
)

// ContactSource resolves a member id to its private conversation with
// get-or-create semantics. Group members are weak references; the source
// owns the lookup.
type ContactSource interface {
	Contact(id string) (*domain.Conversation, error)
}

// Aggregator answers trust questions for any conversation kind. The self
// id is excluded from group aggregation.
type Aggregator struct {
	self     string
	contacts ContactSource
}

func NewAggregator(self string, contacts ContactSource) *Aggregator {
	return &Aggregator{self: self, contacts: contacts}
}

// Verified reports whether the conversation is fully trusted: the stored
// flag for private conversations, every-member-verified for groups.
// Recursion terminates after one level because members are private.
func (a *Aggregator) Verified(c *domain.Conversation) (bool, error) {
	switch c.Kind {
	case domain.KindPrivate:
		return c.Verified == domain.VerificationVerified, nil
	case domain.KindGroup:
		for _, id := range c.Members {
			if id == a.self {
				continue
			}
			contact, err := a.contacts.Contact(id)
			if err != nil {
				return false, err
			}
			ok, err := a.Verified(contact)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}
	return false, &cerrors.InvalidOperationError{Op: "verified", Kind: string(c.Kind)}
}

// Conflicts lists the participants actively flagged as changed or
// suspicious: neither confirmed-trusted nor default-untrusted.
func (a *Aggregator) Conflicts(c *domain.Conversation) ([]*domain.Conversation, error) {
	switch c.Kind {
	case domain.KindPrivate:
		if inConflict(c) {
			return []*domain.Conversation{c}, nil
		}
		return nil, nil
	case domain.KindGroup:
		var conflicts []*domain.Conversation
		for _, id := range c.Members {
			if id == a.self {
				continue
			}
			contact, err := a.contacts.Contact(id)
			if err != nil {
				return nil, err
			}
			if inConflict(contact) {
				conflicts = append(conflicts, contact)
			}
		}
		return conflicts, nil
	}
	return nil, &cerrors.InvalidOperationError{Op: "conflicts", Kind: string(c.Kind)}
}

// ToggleVerified flips a private conversation between verified and
// default. Groups are rejected: verification is only meaningful per
// participant.
func (a *Aggregator) ToggleVerified(c *domain.Conversation) error {
	if !c.IsPrivate() {
		return &cerrors.InvalidOperationError{Op: "toggle verified", Kind: string(c.Kind)}
	}
	if c.Verified == domain.VerificationVerified {
		c.Verified = domain.VerificationDefault
	} else {
		c.Verified = domain.VerificationVerified
	}
	return nil
}

func inConflict(c *domain.Conversation) bool {
	return c.Verified != domain.VerificationVerified &&
		c.Verified != domain.VerificationDefault
}
