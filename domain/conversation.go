// Package domain contains the core concepts of the conversation store:
// the conversation aggregate, its messages, and validation rules.
// Aggregates are mutated only inside jobs serialized by the runtime.
package domain

import (
	"fmt"

	cerrors "conv-core/errors"

	"github.com/go-playground/validator/v10"
	"github.com/nyaruka/phonenumbers"
)

// Kind tags the two conversation variants. All kind-dependent behavior
// switches exhaustively on this tag.
type Kind string

const (
	KindPrivate Kind = "private"
	KindGroup   Kind = "group"
)

// Verification is the tri-state trust flag of a private conversation.
// Group trust is always derived from member state, never stored.
type Verification string

const (
	VerificationDefault    Verification = "default"
	VerificationVerified   Verification = "verified"
	VerificationUnverified Verification = "unverified"
)

// Conversation is the aggregate root. ID is an E.164 number for private
// conversations and an opaque identifier for groups. Members hold weak
// references (IDs) to private conversations, resolved via the registry.
type Conversation struct {
	ID           string       `json:"id" validate:"required"`
	Kind         Kind         `json:"kind" validate:"required,oneof=private group"`
	Name         string       `json:"name,omitempty"`
	Members      []string     `json:"members,omitempty"`
	Verified     Verification `json:"verified,omitempty"`
	UnreadCount  int          `json:"unread_count"`
	LastMessage  string       `json:"last_message,omitempty"`
	LastActivity int64        `json:"last_activity,omitempty"`
	ExpireTimer  uint32       `json:"expire_timer,omitempty"`
	Tokens       []string     `json:"tokens,omitempty"`
	Left         bool         `json:"left,omitempty"`
	Color        string       `json:"color,omitempty"`
}

var validate = validator.New()

// Validate checks the aggregate and, for private conversations, rewrites
// ID to its E.164 form under the given region. It fails with a
// ValidationError before anything is persisted.
func (c *Conversation) Validate(region string) error {
	if err := validate.Struct(c); err != nil {
		return &cerrors.ValidationError{Field: "conversation", Reason: err.Error()}
	}
	if c.Kind == KindPrivate {
		e164, err := NormalizeNumber(c.ID, region)
		if err != nil {
			return err
		}
		c.ID = e164
		if c.Verified == "" {
			c.Verified = VerificationDefault
		}
	}
	return nil
}

// NormalizeNumber parses a phone-number-like identifier under the active
// region and returns its E.164 form.
func NormalizeNumber(id, region string) (string, error) {
	num, err := phonenumbers.Parse(id, region)
	if err != nil {
		return "", &cerrors.ValidationError{Field: "id", Reason: err.Error()}
	}
	// Possibility (length and region plausibility) is the right bar
	// here: a messenger must accept any reachable number, including
	// ranges the numbering plan has not assigned yet.
	if !phonenumbers.IsPossibleNumber(num) {
		return "", &cerrors.ValidationError{Field: "id", Reason: fmt.Sprintf("%q is not a valid phone number", id)}
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func (c *Conversation) IsPrivate() bool {
	return c.Kind == KindPrivate
}

// Title returns the display name, falling back to the formatted number
// for private conversations and a placeholder for nameless groups.
func (c *Conversation) Title(region string) string {
	if c.Name != "" {
		return c.Name
	}
	if c.IsPrivate() {
		return c.Number(region)
	}
	return "Unknown group"
}

// Number formats a private conversation's id for display: national form
// when the number belongs to the active region, international otherwise.
// Unparseable ids are returned as-is.
func (c *Conversation) Number(region string) string {
	if !c.IsPrivate() {
		return ""
	}
	num, err := phonenumbers.Parse(c.ID, region)
	if err != nil {
		return c.ID
	}
	// Compare country codes rather than resolved regions: region
	// resolution needs a fully assigned number, while any possible
	// number can still be formatted.
	if int(num.GetCountryCode()) == phonenumbers.GetCountryCodeForRegion(region) {
		return phonenumbers.Format(num, phonenumbers.NATIONAL)
	}
	return phonenumbers.Format(num, phonenumbers.INTERNATIONAL)
}

// Searchable reports whether the conversation should appear in search
// results. A group the user left stays findable only while it still has
// a last message.
func (c *Conversation) Searchable() bool {
	return !c.Left || c.LastMessage != ""
}
