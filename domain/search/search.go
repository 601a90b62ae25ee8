// Package search derives the token set a conversation is findable by and
// normalizes queries for prefix lookup against an ordered token index.
//
// Prefix search rides on the store's ordered keys: a query q matches the
// half-open key range [q, q") where q" is q with its last character
// incremented. That keeps case-insensitive prefix search a plain range
// scan instead of a dedicated text index.
package search

import (
	"regexp"
	"strconv"
	"strings"

	"conv-core/domain"

	"github.com/nyaruka/phonenumbers"
	"github.com/samber/lo"
)

var (
	splitter  = regexp.MustCompile(`[\s\-_()+]+`)
	stripped  = regexp.MustCompile(`[-.()]`)
	digitOnly = regexp.MustCompile(`^\+\d*$`)
)

// Tokenize recomputes the full token set of a conversation. It is
// deterministic over the display name and the normalized id; callers run
// it on every name or id change so the persisted tokens never go stale.
func Tokenize(c *domain.Conversation, region string) []string {
	var tokens []string
	if c.Name != "" {
		lower := strings.ToLower(strings.TrimSpace(c.Name))
		tokens = append(tokens, strings.ToLower(c.Name))
		tokens = append(tokens, splitter.Split(lower, -1)...)
	}
	if c.IsPrivate() {
		if num, err := phonenumbers.Parse(c.ID, region); err == nil {
			national := phonenumbers.GetNationalSignificantNumber(num)
			tokens = append(tokens,
				national,
				strconv.Itoa(int(num.GetCountryCode()))+national,
			)
		}
	}
	return lo.Uniq(lo.Compact(tokens))
}

// NormalizeQuery lowercases the query, strips number punctuation and
// then collapses a leading + on an all-digit query, mirroring how phone
// number tokens are stored. Punctuation goes first so a dialed form
// like "+1-555-123-4567" still collapses to its digit token.
func NormalizeQuery(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	q = stripped.ReplaceAllString(q, "")
	if digitOnly.MatchString(q) {
		q = strings.TrimPrefix(q, "+")
	}
	return q
}

// UpperBound returns the smallest string greater than every extension of
// q, i.e. q with its final character incremented. Used as the exclusive
// upper key of the prefix range scan.
func UpperBound(q string) string {
	if q == "" {
		return q
	}
	runes := []rune(q)
	runes[len(runes)-1]++
	return string(runes)
}
