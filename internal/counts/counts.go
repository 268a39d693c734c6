// Package counts decodes the packed per-action-type tallies attached to
// stories and comments.
//
// The storage layer keeps moderation action counts as a flat map from packed
// keys to integers, where a key is either a bare action type ("FLAG") or an
// action type qualified with a reason suffix ("FLAG_SPAM"). This package is
// the only place that understands that encoding.
package counts

import (
	"errors"
	"fmt"
	"strings"
)

// ActionType is the closed set of moderation-relevant actions.
type ActionType string

const (
	ActionReaction  ActionType = "REACTION"
	ActionDontAgree ActionType = "DONT_AGREE"
	ActionFlag      ActionType = "FLAG"
	ActionIllegal   ActionType = "ILLEGAL"
)

// actionTypes drives key matching in Decode. Order is irrelevant; matching
// always prefers the longest type prefix so DONT_AGREE is never shadowed.
var actionTypes = []ActionType{ActionReaction, ActionDontAgree, ActionFlag, ActionIllegal}

// Reason suffixes recorded on flag-style actions. Unknown suffixes still
// aggregate under their base type, so adding a reason is never a breaking
// change for readers.
const (
	ReasonSpam          = "SPAM"
	ReasonOffensive     = "OFFENSIVE"
	ReasonAbusive       = "ABUSIVE"
	ReasonDetectedLinks = "DETECTED_LINKS"
	ReasonOther         = "OTHER"
)

// ErrNegativeCount reports a corrupted packed entry. The caller decides
// whether to fail the request or degrade; the codec never clamps.
var ErrNegativeCount = errors.New("negative action count")

// ActionCounts is the decoded view of a packed count blob. ByType aggregates
// every reason-qualified key under its base action type; ByKey preserves the
// original per-key granularity for recognized types.
type ActionCounts struct {
	ByType map[ActionType]int64
	ByKey  map[string]int64
}

// Get returns the aggregate count for an action type.
func (c ActionCounts) Get(t ActionType) int64 {
	return c.ByType[t]
}

// Total returns the sum across all action types.
func (c ActionCounts) Total() int64 {
	var total int64
	for _, n := range c.ByType {
		total += n
	}
	return total
}

// Decode aggregates a packed count map into per-type totals. Keys whose
// leading segment does not match a known action type are skipped so that
// future action types never fail old readers. A negative value anywhere in
// the map is a data-integrity error.
func Decode(packed map[string]int64) (ActionCounts, error) {
	out := ActionCounts{
		ByType: make(map[ActionType]int64, len(actionTypes)),
		ByKey:  make(map[string]int64, len(packed)),
	}
	for _, t := range actionTypes {
		out.ByType[t] = 0
	}
	for key, count := range packed {
		if count < 0 {
			return ActionCounts{}, fmt.Errorf("decode action counts: key %q has count %d: %w", key, count, ErrNegativeCount)
		}
		base, ok := baseType(key)
		if !ok {
			continue
		}
		out.ByType[base] += count
		out.ByKey[key] = count
	}
	return out, nil
}

// Encode returns the packed key for an action type and optional reason
// suffix. It is the inverse of Decode at the aggregate level: incrementing
// the encoded key by n raises the decoded total for t by n.
func Encode(t ActionType, reason string) string {
	if reason == "" {
		return string(t)
	}
	return string(t) + "_" + reason
}

// baseType pattern-matches a packed key against the known action types
// rather than splitting on the first underscore, which would mangle types
// that themselves contain one.
func baseType(key string) (ActionType, bool) {
	var best ActionType
	found := false
	for _, t := range actionTypes {
		prefix := string(t)
		if key != prefix && !strings.HasPrefix(key, prefix+"_") {
			continue
		}
		if !found || len(prefix) > len(string(best)) {
			best = t
			found = true
		}
	}
	return best, found
}
