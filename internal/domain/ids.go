package domain

import (
	"strings"

	"github.com/google/uuid"
)

// localIDPrefix marks identifiers generated client-side for rows that have
// never been persisted. Reconciliation must never send such an id to storage
// as if it were canonical.
const localIDPrefix = "local-"

// NewLocalID returns a placeholder identifier for a not-yet-persisted row.
func NewLocalID() string {
	return localIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id is a client-side placeholder.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}

// NewPairID returns a client-side identifier for a ChargePair. Pair ids are
// purely in-memory; only the per-side charge ids are persisted.
func NewPairID() string {
	return uuid.NewString()
}
