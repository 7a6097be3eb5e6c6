package threatintel

import (
	"context"
	"errors"

	"github.com/gyaneshwarpardhi/argus/internal/store"
)

type reputationReader interface {
	GetReputation(ctx context.Context, fileID string) (store.Reputation, error)
}

// Reputation answers hash-reputation lookups from the store cache.
type Reputation struct {
	store reputationReader
}

func NewReputation(s reputationReader) *Reputation {
	return &Reputation{store: s}
}

// Lookup returns the cached detection count for fileID. found is false when
// the file has not been scanned or the API did not know it.
func (r *Reputation) Lookup(ctx context.Context, fileID string) (int, bool, error) {
	rep, err := r.store.GetReputation(ctx, fileID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rep.Positives, rep.Found, nil
}
