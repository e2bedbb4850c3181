package events

import (
	"context"

	"github.com/dshills/trialscribe/internal/store"
)

// StoreSink persists transition events to the run repository so past runs
// can be replayed from the store. Persistence errors are swallowed.
type StoreSink struct {
	repo *store.RunRepository
}

// NewStoreSink creates a sink persisting through repo.
func NewStoreSink(repo *store.RunRepository) *StoreSink {
	return &StoreSink{repo: repo}
}

// Emit persists the event.
func (s *StoreSink) Emit(ev Event) {
	_ = s.repo.AppendEvent(context.Background(), &store.RunEvent{
		RunID:     ev.RunID,
		Timestamp: ev.Timestamp,
		State:     ev.State,
		Changed:   ev.Changed,
	})
}
