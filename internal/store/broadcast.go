package store

import (
	"context"

	"github.com/you/chatscoop/internal/core"
)

type broadcaster interface {
	Broadcast(core.ChatRecord)
}

// WithBroadcast fans freshly inserted records out to stream clients in
// addition to persisting them. Duplicates are not re-broadcast.
type WithBroadcast struct {
	*Store
	api broadcaster
}

func WithAPI(base *Store, api broadcaster) *WithBroadcast {
	return &WithBroadcast{Store: base, api: api}
}

func (w *WithBroadcast) Insert(ctx context.Context, rec core.ChatRecord) (bool, error) {
	inserted, err := w.Store.Insert(ctx, rec)
	if err != nil {
		return inserted, err
	}
	if inserted && w.api != nil {
		w.api.Broadcast(rec)
	}
	return inserted, nil
}
