package store

import (
	"context"

	"github.com/firemarket/escrow-engine/internal/model"
)

// EventSink receives events after the transaction that wrote them has
// committed.
type EventSink interface {
	Publish(ctx context.Context, events []model.Event)
}

// NotifyingStore forwards committed events to a sink. Events from a failed
// Update are never published.
type NotifyingStore struct {
	Store
	sink EventSink
}

// NewNotifyingStore wraps st so committed events reach sink.
func NewNotifyingStore(st Store, sink EventSink) *NotifyingStore {
	return &NotifyingStore{Store: st, sink: sink}
}

func (s *NotifyingStore) Update(ctx context.Context, fn func(Tx) error) error {
	var pending []model.Event
	err := s.Store.Update(ctx, func(tx Tx) error {
		pending = pending[:0]
		return fn(&recordingTx{Tx: tx, pending: &pending})
	})
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		s.sink.Publish(ctx, pending)
	}
	return nil
}

type recordingTx struct {
	Tx
	pending *[]model.Event
}

func (t *recordingTx) AppendEvent(e *model.Event) error {
	if err := t.Tx.AppendEvent(e); err != nil {
		return err
	}
	*t.pending = append(*t.pending, *e)
	return nil
}
