package events

import (
	"context"

	"github.com/firemarket/escrow-engine/internal/model"
	"github.com/firemarket/escrow-engine/internal/store"
)

// Bus forwards events to every attached sink in order.
type Bus struct {
	sinks []store.EventSink
}

// NewBus returns a bus over sinks. Nil sinks are skipped.
func NewBus(sinks ...store.EventSink) *Bus {
	b := &Bus{}
	for _, s := range sinks {
		if s != nil {
			b.sinks = append(b.sinks, s)
		}
	}
	return b
}

// Attach adds a sink.
func (b *Bus) Attach(s store.EventSink) { b.sinks = append(b.sinks, s) }

// Publish implements store.EventSink.
func (b *Bus) Publish(ctx context.Context, evs []model.Event) {
	for _, s := range b.sinks {
		s.Publish(ctx, evs)
	}
}
