package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, data any) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }

// Dispatcher publishes events off the request path. Each publish gets its
// own deadline so a slow broker never holds up a committed write.
type Dispatcher struct {
	pub     Publisher
	timeout time.Duration
	log     zerolog.Logger
}

func NewDispatcher(pub Publisher, timeout time.Duration, log zerolog.Logger) *Dispatcher {
	if pub == nil {
		pub = Nop{}
	}
	return &Dispatcher{pub: pub, timeout: timeout, log: log}
}

// Emit is a no-op on a nil Dispatcher.
func (d *Dispatcher) Emit(routingKey string, data any) {
	if d == nil {
		return
	}
	go d.publish(routingKey, data)
}

func (d *Dispatcher) publish(routingKey string, data any) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.pub.Publish(ctx, routingKey, data); err != nil {
		d.log.Error().Err(err).Str("event", routingKey).Msg("failed to publish event")
		return
	}
	d.log.Debug().Str("event", routingKey).Msg("event published")
}
