package events

import (
	"context"
	"errors"

	"haulpay/internal/domain"
)

// Publisher delivers a trip event somewhere.
type Publisher interface {
	Publish(ctx context.Context, ev domain.TripEvent) error
}

// Fanout publishes each event to every publisher and joins their errors.
type Fanout []Publisher

// Publish sends ev to all publishers, even when one fails.
func (f Fanout) Publish(ctx context.Context, ev domain.TripEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = (*PushPublisher)(nil)
	_ Publisher = Fanout(nil)
)
