// Package events fans committed vault events out to logs, Redis subscribers
// and live websocket clients.
package events

import (
	"context"
	"errors"

	"tokenvault/internal/domain"
	"tokenvault/pkg/logger"
)

// LogPublisher writes every event as a structured log line.
type LogPublisher struct {
	logger logger.Logger
}

func NewLogPublisher(log logger.Logger) *LogPublisher {
	return &LogPublisher{logger: log}
}

func (p *LogPublisher) Publish(ctx context.Context, events []domain.Event) error {
	for _, e := range events {
		fields := map[string]interface{}{
			"event_id": e.ID.String(),
			"vault":    e.Vault.String(),
			"kind":     string(e.Kind),
			"version":  e.Version.String(),
		}
		if !e.Account.IsZero() {
			fields["account"] = e.Account.String()
		}
		if !e.Amount.IsZero() {
			fields["amount"] = e.Amount.String()
		}
		for k, v := range e.Attributes {
			fields["attr_"+k] = v
		}
		p.logger.Info("vault event", fields)
	}
	return nil
}

// Publisher is the sink interface every fan-out target implements.
type Publisher interface {
	Publish(ctx context.Context, events []domain.Event) error
}

// Multi delivers to every publisher and joins their errors. One failing sink
// does not stop delivery to the others.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
