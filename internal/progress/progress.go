// Package progress fans worker progress out to the places clients read it from.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/beacon/pipeline/internal/cache"
	"github.com/beacon/pipeline/internal/model"
)

// Target identifies where a job's progress goes.
type Target struct {
	StatusID string
	// Results is the queue task's result field. Nil when unavailable.
	Results io.Writer
}

// Sink is one progress destination.
type Sink interface {
	Name() string
	Write(ctx context.Context, t Target, p model.Progress) error
}

// Reporter publishes progress without ever failing the caller.
type Reporter interface {
	Report(ctx context.Context, t Target, p model.Progress)
}

// Multi writes to every sink in order, logging and swallowing sink errors.
type Multi struct {
	sinks []Sink
	log   *slog.Logger
}

func NewMulti(log *slog.Logger, sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, log: log}
}

func (m *Multi) Report(ctx context.Context, t Target, p model.Progress) {
	for _, s := range m.sinks {
		if err := s.Write(ctx, t, p); err != nil {
			m.log.Warn("progress update failed",
				"sink", s.Name(), "status_id", t.StatusID, "step", p.Step, "error", err)
		}
	}
}

// QueueSink writes the progress JSON into the task's result field.
type QueueSink struct{}

func (QueueSink) Name() string { return "queue" }

func (QueueSink) Write(_ context.Context, t Target, p model.Progress) error {
	if t.Results == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = t.Results.Write(data)
	return err
}

// StatusSink writes the status cache entry polled by clients.
type StatusSink struct {
	Status *cache.StatusStore
}

func (StatusSink) Name() string { return "cache" }

func (s StatusSink) Write(ctx context.Context, t Target, p model.Progress) error {
	if t.StatusID == "" {
		return nil
	}
	return s.Status.Set(ctx, t.StatusID, p)
}

// PubSubSink publishes on the job's progress channel for live listeners.
type PubSubSink struct {
	Cache cache.Cache
}

func (PubSubSink) Name() string { return "pubsub" }

func (s PubSubSink) Write(ctx context.Context, t Target, p model.Progress) error {
	if t.StatusID == "" {
		return nil
	}
	data, err := json.Marshal(model.WSProgressMessage{
		Type:     model.WSMessageTypeProgress,
		StatusID: t.StatusID,
		Progress: p,
	})
	if err != nil {
		return err
	}
	if err := s.Cache.Publish(ctx, cache.ProgressChannel(t.StatusID), data); err != nil {
		return fmt.Errorf("publish progress: %w", err)
	}
	return nil
}

// Toggles selects which sinks are enabled.
type Toggles struct {
	Queue  bool
	Cache  bool
	PubSub bool
}

// New builds a Multi from the enabled sinks.
func New(c cache.Cache, status *cache.StatusStore, on Toggles, log *slog.Logger) *Multi {
	var sinks []Sink
	if on.Queue {
		sinks = append(sinks, QueueSink{})
	}
	if on.Cache {
		sinks = append(sinks, StatusSink{Status: status})
	}
	if on.PubSub {
		sinks = append(sinks, PubSubSink{Cache: c})
	}
	return NewMulti(log, sinks...)
}
