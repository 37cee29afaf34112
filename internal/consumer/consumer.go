// Package consumer reads document-change events from Kafka and applies them
// to the participants' indexes. Each event runs its addition or removal job
// synchronously, so a message is only committed once its job has succeeded.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/job"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/participant"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/registry"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchcore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/logger"
)

// Event types.
const (
	EventUpsert = "upsert"
	EventDelete = "delete"
)

// DocumentEvent announces that a document of a participant changed. Content
// is optional; when present it is written into a writable corpus first.
type DocumentEvent struct {
	Type        string  `json:"type"`
	Participant string  `json:"participant"`
	Path        string  `json:"path"`
	Content     *string `json:"content,omitempty"`
	RequestID   string  `json:"request_id,omitempty"`
}

// Validate rejects events that cannot be applied.
func (e DocumentEvent) Validate() error {
	if e.Type != EventUpsert && e.Type != EventDelete {
		return fmt.Errorf("event type %q: %w", e.Type, apperrors.ErrInvalidInput)
	}
	if e.Participant == "" || e.Path == "" {
		return fmt.Errorf("event needs participant and path: %w", apperrors.ErrInvalidInput)
	}
	return nil
}

// Key partitions events by document so that changes to one document stay
// ordered.
func (e DocumentEvent) Key() string {
	return e.Participant + "/" + e.Path
}

// Applier runs document events against the registry.
type Applier struct {
	sources *participant.Set
	reg     *registry.Registry
	sched   *job.Scheduler
	logger  *slog.Logger
}

func NewApplier(sources *participant.Set, reg *registry.Registry, sched *job.Scheduler) *Applier {
	return &Applier{
		sources: sources,
		reg:     reg,
		sched:   sched,
		logger:  slog.Default().With("component", "document-consumer"),
	}
}

// Apply runs the job for ev on the calling goroutine and reports whether it
// succeeded.
func (a *Applier) Apply(ctx context.Context, ev DocumentEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	src, err := a.sources.Get(ev.Participant)
	if err != nil {
		return err
	}
	requestID := ev.RequestID
	if requestID == "" {
		requestID = logger.RequestID(ctx)
	}
	family := participant.RequestFamily(requestID)
	if family == "" {
		family = src.Family()
	}

	var j job.Job
	switch ev.Type {
	case EventUpsert:
		if ev.Content != nil {
			w, ok := src.Corpus().(participant.WritableCorpus)
			if !ok {
				return fmt.Errorf("participant %s does not accept document content: %w", src.Name(), apperrors.ErrInvalidInput)
			}
			if err := w.Put(ctx, ev.Path, []byte(*ev.Content)); err != nil {
				return err
			}
		}
		src.Forget(ev.Path)
		j = registry.NewAddition(a.reg, src, ev.Path, family)
	case EventDelete:
		src.Forget(ev.Path)
		j = registry.NewRemoval(a.reg, src, ev.Path, family)
	}
	if !a.sched.PerformConcurrentJob(ctx, j, job.ForceImmediate) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%s: %w", j, apperrors.ErrIndexIO)
	}
	return nil
}

// HandleMessage returns a kafka.MessageHandler that decodes and applies
// document events. Undecodable or invalid events are skipped; a failed job
// leaves the message uncommitted for redelivery.
func HandleMessage(a *Applier) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		ev, err := kafka.DecodeJSON[DocumentEvent](value)
		if err != nil {
			a.logger.Error("failed to decode document event", "error", err, "key", string(key))
			return kafka.ErrSkip
		}
		a.logger.Debug("processing document event",
			"type", ev.Type,
			"participant", ev.Participant,
			"path", ev.Path,
		)
		if err := a.Apply(ctx, ev); err != nil {
			if apperrors.HTTPStatusCode(err) < 500 {
				a.logger.Warn("skipping document event", "participant", ev.Participant, "path", ev.Path, "error", err)
				return kafka.ErrSkip
			}
			return fmt.Errorf("applying %s of %s/%s: %w", ev.Type, ev.Participant, ev.Path, err)
		}
		a.logger.Info("document event applied",
			"type", ev.Type,
			"participant", ev.Participant,
			"path", ev.Path,
		)
		return nil
	}
}

// Publish sends events to the document topic. Events without a request ID
// take the one of ctx.
func Publish(ctx context.Context, pub kafka.Publisher, events ...DocumentEvent) error {
	batch := make([]kafka.Event, 0, len(events))
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return err
		}
		if ev.RequestID == "" {
			ev.RequestID = logger.RequestID(ctx)
		}
		batch = append(batch, kafka.Event{Key: ev.Key(), Value: ev})
	}
	if len(batch) == 1 {
		return pub.Publish(ctx, batch[0])
	}
	return pub.PublishBatch(ctx, batch)
}
