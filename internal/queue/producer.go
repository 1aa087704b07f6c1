package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/stablewatch/internal/models"
)

const (
	ChunksStreamName = "CHUNKS"
	ChunksSubject    = "chunks.process"
	ReprocessSubject = "chunks.reprocess"
	EventsStreamName = "EVENTS"
	EventsSubject    = "events.job"

	// ControlSubject carries cancel commands over plain NATS; the worker
	// holding the job in flight reacts, everyone else ignores it.
	ControlSubject = "jobs.control"
)

type Producer struct {
	nc            *nats.Conn
	js            jetstream.JetStream
	maxQueuedJobs int64
}

func NewProducer(natsURL string, maxQueuedJobs int64) (*Producer, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Producer{nc: nc, js: js, maxQueuedJobs: maxQueuedJobs}, nil
}

// EnsureStreams creates JetStream streams if they don't exist. The
// CHUNKS stream is the bounded submission queue: DiscardNew makes a
// full stream reject publishes, which Submit surfaces as busy.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        ChunksStreamName,
			Subjects:    []string{"chunks.>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxMsgs:     p.maxQueuedJobs,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardNew,
			Duplicates:  30 * time.Second,
			Description: "Chunk processing and reprocessing jobs",
		},
		{
			Name:        EventsStreamName,
			Subjects:    []string{"events.>"},
			Retention:   jetstream.InterestPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Description: "Job progress and terminal events",
		},
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// PublishChunkJob enqueues a processing job. A full queue maps to
// ErrCapacityExceeded so callers can answer busy without retrying.
func (p *Producer) PublishChunkJob(ctx context.Context, job models.ChunkJob) error {
	return p.publishJob(ctx, ChunksSubject, job.ChunkID, job)
}

// PublishReprocessJob enqueues a correction-replay job.
func (p *Producer) PublishReprocessJob(ctx context.Context, job models.ReprocessJob) error {
	return p.publishJob(ctx, ReprocessSubject, job.ChunkID, job)
}

func (p *Producer) publishJob(ctx context.Context, subject, chunkID string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	// MsgId dedupe window rejects a double submit racing the job row.
	_, err = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(subject+":"+chunkID))
	if err != nil {
		if isStreamFull(err) {
			return fmt.Errorf("%w: chunk queue full", models.ErrCapacityExceeded)
		}
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// PublishEvent emits a progress or terminal event for a job.
func (p *Producer) PublishEvent(ctx context.Context, ev models.ProgressEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := p.js.Publish(ctx, EventsSubject, data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// CancelCommand is broadcast on the control subject.
type CancelCommand struct {
	JobID string `json:"job_id"`
}

// PublishCancel broadcasts a cancel for an in-flight job via raw NATS.
func (p *Producer) PublishCancel(jobID string) error {
	data, err := json.Marshal(CancelCommand{JobID: jobID})
	if err != nil {
		return fmt.Errorf("marshal cancel: %w", err)
	}
	return p.nc.Publish(ControlSubject, data)
}

// QueueDepth returns the number of pending jobs in the CHUNKS stream.
func (p *Producer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, ChunksStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}

// isStreamFull recognizes the DiscardNew rejection from a bounded stream.
func isStreamFull(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		// JetStream API code for "maximum messages exceeded".
		if apiErr.ErrorCode == 10077 {
			return true
		}
	}
	return strings.Contains(err.Error(), "maximum messages exceeded")
}
