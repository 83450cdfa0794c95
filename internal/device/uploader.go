package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jpratama/fieldtrack-server/internal/protocol"
)

// UploaderConfig controls batch draining.
type UploaderConfig struct {
	Endpoint       string // POST target for batch uploads
	BatchSize      int
	FlushInterval  time.Duration // idle wait when the queue is empty
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultUploaderConfig returns production drain settings.
func DefaultUploaderConfig(endpoint string) UploaderConfig {
	return UploaderConfig{
		Endpoint:       endpoint,
		BatchSize:      50,
		FlushInterval:  30 * time.Second,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     5 * time.Minute,
	}
}

// Uploader drains the durable queue in bounded batches. Transient failures
// keep the batch queued and back off exponentially; per-point rejections are
// acked (retrying them can never succeed) and surfaced through OnRejected.
type Uploader struct {
	cfg    UploaderConfig
	queue  *Queue
	client *http.Client

	// OnRejected is called with the server's verdicts for points that were
	// rejected outright, so the operator sees the loss instead of a silent
	// drop. Optional.
	OnRejected func(results []protocol.PointResult)

	backoff time.Duration
	sleep   func(ctx context.Context, d time.Duration)
}

// NewUploader creates an uploader for a queue.
func NewUploader(cfg UploaderConfig, queue *Queue) *Uploader {
	return &Uploader{
		cfg:     cfg,
		queue:   queue,
		client:  &http.Client{Timeout: 30 * time.Second},
		backoff: cfg.InitialBackoff,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Run drains until the context ends.
func (u *Uploader) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if u.queue.Len() == 0 {
			u.sleep(ctx, u.cfg.FlushInterval)
			continue
		}

		if err := u.FlushOnce(ctx); err != nil {
			log.Printf("Upload failed, retrying in %s: %v", u.backoff, err)
			u.sleep(ctx, u.backoff)
			u.backoff *= 2
			if u.backoff > u.cfg.MaxBackoff {
				u.backoff = u.cfg.MaxBackoff
			}
			continue
		}

		u.backoff = u.cfg.InitialBackoff
	}
}

// FlushOnce uploads one batch from the head of the queue. Every answered
// point (accepted, duplicate or rejected) is acked; a transport or server
// failure leaves the whole batch queued.
func (u *Uploader) FlushOnce(ctx context.Context) error {
	batch := u.queue.Peek(u.cfg.BatchSize)
	if len(batch) == 0 {
		return nil
	}

	req := protocol.BatchUploadRequest{
		BatchID: uuid.New().String(),
		Points:  batch,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := u.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload rejected with status %d", httpResp.StatusCode)
	}

	var resp protocol.BatchUploadResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return fmt.Errorf("failed to decode upload response: %w", err)
	}

	var rejected []protocol.PointResult
	for _, result := range resp.Results {
		if result.Status == protocol.PointStatusRejected {
			rejected = append(rejected, result)
		}
	}
	if len(rejected) > 0 {
		log.Printf("Server rejected %d of %d uploaded points", len(rejected), len(batch))
		if u.OnRejected != nil {
			u.OnRejected(rejected)
		}
	}

	return u.queue.Ack(len(batch))
}
