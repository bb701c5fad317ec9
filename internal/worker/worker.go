package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/truespace/backend/internal/metrics"
	"github.com/truespace/backend/internal/models"
	"github.com/truespace/backend/pkg/queue"
	"github.com/truespace/backend/pkg/storage"
)

// VideoStore is the lesson persistence the worker updates.
type VideoStore interface {
	GetVideo(ctx context.Context, id uuid.UUID) (*models.Video, error)
	MarkVideoReady(ctx context.Context, id uuid.UUID, storageKey string) error
	MarkVideoFailed(ctx context.Context, id uuid.UUID) error
}

// Uploader stores a video stream. storage.S3 implements it.
type Uploader interface {
	UploadVideo(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) error
}

// JobQueue is the Redis job queue. queue.Queue implements it.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) (deadLettered bool, err error)
}

// VideoIngestProcessor copies lesson videos from their source URL into S3.
type VideoIngestProcessor struct {
	videos   VideoStore
	uploader Uploader
	queue    JobQueue
	client   *http.Client
	backoff  time.Duration
	maxSize  int64
	logger   *zap.Logger
}

// NewVideoIngestProcessor creates a video ingest processor.
func NewVideoIngestProcessor(videos VideoStore, uploader Uploader, q JobQueue, logger *zap.Logger) *VideoIngestProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VideoIngestProcessor{
		videos:   videos,
		uploader: uploader,
		queue:    q,
		client:   &http.Client{Timeout: 30 * time.Minute},
		backoff:  queue.RetryBackoff,
		maxSize:  storage.MaxVideoFileSize,
		logger:   logger,
	}
}

// Process executes one video ingest job.
func (p *VideoIngestProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeVideoIngest {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.VideoIngestPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	video, err := p.videos.GetVideo(ctx, payload.VideoID)
	if err != nil {
		return fmt.Errorf("load video %s: %w", payload.VideoID, err)
	}
	if video.Status == models.VideoStatusReady && video.StorageKey != nil {
		p.logger.Info("video already ingested", zap.String("video_id", video.ID.String()))
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, payload.SourceURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download status: %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !storage.ValidateVideoContentType(contentType) {
		return fmt.Errorf("source is not a video: %q", contentType)
	}
	if contentType == "" {
		contentType = "video/mp4"
	}
	if resp.ContentLength > p.maxSize {
		return fmt.Errorf("source too large: %d bytes", resp.ContentLength)
	}

	key := storage.VideoKey(payload.CourseID.String(), payload.VideoID.String())
	// Sources without Content-Length fail the upload once they pass maxSize.
	body := http.MaxBytesReader(nil, resp.Body, p.maxSize)
	if err := p.uploader.UploadVideo(ctx, key, contentType, body, resp.ContentLength); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	if err := p.videos.MarkVideoReady(ctx, payload.VideoID, key); err != nil {
		return fmt.Errorf("update db: %w", err)
	}

	p.logger.Info("video ingest completed", zap.String("video_id", payload.VideoID.String()), zap.String("s3_key", key))
	return nil
}

// Handle processes a job and, on failure, retries it or marks the video failed once it is dead-lettered.
// It reports whether the job failed.
func (p *VideoIngestProcessor) Handle(ctx context.Context, job *queue.Job) bool {
	p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	err := p.Process(ctx, job)
	if err == nil {
		metrics.IncVideoIngest("ready")
		return false
	}
	p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))

	dead, reErr := p.queue.Retry(ctx, job)
	switch {
	case reErr != nil:
		p.logger.Error("retry enqueue failed, job dropped", zap.String("job_id", job.ID), zap.Error(reErr))
	case !dead:
		metrics.IncVideoIngest("retried")
		return true
	}
	metrics.IncVideoIngest("failed")
	p.markFailed(ctx, job)
	return true
}

// markFailed releases the video from processing so an admin can start the ingest again.
// It runs even when ctx is cancelled by shutdown.
func (p *VideoIngestProcessor) markFailed(ctx context.Context, job *queue.Job) {
	var payload queue.VideoIngestPayload
	if json.Unmarshal(job.Payload, &payload) != nil || payload.VideoID == uuid.Nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.videos.MarkVideoFailed(ctx, payload.VideoID); err != nil {
		p.logger.Error("mark video failed", zap.Error(err), zap.String("video_id", payload.VideoID.String()))
	}
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *VideoIngestProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("video worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}
		if failed := p.Handle(ctx, job); failed {
			p.sleep(ctx)
		}
	}
}

func (p *VideoIngestProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
