package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register GIF decoder for image.Decode
	"image/jpeg"
	_ "image/png" // register PNG decoder for image.Decode
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/blob"
)

const (
	thumbnailStream = "netsbox.jobs.thumbnails"
	consumerGroup   = "netsbox-media-workers"

	thumbnailWidth   = 400
	thumbnailQuality = 85

	// retryMinIdle is the minimum time a message must sit unacknowledged
	// before it becomes eligible for reclaim.
	retryMinIdle = 30 * time.Second

	// maxRetries is the maximum number of delivery attempts for one job.
	// Past this count the job is acknowledged and discarded rather than
	// retried forever.
	maxRetries = 3
)

// errPermanent wraps an error to indicate that retrying will not help (e.g.
// a corrupt image or an already-deleted role).
var errPermanent = errors.New("permanent")

// ThumbnailJob describes a pending role-media thumbnail generation task.
type ThumbnailJob struct {
	ProjectID string `json:"project_id"`
	RoleID    string `json:"role_id"`
	MediaKey  string `json:"media_key"`
}

// ThumbnailKeyUpdater records a generated thumbnail's storage key against
// the role it belongs to. Satisfied by project.Repository.
type ThumbnailKeyUpdater interface {
	SetThumbnailKey(ctx context.Context, projectID, roleID uuid.UUID, thumbnailKey string) error
}

// ThumbnailWorker consumes thumbnail generation jobs from a Valkey stream
// and produces JPEG previews of role media blobs. Grounded on the teacher's
// media.ThumbnailWorker (XREADGROUP/XAUTOCLAIM consumer-group loop over a
// Valkey stream), generalized from chat attachments to project roles.
type ThumbnailWorker struct {
	rdb     *redis.Client
	storage blob.StorageProvider
	updater ThumbnailKeyUpdater
	log     zerolog.Logger
}

// NewThumbnailWorker builds a ThumbnailWorker.
func NewThumbnailWorker(rdb *redis.Client, storage blob.StorageProvider, updater ThumbnailKeyUpdater, log zerolog.Logger) *ThumbnailWorker {
	return &ThumbnailWorker{
		rdb:     rdb,
		storage: storage,
		updater: updater,
		log:     log.With().Str("component", "media_thumbnail_worker").Logger(),
	}
}

// EnsureStream creates the consumer group for the thumbnail stream,
// ignoring the error if the group already exists.
func (w *ThumbnailWorker) EnsureStream(ctx context.Context) {
	err := w.rdb.XGroupCreateMkStream(ctx, thumbnailStream, consumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		w.log.Warn().Err(err).Msg("failed to create thumbnail consumer group")
	}
}

// Run reads and processes thumbnail jobs until ctx is cancelled, matching
// the runWithBackoff(ctx, name, fn) contract: transient failures leave the
// message unacknowledged for reclaim, permanent failures and exhausted
// retries are acknowledged and discarded.
func (w *ThumbnailWorker) Run(ctx context.Context) error {
	w.EnsureStream(ctx)
	consumerName := "worker-" + uuid.New().String()[:8]

	for {
		w.reclaimStale(ctx, consumerName)

		streams, err := w.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: consumerName,
			Streams:  []string{thumbnailStream, ">"},
			Count:    1,
			Block:    0,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				w.processJob(ctx, msg)
			}
		}
	}
}

// reclaimStale uses XAUTOCLAIM to take ownership of messages that have sat
// unacknowledged longer than retryMinIdle, handling jobs that failed with a
// transient error on a previous attempt.
func (w *ThumbnailWorker) reclaimStale(ctx context.Context, consumerName string) {
	msgs, _, err := w.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   thumbnailStream,
		Group:    consumerGroup,
		Consumer: consumerName,
		MinIdle:  retryMinIdle,
		Start:    "0-0",
		Count:    10,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn().Err(err).Msg("failed to reclaim stale thumbnail jobs")
		}
		return
	}
	for _, msg := range msgs {
		w.processJob(ctx, msg)
	}
}

func (w *ThumbnailWorker) processJob(ctx context.Context, msg redis.XMessage) {
	raw, ok := msg.Values["job"]
	if !ok {
		w.log.Warn().Str("message_id", msg.ID).Msg("thumbnail job missing 'job' field")
		w.ack(ctx, msg.ID)
		return
	}

	var job ThumbnailJob
	if err := json.Unmarshal([]byte(raw.(string)), &job); err != nil {
		w.log.Warn().Err(err).Str("message_id", msg.ID).Msg("failed to unmarshal thumbnail job")
		w.ack(ctx, msg.ID)
		return
	}

	if err := w.generateThumbnail(ctx, job); err != nil {
		if errors.Is(err, errPermanent) || w.deliveryCount(ctx, msg.ID) >= maxRetries {
			w.log.Warn().Err(err).Str("project_id", job.ProjectID).Str("role_id", job.RoleID).Msg("thumbnail generation failed permanently")
			w.ack(ctx, msg.ID)
			return
		}
		w.log.Warn().Err(err).Str("project_id", job.ProjectID).Str("role_id", job.RoleID).Msg("thumbnail generation failed, will retry")
		return
	}
	w.ack(ctx, msg.ID)
}

func (w *ThumbnailWorker) generateThumbnail(ctx context.Context, job ThumbnailJob) error {
	rc, err := w.storage.Get(ctx, job.MediaKey)
	if err != nil {
		if errors.Is(err, blob.ErrKeyNotFound) {
			return fmt.Errorf("read original media: %w", errors.Join(err, errPermanent))
		}
		return fmt.Errorf("read original media: %w", err)
	}
	defer func() { _ = rc.Close() }()

	img, _, err := image.Decode(rc)
	if err != nil {
		return fmt.Errorf("decode media: %w", errors.Join(err, errPermanent))
	}

	thumb := imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return fmt.Errorf("encode thumbnail: %w", errors.Join(err, errPermanent))
	}

	thumbnailKey := "thumbnails/" + job.ProjectID + "/" + job.RoleID + ".jpg"
	if err := w.storage.Put(ctx, thumbnailKey, &buf); err != nil {
		return fmt.Errorf("write thumbnail: %w", err)
	}

	projectID, err := uuid.Parse(job.ProjectID)
	if err != nil {
		return fmt.Errorf("parse project id: %w", errors.Join(err, errPermanent))
	}
	roleID, err := uuid.Parse(job.RoleID)
	if err != nil {
		return fmt.Errorf("parse role id: %w", errors.Join(err, errPermanent))
	}

	if err := w.updater.SetThumbnailKey(ctx, projectID, roleID, thumbnailKey); err != nil {
		return fmt.Errorf("update thumbnail key: %w", err)
	}

	w.log.Debug().Str("project_id", job.ProjectID).Str("role_id", job.RoleID).Msg("thumbnail generated")
	return nil
}

// deliveryCount returns how many times messageID has been delivered to a
// consumer, or maxRetries on error so the caller treats it as exhausted
// rather than retrying indefinitely.
func (w *ThumbnailWorker) deliveryCount(ctx context.Context, messageID string) int64 {
	pending, err := w.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: thumbnailStream,
		Group:  consumerGroup,
		Start:  messageID,
		End:    messageID,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return maxRetries
	}
	return pending[0].RetryCount
}

func (w *ThumbnailWorker) ack(ctx context.Context, messageID string) {
	if err := w.rdb.XAck(ctx, thumbnailStream, consumerGroup, messageID).Err(); err != nil {
		w.log.Warn().Err(err).Str("message_id", messageID).Msg("failed to ack thumbnail job")
	}
}

// EnqueueThumbnail adds a thumbnail generation job to the stream.
func EnqueueThumbnail(ctx context.Context, rdb *redis.Client, job ThumbnailJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal thumbnail job: %w", err)
	}
	return rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: thumbnailStream,
		Values: map[string]any{"job": string(data)},
	}).Err()
}

// StreamEnqueuer adapts a *redis.Client into project.ThumbnailEnqueuer
// without internal/project importing github.com/redis/go-redis/v9 directly.
type StreamEnqueuer struct {
	rdb *redis.Client
}

// NewStreamEnqueuer builds a StreamEnqueuer over rdb.
func NewStreamEnqueuer(rdb *redis.Client) *StreamEnqueuer {
	return &StreamEnqueuer{rdb: rdb}
}

// Enqueue implements project.ThumbnailEnqueuer.
func (e *StreamEnqueuer) Enqueue(ctx context.Context, job ThumbnailJob) error {
	return EnqueueThumbnail(ctx, e.rdb, job)
}
