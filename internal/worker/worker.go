// Package worker runs the periodic maintenance jobs named in spec.md §4.9
// (C11): the inactivity sweeper, the blob reconciler, the trace TTL sweep,
// and the occupant-invite TTL sweep. Grounded on the teacher's
// cmd/uncord/main.go ticker-driven purgeExpiredData, generalized from a
// single time.Ticker to github.com/robfig/cron/v3 (pack-sourced from
// streamspace/api) so each job can carry its own schedule.
package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/blob"
	"github.com/netsbox/control-plane/internal/project"
	"github.com/netsbox/control-plane/internal/router"
	"github.com/netsbox/control-plane/internal/social"
)

// ProjectStore is the slice of project.Repository/project.Lifecycle the
// inactivity sweeper and blob reconciler need. *project.PGRepository
// satisfies it alongside project.Lifecycle without either depending on
// this package.
type ProjectStore interface {
	ListTransientBefore(ctx context.Context, cutoff time.Time) ([]project.Project, error)
	ListAllRoleKeys(ctx context.Context) ([]string, error)
}

// ProjectDeleter deletes a project and garbage-collects its role blobs.
// Satisfied by *project.Lifecycle.
type ProjectDeleter interface {
	DeleteProject(ctx context.Context, id uuid.UUID) error
}

// Config controls sweep cadence and thresholds. Zero-value fields fall
// back to the defaults applied in New.
type Config struct {
	// InactivityWindow is how long a Transient project may sit idle before
	// the inactivity sweeper deletes it. Defaults to
	// project.DefaultInactivityWindow.
	InactivityWindow time.Duration
	// BlobGrace is how old an orphaned blob must be before the reconciler
	// deletes it, to avoid racing a commit-then-delete write in flight.
	// Measured against the blob key's presence across two consecutive
	// reconciler runs rather than a filesystem mtime, since StorageProvider
	// exposes no mtime. Defaults to one hour.
	BlobGrace time.Duration

	InactivitySweepCron string // default "* * * * *" (every minute)
	BlobSweepCron       string // default "0 * * * *" (every hour)
	TraceSweepCron      string // default "*/5 * * * *" (every 5 minutes)
	InviteSweepCron     string // default "*/5 * * * *" (every 5 minutes)
}

func (c Config) withDefaults() Config {
	if c.InactivityWindow <= 0 {
		c.InactivityWindow = project.DefaultInactivityWindow
	}
	if c.BlobGrace <= 0 {
		c.BlobGrace = time.Hour
	}
	if c.InactivitySweepCron == "" {
		c.InactivitySweepCron = "* * * * *"
	}
	if c.BlobSweepCron == "" {
		c.BlobSweepCron = "0 * * * *"
	}
	if c.TraceSweepCron == "" {
		c.TraceSweepCron = "*/5 * * * *"
	}
	if c.InviteSweepCron == "" {
		c.InviteSweepCron = "*/5 * * * *"
	}
	return c
}

// Worker owns the cron schedule for all background maintenance jobs.
type Worker struct {
	cfg Config

	projects ProjectStore
	deleter  ProjectDeleter
	storage  blob.StorageProvider
	traces   router.TraceStore
	social   social.Repository

	log zerolog.Logger

	// orphanSeen tracks blob keys the reconciler has flagged as orphaned on
	// a prior run; a key is only deleted once it has been seen orphaned on
	// two consecutive runs at least BlobGrace apart, so a blob committed
	// moments after a listing snapshot is never deleted out from under a
	// write in flight.
	orphanSeen map[string]time.Time
}

// New builds a Worker. Any of deleter, storage, traces, socialRepo may be
// nil to disable the corresponding sweep (used by tests that only exercise
// one job).
func New(
	cfg Config,
	projects ProjectStore,
	deleter ProjectDeleter,
	storage blob.StorageProvider,
	traces router.TraceStore,
	socialRepo social.Repository,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		cfg:        cfg.withDefaults(),
		projects:   projects,
		deleter:    deleter,
		storage:    storage,
		traces:     traces,
		social:     socialRepo,
		log:        log.With().Str("component", "worker").Logger(),
		orphanSeen: make(map[string]time.Time),
	}
}

// Run schedules every enabled sweep and blocks until ctx is cancelled,
// matching the cmd/uncord/main.go runWithBackoff(ctx, name, fn) contract:
// a nil return on ctx cancellation means "stop cleanly, don't restart".
func (w *Worker) Run(ctx context.Context) error {
	c := cron.New()

	if w.deleter != nil {
		if _, err := c.AddFunc(w.cfg.InactivitySweepCron, func() { w.sweepInactiveProjects(ctx) }); err != nil {
			return err
		}
	}
	if w.storage != nil {
		if _, err := c.AddFunc(w.cfg.BlobSweepCron, func() { w.reconcileBlobs(ctx) }); err != nil {
			return err
		}
	}
	if w.traces != nil {
		if _, err := c.AddFunc(w.cfg.TraceSweepCron, func() { w.sweepExpiredTraces(ctx) }); err != nil {
			return err
		}
	}
	if w.social != nil {
		if _, err := c.AddFunc(w.cfg.InviteSweepCron, func() { w.sweepExpiredInvites(ctx) }); err != nil {
			return err
		}
	}

	c.Start()
	<-ctx.Done()
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
	}
	return nil
}

// sweepInactiveProjects deletes every Transient project whose inactivity
// timer started before the configured window, per spec.md §4.4/§4.9.
func (w *Worker) sweepInactiveProjects(ctx context.Context) {
	cutoff := time.Now().Add(-w.cfg.InactivityWindow)
	projects, err := w.projects.ListTransientBefore(ctx, cutoff)
	if err != nil {
		w.log.Warn().Err(err).Msg("failed to list transient projects")
		return
	}
	var deleted int
	for _, p := range projects {
		if err := w.deleter.DeleteProject(ctx, p.ID); err != nil {
			w.log.Warn().Err(err).Str("project_id", p.ID.String()).Msg("failed to delete inactive project")
			continue
		}
		deleted++
	}
	if deleted > 0 {
		w.log.Info().Int("deleted", deleted).Dur("window", w.cfg.InactivityWindow).Msg("swept inactive projects")
	}
}

// sweepExpiredTraces deletes recorded messages whose per-record TTL has
// elapsed, per spec.md §4.9's "Trace TTL" bullet.
func (w *Worker) sweepExpiredTraces(ctx context.Context) {
	deleted, err := w.traces.DeleteExpired(ctx, time.Now())
	if err != nil {
		w.log.Warn().Err(err).Msg("failed to sweep expired trace messages")
		return
	}
	if deleted > 0 {
		w.log.Info().Int64("deleted", deleted).Msg("swept expired trace messages")
	}
}

// sweepExpiredInvites deletes occupant invites past their TTL, per
// spec.md §4.6's OccupantInvite bullet.
func (w *Worker) sweepExpiredInvites(ctx context.Context) {
	deleted, err := w.social.DeleteExpiredOccupantInvites(ctx, time.Now())
	if err != nil {
		w.log.Warn().Err(err).Msg("failed to sweep expired occupant invites")
		return
	}
	if deleted > 0 {
		w.log.Info().Int64("deleted", deleted).Msg("swept expired occupant invites")
	}
}

// reconcileBlobs diffs the storage provider's key listing against every
// blob key referenced by current role metadata, deleting orphans that have
// survived two consecutive runs at least BlobGrace apart. A key orphaned on
// only one run is left alone: it may be mid-write by a commit-then-delete
// in progress (internal/blob.CommitThenDelete always writes the new key
// before deleting the old one, so a key can briefly be unreferenced without
// being safe to delete).
func (w *Worker) reconcileBlobs(ctx context.Context) {
	lister, ok := w.storage.(blob.Lister)
	if !ok {
		w.log.Debug().Msg("storage provider does not support listing, skipping blob reconciliation")
		return
	}

	allKeys, err := lister.List(ctx, "")
	if err != nil {
		w.log.Warn().Err(err).Msg("failed to list blobs")
		return
	}
	liveKeys, err := w.projects.ListAllRoleKeys(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("failed to list live role keys")
		return
	}
	live := make(map[string]struct{}, len(liveKeys))
	for _, k := range liveKeys {
		live[k] = struct{}{}
	}

	now := time.Now()
	seenThisRun := make(map[string]time.Time, len(w.orphanSeen))
	var deleted int
	for _, key := range allKeys {
		if _, ok := live[key]; ok {
			continue
		}
		firstSeen, wasOrphan := w.orphanSeen[key]
		if !wasOrphan {
			seenThisRun[key] = now
			continue
		}
		if now.Sub(firstSeen) < w.cfg.BlobGrace {
			seenThisRun[key] = firstSeen
			continue
		}
		if err := w.storage.Delete(ctx, key); err != nil {
			w.log.Warn().Err(err).Str("key", key).Msg("failed to delete orphaned blob")
			seenThisRun[key] = firstSeen
			continue
		}
		deleted++
	}
	w.orphanSeen = seenThisRun
	if deleted > 0 {
		w.log.Info().Int("deleted", deleted).Dur("grace", w.cfg.BlobGrace).Msg("reconciled orphaned blobs")
	}
}
