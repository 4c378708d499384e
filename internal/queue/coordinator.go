// Package queue coordinates concurrent worker instances over a shared
// queue file so pending records are processed at most once, with automatic
// recovery of work claimed by crashed instances.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/vietspeech/kidcrawl/internal/domain"
	"github.com/vietspeech/kidcrawl/internal/errkind"
	"github.com/vietspeech/kidcrawl/internal/lockfile"
	"github.com/vietspeech/kidcrawl/internal/logger"
	"github.com/vietspeech/kidcrawl/internal/manifest"
	"github.com/vietspeech/kidcrawl/internal/metrics"
)

// DefaultStaleTimeout is the heartbeat age after which an instance is
// presumed crashed. Holders of claimed work must heartbeat at most every
// half of this interval.
const DefaultStaleTimeout = 5 * time.Minute

const instanceIDShortLen = 8

// Config holds queue coordinator configuration.
type Config struct {
	// Path is the queue JSON file shared by all instances.
	Path string
	// LockPath is the advisory lock file. Defaults to Path + ".lock".
	LockPath string
	// BackupDir receives a copy of the queue file before every mutation.
	BackupDir string
	// StaleTimeout is the heartbeat age at which an instance is swept.
	StaleTimeout time.Duration
	// Lock configures lock acquisition retries.
	Lock lockfile.Config
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("queue file path is required")
	}
	return nil
}

// Coordinator hands out disjoint batches of pending video ids to worker
// instances. All mutations happen under an exclusive file lock spanning the
// full read-modify-write cycle.
type Coordinator struct {
	cfg        Config
	instanceID string
	store      *manifest.Store
	logger     logger.Interface
	now        func() time.Time
}

// New creates a queue coordinator. The manifest store is used read-only to
// materialize claimed records; the coordinator never writes the manifest.
func New(cfg Config, store *manifest.Store, log logger.Interface) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if store == nil {
		return nil, errors.New("manifest store cannot be nil")
	}
	if log == nil {
		log = logger.NewNoOp()
	}
	if cfg.LockPath == "" {
		cfg.LockPath = cfg.Path + ".lock"
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = DefaultStaleTimeout
	}

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	instanceID := fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:instanceIDShortLen])

	return &Coordinator{
		cfg:        cfg,
		instanceID: instanceID,
		store:      store,
		logger:     log.WithComponent("queue").With("instance_id", instanceID),
		now:        time.Now,
	}, nil
}

// InstanceID returns this coordinator's instance identifier.
func (c *Coordinator) InstanceID() string {
	return c.instanceID
}

// StaleTimeout returns the configured stale-instance timeout.
func (c *Coordinator) StaleTimeout() time.Duration {
	return c.cfg.StaleTimeout
}

// Enqueue adds video ids to the pending set, skipping any id already present
// anywhere in the queue. Ids only ever move between sets; they are never
// copied, so the sets stay a partition.
func (c *Coordinator) Enqueue(ctx context.Context, videoIDs []string) (int, error) {
	added := 0
	err := c.withQueueFile(ctx, func(qf *domain.QueueFile) (bool, error) {
		for _, id := range videoIDs {
			if id == "" || qf.Queue.Contains(id) {
				continue
			}
			qf.Queue.Pending = append(qf.Queue.Pending, id)
			if _, exists := qf.Records[id]; !exists {
				qf.Records[id] = &domain.QueueRecord{}
			}
			added++
		}
		return added > 0, nil
	})
	if err != nil {
		return 0, err
	}
	if added > 0 {
		c.logger.Info("enqueued pending records", "count", added)
	}
	return added, nil
}

// Claim pops up to batchSize ids from pending into this instance's
// processing list and returns the matching manifest records. An empty claim
// means no work right now, not termination: other instances may still
// produce new pending work. Stale instances are swept before every claim so
// nobody starves behind a dead peer's leases.
func (c *Coordinator) Claim(ctx context.Context, batchSize int) ([]domain.Record, error) {
	if batchSize <= 0 {
		return nil, errors.New("batch size must be positive")
	}

	var claimedIDs []string
	err := c.withQueueFile(ctx, func(qf *domain.QueueFile) (bool, error) {
		swept := c.sweepStaleInstances(qf)

		now := c.now()
		inst := c.ensureInstance(qf, now)

		n := batchSize
		if n > len(qf.Queue.Pending) {
			n = len(qf.Queue.Pending)
		}
		claimedIDs = append([]string(nil), qf.Queue.Pending[:n]...)
		qf.Queue.Pending = qf.Queue.Pending[n:]

		if len(claimedIDs) > 0 {
			qf.Queue.Processing[c.instanceID] = append(qf.Queue.Processing[c.instanceID], claimedIDs...)
			inst.ClaimedRecords = append(inst.ClaimedRecords, claimedIDs...)
			for _, id := range claimedIDs {
				rec := qf.Records[id]
				if rec == nil {
					rec = &domain.QueueRecord{}
					qf.Records[id] = rec
				}
				at := now
				rec.ClaimedBy = c.instanceID
				rec.ClaimedAt = &at
			}
		}

		return swept > 0 || len(claimedIDs) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	if len(claimedIDs) == 0 {
		return []domain.Record{}, nil
	}

	return c.materialize(claimedIDs)
}

// materialize looks up claimed ids in the manifest. Ids without a manifest
// record are logged and dropped from the result; their queue entries remain
// in processing until the caller fails them or Release runs at shutdown.
func (c *Coordinator) materialize(ids []string) ([]domain.Record, error) {
	m, err := c.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load manifest for claim: %w", err)
	}

	now := c.now()
	records := make([]domain.Record, 0, len(ids))
	for _, id := range ids {
		rec := m.FindByID(id)
		if rec == nil {
			c.logger.Warn("claimed id missing from manifest", "video_id", id)
			continue
		}
		mat := *rec
		mat.InstanceID = c.instanceID
		mat.ProcessingStarted = &now
		records = append(records, mat)
	}
	return records, nil
}

// Complete moves a video id from this instance's processing list to
// completed. Completing an id this instance does not hold is a no-op
// returning false, not an error.
func (c *Coordinator) Complete(ctx context.Context, videoID string) (bool, error) {
	return c.finish(ctx, videoID, func(qf *domain.QueueFile, now time.Time) {
		qf.Queue.Completed = append(qf.Queue.Completed, videoID)
		if rec := qf.Records[videoID]; rec != nil {
			at := now
			rec.CompletedAt = &at
		}
	})
}

// Fail moves a video id from this instance's processing list to failed.
// Failed ids are not re-queued automatically; RequeueFailed is the explicit
// recovery pass.
func (c *Coordinator) Fail(ctx context.Context, videoID string, cause error) (bool, error) {
	return c.finish(ctx, videoID, func(qf *domain.QueueFile, now time.Time) {
		qf.Queue.Failed = append(qf.Queue.Failed, videoID)
		if rec := qf.Records[videoID]; rec != nil {
			at := now
			rec.FailedAt = &at
			if cause != nil {
				rec.LastError = cause.Error()
			}
		}
	})
}

// finish removes videoID from this instance's processing list and applies
// place to move it to its terminal set.
func (c *Coordinator) finish(ctx context.Context, videoID string, place func(*domain.QueueFile, time.Time)) (bool, error) {
	moved := false
	err := c.withQueueFile(ctx, func(qf *domain.QueueFile) (bool, error) {
		processing, found := domain.RemoveFromSlice(qf.Queue.Processing[c.instanceID], videoID)
		if !found {
			return false, nil
		}
		qf.Queue.Processing[c.instanceID] = processing
		if len(processing) == 0 {
			delete(qf.Queue.Processing, c.instanceID)
		}

		if inst := qf.Instances[c.instanceID]; inst != nil {
			inst.ClaimedRecords, _ = domain.RemoveFromSlice(inst.ClaimedRecords, videoID)
		}

		place(qf, c.now())
		moved = true
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return moved, nil
}

// Heartbeat refreshes this instance's liveness stamp. Callers holding
// claimed work must call this at most every StaleTimeout/2.
func (c *Coordinator) Heartbeat(ctx context.Context) error {
	return c.withQueueFile(ctx, func(qf *domain.QueueFile) (bool, error) {
		c.ensureInstance(qf, c.now())
		return true, nil
	})
}

// CleanupStale sweeps instances whose heartbeat has expired, returning their
// claims to pending. Returns the number of instances removed.
func (c *Coordinator) CleanupStale(ctx context.Context) (int, error) {
	swept := 0
	err := c.withQueueFile(ctx, func(qf *domain.QueueFile) (bool, error) {
		swept = c.sweepStaleInstances(qf)
		return swept > 0, nil
	})
	if err != nil {
		return 0, err
	}
	return swept, nil
}

// RequeueFailed moves all failed ids back to pending. This is the explicit
// recovery pass for failed work.
func (c *Coordinator) RequeueFailed(ctx context.Context) (int, error) {
	moved := 0
	err := c.withQueueFile(ctx, func(qf *domain.QueueFile) (bool, error) {
		moved = len(qf.Queue.Failed)
		if moved == 0 {
			return false, nil
		}
		qf.Queue.Pending = append(qf.Queue.Pending, qf.Queue.Failed...)
		for _, id := range qf.Queue.Failed {
			if rec := qf.Records[id]; rec != nil {
				rec.FailedAt = nil
				rec.LastError = ""
			}
		}
		qf.Queue.Failed = []string{}
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	if moved > 0 {
		c.logger.Info("requeued failed records", "count", moved)
	}
	return moved, nil
}

// Release returns this instance's unfinished claims to pending and removes
// the instance entry. Called on graceful shutdown so peers do not have to
// wait out the stale timeout.
func (c *Coordinator) Release(ctx context.Context) error {
	return c.withQueueFile(ctx, func(qf *domain.QueueFile) (bool, error) {
		claims := qf.Queue.Processing[c.instanceID]
		if len(claims) > 0 {
			qf.Queue.Pending = append(qf.Queue.Pending, claims...)
			for _, id := range claims {
				if rec := qf.Records[id]; rec != nil {
					rec.ClaimedBy = ""
					rec.ClaimedAt = nil
				}
			}
			c.logger.Info("released unfinished claims", "count", len(claims))
		}
		delete(qf.Queue.Processing, c.instanceID)
		delete(qf.Instances, c.instanceID)
		return true, nil
	})
}

// Snapshot returns a read-only copy of the queue file for inspection.
func (c *Coordinator) Snapshot(ctx context.Context) (*domain.QueueFile, error) {
	var snapshot *domain.QueueFile
	err := c.withQueueFile(ctx, func(qf *domain.QueueFile) (bool, error) {
		data, marshalErr := json.Marshal(qf)
		if marshalErr != nil {
			return false, marshalErr
		}
		snapshot = &domain.QueueFile{}
		return false, json.Unmarshal(data, snapshot)
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// sweepStaleInstances re-queues claims of instances whose heartbeat age
// exceeds the stale timeout and deletes their entries. No orphaned claim
// survives a successful sweep.
func (c *Coordinator) sweepStaleInstances(qf *domain.QueueFile) int {
	now := c.now()
	swept := 0
	for id, inst := range qf.Instances {
		if id == c.instanceID {
			continue
		}
		if now.Sub(inst.LastHeartbeat) <= c.cfg.StaleTimeout {
			continue
		}

		claims := qf.Queue.Processing[id]
		if len(claims) > 0 {
			qf.Queue.Pending = append(qf.Queue.Pending, claims...)
			for _, videoID := range claims {
				if rec := qf.Records[videoID]; rec != nil {
					rec.ClaimedBy = ""
					rec.ClaimedAt = nil
				}
			}
		}
		delete(qf.Queue.Processing, id)
		delete(qf.Instances, id)
		swept++

		c.logger.Warn("swept stale instance",
			"stale_instance", id,
			"requeued", len(claims),
			"last_heartbeat", inst.LastHeartbeat,
		)
	}
	return swept
}

// ensureInstance registers or refreshes this instance's entry.
func (c *Coordinator) ensureInstance(qf *domain.QueueFile, now time.Time) *domain.InstanceInfo {
	inst := qf.Instances[c.instanceID]
	if inst == nil {
		inst = &domain.InstanceInfo{ClaimedRecords: []string{}}
		qf.Instances[c.instanceID] = inst
	}
	inst.LastHeartbeat = now
	return inst
}

// withQueueFile runs fn with the queue file loaded, holding the exclusive
// advisory lock for the full read-modify-write span. When fn reports a
// change, the previous file is backed up and the new state is written with
// an atomic rename.
func (c *Coordinator) withQueueFile(ctx context.Context, fn func(*domain.QueueFile) (bool, error)) error {
	return lockfile.WithLock(ctx, c.cfg.LockPath, c.cfg.Lock, func() error {
		qf, err := c.loadQueueFile()
		if err != nil {
			return err
		}

		changed, err := fn(qf)
		if err != nil {
			return err
		}
		observeQueue(qf)
		if !changed {
			return nil
		}

		if err := c.backupQueueFile(); err != nil {
			return err
		}

		qf.LastUpdated = c.now()
		return writeJSONAtomic(c.cfg.Path, qf)
	})
}

// observeQueue refreshes the queue depth gauges from the current state.
func observeQueue(qf *domain.QueueFile) {
	processing := 0
	for _, claims := range qf.Queue.Processing {
		processing += len(claims)
	}
	metrics.QueuePending.Set(float64(len(qf.Queue.Pending)))
	metrics.QueueProcessing.Set(float64(processing))
}

// loadQueueFile reads the queue file, synthesizing an empty document when the
// file does not exist. Corruption is surfaced, never papered over.
func (c *Coordinator) loadQueueFile() (*domain.QueueFile, error) {
	data, err := os.ReadFile(c.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.NewQueueFile(c.now()), nil
		}
		return nil, fmt.Errorf("read queue file %s: %w", c.cfg.Path, err)
	}

	var qf domain.QueueFile
	if err := json.Unmarshal(data, &qf); err != nil {
		return nil, errkind.Wrap(errkind.DataCorruption,
			fmt.Sprintf("queue file %s is corrupt", c.cfg.Path), err)
	}

	if qf.Instances == nil {
		qf.Instances = make(map[string]*domain.InstanceInfo)
	}
	if qf.Queue.Processing == nil {
		qf.Queue.Processing = make(map[string][]string)
	}
	if qf.Records == nil {
		qf.Records = make(map[string]*domain.QueueRecord)
	}
	return &qf, nil
}

// backupQueueFile copies the current queue file into the backup directory.
func (c *Coordinator) backupQueueFile() error {
	if c.cfg.BackupDir == "" {
		return nil
	}
	data, err := os.ReadFile(c.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read queue file for backup: %w", err)
	}
	if err := os.MkdirAll(c.cfg.BackupDir, 0o755); err != nil {
		return fmt.Errorf("create queue backup directory: %w", err)
	}
	name := fmt.Sprintf("%s.%s.json", filepath.Base(c.cfg.Path), c.now().UTC().Format("20060102-150405"))
	backupPath := filepath.Join(c.cfg.BackupDir, name)
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return fmt.Errorf("write queue backup %s: %w", backupPath, err)
	}
	return nil
}

// writeJSONAtomic writes v pretty-printed to path via temp file and rename.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON for %s: %w", path, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(dir, ".kidcrawl-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return nil
}

// SetClock overrides the coordinator's time source. Test hook.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}
