package cache

import (
	"context"
	"sync"
	"time"

	"otc-signal-bot/internal/logging"
)

// Snapshotter is any learner whose state can be serialized and
// restored. The ML ensemble and the adaptive threshold engine both
// satisfy it.
type Snapshotter interface {
	Snapshot() ([]byte, error)
	Restore(data []byte) error
}

// Store is the slice of the cache service the mirror needs; split out
// so tests can substitute an in-memory map.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// SnapshotMirror periodically persists learner state to Redis and
// restores it on boot, so the bot does not relearn from scratch after a
// restart.
type SnapshotMirror struct {
	store    Store
	learners map[string]Snapshotter
	interval time.Duration
	logger   *logging.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
}

// NewSnapshotMirror wires named learners to a store.
func NewSnapshotMirror(store Store, learners map[string]Snapshotter, interval time.Duration, logger *logging.Logger) *SnapshotMirror {
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SnapshotMirror{
		store:    store,
		learners: learners,
		interval: interval,
		logger:   logger.WithComponent("snapshot-mirror"),
		stopChan: make(chan struct{}),
	}
}

// RestoreAll loads every learner's last snapshot. Missing or corrupt
// snapshots are skipped; the learner just starts fresh.
func (m *SnapshotMirror) RestoreAll(ctx context.Context) {
	for name, learner := range m.learners {
		data, err := m.store.Get(ctx, SnapshotKey(name))
		if err != nil {
			m.logger.Info("No snapshot to restore", "learner", name)
			continue
		}
		if err := learner.Restore(data); err != nil {
			m.logger.Warn("Snapshot restore failed, starting fresh", "learner", name, "error", err)
			continue
		}
		m.logger.Info("Snapshot restored", "learner", name, "bytes", len(data))
	}
}

// SaveAll snapshots every learner once.
func (m *SnapshotMirror) SaveAll(ctx context.Context) {
	for name, learner := range m.learners {
		data, err := learner.Snapshot()
		if err != nil {
			m.logger.Warn("Snapshot failed", "learner", name, "error", err)
			continue
		}
		if err := m.store.Set(ctx, SnapshotKey(name), data, SnapshotTTL); err != nil {
			m.logger.Warn("Snapshot write failed", "learner", name, "error", err)
		}
	}
}

// Start launches the periodic mirror loop.
func (m *SnapshotMirror) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopChan = make(chan struct{})
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				m.SaveAll(ctx)
				cancel()
			case <-m.stopChan:
				return
			}
		}
	}()
	m.logger.Info("Snapshot mirror started", "interval", m.interval.String())
}

// Stop halts the loop and takes one final snapshot.
func (m *SnapshotMirror) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopChan)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.SaveAll(ctx)
	m.logger.Info("Snapshot mirror stopped")
}
