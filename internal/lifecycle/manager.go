// Package lifecycle reclaims ephemeral artifact files once their retention
// window has elapsed. All pending deletions live in one deadline-ordered
// queue drained by a single background worker.
package lifecycle

import (
	"container/heap"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultRetention is used when Schedule is given a non-positive window.
const DefaultRetention = 10 * time.Minute

// Expired describes one deletion the worker carried out.
type Expired struct {
	Path     string
	Deadline time.Time
	// Err is nil when the file was removed or was already gone.
	Err error
}

// Options configures a Manager.
type Options struct {
	Clock  Clock
	Logger *slog.Logger
	// OnExpire, when set, is called from the worker after every deletion
	// attempt. It must not block.
	OnExpire func(Expired)
}

type entry struct {
	path     string
	deadline time.Time
	seq      uint64
}

type deadlineQueue []entry

func (q deadlineQueue) Len() int { return len(q) }

func (q deadlineQueue) Less(i, j int) bool {
	if q[i].deadline.Equal(q[j].deadline) {
		return q[i].seq < q[j].seq
	}
	return q[i].deadline.Before(q[j].deadline)
}

func (q deadlineQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *deadlineQueue) Push(x any) { *q = append(*q, x.(entry)) }

func (q *deadlineQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Manager owns scheduled artifact deletions. There is no cancellation: once
// scheduled, a deletion runs unless the process stops first.
type Manager struct {
	clock    Clock
	logger   *slog.Logger
	onExpire func(Expired)
	remove   func(string) error

	mu    sync.Mutex
	queue deadlineQueue
	seq   uint64
	wake  chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewManager(opts Options) *Manager {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		clock:    clock,
		logger:   logger.With("component", "lifecycle"),
		onExpire: opts.OnExpire,
		remove:   os.Remove,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Schedule arranges for path to be deleted once window has elapsed.
func (m *Manager) Schedule(path string, window time.Duration) {
	if window <= 0 {
		window = DefaultRetention
	}
	m.ScheduleAt(path, m.clock.Now().Add(window))
}

// ScheduleAt arranges for path to be deleted at deadline.
func (m *Manager) ScheduleAt(path string, deadline time.Time) {
	m.mu.Lock()
	m.seq++
	heap.Push(&m.queue, entry{path: path, deadline: deadline, seq: m.seq})
	m.mu.Unlock()

	m.logger.Info("scheduled deletion", "file", filepath.Base(path), "deadline", deadline)
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of deletions not yet carried out.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Start launches the worker. Calling Start more than once has no effect.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		m.cancel = cancel
		go m.run(ctx)
	})
}

// Stop halts the worker and waits for it to exit. Deletions still pending
// are abandoned.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		started := false
		m.startOnce.Do(func() {})
		if m.cancel != nil {
			started = true
			m.cancel()
		}
		if started {
			<-m.done
		}
		if pending := m.Pending(); pending > 0 {
			m.logger.Warn("lifecycle stopped with pending deletions", "pending", pending)
		}
	})
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	for {
		for _, due := range m.popDue() {
			m.expire(due)
		}

		var timer Timer
		var fire <-chan time.Time
		m.mu.Lock()
		if len(m.queue) > 0 {
			timer = m.clock.TimerAt(m.queue[0].deadline)
			fire = timer.C()
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-m.wake:
		case <-fire:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (m *Manager) popDue() []entry {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []entry
	for len(m.queue) > 0 && !m.queue[0].deadline.After(now) {
		due = append(due, heap.Pop(&m.queue).(entry))
	}
	return due
}

func (m *Manager) expire(e entry) {
	err := m.remove(e.path)
	switch {
	case err == nil:
		m.logger.Info("deleted expired artifact", "file", filepath.Base(e.path))
	case errors.Is(err, fs.ErrNotExist):
		m.logger.Debug("expired artifact already gone", "file", filepath.Base(e.path))
		err = nil
	default:
		m.logger.Error("failed to delete expired artifact", "file", filepath.Base(e.path), "error", err)
	}
	if m.onExpire != nil {
		m.onExpire(Expired{Path: e.path, Deadline: e.deadline, Err: err})
	}
}

// Sweep reclaims artifacts left in dir by a previous process. Files whose
// name starts with prefix and that are older than maxAge are deleted now;
// younger ones are scheduled for the rest of their window. It returns the
// number of files deleted.
func (m *Manager) Sweep(dir, prefix string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	now := m.clock.Now()
	removed := 0
	for _, de := range entries {
		if de.IsDir() || !strings.HasPrefix(de.Name(), prefix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(dir, de.Name())
		deadline := info.ModTime().Add(maxAge)
		if deadline.After(now) {
			m.ScheduleAt(path, deadline)
			continue
		}
		if err := m.remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Error("failed to delete stale artifact", "file", de.Name(), "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		m.logger.Info("swept stale artifacts", "dir", dir, "removed", removed)
	}
	return removed, nil
}
