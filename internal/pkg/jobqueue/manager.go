package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Task is periodic maintenance run next to the dispatcher.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Manager owns the dispatcher and the background tasks that share its
// lifecycle.
type Manager struct {
	dispatcher *Dispatcher
	tasks      []Task
	cancel     context.CancelFunc
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
}

func NewManager(d *Dispatcher) *Manager {
	return &Manager{dispatcher: d}
}

// Dispatcher returns the managed dispatcher
func (m *Manager) Dispatcher() *Dispatcher {
	return m.dispatcher
}

// AddTask schedules fn every interval once the manager starts.
func (m *Manager) AddTask(t Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, t)
}

// Start starts the dispatcher and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true
	log.Info("[JobQueue Manager] Starting dispatcher and background tasks")

	m.dispatcher.Start()

	for _, t := range m.tasks {
		if t.Interval <= 0 {
			log.Warnf("[JobQueue Manager] Task %s has no interval, skipping", t.Name)
			continue
		}
		m.wg.Add(1)
		go m.taskWorker(ctx, t)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops background tasks first, then drains the dispatcher.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping dispatcher and background tasks...")
	close(m.stopCh)
	m.cancel()
	m.running = false
	m.wg.Wait()

	m.dispatcher.Stop()
	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) taskWorker(ctx context.Context, t Task) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started task %s (interval: %s)", t.Name, t.Interval)

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			log.Infof("[JobQueue Manager] Task %s stopping", t.Name)
			return
		case <-ticker.C:
			if err := t.Run(ctx); err != nil {
				log.Errorf("[JobQueue Manager] Task %s error: %v", t.Name, err)
			}
		}
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
