package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// Redis key prefixes
	JobKeyPrefix   = "job:"
	queueKeyPrefix = "queue:"
	statsKeyPrefix = "job_stats:"

	deadLetterKeep = 1000
)

func pendingKey(q string) string    { return queueKeyPrefix + q + ":pending" }
func processingKey(q string) string { return queueKeyPrefix + q + ":processing" }
func delayedKey(q string) string    { return queueKeyPrefix + q + ":delayed" }
func leaseKey(q string) string      { return queueKeyPrefix + q + ":leases" }
func deadKey(q string) string       { return queueKeyPrefix + q + ":dead" }

// Handler processes one job. Returning Fatal(err) fails the job at once; any
// other error is retried with backoff until the queue's attempt cap.
type Handler func(ctx context.Context, job *Job) error

// Options tune the dispatcher. Zero values fall back to the defaults below.
type Options struct {
	// VisibilityTimeout is how long a claimed job may go without a heartbeat
	// before the sweeper hands it to another worker.
	VisibilityTimeout time.Duration
	SweepInterval     time.Duration
	// PollInterval drives the promotion of delayed jobs.
	PollInterval time.Duration
	// RetentionWindow keeps finished jobs so their ids stay deduplicated.
	RetentionWindow time.Duration
	MaxBackoff      time.Duration
	// DequeueTimeout bounds each blocking pop so Stop is noticed.
	DequeueTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 10 * time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.RetentionWindow < 0 {
		o.RetentionWindow = 0
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Minute
	}
	if o.DequeueTimeout <= 0 {
		o.DequeueTimeout = time.Second
	}
}

// QueueStats is a point-in-time view of one queue.
type QueueStats struct {
	Pending    int64            `json:"pending"`
	Processing int64            `json:"processing"`
	Delayed    int64            `json:"delayed"`
	DeadLetter int64            `json:"dead_letter"`
	Totals     map[string]int64 `json:"totals"`
}

// Dispatcher runs named Redis-backed queues, each with its own worker pool.
type Dispatcher struct {
	client   *redis.Client
	opts     Options
	queues   map[string]QueueConfig
	handlers map[string]Handler

	onCompleted []func(*Job)
	onFailed    []func(*Job, error)

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewDispatcher creates a dispatcher for the given queues.
func NewDispatcher(client *redis.Client, opts Options, queues ...QueueConfig) *Dispatcher {
	opts.setDefaults()
	d := &Dispatcher{
		client:   client,
		opts:     opts,
		queues:   make(map[string]QueueConfig, len(queues)),
		handlers: make(map[string]Handler),
		stopCh:   make(chan struct{}),
	}
	for _, q := range queues {
		if q.Attempts <= 0 {
			q.Attempts = 1
		}
		if q.Concurrency <= 0 {
			q.Concurrency = 1
		}
		d.queues[q.Name] = q
	}
	return d
}

// Register attaches the handler for a queue. It must be called before Start.
func (d *Dispatcher) Register(queue string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[queue] = h
}

func (d *Dispatcher) OnCompleted(fn func(*Job)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onCompleted = append(d.onCompleted, fn)
}

// OnFailed hooks run after every failed attempt; job.Status tells a retry
// apart from a terminal failure.
func (d *Dispatcher) OnFailed(fn func(*Job, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFailed = append(d.onFailed, fn)
}

// Queues returns the configured queue names.
func (d *Dispatcher) Queues() []string {
	names := make([]string, 0, len(d.queues))
	for _, q := range DefaultQueues() {
		if _, ok := d.queues[q.Name]; ok {
			names = append(names, q.Name)
		}
	}
	for name := range d.queues {
		if !contains(names, name) {
			names = append(names, name)
		}
	}
	return names
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Start starts the worker pools, the delayed-job promoter and the lease
// sweeper.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}
	d.stopCh = make(chan struct{})
	d.running = true

	for name, cfg := range d.queues {
		h, ok := d.handlers[name]
		if !ok {
			log.Warnf("[JobQueue] No handler registered for queue %s, not starting workers", name)
			continue
		}
		log.Infof("[JobQueue] Starting %d workers for queue %s", cfg.Concurrency, name)
		for i := 0; i < cfg.Concurrency; i++ {
			d.wg.Add(1)
			go d.worker(cfg, h, i)
		}
	}

	d.wg.Add(2)
	go d.promoter()
	go d.sweeper()
}

// Stop signals all goroutines and waits for in-flight jobs to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	log.Info("[JobQueue] Stopping workers...")
	close(d.stopCh)
	d.running = false
	d.mu.Unlock()

	d.wg.Wait()
	log.Info("[JobQueue] All workers stopped")
}

func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Enqueue adds a job. With an explicit opts.ID the call is idempotent: while
// a job with that id is queued, delayed, running or retained, the existing id
// is returned together with ErrDuplicateJob.
func (d *Dispatcher) Enqueue(ctx context.Context, queue, name string, payload interface{}, opts EnqueueOptions) (string, error) {
	cfg, ok := d.queues[queue]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}

	now := time.Now()
	job := &Job{
		ID:          id,
		Queue:       queue,
		Name:        name,
		Status:      JobStatusPending,
		Payload:     raw,
		Priority:    opts.Priority,
		MaxAttempts: cfg.Attempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.Delay > 0 {
		runAt := now.Add(opts.Delay)
		job.RunAt = &runAt
	}

	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	created, err := d.client.SetNX(ctx, JobKeyPrefix+id, data, 0).Result()
	if err != nil {
		return "", fmt.Errorf("failed to store job: %w", err)
	}
	if !created {
		log.Debugf("[JobQueue] Job %s already exists on %s, skipping", id, queue)
		return id, ErrDuplicateJob
	}

	pipe := d.client.Pipeline()
	switch {
	case job.RunAt != nil:
		pipe.ZAdd(ctx, delayedKey(queue), redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: id})
	case opts.Priority > 0:
		pipe.RPush(ctx, pendingKey(queue), id)
	default:
		pipe.LPush(ctx, pendingKey(queue), id)
	}
	pipe.HIncrBy(ctx, statsKeyPrefix+queue, "enqueued", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		d.client.Del(ctx, JobKeyPrefix+id)
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Infof("[JobQueue] Enqueued job %s (Queue: %s, Name: %s)", id, queue, name)
	return id, nil
}

// GetJob retrieves a job by ID
func (d *Dispatcher) GetJob(ctx context.Context, jobID string) (*Job, error) {
	data, err := d.client.Get(ctx, JobKeyPrefix+jobID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Stats returns the state of every configured queue.
func (d *Dispatcher) Stats(ctx context.Context) (map[string]QueueStats, error) {
	out := make(map[string]QueueStats, len(d.queues))
	for name := range d.queues {
		pipe := d.client.Pipeline()
		pending := pipe.LLen(ctx, pendingKey(name))
		processing := pipe.LLen(ctx, processingKey(name))
		delayed := pipe.ZCard(ctx, delayedKey(name))
		dead := pipe.LLen(ctx, deadKey(name))
		totals := pipe.HGetAll(ctx, statsKeyPrefix+name)
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}

		st := QueueStats{
			Pending:    pending.Val(),
			Processing: processing.Val(),
			Delayed:    delayed.Val(),
			DeadLetter: dead.Val(),
			Totals:     make(map[string]int64),
		}
		for k, v := range totals.Val() {
			if n, err := json.Number(v).Int64(); err == nil {
				st.Totals[k] = n
			}
		}
		out[name] = st
	}
	return out, nil
}

// worker processes jobs from one queue
func (d *Dispatcher) worker(cfg QueueConfig, h Handler, id int) {
	defer d.wg.Done()
	log.Debugf("[JobQueue] Worker %s/%d started", cfg.Name, id)

	ctx := context.Background()
	for {
		select {
		case <-d.stopCh:
			log.Debugf("[JobQueue] Worker %s/%d stopping", cfg.Name, id)
			return
		default:
		}

		job, err := d.claim(ctx, cfg.Name)
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Errorf("[JobQueue] Worker %s/%d: error dequeuing job: %v", cfg.Name, id, err)
				d.sleep(time.Second)
			}
			continue
		}
		if job == nil {
			continue
		}

		log.Infof("[JobQueue] Worker %s/%d processing job %s (attempt %d/%d)", cfg.Name, id, job.ID, job.Attempts, job.MaxAttempts)
		d.process(ctx, cfg, h, job)
	}
}

func (d *Dispatcher) sleep(dur time.Duration) {
	select {
	case <-d.stopCh:
	case <-time.After(dur):
	}
}

// claim moves the next job to processing, counts the attempt and takes a
// lease on it. It returns nil, nil for stale list entries.
func (d *Dispatcher) claim(ctx context.Context, queue string) (*Job, error) {
	jobID, err := d.client.BRPopLPush(ctx, pendingKey(queue), processingKey(queue), d.opts.DequeueTimeout).Result()
	if err != nil {
		return nil, err
	}

	job, err := d.GetJob(ctx, jobID)
	if err != nil {
		log.Errorf("[JobQueue] Dropping %s from %s: %v", jobID, queue, err)
		d.client.LRem(ctx, processingKey(queue), 1, jobID)
		return nil, nil
	}
	if job.Status != JobStatusPending {
		// Another copy of the id was already claimed.
		d.client.LRem(ctx, processingKey(queue), 1, jobID)
		return nil, nil
	}

	job.MarkAsProcessing()
	leaseUntil := time.Now().Add(d.opts.VisibilityTimeout)
	if err := d.saveJob(ctx, job, 0); err != nil {
		return nil, err
	}
	if err := d.client.ZAdd(ctx, leaseKey(queue), redis.Z{Score: float64(leaseUntil.UnixMilli()), Member: jobID}).Err(); err != nil {
		return nil, err
	}
	return job, nil
}

// process runs the handler with a heartbeat and records the outcome.
func (d *Dispatcher) process(ctx context.Context, cfg QueueConfig, h Handler, job *Job) {
	done := make(chan struct{})
	go d.heartbeat(cfg.Name, job.ID, done)

	err := d.safeRun(ctx, h, job)
	close(done)

	switch {
	case err == nil:
		job.MarkAsCompleted()
		d.finish(ctx, job, "completed")
		log.Infof("[JobQueue] Job %s completed successfully", job.ID)
		d.fireCompleted(job)

	case IsFatal(err):
		job.MarkAsFailed(err.Error())
		d.finish(ctx, job, "failed")
		log.Errorf("[JobQueue] Job %s failed permanently: %v", job.ID, err)
		d.fireFailed(job, err)

	case job.IsRetryable():
		delay := Backoff(cfg.Backoff, job.Attempts, d.opts.MaxBackoff)
		job.MarkAsRetrying(err.Error(), time.Now().Add(delay))
		if serr := d.saveJob(ctx, job, 0); serr != nil {
			log.Errorf("[JobQueue] Failed to update job %s: %v", job.ID, serr)
		}
		pipe := d.client.Pipeline()
		pipe.ZRem(ctx, leaseKey(cfg.Name), job.ID)
		pipe.LRem(ctx, processingKey(cfg.Name), 1, job.ID)
		pipe.ZAdd(ctx, delayedKey(cfg.Name), redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: job.ID})
		pipe.HIncrBy(ctx, statsKeyPrefix+cfg.Name, "retried", 1)
		if _, perr := pipe.Exec(ctx); perr != nil {
			log.Errorf("[JobQueue] Failed to schedule retry for %s: %v", job.ID, perr)
		}
		log.Warnf("[JobQueue] Job %s failed (attempt %d/%d), retrying in %s: %v", job.ID, job.Attempts, job.MaxAttempts, delay, err)
		d.fireFailed(job, err)

	default:
		job.MarkAsDeadLetter(err.Error())
		d.finish(ctx, job, "dead_letter")
		d.client.LPush(ctx, deadKey(cfg.Name), job.ID)
		d.client.LTrim(ctx, deadKey(cfg.Name), 0, deadLetterKeep-1)
		log.Errorf("[JobQueue] Job %s moved to dead-letter after %d attempts: %v", job.ID, job.Attempts, err)
		d.fireFailed(job, err)
	}
}

func (d *Dispatcher) safeRun(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

// heartbeat extends the lease while the handler runs. ZAddXX leaves a lease
// alone once the sweeper has taken it away.
func (d *Dispatcher) heartbeat(queue, jobID string, done <-chan struct{}) {
	interval := d.opts.VisibilityTimeout / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			until := time.Now().Add(d.opts.VisibilityTimeout)
			if err := d.client.ZAddXX(ctx, leaseKey(queue), redis.Z{Score: float64(until.UnixMilli()), Member: jobID}).Err(); err != nil {
				log.Errorf("[JobQueue] Heartbeat for %s failed: %v", jobID, err)
			}
		}
	}
}

// finish stores a terminal job for the retention window and releases it.
func (d *Dispatcher) finish(ctx context.Context, job *Job, stat string) {
	if d.opts.RetentionWindow > 0 {
		if err := d.saveJob(ctx, job, d.opts.RetentionWindow); err != nil {
			log.Errorf("[JobQueue] Failed to update job %s: %v", job.ID, err)
		}
	} else if err := d.client.Del(ctx, JobKeyPrefix+job.ID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove finished job %s: %v", job.ID, err)
	}

	pipe := d.client.Pipeline()
	pipe.ZRem(ctx, leaseKey(job.Queue), job.ID)
	pipe.LRem(ctx, processingKey(job.Queue), 1, job.ID)
	pipe.HIncrBy(ctx, statsKeyPrefix+job.Queue, stat, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("[JobQueue] Failed to release job %s: %v", job.ID, err)
	}
}

// saveJob writes job data; ttl 0 keeps it until the job finishes.
func (d *Dispatcher) saveJob(ctx context.Context, job *Job, ttl time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	return d.client.Set(ctx, JobKeyPrefix+job.ID, data, ttl).Err()
}

func (d *Dispatcher) fireCompleted(job *Job) {
	d.mu.Lock()
	hooks := append([]func(*Job){}, d.onCompleted...)
	d.mu.Unlock()
	for _, fn := range hooks {
		fn(job)
	}
}

func (d *Dispatcher) fireFailed(job *Job, err error) {
	d.mu.Lock()
	hooks := append([]func(*Job, error){}, d.onFailed...)
	d.mu.Unlock()
	for _, fn := range hooks {
		fn(job, err)
	}
}
