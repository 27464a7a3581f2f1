package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"flock/internal/platform/config"
)

const (
	defaultMaxAttempts = 3
	backoffBase        = time.Second
	maxBackoffShift    = 16
	executorTimeout    = 30 * time.Second
)

// Manager runs background jobs across a fixed set of named queues.
// Queues are provisioned at construction and never created or
// destroyed at runtime. A periodic tick scans every queue and
// dispatches eligible pending jobs up to the queue's concurrency.
//
// State is memory-resident: a process restart loses all pending and
// in-flight jobs. That is a deliberate tradeoff at this system's
// scale, not an oversight.
type Manager struct {
	mu        sync.Mutex
	queues    map[string]*queue
	order     []string
	byID      map[string]*Job
	executors map[Type]Executor

	tick               time.Duration
	defaultMaxAttempts int

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	now func() time.Time
}

// AddOptions tune a single job at enqueue time.
type AddOptions struct {
	Priority     int
	Delay        time.Duration
	MaxAttempts  int
	ScheduledFor *time.Time
}

func NewManager(deps ExecutorDeps, cfg config.JobsConfig) *Manager {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = time.Second
	}
	maxAttempts := cfg.DefaultMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	m := &Manager{
		queues:             make(map[string]*queue),
		byID:               make(map[string]*Job),
		executors:          newExecutorTable(deps),
		tick:               tick,
		defaultMaxAttempts: maxAttempts,
		now:                time.Now,
	}

	for _, qc := range []QueueConfig{
		{Name: "email", Concurrency: 3, MaxRetries: 3, RetryDelay: time.Second},
		{Name: "reports", Concurrency: 1, MaxRetries: 2, RetryDelay: 5 * time.Second},
		{Name: "backup", Concurrency: 1, MaxRetries: 2, RetryDelay: 10 * time.Second},
		{Name: "integration", Concurrency: 2, MaxRetries: 5, RetryDelay: 2 * time.Second},
		{Name: "notification", Concurrency: 5, MaxRetries: 3, RetryDelay: time.Second},
		{Name: "processing", Concurrency: 2, MaxRetries: 3, RetryDelay: 2 * time.Second},
		{Name: "maintenance", Concurrency: 1, MaxRetries: 1, RetryDelay: 30 * time.Second},
	} {
		m.queues[qc.Name] = newQueue(qc)
		m.order = append(m.order, qc.Name)
	}

	return m
}

// Start launches the processing tick. Safe to call once per manager.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.tick)
		defer ticker.Stop()

		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.mu.Lock()
				names := make([]string, len(m.order))
				copy(names, m.order)
				m.mu.Unlock()

				for _, name := range names {
					go m.ProcessQueue(name)
				}
			}
		}
	}()

	log.Info().Int("queues", len(m.order)).Dur("tick", m.tick).Msg("job manager started")
}

// Stop halts the tick. Batches already dispatched run to completion;
// their executors are never preempted.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	log.Info().Msg("job manager stopped")
}

// Add enqueues a job. Unknown queue names and unknown job types are
// configuration errors surfaced synchronously, never retried.
func (m *Manager) Add(queueName string, jobType Type, data map[string]interface{}, opts AddOptions) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[queueName]
	if !ok {
		return nil, fmt.Errorf("unknown queue %q", queueName)
	}
	if _, ok := m.executors[jobType]; !ok {
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.MaxRetries
	}
	if maxAttempts <= 0 {
		maxAttempts = m.defaultMaxAttempts
	}

	j := &Job{
		ID:           "job_" + uuid.NewString(),
		Queue:        queueName,
		Type:         jobType,
		Data:         data,
		Status:       StatusPending,
		Priority:     opts.Priority,
		MaxAttempts:  maxAttempts,
		Delay:        opts.Delay,
		ScheduledFor: opts.ScheduledFor,
		CreatedAt:    m.now(),
	}

	q.insert(j)
	m.byID[j.ID] = j

	log.Debug().Str("job_id", j.ID).Str("queue", queueName).Str("type", string(jobType)).Int("priority", j.Priority).Msg("job enqueued")
	return j.snapshot(), nil
}

// Jobs lists a queue's jobs, optionally filtered by status (empty
// status means all), in priority order.
func (m *Manager) Jobs(queueName string, status Status) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[queueName]
	if !ok {
		return nil, fmt.Errorf("unknown queue %q", queueName)
	}

	var out []*Job
	for _, j := range q.jobs {
		if status == "" || j.Status == status {
			out = append(out, j.snapshot())
		}
	}
	return out, nil
}

// Job returns a snapshot of one job, or nil if the id is unknown.
func (m *Manager) Job(id string) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.byID[id]
	if !ok {
		return nil
	}
	return j.snapshot()
}

// Cancel transitions a pending or running job to cancelled. A running
// job's executor is not interrupted; its outcome is discarded when it
// returns. Terminal jobs are untouched.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.byID[id]
	if !ok {
		return false
	}
	if j.Status != StatusPending && j.Status != StatusRunning {
		return false
	}

	j.Status = StatusCancelled
	log.Debug().Str("job_id", id).Msg("job cancelled")
	return true
}

type QueueStats struct {
	Name      string `json:"name"`
	Pending   int    `json:"pending"`
	Running   int    `json:"running"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Cancelled int    `json:"cancelled"`
	Total     int    `json:"total"`
}

type Stats struct {
	Queues    []QueueStats `json:"queues"`
	TotalJobs int          `json:"total_jobs"`
	Pending   int          `json:"pending"`
	Running   int          `json:"running"`
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
	Cancelled int          `json:"cancelled"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Stats
	for _, name := range m.order {
		q := m.queues[name]
		qs := QueueStats{
			Name:      name,
			Pending:   q.countByStatus(StatusPending),
			Running:   q.countByStatus(StatusRunning),
			Completed: q.countByStatus(StatusCompleted),
			Failed:    q.countByStatus(StatusFailed),
			Cancelled: q.countByStatus(StatusCancelled),
			Total:     len(q.jobs),
		}
		s.Queues = append(s.Queues, qs)
		s.TotalJobs += qs.Total
		s.Pending += qs.Pending
		s.Running += qs.Running
		s.Completed += qs.Completed
		s.Failed += qs.Failed
		s.Cancelled += qs.Cancelled
	}
	return s
}

// ProcessQueue runs one processing pass over a queue: select eligible
// pending jobs up to the queue's concurrency, dispatch them, and wait
// for the batch. The queue stays marked busy for the whole batch, so
// an overlapping tick is a no-op rather than a double dispatch.
func (m *Manager) ProcessQueue(name string) {
	m.mu.Lock()
	q, ok := m.queues[name]
	if !ok || q.processing {
		m.mu.Unlock()
		return
	}

	now := m.now()
	var batch []*Job
	for _, j := range q.jobs {
		if len(batch) >= q.cfg.Concurrency {
			break
		}
		if !j.eligibleAt(now) {
			continue
		}
		// Stamp start in selection (priority) order so priority is
		// observable even when the batch runs concurrently.
		started := m.now()
		j.Status = StatusRunning
		j.StartedAt = &started
		j.Attempts++
		batch = append(batch, j)
	}

	if len(batch) == 0 {
		m.mu.Unlock()
		return
	}
	q.processing = true
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, j := range batch {
		wg.Add(1)
		go func(j *Job) {
			defer wg.Done()
			m.runJob(q, j)
		}(j)
	}
	wg.Wait()

	m.mu.Lock()
	q.processing = false
	m.mu.Unlock()
}

func (m *Manager) runJob(q *queue, j *Job) {
	m.mu.Lock()
	exec, ok := m.executors[j.Type]
	jobType := j.Type
	data := j.Data
	m.mu.Unlock()

	if !ok {
		// Closed table: an unknown type here is a programmer error,
		// terminal on the first attempt.
		m.mu.Lock()
		now := m.now()
		j.Status = StatusFailed
		j.FailedAt = &now
		j.Error = fmt.Sprintf("no executor registered for job type %q", jobType)
		m.mu.Unlock()
		log.Error().Str("job_id", j.ID).Str("type", string(jobType)).Msg("job failed: unknown type")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), executorTimeout)
	defer cancel()

	result, err := runExecutor(ctx, exec, data)

	m.mu.Lock()
	defer m.mu.Unlock()

	if j.Status == StatusCancelled {
		// Cancelled while the executor was in flight; drop the outcome.
		return
	}

	now := m.now()
	if err != nil {
		j.Status = StatusFailed
		j.FailedAt = &now
		j.Error = err.Error()

		if j.Attempts < j.MaxAttempts {
			next := now.Add(backoff(q.cfg.RetryDelay, j.Attempts))
			j.Status = StatusPending
			j.ScheduledFor = &next
			log.Warn().Str("job_id", j.ID).Str("type", string(j.Type)).Int("attempt", j.Attempts).Time("retry_at", next).Err(err).Msg("job failed, retry scheduled")
		} else {
			log.Error().Str("job_id", j.ID).Str("type", string(j.Type)).Int("attempts", j.Attempts).Err(err).Msg("job failed permanently")
		}
		return
	}

	j.Status = StatusCompleted
	j.CompletedAt = &now
	j.Result = result
	log.Debug().Str("job_id", j.ID).Str("type", string(j.Type)).Msg("job completed")
}

// backoff doubles per attempt from the queue's retry delay (1s when
// unset): 1s, 2s, 4s, 8s... The exponent is clamped so an extreme
// attempt count cannot shift the delay negative.
func backoff(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = backoffBase
	}
	shift := attempts - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return base << shift
}

// runExecutor isolates executor panics as ordinary failures.
func runExecutor(ctx context.Context, exec Executor, data map[string]interface{}) (result map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return exec(ctx, data)
}
