package jobs

import "time"

type QueueConfig struct {
	Name        string
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
}

// queue is a priority-ordered job list. All access goes through the
// manager's lock; the processing flag stops a second pass from
// double-dispatching while a slow batch is still in flight.
type queue struct {
	cfg        QueueConfig
	jobs       []*Job
	processing bool
}

func newQueue(cfg QueueConfig) *queue {
	return &queue{cfg: cfg}
}

// insert keeps jobs in descending priority order; equal priorities
// keep insertion order (FIFO among equals).
func (q *queue) insert(j *Job) {
	pos := len(q.jobs)
	for i, existing := range q.jobs {
		if j.Priority > existing.Priority {
			pos = i
			break
		}
	}
	q.jobs = append(q.jobs, nil)
	copy(q.jobs[pos+1:], q.jobs[pos:])
	q.jobs[pos] = j
}

func (q *queue) countByStatus(status Status) int {
	n := 0
	for _, j := range q.jobs {
		if j.Status == status {
			n++
		}
	}
	return n
}
