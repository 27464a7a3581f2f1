package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"flock/internal/platform/config"
)

type fakeMailer struct {
	mu       sync.Mutex
	sent     []string
	failures int
}

func (f *fakeMailer) Send(to, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failures > 0 {
		f.failures--
		return errors.New("smtp unavailable")
	}
	f.sent = append(f.sent, to)
	return nil
}

func newTestManager(mailer *fakeMailer) *Manager {
	return NewManager(ExecutorDeps{Mailer: mailer}, config.JobsConfig{})
}

func TestAdd_UnknownQueue(t *testing.T) {
	m := newTestManager(&fakeMailer{})

	_, err := m.Add("nonexistent", TypeSendEmail, nil, AddOptions{})
	if err == nil {
		t.Fatal("expected error for unknown queue")
	}
}

func TestAdd_UnknownType(t *testing.T) {
	m := newTestManager(&fakeMailer{})

	_, err := m.Add("email", Type("mine_bitcoin"), nil, AddOptions{})
	if err == nil {
		t.Fatal("expected error for unknown job type")
	}
}

func TestAdd_DefaultsMaxAttemptsFromQueue(t *testing.T) {
	m := newTestManager(&fakeMailer{})

	j, err := m.Add("email", TypeSendEmail, map[string]interface{}{"to": "a@b.com"}, AddOptions{})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if j.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3 (email queue default)", j.MaxAttempts)
	}
	if j.Status != StatusPending {
		t.Errorf("Status = %s, want pending", j.Status)
	}
}

func TestQueueInsert_PriorityOrder(t *testing.T) {
	q := newQueue(QueueConfig{Name: "test", Concurrency: 1})

	q.insert(&Job{ID: "low", Priority: 1})
	q.insert(&Job{ID: "high", Priority: 10})
	q.insert(&Job{ID: "mid", Priority: 5})
	q.insert(&Job{ID: "mid2", Priority: 5})

	want := []string{"high", "mid", "mid2", "low"}
	for i, id := range want {
		if q.jobs[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, q.jobs[i].ID, id)
		}
	}
}

func TestProcessQueue_HigherPriorityStartsFirst(t *testing.T) {
	mailer := &fakeMailer{}
	m := newTestManager(mailer)

	low, _ := m.Add("email", TypeSendEmail, map[string]interface{}{"to": "c@d.com"}, AddOptions{Priority: 1})
	high, _ := m.Add("email", TypeSendEmail, map[string]interface{}{"to": "a@b.com"}, AddOptions{Priority: 5})

	m.ProcessQueue("email")

	hj, lj := m.Job(high.ID), m.Job(low.ID)
	if hj.Status != StatusCompleted || lj.Status != StatusCompleted {
		t.Fatalf("expected both completed, got %s / %s", hj.Status, lj.Status)
	}
	if !hj.StartedAt.Before(*lj.StartedAt) {
		t.Errorf("priority-5 job started at %v, should precede priority-1 job at %v", hj.StartedAt, lj.StartedAt)
	}
}

func TestProcessQueue_FIFOAmongEqualPriorities(t *testing.T) {
	m := newTestManager(&fakeMailer{})

	first, _ := m.Add("email", TypeSendEmail, map[string]interface{}{"to": "first@x.com"}, AddOptions{Priority: 2})
	second, _ := m.Add("email", TypeSendEmail, map[string]interface{}{"to": "second@x.com"}, AddOptions{Priority: 2})

	m.ProcessQueue("email")

	fj, sj := m.Job(first.ID), m.Job(second.ID)
	if !fj.StartedAt.Before(*sj.StartedAt) {
		t.Errorf("equal-priority jobs should start in insertion order: %v vs %v", fj.StartedAt, sj.StartedAt)
	}
}

func TestProcessQueue_RespectsConcurrency(t *testing.T) {
	m := newTestManager(&fakeMailer{})

	// email queue concurrency is 3; the 4th job must wait for the
	// next pass.
	var ids []string
	for i := 0; i < 4; i++ {
		j, _ := m.Add("email", TypeSendEmail, map[string]interface{}{"to": "x@y.com"}, AddOptions{})
		ids = append(ids, j.ID)
	}

	m.ProcessQueue("email")

	completed := 0
	for _, id := range ids {
		if m.Job(id).Status == StatusCompleted {
			completed++
		}
	}
	if completed != 3 {
		t.Errorf("completed = %d after one pass, want 3", completed)
	}

	m.ProcessQueue("email")
	for _, id := range ids {
		if m.Job(id).Status != StatusCompleted {
			t.Errorf("job %s not completed after second pass", id)
		}
	}
}

func TestProcessQueue_RetryWithExponentialBackoff(t *testing.T) {
	mailer := &fakeMailer{failures: 10} // always failing for this test's attempts
	m := newTestManager(mailer)

	j, _ := m.Add("email", TypeSendEmail, map[string]interface{}{"to": "a@b.com"}, AddOptions{MaxAttempts: 3})

	m.ProcessQueue("email")

	got := m.Job(j.ID)
	if got.Status != StatusPending {
		t.Fatalf("after first failure: status = %s, want pending (retry scheduled)", got.Status)
	}
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", got.Attempts)
	}
	if got.ScheduledFor == nil || !got.ScheduledFor.After(time.Now()) {
		t.Fatal("retry should be scheduled in the future")
	}
	firstDelay := got.ScheduledFor.Sub(*got.FailedAt)

	// Make the retry due and run the next pass.
	forceDue(m, j.ID)
	m.ProcessQueue("email")

	got = m.Job(j.ID)
	if got.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", got.Attempts)
	}
	secondDelay := got.ScheduledFor.Sub(*got.FailedAt)
	if secondDelay <= firstDelay {
		t.Errorf("backoff not monotonic: second delay %v <= first delay %v", secondDelay, firstDelay)
	}

	forceDue(m, j.ID)
	m.ProcessQueue("email")

	got = m.Job(j.ID)
	if got.Status != StatusFailed {
		t.Fatalf("after exhausting attempts: status = %s, want failed", got.Status)
	}
	if got.Attempts != 3 {
		t.Errorf("attempts = %d, want 3 (never exceeds max)", got.Attempts)
	}

	// Terminal failure: further passes must not touch the job.
	m.ProcessQueue("email")
	if m.Job(j.ID).Attempts != 3 {
		t.Error("terminally failed job was re-executed")
	}
}

func TestProcessQueue_SucceedsAfterTransientFailure(t *testing.T) {
	mailer := &fakeMailer{failures: 1}
	m := newTestManager(mailer)

	j, _ := m.Add("email", TypeSendEmail, map[string]interface{}{"to": "a@b.com"}, AddOptions{})

	m.ProcessQueue("email")
	forceDue(m, j.ID)
	m.ProcessQueue("email")

	got := m.Job(j.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.Result["sent_to"] != "a@b.com" {
		t.Errorf("result = %v, want sent_to recorded", got.Result)
	}
}

func TestBackoff_DoublesPerAttempt(t *testing.T) {
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := backoff(0, i+1); got != w {
			t.Errorf("backoff(0, %d) = %v, want %v", i+1, got, w)
		}
	}

	// The queue's retry delay is the base.
	if got := backoff(5*time.Second, 2); got != 10*time.Second {
		t.Errorf("backoff(5s, 2) = %v, want 10s", got)
	}
}

func TestBackoff_ClampedAtHighAttemptCounts(t *testing.T) {
	// Unclamped, a shift this large flips the sign and schedules the
	// retry in the past.
	for _, attempts := range []int{63, 64, 500} {
		got := backoff(time.Second, attempts)
		if got <= 0 {
			t.Fatalf("backoff(1s, %d) = %v, want a positive delay", attempts, got)
		}
		if got != backoff(time.Second, maxBackoffShift+1) {
			t.Errorf("backoff(1s, %d) = %v, want the clamped maximum", attempts, got)
		}
	}
}

func TestRetry_UsesQueueRetryDelayAsBase(t *testing.T) {
	// No global DB wired, so backup_database fails; the backup queue's
	// retry delay is 10s, not the 1s default.
	m := newTestManager(&fakeMailer{})

	j, _ := m.Add("backup", TypeBackupDatabase, nil, AddOptions{MaxAttempts: 2})
	m.ProcessQueue("backup")

	got := m.Job(j.ID)
	if got.Status != StatusPending {
		t.Fatalf("status = %s, want pending (retry scheduled)", got.Status)
	}
	delay := got.ScheduledFor.Sub(*got.FailedAt)
	if delay != 10*time.Second {
		t.Errorf("first retry delay = %v, want 10s (backup queue base)", delay)
	}
}

func TestDelay_NotEligibleBeforeMinimumAge(t *testing.T) {
	m := newTestManager(&fakeMailer{})

	j, _ := m.Add("email", TypeSendEmail, map[string]interface{}{"to": "a@b.com"}, AddOptions{Delay: time.Hour})

	m.ProcessQueue("email")

	if got := m.Job(j.ID); got.Status != StatusPending {
		t.Errorf("delayed job status = %s, want pending (delay not elapsed)", got.Status)
	}
}

func TestScheduledFor_NotEligibleBeforeTime(t *testing.T) {
	m := newTestManager(&fakeMailer{})

	future := time.Now().Add(time.Hour)
	j, _ := m.Add("email", TypeSendEmail, map[string]interface{}{"to": "a@b.com"}, AddOptions{ScheduledFor: &future})

	m.ProcessQueue("email")

	if got := m.Job(j.ID); got.Status != StatusPending {
		t.Errorf("scheduled job status = %s, want pending", got.Status)
	}
}

func TestCancel(t *testing.T) {
	m := newTestManager(&fakeMailer{})

	j, _ := m.Add("email", TypeSendEmail, map[string]interface{}{"to": "a@b.com"}, AddOptions{})

	if !m.Cancel(j.ID) {
		t.Fatal("cancelling a pending job should succeed")
	}
	if got := m.Job(j.ID); got.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}

	if m.Cancel(j.ID) {
		t.Error("cancelling an already-cancelled job should be a no-op")
	}
	if m.Cancel("job_missing") {
		t.Error("cancelling an unknown id should return false")
	}

	// Cancelled jobs are never selected.
	m.ProcessQueue("email")
	if got := m.Job(j.ID); got.Status != StatusCancelled {
		t.Errorf("cancelled job was executed: status = %s", got.Status)
	}
}

func TestJobs_FilterByStatus(t *testing.T) {
	m := newTestManager(&fakeMailer{})

	done, _ := m.Add("email", TypeSendEmail, map[string]interface{}{"to": "a@b.com"}, AddOptions{})
	future := time.Now().Add(time.Hour)
	m.Add("email", TypeSendEmail, map[string]interface{}{"to": "c@d.com"}, AddOptions{ScheduledFor: &future})

	m.ProcessQueue("email")

	completed, err := m.Jobs("email", StatusCompleted)
	if err != nil {
		t.Fatalf("Jobs failed: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != done.ID {
		t.Errorf("completed filter returned %d jobs", len(completed))
	}

	all, _ := m.Jobs("email", "")
	if len(all) != 2 {
		t.Errorf("unfiltered list returned %d jobs, want 2", len(all))
	}

	if _, err := m.Jobs("nonexistent", ""); err == nil {
		t.Error("expected error listing unknown queue")
	}
}

func TestStats(t *testing.T) {
	m := newTestManager(&fakeMailer{})

	m.Add("email", TypeSendEmail, map[string]interface{}{"to": "a@b.com"}, AddOptions{})
	m.Add("notification", TypeSendSMS, map[string]interface{}{"to": "+100"}, AddOptions{})

	m.ProcessQueue("email")

	s := m.Stats()
	if s.TotalJobs != 2 {
		t.Errorf("TotalJobs = %d, want 2", s.TotalJobs)
	}
	if s.Completed != 1 {
		t.Errorf("Completed = %d, want 1", s.Completed)
	}
	if s.Pending != 1 {
		t.Errorf("Pending = %d, want 1", s.Pending)
	}
	if len(s.Queues) != 7 {
		t.Errorf("Queues = %d, want 7 provisioned queues", len(s.Queues))
	}
}

func TestSimulatedExecutor_Completes(t *testing.T) {
	m := newTestManager(&fakeMailer{})

	j, _ := m.Add("notification", TypeSendPushNotification, map[string]interface{}{"user_id": "usr_1"}, AddOptions{})
	m.ProcessQueue("notification")

	got := m.Job(j.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.Result["simulated"] != true {
		t.Errorf("result = %v, want simulated marker", got.Result)
	}
}

func TestRunExecutor_RecoversPanic(t *testing.T) {
	exec := func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
		panic("boom")
	}

	_, err := runExecutor(context.Background(), exec, nil)
	if err == nil {
		t.Fatal("expected panic to surface as error")
	}
}

// forceDue rewinds a job's retry schedule so the next pass picks it up
// without sleeping through real backoff.
func forceDue(m *Manager, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j, ok := m.byID[id]; ok {
		past := time.Now().Add(-time.Millisecond)
		j.ScheduledFor = &past
	}
}
