package schedule

import (
	"container/heap"
	"fmt"
	"sync"
	"time"
)

// Job is a unit of scheduled work.
type Job struct {
	ID       string
	RunAt    time.Time
	Callback func()
	index    int // position in the heap
}

// jobHeap is a min-heap of Jobs ordered by RunAt
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	return h[i].RunAt.Before(h[j].RunAt)
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x interface{}) {
	n := len(*h)
	job := x.(*Job)
	job.index = n
	*h = append(*h, job)
}

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	job.index = -1
	*h = old[0 : n-1]
	return job
}

// ErrStopped is returned when scheduling against a stopped scheduler.
var ErrStopped = fmt.Errorf("scheduler is stopped")

// Scheduler runs callbacks at their scheduled time using a min-heap. Jobs
// recur by rescheduling themselves from their own callback; scheduling an
// id that already exists replaces the pending job.
type Scheduler struct {
	heap    jobHeap
	mu      sync.Mutex
	wakeup  chan struct{}
	jobs    map[string]*Job
	stopped bool
	stopCh  chan struct{}
}

// NewScheduler creates a scheduler.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		heap:   make(jobHeap, 0),
		wakeup: make(chan struct{}, 1),
		jobs:   make(map[string]*Job),
		stopCh: make(chan struct{}),
	}
	heap.Init(&s.heap)
	return s
}

// Start launches the scheduler loop.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop stops the scheduler. Pending jobs are dropped; a running callback is
// not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
}

// Schedule adds or replaces a job.
func (s *Scheduler) Schedule(id string, runAt time.Time, callback func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}

	if existing, ok := s.jobs[id]; ok {
		heap.Remove(&s.heap, existing.index)
		delete(s.jobs, id)
	}

	job := &Job{ID: id, RunAt: runAt, Callback: callback}
	heap.Push(&s.heap, job)
	s.jobs[id] = job

	// Wake the loop if this job is now the earliest.
	if s.heap[0] == job {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}

	return nil
}

// Cancel removes a pending job and reports whether it existed.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false
	}
	heap.Remove(&s.heap, job.index)
	delete(s.jobs, id)
	return true
}

// Pending returns the number of scheduled jobs.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *Scheduler) run() {
	for {
		s.mu.Lock()

		if s.stopped {
			s.mu.Unlock()
			return
		}

		var wait time.Duration
		if s.heap.Len() == 0 {
			wait = 24 * time.Hour
		} else {
			next := s.heap[0]
			wait = time.Until(next.RunAt)

			if wait <= 0 {
				job := heap.Pop(&s.heap).(*Job)
				delete(s.jobs, job.ID)
				go job.Callback()

				s.mu.Unlock()
				continue
			}
		}

		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}

// NextDailyRun returns the next instant (UTC) at which a daily job with the
// given "HH:MM" local time of day should run, for a fixed-offset local zone.
func NextDailyRun(timeOfDay string, offset time.Duration, now time.Time) (time.Time, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(timeOfDay, "%d:%d", &hour, &minute); err != nil {
		return time.Time{}, fmt.Errorf("invalid time format: %s (expected HH:MM)", timeOfDay)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("time of day out of range: %s", timeOfDay)
	}

	local := now.UTC().Add(offset)
	todayRun := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, time.UTC)
	if !local.Before(todayRun) {
		todayRun = todayRun.AddDate(0, 0, 1)
	}

	return todayRun.Add(-offset), nil
}
