package apihttp

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmcdole/kinomirror/internal/domain"
)

type JobState string

const (
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

const maxTrackedJobs = 20

// LoadJob is one background full load started over HTTP.
type LoadJob struct {
	ID         string              `json:"jobId"`
	State      JobState            `json:"state"`
	StartedAt  time.Time           `json:"startedAt"`
	FinishedAt time.Time           `json:"finishedAt,omitzero"`
	Progress   domain.LoadProgress `json:"progress"`
	Stats      *domain.Stats       `json:"stats,omitempty"`
}

// jobTracker keeps the most recent load jobs. At most one runs at a time.
type jobTracker struct {
	mu      sync.Mutex
	jobs    map[string]*LoadJob
	order   []string
	running string
	now     func() time.Time
}

func newJobTracker() *jobTracker {
	return &jobTracker{jobs: make(map[string]*LoadJob), now: time.Now}
}

// start registers a new running job. If one is already running its id is
// returned with ok=false.
func (t *jobTracker) start() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running != "" {
		return t.running, false
	}

	id := uuid.NewString()
	t.jobs[id] = &LoadJob{ID: id, State: JobRunning, StartedAt: t.now()}
	t.order = append(t.order, id)
	t.running = id

	for len(t.order) > maxTrackedJobs {
		delete(t.jobs, t.order[0])
		t.order = t.order[1:]
	}
	return id, true
}

func (t *jobTracker) progress(id string, p domain.LoadProgress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if job, ok := t.jobs[id]; ok {
		job.Progress = p
	}
}

func (t *jobTracker) finish(id string, stats domain.Stats) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running == id {
		t.running = ""
	}
	job, ok := t.jobs[id]
	if !ok {
		return
	}
	job.FinishedAt = t.now()
	job.Stats = &stats
	job.State = JobDone
	if stats.Error != "" {
		job.State = JobFailed
	}
}

func (t *jobTracker) get(id string) (LoadJob, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok {
		return LoadJob{}, false
	}
	return *job, true
}
