package scheduler

import (
	"container/heap"
	"sort"
	"sync"

	"training-manager/core/models"
)

// JobQueue orders queued jobs by creation time, oldest first, so admission is
// FIFO over created_at.
type JobQueue struct {
	jobs []*queuedJob
	mu   sync.Mutex
}

type queuedJob struct {
	job   *models.Job
	index int
}

// NewJobQueue creates an empty job queue
func NewJobQueue() *JobQueue {
	jq := &JobQueue{jobs: make([]*queuedJob, 0)}
	heap.Init(jq)
	return jq
}

// Enqueue adds a job to the queue
func (jq *JobQueue) Enqueue(job *models.Job) {
	jq.mu.Lock()
	defer jq.mu.Unlock()
	heap.Push(jq, &queuedJob{job: job})
}

// PopJob removes and returns the oldest queued job, or nil when empty
func (jq *JobQueue) PopJob() *models.Job {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	if jq.Len() == 0 {
		return nil
	}
	item := heap.Pop(jq).(*queuedJob)
	return item.job
}

// Remove drops the job with the given id from the queue. Returns false when
// the id is not queued.
func (jq *JobQueue) Remove(id string) bool {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	for _, qj := range jq.jobs {
		if qj.job.ID == id {
			heap.Remove(jq, qj.index)
			return true
		}
	}
	return false
}

// Depth returns the number of queued jobs
func (jq *JobQueue) Depth() int {
	jq.mu.Lock()
	defer jq.mu.Unlock()
	return jq.Len()
}

// IDs returns the queued job ids in admission order
func (jq *JobQueue) IDs() []string {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	// The heap slice is only partially ordered; sort a copy for display.
	jobs := make([]*models.Job, 0, len(jq.jobs))
	for _, qj := range jq.jobs {
		jobs = append(jobs, qj.job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	ids := make([]string, len(jobs))
	for i, job := range jobs {
		ids[i] = job.ID
	}
	return ids
}

// Len implements heap.Interface
func (jq *JobQueue) Len() int {
	return len(jq.jobs)
}

// Less implements heap.Interface: older submissions are admitted first, with
// the id as a deterministic tie-break.
func (jq *JobQueue) Less(i, j int) bool {
	if jq.jobs[i].job.CreatedAt.Equal(jq.jobs[j].job.CreatedAt) {
		return jq.jobs[i].job.ID < jq.jobs[j].job.ID
	}
	return jq.jobs[i].job.CreatedAt.Before(jq.jobs[j].job.CreatedAt)
}

// Swap implements heap.Interface
func (jq *JobQueue) Swap(i, j int) {
	jq.jobs[i], jq.jobs[j] = jq.jobs[j], jq.jobs[i]
	jq.jobs[i].index = i
	jq.jobs[j].index = j
}

// Push implements heap.Interface
func (jq *JobQueue) Push(x interface{}) {
	item := x.(*queuedJob)
	item.index = len(jq.jobs)
	jq.jobs = append(jq.jobs, item)
}

// Pop implements heap.Interface
func (jq *JobQueue) Pop() interface{} {
	old := jq.jobs
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	jq.jobs = old[0 : n-1]
	return item
}
