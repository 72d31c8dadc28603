package api

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"scanreader/internal/models"
	"scanreader/internal/services"
)

const (
	JobStatusPending  = "pending"
	JobStatusRunning  = "running"
	JobStatusComplete = "complete"
	JobStatusAborted  = "aborted"
	JobStatusFailed   = "failed"
)

// ExtractionJob tracks a scan-to-text-file run that the frontend polls.
type ExtractionJob struct {
	ID         string    `json:"jobId"`
	Status     string    `json:"status"`
	Document   string    `json:"document"`
	OutputPath string    `json:"outputPath"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Current    int       `json:"current"`
	Total      int       `json:"total"`
	Percent    int       `json:"percent"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
}

type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*ExtractionJob
	extractions map[string]*services.Extraction
}

func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*ExtractionJob),
		extractions: make(map[string]*services.Extraction),
	}
}

func (m *JobManager) CreateJob(document, outputPath string) (string, *ExtractionJob) {
	now := time.Now().UTC()
	job := &ExtractionJob{
		ID:         uuid.NewString(),
		Status:     JobStatusPending,
		Document:   document,
		OutputPath: outputPath,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	return job.ID, job.clone()
}

// Attach binds a started extraction to its job so it can be aborted.
// Progress may already have been reported when Attach runs.
func (m *JobManager) Attach(id string, ext *services.Extraction) {
	m.withJob(id, func(job *ExtractionJob) {
		job.OutputPath = ext.OutputPath
		job.Total = ext.Total
		switch job.Status {
		case JobStatusPending:
			job.Status = JobStatusRunning
			job.Message = "Preparing book"
		case JobStatusRunning:
		default:
			return
		}
		m.extractions[id] = ext
	})
}

func (m *JobManager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	delete(m.extractions, id)
}

func (m *JobManager) GetJob(id string) (*ExtractionJob, bool) {
	m.mu.RLock()
	job, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

// ListJobs returns every job, newest first.
func (m *JobManager) ListJobs() []ExtractionJob {
	m.mu.RLock()
	out := make([]ExtractionJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, *job.clone())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *JobManager) UpdateProgress(id string, p models.ExtractionProgress) {
	m.withJob(id, func(job *ExtractionJob) {
		job.Status = JobStatusRunning
		job.Current = p.Page + 1
		job.Total = p.Total
		job.Percent = percent(job.Current, job.Total)
		job.Message = fmt.Sprintf("Scanning page %d of %d", job.Current, job.Total)
	})
}

func (m *JobManager) MarkFinished(id string, summary services.ExtractionSummary, err error) {
	m.withJob(id, func(job *ExtractionJob) {
		job.Current = summary.PagesDone
		job.Total = summary.Pages
		job.Percent = percent(summary.PagesDone, summary.Pages)
		switch summary.Status(err) {
		case models.ExtractionFailed:
			job.Status = JobStatusFailed
			job.Error = strings.TrimSpace(err.Error())
			job.Message = "OCR Failed"
		case models.ExtractionAborted:
			job.Status = JobStatusAborted
			job.Message = "Aborted"
		default:
			job.Status = JobStatusComplete
			job.Percent = 100
			job.Message = "OCR Completed"
		}
		delete(m.extractions, id)
	})
}

// Abort stops the job's extraction. It reports false for unknown or
// finished jobs.
func (m *JobManager) Abort(id string) bool {
	m.mu.RLock()
	ext, ok := m.extractions[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	ext.Abort()
	return true
}

func (m *JobManager) withJob(id string, fn func(job *ExtractionJob)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return
	}
	fn(job)
	job.UpdatedAt = time.Now().UTC()
}

func (job *ExtractionJob) clone() *ExtractionJob {
	if job == nil {
		return nil
	}
	copyJob := *job
	return &copyJob
}

func percent(current, total int) int {
	if total <= 0 || current <= 0 {
		return 0
	}
	if current >= total {
		return 100
	}
	return int((float64(current) / float64(total)) * 100)
}
