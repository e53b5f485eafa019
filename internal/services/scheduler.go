package services

import (
	"context"
	"sync"
	"time"

	"github.com/autolog/logsentinel/internal/logger"
	"github.com/autolog/logsentinel/internal/store"
)

// ProcessRequest asks a worker to run one processing pass for a project.
type ProcessRequest struct {
	ProjectID string
	Trigger   string // "schedule" | "manual"
}

// Processor is the part of LogProcessor the scheduler drives.
type Processor interface {
	ProcessLogs(ctx context.Context, projectID string) (*ProcessingStats, error)
}

// Scheduler runs processing passes for every enabled project on a fixed
// interval. A project is never queued twice while a run for it is pending.
type Scheduler struct {
	processor   Processor
	projects    store.ProjectRepository
	interval    time.Duration
	jobQueue    chan ProcessRequest
	workerCount int
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]bool
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewScheduler builds a scheduler. An interval of zero disables the ticker;
// Trigger still works.
func NewScheduler(processor Processor, projects store.ProjectRepository, interval time.Duration, workers int) *Scheduler {
	if workers <= 0 {
		workers = 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		processor:   processor,
		projects:    projects,
		interval:    interval,
		jobQueue:    make(chan ProcessRequest, 100),
		workerCount: workers,
		stopChan:    make(chan struct{}),
		inFlight:    make(map[string]bool),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the workers and the ticker.
func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	if s.interval > 0 {
		s.wg.Add(1)
		go s.tick()
	}
	logger.Info("Scheduler started", map[string]interface{}{
		"workers":  s.workerCount,
		"interval": s.interval.String(),
	})
}

// Stop cancels running passes and waits for the workers to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.cancel()
	})
	s.wg.Wait()
	logger.Info("Scheduler stopped", nil)
}

// Trigger queues a run for one project. It returns false when a run for the
// project is already pending or the queue is full.
func (s *Scheduler) Trigger(projectID string) bool {
	return s.enqueue(ProcessRequest{ProjectID: projectID, Trigger: "manual"})
}

// EnqueueAll queues every enabled project and returns how many were queued.
func (s *Scheduler) EnqueueAll(ctx context.Context) (int, error) {
	projects, err := store.ListEnabledProjects(ctx, s.projects)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, p := range projects {
		if s.enqueue(ProcessRequest{ProjectID: p.ProjectID, Trigger: "schedule"}) {
			queued++
		}
	}
	return queued, nil
}

func (s *Scheduler) enqueue(req ProcessRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[req.ProjectID] {
		return false
	}
	select {
	case s.jobQueue <- req:
		s.inFlight[req.ProjectID] = true
		return true
	default:
		logger.Warn("Processing queue full, dropping request", map[string]interface{}{"project_id": req.ProjectID})
		return false
	}
}

func (s *Scheduler) done(projectID string) {
	s.mu.Lock()
	delete(s.inFlight, projectID)
	s.mu.Unlock()
}

func (s *Scheduler) tick() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := s.EnqueueAll(s.ctx)
			if err != nil {
				logger.WithError(err, "scheduler").Error("Failed to list projects")
				continue
			}
			logger.Debug("Scheduled processing", map[string]interface{}{"queued": n})
		case <-s.stopChan:
			return
		}
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case req := <-s.jobQueue:
			s.run(id, req)
		case <-s.stopChan:
			logger.Info("Worker stopping", map[string]interface{}{"workerID": id})
			return
		}
	}
}

func (s *Scheduler) run(id int, req ProcessRequest) {
	defer s.done(req.ProjectID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Processing run panicked", map[string]interface{}{
				"workerID":   id,
				"project_id": req.ProjectID,
				"panic":      r,
			})
		}
	}()

	log := logger.WithProject(req.ProjectID, "scheduler").WithField("workerID", id)
	stats, err := s.processor.ProcessLogs(s.ctx, req.ProjectID)
	if err != nil {
		entry := log.WithError(err).WithField("retryable", IsRetryable(err))
		if IsRetryable(err) {
			entry.Warn("Processing run failed")
		} else {
			entry.Error("Processing run failed")
		}
		return
	}
	log.WithFields(map[string]interface{}{
		"trigger":  req.Trigger,
		"state":    stats.State,
		"degraded": stats.Degraded,
	}).Debug("Processing run finished")
}
