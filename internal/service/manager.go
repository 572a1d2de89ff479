package service

import (
	"context"
	"errors"
	"sync"

	"github.com/samber/lo"

	"wbcscan/internal/dto"
	"wbcscan/internal/logger"
	"wbcscan/internal/service/metrics"
	"wbcscan/internal/service/runner"
	"wbcscan/internal/service/stats"
	"wbcscan/internal/service/storage"
	"wbcscan/internal/service/websocket"
)

// ErrShuttingDown is returned for runs requested after Shutdown started.
var ErrShuttingDown = errors.New("server is shutting down")

// BatchRunner executes one detection run.
type BatchRunner interface {
	Run(ctx context.Context, req dto.RunRequest) (*dto.RunOutcome, error)
}

// Manager coordinates detection runs, uploads and deletions. At most one run
// may process a given batch at a time; runs over disjoint batches proceed in parallel.
type Manager struct {
	runner           BatchRunner
	store            *storage.Store
	websocketService *websocket.HubService
	stats            *stats.Service
	metrics          *metrics.Metrics
	logger           *logger.Logger

	// runs outlive their request but end with the manager.
	runsCtx    context.Context
	cancelRuns context.CancelFunc
	inFlight   sync.WaitGroup

	runningMu sync.Mutex
	running   map[int64]bool
	closed    bool
}

// NewManager wires the run pipeline to its observers.
func NewManager(runner BatchRunner, store *storage.Store, websocketService *websocket.HubService,
	stats *stats.Service, metrics *metrics.Metrics, logger *logger.Logger) *Manager {
	runsCtx, cancelRuns := context.WithCancel(context.Background())
	return &Manager{
		runsCtx:          runsCtx,
		cancelRuns:       cancelRuns,
		runner:           runner,
		store:            store,
		websocketService: websocketService,
		stats:            stats,
		metrics:          metrics,
		logger:           logger,
		running:          make(map[int64]bool),
	}
}

func (m *Manager) acquire(batchIDs []int64) error {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()

	if m.closed {
		return ErrShuttingDown
	}
	for _, id := range batchIDs {
		if m.running[id] {
			return runner.ErrRunInProgress
		}
	}
	for _, id := range batchIDs {
		m.running[id] = true
	}
	m.inFlight.Add(1)
	return nil
}

func (m *Manager) release(batchIDs []int64) {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()

	for _, id := range batchIDs {
		delete(m.running, id)
	}
	m.inFlight.Done()
}

// RunDetection executes a detection run unless one of its batches is already running.
// The run ignores cancellation of ctx, so a client going away does not stop it;
// only Shutdown does, between two images.
func (m *Manager) RunDetection(ctx context.Context, req dto.RunRequest) (*dto.RunOutcome, error) {
	req.BatchIDs = lo.Uniq(req.BatchIDs)
	if err := m.acquire(req.BatchIDs); err != nil {
		m.logger.Warning("Run refused for project %d: %v", req.ProjectID, err)
		return nil, err
	}
	defer m.release(req.BatchIDs)

	ctx = context.WithoutCancel(ctx)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.runsCtx, cancel)
	defer stop()

	outcome, err := m.runner.Run(runCtx, req)
	m.metrics.ObserveRun(outcome)
	if outcome != nil && outcome.Processed > 0 {
		m.stats.Invalidate(ctx, req.ProjectID)
	}
	if outcome != nil && outcome.Err != nil {
		m.logger.Warning("Run %s finished with %d skipped images: %v", outcome.RunID, outcome.Skipped, outcome.Err)
	}
	return outcome, err
}

// Upload stores files in a batch and publishes upload progress to the viewers of userID.
func (m *Manager) Upload(ctx context.Context, userID, projectID, batchID int64, uploads []storage.Upload) (*storage.UploadResult, error) {
	result, err := m.store.SaveUploads(ctx, projectID, batchID, uploads, m.websocketService.ForUser(userID))
	if result != nil {
		m.metrics.ObserveUpload(len(result.Saved), len(result.Rejected))
	}
	return result, err
}

// DeleteImages removes images and drops the project's cached statistics.
func (m *Manager) DeleteImages(ctx context.Context, projectID int64, imageIDs []int64) (int, error) {
	deleted, err := m.store.DeleteImages(projectID, imageIDs)
	if deleted > 0 {
		m.stats.Invalidate(ctx, projectID)
	}
	return deleted, err
}

// Shutdown refuses new runs, cancels the ones in flight and waits for them to
// stop or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.runningMu.Lock()
	m.closed = true
	m.runningMu.Unlock()
	m.cancelRuns()

	done := make(chan struct{})
	go func() {
		m.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether a run currently holds the batch.
func (m *Manager) IsRunning(batchID int64) bool {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()
	return m.running[batchID]
}

func (m *Manager) GetWebsocketService() *websocket.HubService {
	return m.websocketService
}

func (m *Manager) GetStore() *storage.Store {
	return m.store
}

func (m *Manager) GetStats() *stats.Service {
	return m.stats
}

func (m *Manager) GetMetrics() *metrics.Metrics {
	return m.metrics
}
