package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"facestream/internal/core/domain"
	"facestream/internal/core/ports"
	"facestream/pkg/tracing"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrRegistryClosed is returned once the registry has been shut down.
var ErrRegistryClosed = errors.New("pipeline registry closed")

const (
	defaultSubscriberBuffer = 4
	eventPublishTimeout     = 2 * time.Second
	subscribeAttempts       = 3
)

type RegistryConfig struct {
	// SubscriberBuffer bounds the frames queued per viewer.
	SubscriberBuffer int
	// IdleEviction closes a handle once it has had no viewers for
	// IdleGracePeriod. When false a handle lives until its source ends.
	IdleEviction    bool
	IdleGracePeriod time.Duration
	// OpenTimeout bounds FrameSource.Open; zero means no bound.
	OpenTimeout time.Duration
}

// PipelineRegistry maps camera ids to their live handles. At most one
// handle per camera id exists at any time.
type PipelineRegistry struct {
	source     ports.FrameSource
	config     RegistryConfig
	metrics    ports.StreamMetrics
	events     ports.EventPublisher
	logger     *zap.SugaredLogger
	instanceID string

	ctx    context.Context
	cancel context.CancelFunc
	group  singleflight.Group

	mu      sync.Mutex
	handles map[domain.CameraID]*CameraHandle
	closed  bool
}

func NewPipelineRegistry(
	source ports.FrameSource,
	config RegistryConfig,
	metrics ports.StreamMetrics,
	events ports.EventPublisher,
	instanceID string,
	logger *zap.SugaredLogger,
) *PipelineRegistry {
	if config.SubscriberBuffer <= 0 {
		config.SubscriberBuffer = defaultSubscriberBuffer
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if events == nil {
		events = NopEvents{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PipelineRegistry{
		source:     source,
		config:     config,
		metrics:    metrics,
		events:     events,
		logger:     logger,
		instanceID: instanceID,
		ctx:        ctx,
		cancel:     cancel,
		handles:    make(map[domain.CameraID]*CameraHandle),
	}
}

// GetOrCreate returns the live handle for cameraID, opening the camera if
// needed. Concurrent first callers share a single Open.
func (r *PipelineRegistry) GetOrCreate(ctx context.Context, cameraID domain.CameraID) (*CameraHandle, error) {
	if h, err := r.lookup(cameraID); h != nil || err != nil {
		return h, err
	}

	ch := r.group.DoChan(cameraID.String(), func() (interface{}, error) {
		if h, err := r.lookup(cameraID); h != nil || err != nil {
			return h, err
		}
		return r.open(cameraID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*CameraHandle), nil
	}
}

// lookup returns the live handle, dropping a handle that is shutting down.
func (r *PipelineRegistry) lookup(cameraID domain.CameraID) (*CameraHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	h, ok := r.handles[cameraID]
	if !ok {
		return nil, nil
	}
	if h.isClosing() {
		r.removeLocked(h)
		return nil, nil
	}
	return h, nil
}

func (r *PipelineRegistry) open(cameraID domain.CameraID) (*CameraHandle, error) {
	ctx, span := tracing.TracePipeline(r.ctx, "open", int(cameraID))
	defer span.End()

	handleCtx, cancel := context.WithCancel(r.ctx)
	var openTimer *time.Timer
	if r.config.OpenTimeout > 0 {
		openTimer = time.AfterFunc(r.config.OpenTimeout, cancel)
	}

	start := time.Now()
	stream, err := r.source.Open(handleCtx, cameraID)
	if openTimer != nil {
		openTimer.Stop()
	}
	if err == nil && handleCtx.Err() != nil {
		_ = stream.Close()
		err = handleCtx.Err()
	}
	if err != nil {
		cancel()
		tracing.RecordError(ctx, err)
		r.logger.Errorw("failed to open camera", "camera_id", cameraID, "error", err)
		if errors.Is(err, domain.ErrCameraNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: open camera %s: %w", domain.ErrUpstreamFault, cameraID, err)
	}
	tracing.MeasureDuration(ctx, start, "pipeline.open")

	h := newCameraHandle(handleCtx, cancel, cameraID, stream, r.config.SubscriberBuffer, r.metrics, r.logger, r.handleFinished)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		_ = stream.Close()
		return nil, ErrRegistryClosed
	}
	r.handles[cameraID] = h
	r.metrics.HandleOpened(cameraID)
	// The caller that triggered the open may have given up already; an
	// unclaimed handle is evicted like any other idle one.
	r.armIdleTimerLocked(h)
	h.start()
	r.mu.Unlock()

	r.publish(&domain.Event{Type: domain.EventCameraOpened, CameraID: cameraID})
	r.logger.Infow("camera pipeline opened", "camera_id", cameraID, "duration", time.Since(start))
	return h, nil
}

// Subscribe attaches a new viewer to the camera's handle, opening the camera
// if it has no live handle.
func (r *PipelineRegistry) Subscribe(ctx context.Context, cameraID domain.CameraID) (*Subscription, error) {
	for attempt := 0; attempt < subscribeAttempts; attempt++ {
		h, err := r.GetOrCreate(ctx, cameraID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		sub, err := h.subscribe(r.release)
		if err == nil {
			stopIdleTimer(h)
		}
		r.mu.Unlock()

		if errors.Is(err, errHandleClosed) {
			continue
		}
		if err != nil {
			return nil, err
		}
		r.metrics.ViewerJoined(cameraID)
		return sub, nil
	}
	return nil, fmt.Errorf("%w: camera %s", domain.ErrPipelineClosed, cameraID)
}

// release runs after a viewer detached from h.
func (r *PipelineRegistry) release(h *CameraHandle) {
	r.metrics.ViewerLeft(h.id)
	if !r.config.IdleEviction {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.armIdleTimerLocked(h)
}

func (r *PipelineRegistry) armIdleTimerLocked(h *CameraHandle) {
	if !r.config.IdleEviction || r.handles[h.id] != h || h.Viewers() > 0 {
		return
	}
	stopIdleTimer(h)
	h.idleTimer = time.AfterFunc(r.config.IdleGracePeriod, func() {
		r.evictIfIdle(h)
	})
}

func (r *PipelineRegistry) evictIfIdle(h *CameraHandle) {
	r.mu.Lock()
	if r.handles[h.id] != h || !h.retire() {
		r.mu.Unlock()
		return
	}
	r.removeLocked(h)
	r.mu.Unlock()

	r.logger.Infow("evicting idle camera pipeline", "camera_id", h.id, "grace_period", r.config.IdleGracePeriod)
	h.Close()
}

// handleFinished is called from the pump once a handle has ended.
func (r *PipelineRegistry) handleFinished(h *CameraHandle, cause error) {
	r.mu.Lock()
	r.removeLocked(h)
	r.mu.Unlock()

	reason := closeReason(cause)
	r.metrics.HandleClosed(h.id, reason)
	r.publish(&domain.Event{Type: domain.EventCameraClosed, CameraID: h.id, Reason: reason})
}

func (r *PipelineRegistry) removeLocked(h *CameraHandle) {
	if r.handles[h.id] == h {
		delete(r.handles, h.id)
	}
	stopIdleTimer(h)
}

// Teardown closes the camera's handle, ending the streams of all its viewers.
func (r *PipelineRegistry) Teardown(ctx context.Context, cameraID domain.CameraID) error {
	_, span := tracing.TracePipeline(ctx, "teardown", int(cameraID))
	defer span.End()

	r.mu.Lock()
	h, ok := r.handles[cameraID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrCameraNotFound, cameraID)
	}
	r.removeLocked(h)
	r.mu.Unlock()

	r.logger.Infow("tearing down camera pipeline", "camera_id", cameraID, "viewers", h.Viewers())
	h.Close()
	return nil
}

// Cameras lists the live handles ordered by camera id.
func (r *PipelineRegistry) Cameras() []domain.CameraStatus {
	r.mu.Lock()
	handles := make([]*CameraHandle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	statuses := make([]domain.CameraStatus, 0, len(handles))
	for _, h := range handles {
		statuses = append(statuses, h.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].CameraID < statuses[j].CameraID
	})
	return statuses
}

// Close tears down every handle. Later calls to GetOrCreate fail.
func (r *PipelineRegistry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	handles := make([]*CameraHandle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
		stopIdleTimer(h)
	}
	r.handles = make(map[domain.CameraID]*CameraHandle)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *CameraHandle) {
			defer wg.Done()
			h.Close()
		}(h)
	}
	wg.Wait()
	r.cancel()
}

func (r *PipelineRegistry) publish(event *domain.Event) {
	event.InstanceID = r.instanceID
	event.Timestamp = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), eventPublishTimeout)
	defer cancel()
	if err := r.events.Publish(ctx, event); err != nil {
		r.logger.Warnw("failed to publish event", "type", event.Type, "camera_id", event.CameraID, "error", err)
	}
}

func stopIdleTimer(h *CameraHandle) {
	if h.idleTimer != nil {
		h.idleTimer.Stop()
		h.idleTimer = nil
	}
}

// NopEvents drops every event.
type NopEvents struct{}

func (NopEvents) Publish(context.Context, *domain.Event) error { return nil }
