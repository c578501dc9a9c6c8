package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"facestream/internal/core/domain"
	"facestream/internal/core/ports"

	"go.uber.org/zap"
)

var errHandleClosed = errors.New("camera handle closed")

// CameraHandle owns one open FrameStream. A single pump goroutine reads the
// stream and broadcasts each frame to every subscriber.
type CameraHandle struct {
	id       domain.CameraID
	stream   ports.FrameStream
	buffer   int
	metrics  ports.StreamMetrics
	logger   *zap.SugaredLogger
	openedAt time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	onFinish func(*CameraHandle, error)

	mu        sync.Mutex
	subs      map[uint64]*Subscription
	nextSubID uint64
	seq       uint64
	dropped   uint64
	closing   bool
	err       error
	idleSince time.Time

	// guarded by the registry mutex
	idleTimer *time.Timer
}

func newCameraHandle(
	ctx context.Context,
	cancel context.CancelFunc,
	id domain.CameraID,
	stream ports.FrameStream,
	buffer int,
	metrics ports.StreamMetrics,
	logger *zap.SugaredLogger,
	onFinish func(*CameraHandle, error),
) *CameraHandle {
	if buffer < 1 {
		buffer = 1
	}
	now := time.Now()
	return &CameraHandle{
		id:        id,
		stream:    stream,
		buffer:    buffer,
		metrics:   metrics,
		logger:    logger.With("camera_id", id),
		openedAt:  now,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		onFinish:  onFinish,
		subs:      make(map[uint64]*Subscription),
		idleSince: now,
	}
}

func (h *CameraHandle) CameraID() domain.CameraID {
	return h.id
}

func (h *CameraHandle) start() {
	go h.pump()
}

func (h *CameraHandle) pump() {
	defer close(h.done)
	for {
		data, err := h.stream.Next(h.ctx)
		if err != nil {
			h.finish(h.causeOf(err))
			return
		}
		if len(data) == 0 {
			continue
		}
		h.broadcast(data)
	}
}

func (h *CameraHandle) causeOf(err error) error {
	switch {
	case h.ctx.Err() != nil:
		return domain.ErrPipelineClosed
	case errors.Is(err, io.EOF):
		return io.EOF
	default:
		return fmt.Errorf("%w: camera %s: %w", domain.ErrUpstreamFault, h.id, err)
	}
}

func (h *CameraHandle) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	frame := domain.Frame{Seq: h.seq, Data: data, CapturedAt: time.Now()}

	for _, sub := range h.subs {
		select {
		case sub.frames <- frame:
			continue
		default:
		}
		// Buffer full: drop the viewer's oldest frame. Only the pump sends,
		// and it holds h.mu, so there is room after one receive.
		select {
		case <-sub.frames:
			h.dropped++
			h.metrics.FramesDropped(h.id, 1)
		default:
		}
		select {
		case sub.frames <- frame:
		default:
		}
	}
}

// finish records the terminal cause, ends every subscription and releases
// the stream. It runs exactly once, on the pump goroutine.
func (h *CameraHandle) finish(cause error) {
	h.mu.Lock()
	h.closing = true
	h.err = cause
	for id, sub := range h.subs {
		close(sub.frames)
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if err := h.stream.Close(); err != nil {
		h.logger.Warnw("failed to close frame stream", "error", err)
	}
	h.cancel()

	switch {
	case errors.Is(cause, domain.ErrUpstreamFault):
		h.logger.Errorw("camera pipeline failed", "error", cause)
	default:
		h.logger.Infow("camera pipeline closed", "cause", closeReason(cause))
	}

	if h.onFinish != nil {
		h.onFinish(h, cause)
	}
}

// Close stops the pump and waits for it to release the stream.
func (h *CameraHandle) Close() {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	h.cancel()
	<-h.done
}

// Done is closed once the pump has exited.
func (h *CameraHandle) Done() <-chan struct{} {
	return h.done
}

// Err is the terminal cause: io.EOF, domain.ErrPipelineClosed or a wrapped
// domain.ErrUpstreamFault. It is nil while the handle is live.
func (h *CameraHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *CameraHandle) Viewers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *CameraHandle) Status() domain.CameraStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	status := domain.CameraStatus{
		CameraID:      h.id,
		Viewers:       len(h.subs),
		FramesRead:    h.seq,
		FramesDropped: h.dropped,
		OpenedAt:      h.openedAt,
	}
	if len(h.subs) == 0 {
		status.IdleSince = h.idleSince
	}
	return status
}

func (h *CameraHandle) subscribe(release func(*CameraHandle)) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closing {
		return nil, errHandleClosed
	}

	h.nextSubID++
	sub := &Subscription{
		id:      h.nextSubID,
		handle:  h,
		frames:  make(chan domain.Frame, h.buffer),
		release: release,
	}
	h.subs[sub.id] = sub
	return sub, nil
}

func (h *CameraHandle) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.frames)
	if len(h.subs) == 0 {
		h.idleSince = time.Now()
	}
}

// retire marks an idle handle as closing. It fails if a viewer is attached.
func (h *CameraHandle) retire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.subs) > 0 || h.closing {
		return false
	}
	h.closing = true
	return true
}

func (h *CameraHandle) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

// Subscription is one viewer's reference to a camera handle.
type Subscription struct {
	id      uint64
	handle  *CameraHandle
	frames  chan domain.Frame
	release func(*CameraHandle)
	once    sync.Once
}

func (s *Subscription) CameraID() domain.CameraID {
	return s.handle.id
}

// Next blocks until the next frame for this viewer. Once the handle has
// ended and the buffered frames are drained it returns the handle's cause.
func (s *Subscription) Next(ctx context.Context) (domain.Frame, error) {
	select {
	case <-ctx.Done():
		return domain.Frame{}, ctx.Err()
	case frame, ok := <-s.frames:
		if !ok {
			if err := s.handle.Err(); err != nil {
				return domain.Frame{}, err
			}
			return domain.Frame{}, domain.ErrPipelineClosed
		}
		return frame, nil
	}
}

// Close detaches the viewer. It is safe to call more than once.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.handle.unsubscribe(s)
		if s.release != nil {
			s.release(s.handle)
		}
	})
	return nil
}

func closeReason(cause error) string {
	switch {
	case cause == nil:
		return "closed"
	case errors.Is(cause, io.EOF):
		return "exhausted"
	case errors.Is(cause, domain.ErrPipelineClosed):
		return "teardown"
	case errors.Is(cause, domain.ErrUpstreamFault):
		return "upstream_fault"
	default:
		return "error"
	}
}
