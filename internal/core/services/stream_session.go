package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"facestream/internal/core/domain"
	"facestream/internal/core/ports"
	"facestream/pkg/tracing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// FrameFeed is the viewer side of a camera subscription.
type FrameFeed interface {
	CameraID() domain.CameraID
	Next(ctx context.Context) (domain.Frame, error)
	Close() error
}

// StreamSession drives one viewer's stream:
// init -> streaming -> {disconnected, exhausted, errored} -> closed.
type StreamSession struct {
	ID        string
	CameraID  domain.CameraID
	Subject   string
	Transport string

	feed    FrameFeed
	metrics ports.StreamMetrics
	events  ports.EventPublisher
	logger  *zap.SugaredLogger

	mu         sync.Mutex
	state      domain.SessionState
	cause      domain.SessionState
	err        error
	framesSent uint64
	startedAt  time.Time
}

func NewStreamSession(
	feed FrameFeed,
	subject string,
	transport string,
	metrics ports.StreamMetrics,
	events ports.EventPublisher,
	logger *zap.SugaredLogger,
) *StreamSession {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if events == nil {
		events = NopEvents{}
	}
	id := uuid.New().String()
	return &StreamSession{
		ID:        id,
		CameraID:  feed.CameraID(),
		Subject:   subject,
		Transport: transport,
		feed:      feed,
		metrics:   metrics,
		events:    events,
		logger:    logger.With("session_id", id, "camera_id", feed.CameraID(), "subject", subject),
		state:     domain.SessionInit,
	}
}

// Run streams frames to w until ctx is cancelled, the feed ends or a write
// fails. It releases the subscription and returns the termination cause.
func (s *StreamSession) Run(ctx context.Context, w ports.FrameWriter) domain.SessionState {
	ctx, span := tracing.TraceSession(ctx, s.Transport, s.ID, int(s.CameraID))
	defer span.End()

	s.mu.Lock()
	s.state = domain.SessionStreaming
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.publish(domain.EventSessionStarted, "")
	s.logger.Infow("stream session started", "transport", s.Transport)

	cause, err := s.stream(ctx, w)

	s.mu.Lock()
	s.state = cause
	s.cause = cause
	s.err = err
	sent := s.framesSent
	s.mu.Unlock()

	_ = s.feed.Close()
	s.metrics.SessionEnded(s.CameraID, cause)

	fields := []interface{}{"cause", cause.String(), "frames_sent", sent, "duration", time.Since(s.startedAt)}
	switch cause {
	case domain.SessionErrored:
		tracing.RecordError(ctx, err)
		s.logger.Errorw("stream session failed", append(fields, "error", err)...)
	case domain.SessionDisconnected:
		s.logger.Debugw("viewer disconnected", fields...)
	default:
		s.logger.Infow("stream session ended", fields...)
	}
	span.SetAttributes(attribute.String("session.cause", cause.String()), attribute.Int64("session.frames_sent", int64(sent)))
	s.publish(domain.EventSessionEnded, cause.String())

	s.mu.Lock()
	s.state = domain.SessionClosed
	s.mu.Unlock()
	return cause
}

func (s *StreamSession) stream(ctx context.Context, w ports.FrameWriter) (domain.SessionState, error) {
	for {
		if ctx.Err() != nil {
			return domain.SessionDisconnected, nil
		}

		frame, err := s.feed.Next(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return domain.SessionDisconnected, nil
			case errors.Is(err, io.EOF), errors.Is(err, domain.ErrPipelineClosed):
				return domain.SessionExhausted, nil
			default:
				return domain.SessionErrored, err
			}
		}

		// The viewer may have left while we waited for the frame.
		if ctx.Err() != nil {
			return domain.SessionDisconnected, nil
		}
		if err := w.WriteFrame(frame); err != nil {
			return domain.SessionDisconnected, err
		}

		s.mu.Lock()
		s.framesSent++
		s.mu.Unlock()
		s.metrics.FrameSent(s.CameraID, len(frame.Data))
	}
}

func (s *StreamSession) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cause is the termination cause once Run has returned.
func (s *StreamSession) Cause() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Err is the upstream fault behind an errored session, or the write error
// behind a disconnect.
func (s *StreamSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *StreamSession) FramesSent() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.framesSent
}

func (s *StreamSession) publish(eventType domain.EventType, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), eventPublishTimeout)
	defer cancel()

	event := &domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		CameraID:  s.CameraID,
		SessionID: s.ID,
		Subject:   s.Subject,
		Reason:    reason,
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warnw("failed to publish event", "type", eventType, "error", err)
	}
}
