package ports

import (
	"context"
	"time"

	"facestream/internal/core/domain"
)

type CredentialService interface {
	Issue(subject string, role domain.Role, status domain.AccountStatus, ttl time.Duration) (string, error)
	Verify(token string) (*domain.Credential, error)
}

// FrameSource opens the external per-camera processing pipeline.
type FrameSource interface {
	Open(ctx context.Context, cameraID domain.CameraID) (FrameStream, error)
}

// FrameStream is a lazy, non-restartable frame sequence. Next returns io.EOF
// once the sequence has ended; any other error is an upstream fault.
// Next is never called concurrently.
type FrameStream interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// StreamMetrics receives pipeline and session observations.
type StreamMetrics interface {
	HandleOpened(cameraID domain.CameraID)
	HandleClosed(cameraID domain.CameraID, reason string)
	ViewerJoined(cameraID domain.CameraID)
	ViewerLeft(cameraID domain.CameraID)
	FrameSent(cameraID domain.CameraID, bytes int)
	FramesDropped(cameraID domain.CameraID, n int)
	SessionEnded(cameraID domain.CameraID, cause domain.SessionState)
	LoginAttempt(outcome string)
}

type EventPublisher interface {
	Publish(ctx context.Context, event *domain.Event) error
}

// FrameWriter delivers frames to one viewer over some transport. An error
// means the viewer can no longer be reached.
type FrameWriter interface {
	WriteFrame(frame domain.Frame) error
}
