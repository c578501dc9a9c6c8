package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"facestream/internal/core/domain"
	"facestream/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

// fakeSource hands out streams built by newStream and counts opens.
type fakeSource struct {
	opens     atomic.Int32
	openDelay time.Duration
	openErr   error
	newStream func(domain.CameraID) ports.FrameStream

	mu      sync.Mutex
	streams []ports.FrameStream
}

func (s *fakeSource) Open(ctx context.Context, cameraID domain.CameraID) (ports.FrameStream, error) {
	s.opens.Add(1)
	if s.openDelay > 0 {
		select {
		case <-time.After(s.openDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.openErr != nil {
		return nil, s.openErr
	}
	stream := s.newStream(cameraID)
	s.mu.Lock()
	s.streams = append(s.streams, stream)
	s.mu.Unlock()
	return stream, nil
}

func (s *fakeSource) stream(i int) ports.FrameStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[i]
}

// pushStream yields whatever the test pushes. Closing it ends the
// sequence with endErr (io.EOF by default).
type pushStream struct {
	frames chan []byte
	endErr error
	closed atomic.Bool
}

func newPushStream() *pushStream {
	return &pushStream{frames: make(chan []byte), endErr: io.EOF}
}

func (s *pushStream) push(ctx context.Context, data []byte) error {
	select {
	case s.frames <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *pushStream) end(err error) {
	if err != nil {
		s.endErr = err
	}
	close(s.frames)
}

func (s *pushStream) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data, ok := <-s.frames:
		if !ok {
			return nil, s.endErr
		}
		return data, nil
	}
}

func (s *pushStream) Close() error {
	s.closed.Store(true)
	return nil
}

// tickingStream produces a numbered frame every interval, failing after
// failAfter frames when failAfter > 0.
type tickingStream struct {
	interval  time.Duration
	failAfter int
	n         int
	closed    atomic.Bool
}

func (s *tickingStream) Next(ctx context.Context) ([]byte, error) {
	if s.failAfter > 0 && s.n >= s.failAfter {
		return nil, errors.New("camera unplugged")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.interval):
	}
	s.n++
	return []byte(fmt.Sprintf("frame-%d", s.n)), nil
}

func (s *tickingStream) Close() error {
	s.closed.Store(true)
	return nil
}

// recordingWriter collects written frames and can fail on a given write.
type recordingWriter struct {
	mu      sync.Mutex
	frames  []domain.Frame
	failAt  int
	written atomic.Int32
}

func (w *recordingWriter) WriteFrame(frame domain.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failAt > 0 && len(w.frames)+1 >= w.failAt {
		return errors.New("broken pipe")
	}
	w.frames = append(w.frames, frame)
	w.written.Add(1)
	return nil
}

func (w *recordingWriter) Frames() []domain.Frame {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]domain.Frame(nil), w.frames...)
}

type mockUserStore struct {
	mock.Mock
}

func (m *mockUserStore) Lookup(ctx context.Context, username string) (*domain.Account, error) {
	args := m.Called(ctx, username)
	account, _ := args.Get(0).(*domain.Account)
	return account, args.Error(1)
}

func (m *mockUserStore) Save(ctx context.Context, account *domain.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}
