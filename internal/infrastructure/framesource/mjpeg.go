package framesource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"facestream/internal/core/domain"
	"facestream/internal/core/ports"
	"facestream/internal/infrastructure/streaming"
	"facestream/pkg/circuitbreaker"
	"facestream/pkg/retry"

	"go.uber.org/zap"
)

var errUpstreamStatus = errors.New("unexpected upstream status")

type MJPEGConfig struct {
	// Cameras maps camera ids to upstream multipart/x-mixed-replace URLs.
	Cameras      map[domain.CameraID]string
	Retry        retry.Config
	Breaker      circuitbreaker.Config
	MaxFrameSize int64
	Client       *http.Client
}

// MJPEGSource relays frames from IP cameras that serve MJPEG over HTTP.
// Opening is retried with backoff; each camera has its own circuit breaker.
type MJPEGSource struct {
	config MJPEGConfig
	client *http.Client
	logger *zap.SugaredLogger

	mu       sync.Mutex
	breakers map[domain.CameraID]*circuitbreaker.CircuitBreaker
}

var _ ports.FrameSource = (*MJPEGSource)(nil)

func NewMJPEGSource(cfg MJPEGConfig, logger *zap.SugaredLogger) *MJPEGSource {
	client := cfg.Client
	if client == nil {
		// No overall timeout: the response body is the live stream.
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 10 * time.Second,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConnsPerHost:   2,
			},
		}
	}
	cfg.Retry.NonRetryable = append(cfg.Retry.NonRetryable, domain.ErrCameraNotFound, circuitbreaker.ErrOpen)

	return &MJPEGSource{
		config:   cfg,
		client:   client,
		logger:   logger,
		breakers: make(map[domain.CameraID]*circuitbreaker.CircuitBreaker),
	}
}

func (s *MJPEGSource) breaker(id domain.CameraID) *circuitbreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.breakers[id]
	if !ok {
		cb = circuitbreaker.New(s.config.Breaker)
		cb.OnStateChange(func(from, to circuitbreaker.State) {
			s.logger.Warnw("camera circuit breaker changed state",
				"camera_id", id,
				"from", from.String(),
				"to", to.String(),
			)
		})
		s.breakers[id] = cb
	}
	return cb
}

// BreakerState reports the breaker state of a camera.
func (s *MJPEGSource) BreakerState(id domain.CameraID) circuitbreaker.State {
	return s.breaker(id).GetState()
}

// Open connects to the camera. ctx bounds the whole stream, not just the
// connect, since the body is read for as long as the stream lives.
func (s *MJPEGSource) Open(ctx context.Context, cameraID domain.CameraID) (ports.FrameStream, error) {
	url, ok := s.config.Cameras[cameraID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", domain.ErrCameraNotFound, cameraID)
	}
	cb := s.breaker(cameraID)

	attempt := 0
	return retry.RetryWithResult(ctx, s.config.Retry, func() (ports.FrameStream, error) {
		attempt++
		stream, err := circuitbreaker.ExecuteWithResult(ctx, cb, func() (ports.FrameStream, error) {
			return s.connect(ctx, url)
		})
		if err != nil {
			s.logger.Infow("camera connect failed",
				"camera_id", cameraID,
				"attempt", attempt,
				"error", err,
			)
		}
		return stream, err
	})
}

func (s *MJPEGSource) connect(ctx context.Context, url string) (ports.FrameStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "multipart/x-mixed-replace, image/jpeg")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", errUpstreamStatus, resp.Status)
	}

	reader, err := streaming.NewMultipartReader(resp.Body, resp.Header.Get("Content-Type"), s.config.MaxFrameSize)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	return &mjpegStream{body: resp.Body, reader: reader}, nil
}

type mjpegStream struct {
	body      io.ReadCloser
	reader    *streaming.MultipartReader
	closeOnce sync.Once
}

// Next reads the next part. A body read cannot observe ctx directly, so a
// cancelled ctx closes the body to unblock it.
func (st *mjpegStream) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = st.Close() })
	defer stop()

	data, err := st.reader.NextFrame()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// io.EOF only follows a closing boundary; a truncated body
		// surfaces as io.ErrUnexpectedEOF and counts as a fault.
		return nil, err
	}
	return data, nil
}

func (st *mjpegStream) Close() error {
	var err error
	st.closeOnce.Do(func() { err = st.body.Close() })
	return err
}
