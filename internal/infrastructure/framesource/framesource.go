// Package framesource provides the camera pipelines behind the stream
// endpoints.
package framesource

import (
	"fmt"
	"sort"

	"facestream/internal/core/domain"
	"facestream/internal/core/ports"
	"facestream/pkg/circuitbreaker"
	"facestream/pkg/config"
	"facestream/pkg/retry"

	"go.uber.org/zap"
)

// New builds the frame source selected by cfg.FrameSource.Kind.
func New(cfg *config.Config, logger *zap.SugaredLogger) (ports.FrameSource, error) {
	fs := cfg.FrameSource

	cameras := make([]domain.CameraID, 0, len(fs.Cameras))
	for id := range fs.Cameras {
		cameras = append(cameras, domain.CameraID(id))
	}
	sort.Slice(cameras, func(i, j int) bool { return cameras[i] < cameras[j] })

	switch fs.Kind {
	case config.FrameSourceSynthetic:
		logger.Infow("using synthetic frame source", "fps", fs.FPS, "cameras", cameras)
		return NewSyntheticSource(SyntheticConfig{
			FPS:       fs.FPS,
			Width:     fs.Width,
			Height:    fs.Height,
			Quality:   fs.JPEGQuality,
			MaxFrames: fs.MaxFrames,
			Cameras:   cameras,
		}), nil

	case config.FrameSourceMJPEG:
		urls := make(map[domain.CameraID]string, len(fs.Cameras))
		for id, url := range fs.Cameras {
			urls[domain.CameraID(id)] = url
		}

		retryCfg := retry.DefaultConfig()
		retryCfg.MaxAttempts = fs.Retry.MaxAttempts
		retryCfg.InitialDelay = fs.Retry.InitialDelay
		retryCfg.MaxDelay = fs.Retry.MaxDelay

		breakerCfg := circuitbreaker.DefaultConfig()
		breakerCfg.FailureThreshold = fs.CircuitBreaker.MaxFailures
		breakerCfg.Timeout = fs.CircuitBreaker.ResetTimeout

		logger.Infow("using mjpeg frame source", "cameras", cameras)
		return NewMJPEGSource(MJPEGConfig{
			Cameras: urls,
			Retry:   retryCfg,
			Breaker: breakerCfg,
		}, logger), nil

	default:
		return nil, fmt.Errorf("unknown frame source kind %q", fs.Kind)
	}
}
