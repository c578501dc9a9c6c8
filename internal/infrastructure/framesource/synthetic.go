package framesource

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"time"

	"facestream/internal/core/domain"
	"facestream/internal/core/ports"
)

type SyntheticConfig struct {
	FPS     float64
	Width   int
	Height  int
	Quality int
	// MaxFrames ends each stream after that many frames; zero is unbounded.
	MaxFrames int
	// Cameras restricts the known camera ids; empty accepts any id.
	Cameras []domain.CameraID
}

// SyntheticSource renders a moving test pattern as JPEG frames. It stands in
// for the detection pipeline in development and tests.
type SyntheticSource struct {
	config SyntheticConfig
	known  map[domain.CameraID]struct{}
}

var _ ports.FrameSource = (*SyntheticSource)(nil)

func NewSyntheticSource(cfg SyntheticConfig) *SyntheticSource {
	if cfg.FPS <= 0 {
		cfg.FPS = 15
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 640, 480
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = jpeg.DefaultQuality
	}

	s := &SyntheticSource{config: cfg}
	if len(cfg.Cameras) > 0 {
		s.known = make(map[domain.CameraID]struct{}, len(cfg.Cameras))
		for _, id := range cfg.Cameras {
			s.known[id] = struct{}{}
		}
	}
	return s
}

func (s *SyntheticSource) Open(ctx context.Context, cameraID domain.CameraID) (ports.FrameStream, error) {
	if s.known != nil {
		if _, ok := s.known[cameraID]; !ok {
			return nil, fmt.Errorf("%w: %d", domain.ErrCameraNotFound, cameraID)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	interval := time.Duration(float64(time.Second) / s.config.FPS)
	return &syntheticStream{
		config:   s.config,
		cameraID: cameraID,
		ticker:   time.NewTicker(interval),
		img:      image.NewRGBA(image.Rect(0, 0, s.config.Width, s.config.Height)),
		tint:     cameraTint(cameraID),
	}, nil
}

type syntheticStream struct {
	config   SyntheticConfig
	cameraID domain.CameraID
	ticker   *time.Ticker
	img      *image.RGBA
	tint     color.RGBA
	n        int
	buf      bytes.Buffer
}

func (st *syntheticStream) Next(ctx context.Context) ([]byte, error) {
	if st.config.MaxFrames > 0 && st.n >= st.config.MaxFrames {
		return nil, io.EOF
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-st.ticker.C:
	}

	st.render()
	st.n++

	st.buf.Reset()
	if err := jpeg.Encode(&st.buf, st.img, &jpeg.Options{Quality: st.config.Quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	// Frames are shared read-only by viewers, so each gets its own slice.
	return bytes.Clone(st.buf.Bytes()), nil
}

// render draws a tinted background with a bar sweeping left to right.
func (st *syntheticStream) render() {
	b := st.img.Bounds()
	barWidth := b.Dx() / 16
	if barWidth == 0 {
		barWidth = 1
	}
	barX := (st.n * barWidth / 2) % b.Dx()

	for y := b.Min.Y; y < b.Max.Y; y++ {
		shade := uint8(y * 255 / b.Dy())
		for x := b.Min.X; x < b.Max.X; x++ {
			if x >= barX && x < barX+barWidth {
				st.img.SetRGBA(x, y, color.RGBA{255, 255, 255, 255})
				continue
			}
			st.img.SetRGBA(x, y, color.RGBA{
				R: st.tint.R / 2,
				G: st.tint.G/2 + shade/4,
				B: st.tint.B / 2,
				A: 255,
			})
		}
	}
}

func (st *syntheticStream) Close() error {
	st.ticker.Stop()
	return nil
}

func cameraTint(id domain.CameraID) color.RGBA {
	palette := []color.RGBA{
		{200, 60, 60, 255},
		{60, 200, 60, 255},
		{60, 60, 200, 255},
		{200, 200, 60, 255},
		{60, 200, 200, 255},
	}
	return palette[int(id)%len(palette)]
}
