package streaming

import (
	"bufio"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"facestream/internal/core/domain"
	"facestream/internal/core/ports"
)

const (
	Boundary         = "frame"
	ContentType      = "multipart/x-mixed-replace; boundary=" + Boundary
	FrameContentType = "image/jpeg"
)

// MultipartWriter emits each frame as one complete multipart part:
//
//	--frame\r\nContent-Type: image/jpeg\r\nContent-Length: N\r\n\r\n<bytes>\r\n
//
// and flushes it, so the client can render a frame without waiting for the
// next boundary.
type MultipartWriter struct {
	rc           *http.ResponseController
	buf          *bufio.Writer
	writeTimeout time.Duration
}

var _ ports.FrameWriter = (*MultipartWriter)(nil)

// NewMultipartWriter wraps w. A positive writeTimeout bounds each frame write
// where the server supports write deadlines.
func NewMultipartWriter(w http.ResponseWriter, writeTimeout time.Duration) *MultipartWriter {
	return &MultipartWriter{
		rc:           http.NewResponseController(w),
		buf:          bufio.NewWriterSize(w, 64*1024),
		writeTimeout: writeTimeout,
	}
}

// SetHeaders prepares the response for an unbounded multipart stream.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("X-Accel-Buffering", "no")
}

// Start commits the response headers to the client.
func (m *MultipartWriter) Start() error {
	return m.flush()
}

func (m *MultipartWriter) WriteFrame(frame domain.Frame) error {
	if m.writeTimeout > 0 {
		err := m.rc.SetWriteDeadline(time.Now().Add(m.writeTimeout))
		if errors.Is(err, http.ErrNotSupported) {
			m.writeTimeout = 0
		}
	}

	if _, err := fmt.Fprintf(m.buf, "--%s\r\nContent-Type: %s\r\nContent-Length: %s\r\n\r\n",
		Boundary, FrameContentType, strconv.Itoa(len(frame.Data))); err != nil {
		return err
	}
	if _, err := m.buf.Write(frame.Data); err != nil {
		return err
	}
	if _, err := m.buf.WriteString("\r\n"); err != nil {
		return err
	}
	return m.flush()
}

func (m *MultipartWriter) flush() error {
	if err := m.buf.Flush(); err != nil {
		return err
	}
	if err := m.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
