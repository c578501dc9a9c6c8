package streaming

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"
)

// DefaultMaxFrameSize bounds a single part read from an upstream stream.
const DefaultMaxFrameSize = 8 << 20

var ErrFrameTooLarge = errors.New("frame exceeds size limit")

// MultipartReader splits a multipart/x-mixed-replace body into frames.
type MultipartReader struct {
	mr      *multipart.Reader
	maxSize int64
}

// NewMultipartReader reads body using the boundary named in contentType.
func NewMultipartReader(body io.Reader, contentType string, maxSize int64) (*MultipartReader, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("invalid content type %q: %w", contentType, err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("not a multipart stream: %s", mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("multipart stream without boundary")
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	// Some cameras repeat the leading dashes in the boundary parameter.
	boundary = strings.TrimPrefix(boundary, "--")

	return &MultipartReader{
		mr:      multipart.NewReader(body, boundary),
		maxSize: maxSize,
	}, nil
}

// NextFrame returns the next part's body, or io.EOF after the final part.
func (r *MultipartReader) NextFrame() ([]byte, error) {
	part, err := r.mr.NextPart()
	if err != nil {
		return nil, err
	}
	defer part.Close()

	data, err := io.ReadAll(io.LimitReader(part, r.maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > r.maxSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrFrameTooLarge, r.maxSize)
	}
	return data, nil
}
