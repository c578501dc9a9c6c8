package streaming

import (
	"bytes"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"facestream/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultipartWriter_WireFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	SetHeaders(rec.Header())

	w := NewMultipartWriter(rec, 0)
	require.NoError(t, w.Start())
	require.NoError(t, w.WriteFrame(domain.Frame{Seq: 1, Data: []byte("abc")}))
	require.NoError(t, w.WriteFrame(domain.Frame{Seq: 2, Data: []byte("hello")}))

	want := "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: 3\r\n\r\nabc\r\n" +
		"--frame\r\nContent-Type: image/jpeg\r\nContent-Length: 5\r\n\r\nhello\r\n"
	assert.Equal(t, want, rec.Body.String())
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", rec.Header().Get("Content-Type"))
	assert.True(t, rec.Flushed)
}

func TestMultipartRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewMultipartWriter(rec, 0)

	frames := [][]byte{[]byte("one"), bytes.Repeat([]byte{0xff, 0xd8, '\r', '\n'}, 100), []byte("three")}
	for i, f := range frames {
		require.NoError(t, w.WriteFrame(domain.Frame{Seq: uint64(i), Data: f}))
	}

	// The live stream never closes; terminate it so the reader sees the end.
	rec.Body.WriteString("--frame--\r\n")

	r, err := NewMultipartReader(rec.Body, ContentType, 0)
	require.NoError(t, err)
	for _, want := range frames {
		got, err := r.NextFrame()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err = r.NextFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMultipartReader_Rejects(t *testing.T) {
	_, err := NewMultipartReader(strings.NewReader(""), "image/jpeg", 0)
	assert.Error(t, err)

	_, err = NewMultipartReader(strings.NewReader(""), "multipart/x-mixed-replace", 0)
	assert.Error(t, err)

	body := "--frame\r\nContent-Type: image/jpeg\r\n\r\n0123456789\r\n--frame--\r\n"
	r, err := NewMultipartReader(strings.NewReader(body), "multipart/x-mixed-replace; boundary=--frame", 4)
	require.NoError(t, err)
	_, err = r.NextFrame()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}
