package domain

import (
	"fmt"
	"strconv"
	"time"
)

type CameraID int

func (id CameraID) String() string {
	return strconv.Itoa(int(id))
}

// ParseCameraID accepts the decimal, non-negative form used in stream URLs.
func ParseCameraID(s string) (CameraID, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCameraID, s)
	}
	return CameraID(n), nil
}

// Frame is one encoded image produced by a camera pipeline. Data is shared
// between all viewers of the camera and must be treated as read-only.
type Frame struct {
	Seq        uint64
	Data       []byte
	CapturedAt time.Time
}

// CameraStatus is a point-in-time view of a live camera handle.
type CameraStatus struct {
	CameraID      CameraID  `json:"camera_id"`
	Viewers       int       `json:"viewers"`
	FramesRead    uint64    `json:"frames_read"`
	FramesDropped uint64    `json:"frames_dropped"`
	OpenedAt      time.Time `json:"opened_at"`
	IdleSince     time.Time `json:"idle_since,omitempty"`
}
