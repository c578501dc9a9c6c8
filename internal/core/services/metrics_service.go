package services

import (
	"sync"
	"time"

	"facestream/internal/core/domain"
	"facestream/internal/core/ports"
)

// CameraMetrics aggregates the observations for one camera since startup.
type CameraMetrics struct {
	CameraID       domain.CameraID `json:"camera_id"`
	Opens          int             `json:"opens"`
	ActiveViewers  int             `json:"active_viewers"`
	FramesSent     uint64          `json:"frames_sent"`
	BytesSent      uint64          `json:"bytes_sent"`
	FramesDropped  uint64          `json:"frames_dropped"`
	Sessions       map[string]int  `json:"sessions_by_cause"`
	LastCloseCause string          `json:"last_close_cause,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// MetricsService keeps in-memory per-camera counters for the admin API.
type MetricsService struct {
	mu      sync.RWMutex
	cameras map[domain.CameraID]*CameraMetrics
	logins  map[string]int
}

func NewMetricsService() *MetricsService {
	return &MetricsService{
		cameras: make(map[domain.CameraID]*CameraMetrics),
		logins:  make(map[string]int),
	}
}

func (m *MetricsService) camera(id domain.CameraID) *CameraMetrics {
	cm, ok := m.cameras[id]
	if !ok {
		cm = &CameraMetrics{CameraID: id, Sessions: make(map[string]int)}
		m.cameras[id] = cm
	}
	cm.UpdatedAt = time.Now()
	return cm
}

func (m *MetricsService) HandleOpened(cameraID domain.CameraID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.camera(cameraID).Opens++
}

func (m *MetricsService) HandleClosed(cameraID domain.CameraID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.camera(cameraID).LastCloseCause = reason
}

func (m *MetricsService) ViewerJoined(cameraID domain.CameraID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.camera(cameraID).ActiveViewers++
}

func (m *MetricsService) ViewerLeft(cameraID domain.CameraID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cm := m.camera(cameraID)
	if cm.ActiveViewers > 0 {
		cm.ActiveViewers--
	}
}

func (m *MetricsService) FrameSent(cameraID domain.CameraID, bytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cm := m.camera(cameraID)
	cm.FramesSent++
	cm.BytesSent += uint64(bytes)
}

func (m *MetricsService) FramesDropped(cameraID domain.CameraID, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.camera(cameraID).FramesDropped += uint64(n)
}

func (m *MetricsService) SessionEnded(cameraID domain.CameraID, cause domain.SessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.camera(cameraID).Sessions[cause.String()]++
}

func (m *MetricsService) LoginAttempt(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins[outcome]++
}

// GetCameraMetrics returns a copy of the counters for one camera.
func (m *MetricsService) GetCameraMetrics(cameraID domain.CameraID) CameraMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cm, ok := m.cameras[cameraID]
	if !ok {
		return CameraMetrics{CameraID: cameraID, Sessions: map[string]int{}}
	}
	out := *cm
	out.Sessions = make(map[string]int, len(cm.Sessions))
	for k, v := range cm.Sessions {
		out.Sessions[k] = v
	}
	return out
}

func (m *MetricsService) LoginAttempts(outcome string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.logins[outcome]
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) HandleOpened(domain.CameraID) {}
func (NopMetrics) HandleClosed(domain.CameraID, string) {}
func (NopMetrics) ViewerJoined(domain.CameraID) {}
func (NopMetrics) ViewerLeft(domain.CameraID) {}
func (NopMetrics) FrameSent(domain.CameraID, int) {}
func (NopMetrics) FramesDropped(domain.CameraID, int) {}
func (NopMetrics) SessionEnded(domain.CameraID, domain.SessionState) {}
func (NopMetrics) LoginAttempt(string) {}

// TeeMetrics forwards each observation to all of its members.
type TeeMetrics []ports.StreamMetrics

func (t TeeMetrics) HandleOpened(id domain.CameraID) {
	for _, m := range t {
		m.HandleOpened(id)
	}
}

func (t TeeMetrics) HandleClosed(id domain.CameraID, reason string) {
	for _, m := range t {
		m.HandleClosed(id, reason)
	}
}

func (t TeeMetrics) ViewerJoined(id domain.CameraID) {
	for _, m := range t {
		m.ViewerJoined(id)
	}
}

func (t TeeMetrics) ViewerLeft(id domain.CameraID) {
	for _, m := range t {
		m.ViewerLeft(id)
	}
}

func (t TeeMetrics) FrameSent(id domain.CameraID, bytes int) {
	for _, m := range t {
		m.FrameSent(id, bytes)
	}
}

func (t TeeMetrics) FramesDropped(id domain.CameraID, n int) {
	for _, m := range t {
		m.FramesDropped(id, n)
	}
}

func (t TeeMetrics) SessionEnded(id domain.CameraID, cause domain.SessionState) {
	for _, m := range t {
		m.SessionEnded(id, cause)
	}
}

func (t TeeMetrics) LoginAttempt(outcome string) {
	for _, m := range t {
		m.LoginAttempt(outcome)
	}
}
