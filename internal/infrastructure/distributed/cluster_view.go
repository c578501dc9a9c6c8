package distributed

import (
	"sort"
	"sync"
	"time"

	"facestream/internal/core/domain"
)

// RemoteCamera is a camera pipeline open on another instance.
type RemoteCamera struct {
	InstanceID string          `json:"instance_id"`
	CameraID   domain.CameraID `json:"camera_id"`
	OpenedAt   time.Time       `json:"opened_at"`
	Sessions   int             `json:"sessions"`
}

// ClusterView tracks the camera pipelines other instances report on the
// event bus. It is eventually consistent and best effort.
type ClusterView struct {
	mu      sync.RWMutex
	cameras map[string]map[domain.CameraID]*RemoteCamera
}

func NewClusterView() *ClusterView {
	return &ClusterView{
		cameras: make(map[string]map[domain.CameraID]*RemoteCamera),
	}
}

// HandleEvent is an EventBus handler.
func (v *ClusterView) HandleEvent(event *domain.Event) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch event.Type {
	case domain.EventCameraOpened:
		v.camera(event.InstanceID, event.CameraID, event.Timestamp)
	case domain.EventCameraClosed:
		if cams, ok := v.cameras[event.InstanceID]; ok {
			delete(cams, event.CameraID)
			if len(cams) == 0 {
				delete(v.cameras, event.InstanceID)
			}
		}
	case domain.EventSessionStarted:
		v.camera(event.InstanceID, event.CameraID, event.Timestamp).Sessions++
	case domain.EventSessionEnded:
		if cams, ok := v.cameras[event.InstanceID]; ok {
			if c, ok := cams[event.CameraID]; ok && c.Sessions > 0 {
				c.Sessions--
			}
		}
	}
	return nil
}

func (v *ClusterView) camera(instanceID string, id domain.CameraID, at time.Time) *RemoteCamera {
	cams, ok := v.cameras[instanceID]
	if !ok {
		cams = make(map[domain.CameraID]*RemoteCamera)
		v.cameras[instanceID] = cams
	}
	c, ok := cams[id]
	if !ok {
		c = &RemoteCamera{InstanceID: instanceID, CameraID: id, OpenedAt: at}
		cams[id] = c
	}
	return c
}

// Snapshot lists remote cameras ordered by instance then camera id.
func (v *ClusterView) Snapshot() []RemoteCamera {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]RemoteCamera, 0)
	for _, cams := range v.cameras {
		for _, c := range cams {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].InstanceID != out[j].InstanceID {
			return out[i].InstanceID < out[j].InstanceID
		}
		return out[i].CameraID < out[j].CameraID
	})
	return out
}
