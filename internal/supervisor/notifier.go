package supervisor

import (
	"sync"
	"time"

	"github.com/camerarecorder/hdmi-mixer-go/internal/common"
)

// EventKind tags a supervisor notification.
type EventKind string

const (
	EventStateChange EventKind = "state_change"
	EventRecording   EventKind = "recording"
	EventSceneApply  EventKind = "scene_apply"
	EventHealth      EventKind = "health"
)

// Event is one state-transition notification pushed to subscribers (the
// Control Facade's WebSocket surface).
type Event struct {
	Kind     EventKind             `json:"kind"`
	CameraID string                `json:"camera_id,omitempty"`
	SceneID  string                `json:"scene_id,omitempty"`
	Engine   string                `json:"engine,omitempty"`
	State    common.LifecycleState `json:"state,omitempty"`
	Detail   string                `json:"detail,omitempty"`
	At       time.Time             `json:"at"`
}

// notifier is a small fan-out pub/sub. Slow subscribers drop events
// rather than blocking the Supervisor loop.
type notifier struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func newNotifier() *notifier {
	return &notifier{subs: map[int]chan Event{}}
}

func (n *notifier) subscribe() (<-chan Event, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.next
	n.next++
	ch := make(chan Event, 32)
	n.subs[id] = ch
	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if c, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(c)
		}
	}
}

func (n *notifier) publish(ev Event) {
	ev.At = time.Now()
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
