package supervisor

import (
	"fmt"
	"sync"

	"github.com/camerarecorder/hdmi-mixer-go/internal/apperrors"
)

// ownership tracks which engine holds each capture device and which
// pipeline publishes each media-server path. One owner per device at
// any instant, one publisher per path.
type ownership struct {
	mu       sync.Mutex
	devices  map[string]string // device path -> owner tag
	publish  map[string]string // media-server path -> owner tag
}

func newOwnership() *ownership {
	return &ownership{devices: map[string]string{}, publish: map[string]string{}}
}

// acquireDevice claims a device for owner. Reclaiming a device already
// held by the same owner is a no-op.
func (o *ownership) acquireDevice(devicePath, owner string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if holder, ok := o.devices[devicePath]; ok && holder != owner {
		return apperrors.New(apperrors.KindDeviceBusy, "supervisor.acquireDevice",
			fmt.Sprintf("device %s held by %s", devicePath, holder))
	}
	o.devices[devicePath] = owner
	return nil
}

func (o *ownership) releaseDevice(devicePath, owner string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if holder, ok := o.devices[devicePath]; ok && holder == owner {
		delete(o.devices, devicePath)
	}
}

func (o *ownership) deviceOwner(devicePath string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	holder, ok := o.devices[devicePath]
	return holder, ok
}

// acquirePublish claims a media-server path for owner; a second
// publisher on the same path is a PublishCollision.
func (o *ownership) acquirePublish(path, owner string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if holder, ok := o.publish[path]; ok && holder != owner {
		return apperrors.New(apperrors.KindPublishCollision, "supervisor.acquirePublish",
			fmt.Sprintf("path %s already published by %s", path, holder))
	}
	o.publish[path] = owner
	return nil
}

func (o *ownership) releasePublish(path, owner string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if holder, ok := o.publish[path]; ok && holder == owner {
		delete(o.publish, path)
	}
}

func (o *ownership) publishOwner(path string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	holder, ok := o.publish[path]
	return holder, ok
}

// deviceTable returns a copy of the device ownership map for /status.
func (o *ownership) deviceTable() map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]string, len(o.devices))
	for k, v := range o.devices {
		out[k] = v
	}
	return out
}
