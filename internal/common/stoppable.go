package common

import (
	"context"
	"time"
)

// Stoppable is the graceful-shutdown contract shared by everything the
// entry point tears down: the engines, the config manager, and the
// facade's listeners. Stop must honor ctx for timeout enforcement and
// leave no resource (device fd, file handle, goroutine) behind when it
// returns.
type Stoppable interface {
	Stop(ctx context.Context) error
}

// StopWithTimeout stops a service under a fresh deadline; the shutdown
// path uses it so one stuck component cannot stall the whole exit.
func StopWithTimeout(service Stoppable, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return service.Stop(ctx)
}

// StopAll stops services in order, collecting the first error but
// always attempting every one.
func StopAll(timeout time.Duration, services ...Stoppable) error {
	var first error
	for _, s := range services {
		if err := StopWithTimeout(s, timeout); err != nil && first == nil {
			first = err
		}
	}
	return first
}
