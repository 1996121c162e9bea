package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
)

// ProcessKiller terminates whatever foreign process holds a capture
// device. Used by the stranded-process cleanup policy: a device the
// probe reports busy while no engine owns it was left behind by a
// previous crash (ours or another tool's).
type ProcessKiller interface {
	KillHolder(ctx context.Context, devicePath string) error
}

// fuserKiller is the production implementation: `fuser -k` on the
// device node, the same tool an operator would reach for.
type fuserKiller struct {
	logger *logging.Logger
}

// NewFuserKiller returns the production ProcessKiller.
func NewFuserKiller(logger *logging.Logger) ProcessKiller {
	return &fuserKiller{logger: logger}
}

func (k *fuserKiller) KillHolder(ctx context.Context, devicePath string) error {
	killCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(killCtx, "fuser", "-k", devicePath).CombinedOutput()
	if err != nil {
		// fuser exits non-zero when nothing holds the device; that is
		// success for our purposes
		if strings.TrimSpace(string(out)) == "" {
			return nil
		}
		return fmt.Errorf("fuser -k %s: %w (%s)", devicePath, err, strings.TrimSpace(string(out)))
	}
	k.logger.WithFields(logging.Fields{"device_path": devicePath, "fuser": strings.TrimSpace(string(out))}).
		Warn("killed stranded process holding capture device")
	return nil
}
