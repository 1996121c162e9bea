package recorder

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/camerarecorder/hdmi-mixer-go/internal/apperrors"
	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
)

// UsageFunc reports used-percent for the filesystem holding path.
// Production uses gopsutil; tests inject fixed values.
type UsageFunc func(path string) (usedPercent float64, err error)

// GopsutilUsage is the production UsageFunc.
func GopsutilUsage(path string) (float64, error) {
	u, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return u.UsedPercent, nil
}

// StorageGuard refuses new recordings when the recordings filesystem is
// close to full, and logs a warning above the lower threshold.
type StorageGuard struct {
	WarnPercent  float64
	BlockPercent float64
	Usage        UsageFunc
	Logger       *logging.Logger
}

// Check returns nil when recording may start, or PersistenceError above
// the block threshold. A failing usage query is logged and does not
// block recording.
func (g *StorageGuard) Check(root string) error {
	if g.Usage == nil {
		return nil
	}
	used, err := g.Usage(root)
	if err != nil {
		g.Logger.WithFields(logging.Fields{"root": root, "error": err.Error()}).Warn("storage usage query failed")
		return nil
	}
	if g.BlockPercent > 0 && used >= g.BlockPercent {
		return apperrors.New(apperrors.KindPersistenceError, "recorder.StorageGuard",
			fmt.Sprintf("recordings filesystem %.1f%% full (block threshold %.0f%%)", used, g.BlockPercent))
	}
	if g.WarnPercent > 0 && used >= g.WarnPercent {
		g.Logger.WithFields(logging.Fields{"root": root, "used_percent": used}).Warn("recordings filesystem nearly full")
	}
	return nil
}
