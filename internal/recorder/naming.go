package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/camerarecorder/hdmi-mixer-go/internal/apperrors"
)

// expandTemplate substitutes wall-clock tokens and the camera id into a
// recording filename template. Supported tokens: %Y %m %d %H %M %S and
// {camera}.
func expandTemplate(tpl, cameraID string, t time.Time) string {
	r := strings.NewReplacer(
		"%Y", fmt.Sprintf("%04d", t.Year()),
		"%m", fmt.Sprintf("%02d", int(t.Month())),
		"%d", fmt.Sprintf("%02d", t.Day()),
		"%H", fmt.Sprintf("%02d", t.Hour()),
		"%M", fmt.Sprintf("%02d", t.Minute()),
		"%S", fmt.Sprintf("%02d", t.Second()),
		"{camera}", cameraID,
	)
	return r.Replace(tpl)
}

// recordingPath expands the template under root/cameraID and
// disambiguates with a numeric suffix if the path already exists. The
// parent directory is created and must be writable.
func recordingPath(root, cameraID, tpl, container string, t time.Time) (string, error) {
	name := expandTemplate(tpl, cameraID, t)
	if name == "" {
		name = fmt.Sprintf("%s_%s", cameraID, t.Format("2006-01-02_15-04-05"))
	}
	if filepath.Ext(name) == "" {
		name += "." + container
	}

	dir := filepath.Join(root, cameraID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperrors.Wrap(apperrors.KindPersistenceError, "recorder.recordingPath", "create recording directory", err).WithCamera(cameraID)
	}
	if err := checkWritable(dir); err != nil {
		return "", apperrors.Wrap(apperrors.KindPersistenceError, "recorder.recordingPath", "recording directory not writable", err).WithCamera(cameraID)
	}

	path := filepath.Join(dir, name)
	if !exists(path) {
		return path, nil
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
		if !exists(candidate) {
			return candidate, nil
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func checkWritable(dir string) error {
	probe := filepath.Join(dir, ".write_probe")
	f, err := os.Create(probe)
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(probe)
}
