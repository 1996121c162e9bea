/*
Device Probe: detects V4L2 capture devices, queries capabilities, and
tests exclusive openability without holding the device open.

Existence checks and command execution are separate, narrow interfaces
so the probe can be exercised against fakes in tests and stubbed on
development hosts. The exclusivity test uses golang.org/x/sys/unix
flock, never held across the call: open, LOCK_EX|LOCK_NB, immediate
LOCK_UN.
*/
package devprobe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
)

// Kind classifies the capture device's bus/driver family. The Pipeline
// Builder and Supervisor use it to decide whether a one-shot bridge
// initialization is required on signal recovery.
type Kind string

const (
	KindHdmiBridge Kind = "HdmiBridge"
	KindHdmiNative Kind = "HdmiNative"
	KindUsb        Kind = "Usb"
	KindUnknown    Kind = "Unknown"
)

// Caps is the observable source format as reported by the capture driver.
type Caps struct {
	Width     int
	Height    int
	FrameRate int
	PixFmt    string
}

// Result is the probe's total, side-effect-free-apart-from-documented-init
// report for one device path.
type Result struct {
	Exists             bool
	OpenableExclusive  bool
	Kind               Kind
	Caps               Caps
	HasSignal          bool
	Error              string
}

// MinSignal is the minimum resolution the driver must report for
// HasSignal to be true.
type MinSignal struct {
	Width  int
	Height int
}

// CommandRunner abstracts v4l2-ctl invocation so tests can substitute a
// fake without shelling out, and so a development-host stub can stand in
// for the native ioctl path.
type CommandRunner interface {
	Run(ctx context.Context, devicePath string, args ...string) (string, error)
}

// Exists abstracts filesystem existence checks (testable seam, same
// shape as camera.DeviceChecker).
type Exists interface {
	Exists(path string) bool
}

type osExists struct{}

func (osExists) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// execRunner shells out to v4l2-ctl, matching
// camera.RealV4L2CommandExecutor's error classification.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, devicePath string, args ...string) (string, error) {
	full := append([]string{"--device", devicePath}, args...)
	cmd := exec.CommandContext(ctx, "v4l2-ctl", full...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr := string(exitErr.Stderr)
			switch {
			case strings.Contains(stderr, "Cannot open device"):
				return "", fmt.Errorf("v4l2-ctl: cannot open device %s", devicePath)
			case strings.Contains(stderr, "No such file or directory"):
				return "", fmt.Errorf("v4l2-ctl: device %s does not exist", devicePath)
			case strings.Contains(stderr, "Device or resource busy"):
				return "", fmt.Errorf("v4l2-ctl: device %s busy", devicePath)
			case stderr != "":
				return "", fmt.Errorf("v4l2-ctl: %s", strings.TrimSpace(stderr))
			}
			return "", fmt.Errorf("v4l2-ctl exited %d", exitErr.ExitCode())
		}
		return "", fmt.Errorf("v4l2-ctl: %w", err)
	}
	return string(out), nil
}

// Prober answers device presence, exclusivity, caps, and signal state.
// It never retries and never holds the exclusive lock across the call.
type Prober struct {
	exists  Exists
	runner  CommandRunner
	logger  *logging.Logger
	minSig  MinSignal
	timeout time.Duration
}

// New constructs a production Prober (real flock exclusivity test, real
// v4l2-ctl invocation).
func New(minSig MinSignal, timeout time.Duration, logger *logging.Logger) *Prober {
	return &Prober{exists: osExists{}, runner: execRunner{}, logger: logger, minSig: minSig, timeout: timeout}
}

// NewWithDeps builds a Prober over injected seams, for development hosts
// or unit tests.
func NewWithDeps(exists Exists, runner CommandRunner, minSig MinSignal, timeout time.Duration, logger *logging.Logger) *Prober {
	return &Prober{exists: exists, runner: runner, logger: logger, minSig: minSig, timeout: timeout}
}

// Probe reports the device's state. It is idempotent and
// side-effect-free.
func (p *Prober) Probe(ctx context.Context, devicePath string) Result {
	if !p.exists.Exists(devicePath) {
		return Result{Exists: false}
	}

	res := Result{Exists: true, Kind: classifyKind(devicePath)}

	openable, err := p.testExclusiveOpen(devicePath)
	res.OpenableExclusive = openable
	if err != nil {
		p.logger.WithFields(logging.Fields{"device_path": devicePath, "error": err.Error()}).Debug("device exclusivity probe failed")
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.runner.Run(probeCtx, devicePath, "--get-fmt-video")
	if err != nil {
		res.Error = err.Error()
		p.logger.WithFields(logging.Fields{"device_path": devicePath, "error": err.Error()}).Debug("device caps query failed")
		return res
	}

	caps, ok := parseCaps(out)
	if !ok {
		res.Kind = KindUnknown
		return res
	}
	res.Caps = caps
	res.HasSignal = caps.Width >= p.minSig.Width && caps.Height >= p.minSig.Height && caps.Width > 0 && caps.Height > 0
	return res
}

// InitBridge performs the one-shot bridge subdevice initialization
// documented per platform; it is never invoked implicitly by Probe, only
// on explicit request.
func (p *Prober) InitBridge(ctx context.Context, devicePath string) error {
	if _, err := p.runner.Run(ctx, devicePath, "--set-subdev-fmt"); err != nil {
		return fmt.Errorf("bridge init %s: %w", devicePath, err)
	}
	return nil
}

// testExclusiveOpen opens the device, attempts a non-blocking exclusive
// flock, and releases it immediately; the lock is never held across the
// probe call.
func (p *Prober) testExclusiveOpen(devicePath string) (bool, error) {
	fd, err := unix.Open(devicePath, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return false, err
	}
	defer unix.Close(fd)

	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return false, nil
	}
	_ = unix.Flock(fd, unix.LOCK_UN)
	return true, nil
}

var videoNumRe = regexp.MustCompile(`video(\d+)$`)

// classifyKind makes a best-effort guess from the device path naming
// convention alone: /dev/video0 and /dev/video1 are classed HdmiBridge,
// any other /dev/videoN is HdmiNative, and every other path is Unknown.
// It never returns Usb.
func classifyKind(devicePath string) Kind {
	if !strings.HasPrefix(devicePath, "/dev/video") {
		return KindUnknown
	}
	if m := videoNumRe.FindStringSubmatch(devicePath); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n < 2 {
			return KindHdmiBridge
		}
		return KindHdmiNative
	}
	return KindUnknown
}

var sizeRe = regexp.MustCompile(`Width/Height\s*:\s*(\d+)/(\d+)`)
var fmtRe = regexp.MustCompile(`Pixel Format\s*:\s*'(\w+)'`)

// parseCaps extracts width/height/pixel format from `v4l2-ctl
// --get-fmt-video` output, following the line-prefix scanning style of
// camera.RealDeviceInfoParser.ParseDeviceInfo.
func parseCaps(output string) (Caps, bool) {
	caps := Caps{FrameRate: 30}
	matched := false
	if m := sizeRe.FindStringSubmatch(output); m != nil {
		caps.Width, _ = strconv.Atoi(m[1])
		caps.Height, _ = strconv.Atoi(m[2])
		matched = true
	}
	if m := fmtRe.FindStringSubmatch(output); m != nil {
		caps.PixFmt = m[1]
	}
	return caps, matched
}
