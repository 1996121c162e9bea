/*
Error taxonomy for the media orchestration engine.

Mirrors the structured-error pattern of internal/mediamtx/errors.go: a
single concrete type per error family, each implementing Error(),
Unwrap() and Is() so callers can test kind membership with errors.Is
against the exported sentinel Kind values.
*/
package apperrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind is the stable error taxonomy surfaced to the Control Facade and,
// ultimately, to HTTP clients via the out-of-scope control API.
type Kind string

const (
	KindNotFound              Kind = "NotFound"
	KindInvalidArgument       Kind = "InvalidArgument"
	KindSceneInUse            Kind = "SceneInUse"
	KindDeviceBusy            Kind = "DeviceBusy"
	KindDeviceNoSignal        Kind = "DeviceNoSignal"
	KindDeviceCapsUnsupported Kind = "DeviceCapsUnsupported"
	KindTimeout               Kind = "Timeout"
	KindPipelineError         Kind = "PipelineError"
	KindPublishCollision      Kind = "PublishCollision"
	KindPersistenceError      Kind = "PersistenceError"
	KindInternal              Kind = "Internal"
)

// Error is the engine's structured error type. Op and the identifying
// fields (CameraID, SceneID, Stage) give the Supervisor structured log
// context without forcing every caller to build its own logging.Fields
// map.
type Error struct {
	Kind     Kind   `json:"kind"`
	Op       string `json:"op,omitempty"`
	CameraID string `json:"camera_id,omitempty"`
	SceneID  string `json:"scene_id,omitempty"`
	Stage    string `json:"stage,omitempty"`
	Message  string `json:"message"`
	Time     string `json:"time"`
	Err      error  `json:"-"`
}

func (e *Error) Error() string {
	ctx := ""
	if e.CameraID != "" {
		ctx += fmt.Sprintf(" camera=%s", e.CameraID)
	}
	if e.SceneID != "" {
		ctx += fmt.Sprintf(" scene=%s", e.SceneID)
	}
	if e.Stage != "" {
		ctx += fmt.Sprintf(" stage=%s", e.Stage)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s[%s]%s: %s", e.Kind, e.Op, ctx, e.Message)
	}
	return fmt.Sprintf("%s%s: %s", e.Kind, ctx, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality, which is the only thing callers are expected
// to test for (see the Kind sentinels below).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// MarshalJSON stamps the error with a fresh timestamp.
func (e *Error) MarshalJSON() ([]byte, error) {
	type alias Error
	return json.Marshal(&struct {
		*alias
		Time string `json:"time"`
	}{alias: (*alias)(e), Time: time.Now().Format(time.RFC3339)})
}

// New builds a bare kind+message error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Time: time.Now().Format(time.RFC3339)}
}

// Wrap builds a kind+message error that preserves an underlying cause.
func Wrap(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err, Time: time.Now().Format(time.RFC3339)}
}

// WithCamera attaches a camera id for structured logging/equality checks.
func (e *Error) WithCamera(id string) *Error {
	e.CameraID = id
	return e
}

// WithScene attaches a scene id for structured logging/equality checks.
func (e *Error) WithScene(id string) *Error {
	e.SceneID = id
	return e
}

// WithStage attaches a pipeline stage name for structured logging.
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// Sentinels used purely for errors.Is comparisons (Op/Message unset).
var (
	NotFound              = &Error{Kind: KindNotFound}
	InvalidArgument       = &Error{Kind: KindInvalidArgument}
	SceneInUse            = &Error{Kind: KindSceneInUse}
	DeviceBusy            = &Error{Kind: KindDeviceBusy}
	DeviceNoSignal        = &Error{Kind: KindDeviceNoSignal}
	DeviceCapsUnsupported = &Error{Kind: KindDeviceCapsUnsupported}
	Timeout               = &Error{Kind: KindTimeout}
	PipelineError         = &Error{Kind: KindPipelineError}
	PublishCollision      = &Error{Kind: KindPublishCollision}
	PersistenceError      = &Error{Kind: KindPersistenceError}
	Internal              = &Error{Kind: KindInternal}
)

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		if appErr, ok := err.(*Error); ok && appErr.Kind == kind {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
