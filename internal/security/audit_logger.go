/*
Audit trail for the control surface: every authentication outcome and
every mutating command is appended as one JSON line to a local audit
file, independent of the main log so it survives log-level changes and
rotation policy differences.
*/
package security

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
)

// AuditEventType classifies an audit entry.
type AuditEventType string

const (
	AuditAuthSuccess AuditEventType = "auth_success"
	AuditAuthFailure AuditEventType = "auth_failure"
	AuditCommand     AuditEventType = "command"
	AuditRateLimited AuditEventType = "rate_limited"
)

// AuditEvent is one line of the audit file.
type AuditEvent struct {
	Type    AuditEventType `json:"type"`
	Actor   string         `json:"actor"`
	Op      string         `json:"op,omitempty"`
	Target  string         `json:"target,omitempty"`
	Outcome string         `json:"outcome"`
	Detail  string         `json:"detail,omitempty"`
	At      time.Time      `json:"at"`
}

// AuditLogger appends audit events to a JSONL file.
type AuditLogger struct {
	logger *logging.Logger

	mu   sync.Mutex
	file *os.File
}

// NewAuditLogger opens (creating as needed) the audit file. An empty
// path disables persistence; events still go to the structured log.
func NewAuditLogger(path string, logger *logging.Logger) (*AuditLogger, error) {
	al := &AuditLogger{logger: logger}
	if path == "" {
		return al, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	al.file = f
	return al, nil
}

// Close flushes and closes the audit file.
func (al *AuditLogger) Close() error {
	al.mu.Lock()
	defer al.mu.Unlock()
	if al.file == nil {
		return nil
	}
	err := al.file.Close()
	al.file = nil
	return err
}

func (al *AuditLogger) append(ev AuditEvent) {
	ev.At = time.Now()
	al.logger.WithFields(logging.Fields{
		"audit_type": string(ev.Type),
		"actor":      ev.Actor,
		"op":         ev.Op,
		"target":     ev.Target,
		"outcome":    ev.Outcome,
	}).Info("audit event")

	al.mu.Lock()
	defer al.mu.Unlock()
	if al.file == nil {
		return
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return
	}
	line = append(line, '\n')
	if _, err := al.file.Write(line); err != nil {
		al.logger.WithFields(logging.Fields{"error": err.Error()}).Warn("audit write failed")
	}
}

// RecordAuth records an authentication attempt.
func (al *AuditLogger) RecordAuth(actor string, success bool, detail string) {
	t := AuditAuthSuccess
	outcome := "ok"
	if !success {
		t = AuditAuthFailure
		outcome = "denied"
	}
	al.append(AuditEvent{Type: t, Actor: actor, Outcome: outcome, Detail: detail})
}

// RecordCommand records a control command and its result.
func (al *AuditLogger) RecordCommand(actor, op, target string, err error) {
	outcome := "ok"
	detail := ""
	if err != nil {
		outcome = "error"
		detail = err.Error()
	}
	al.append(AuditEvent{Type: AuditCommand, Actor: actor, Op: op, Target: target, Outcome: outcome, Detail: detail})
}

// RecordRateLimited records a throttled request.
func (al *AuditLogger) RecordRateLimited(actor, op string) {
	al.append(AuditEvent{Type: AuditRateLimited, Actor: actor, Op: op, Outcome: "throttled"})
}
