package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventCollectionCreate AuditEventType = "collection.create"
	AuditEventCollectionDelete AuditEventType = "collection.delete"
	AuditEventIntegrityCheck   AuditEventType = "integrity.check"
	AuditEventStoreConnect     AuditEventType = "store.connect"
	AuditEventWorkflowStart    AuditEventType = "workflow.start"
	AuditEventWorkflowEnd      AuditEventType = "workflow.end"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	EventType   AuditEventType `json:"event_type"`
	SessionID   string         `json:"session_id"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
	Collection  string         `json:"collection,omitempty"`
	Success     bool           `json:"success"`
	Duration    time.Duration  `json:"duration_ms,omitempty"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
}

// AuditLogger writes audit events as JSON lines.
type AuditLogger struct {
	mu        sync.Mutex
	writer    io.Writer
	sessionID string
	enabled   bool
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled    bool
	OutputPath string // File path or "stdout"/"stderr"
	SessionID  string
}

// DefaultAuditConfig returns default audit configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:    true,
		OutputPath: "stdout",
	}
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(config *AuditConfig) (*AuditLogger, error) {
	if config == nil {
		config = DefaultAuditConfig()
	}

	var writer io.Writer
	switch config.OutputPath {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		f, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		writer = f
	}

	sessionID := config.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("session-%d", time.Now().UnixNano())
	}

	return &AuditLogger{
		writer:    writer,
		sessionID: sessionID,
		enabled:   config.Enabled,
	}, nil
}

// NewAuditWriter creates an enabled audit logger writing to w.
func NewAuditWriter(w io.Writer, sessionID string) *AuditLogger {
	return &AuditLogger{writer: w, sessionID: sessionID, enabled: true}
}

// Log writes an audit event. A nil or disabled logger drops it.
func (l *AuditLogger) Log(event *AuditEvent) error {
	if l == nil || !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SessionID == "" {
		event.SessionID = l.sessionID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	_, err = fmt.Fprintf(l.writer, "%s\n", data)
	return err
}

func errorDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// LogCollectionCreate logs a collection creation attempt.
func (l *AuditLogger) LogCollectionCreate(name string, dims int, kind string, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventCollectionCreate,
		Collection:  name,
		Success:     err == nil,
		Message:     fmt.Sprintf("Create collection %s", name),
		ErrorDetail: errorDetail(err),
		Details: map[string]any{
			"dimensions": dims,
			"index_kind": kind,
		},
	})
}

// LogCollectionDelete logs a collection deletion attempt and which stores
// still hold the collection afterwards.
func (l *AuditLogger) LogCollectionDelete(name string, metadataDeleted, indexDeleted bool, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventCollectionDelete,
		Collection:  name,
		Success:     err == nil,
		Message:     fmt.Sprintf("Delete collection %s", name),
		ErrorDetail: errorDetail(err),
		Details: map[string]any{
			"metadata_deleted": metadataDeleted,
			"index_deleted":    indexDeleted,
		},
	})
}

// LogIntegrityCheck logs the outcome of a consistency check.
func (l *AuditLogger) LogIntegrityCheck(checked int, violations []string, duration time.Duration) {
	l.Log(&AuditEvent{
		EventType: AuditEventIntegrityCheck,
		Success:   len(violations) == 0,
		Duration:  duration,
		Message:   fmt.Sprintf("Integrity check: %d collections, %d violations", checked, len(violations)),
		Details: map[string]any{
			"collections": checked,
			"violations":  violations,
		},
	})
}

// LogStoreConnect logs a collaborator connection attempt.
func (l *AuditLogger) LogStoreConnect(store, backend string, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventStoreConnect,
		Success:     err == nil,
		Message:     fmt.Sprintf("Connect %s store (%s)", store, backend),
		ErrorDetail: errorDetail(err),
	})
}

// LogWorkflowStart logs a workflow start event.
func (l *AuditLogger) LogWorkflowStart(workflowID, workflowType string) {
	l.Log(&AuditEvent{
		EventType:  AuditEventWorkflowStart,
		WorkflowID: workflowID,
		Success:    true,
		Message:    fmt.Sprintf("Workflow started: %s", workflowType),
	})
}

// LogWorkflowEnd logs a workflow completion event.
func (l *AuditLogger) LogWorkflowEnd(workflowID string, success bool, duration time.Duration) {
	l.Log(&AuditEvent{
		EventType:  AuditEventWorkflowEnd,
		WorkflowID: workflowID,
		Success:    success,
		Duration:   duration,
		Message:    "Workflow completed",
	})
}

// Close closes the audit logger (if using a file).
func (l *AuditLogger) Close() error {
	if l == nil {
		return nil
	}
	if closer, ok := l.writer.(io.Closer); ok {
		if closer != os.Stdout && closer != os.Stderr {
			return closer.Close()
		}
	}
	return nil
}
