package goSession

import (
	"io"
	"log/slog"

	"github.com/MrEthical07/goSession/internal/audit"
)

// AuditEvent is one session lifecycle record. Tokens are never included.
type AuditEvent = audit.Event

// AuditSink receives audit events from the coordinator's dispatcher.
type AuditSink = audit.Sink

type (
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	SlogSink       = audit.SlogSink
)

// Audit event types.
const (
	AuditLoginSuccess       = "login_success"
	AuditLoginFailure       = "login_failure"
	AuditRegister           = "register"
	AuditLogout             = "logout"
	AuditRefreshSuccess     = "refresh_success"
	AuditRefreshFailure     = "refresh_failure"
	AuditSessionExpired     = "session_expired"
	AuditReconcile          = "reconcile"
	AuditRetryCeiling       = "retry_ceiling"
	AuditNavigationRedirect = "navigation_redirect"
)

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewSlogSink logs every event at level through logger.
func NewSlogSink(logger *slog.Logger, level slog.Level) *SlogSink {
	return audit.NewSlogSink(logger, level)
}
