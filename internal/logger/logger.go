package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/circlehub/newsletter/internal/model"
)

// Logger wraps zerolog.Logger with the newsletter's field conventions
type Logger struct {
	zerolog.Logger
}

// New creates a Logger writing to stdout. format "text" or "console" selects
// human-readable output; anything else is JSON. Unknown levels fall back to info.
func New(level string, format string) *Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter is New with an explicit destination
func NewWithWriter(w io.Writer, level string, format string) *Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	if format == "text" || format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return &Logger{
		Logger: zerolog.New(w).Level(lvl).With().Timestamp().Caller().Logger(),
	}
}

// Nop returns a logger that discards everything. Used by tests and the CLI.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// WithRequestID returns a new logger with the request ID attached
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{
		Logger: l.With().Str("request_id", requestID).Logger(),
	}
}

// WithCampaignID returns a new logger with the campaign ID attached
func (l *Logger) WithCampaignID(campaignID string) *Logger {
	return &Logger{
		Logger: l.With().Str("campaign_id", campaignID).Logger(),
	}
}

// WithComponent returns a new logger with the component name attached
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.With().Str("component", component).Logger(),
	}
}

// HTTPRequest describes one served request
type HTTPRequest struct {
	Method   string
	Path     string
	Status   int
	Bytes    int
	Duration time.Duration
	ClientIP string
}

// Request logs a served request. Server errors are logged at error level,
// client errors at warn.
func (l *Logger) Request(req HTTPRequest) {
	event := l.Info()
	switch {
	case req.Status >= 500:
		event = l.Error()
	case req.Status >= 400:
		event = l.Warn()
	}

	event.
		Str("method", req.Method).
		Str("path", req.Path).
		Int("status", req.Status).
		Int("bytes", req.Bytes).
		Dur("duration", req.Duration).
		Str("client_ip", req.ClientIP).
		Msg("HTTP request")
}

// Audit mirrors an audit trail entry into the log stream
func (l *Logger) Audit(entry *model.AuditLog) {
	event := l.Info().
		Bool("audit", true).
		Str("audit_id", entry.ID).
		Str("action", entry.Action)

	if entry.Actor != nil {
		event.Str("actor", *entry.Actor)
	}
	if entry.ResourceType != nil {
		event.Str("resource_type", *entry.ResourceType)
	}
	if entry.ResourceID != nil {
		event.Str("resource_id", *entry.ResourceID)
	}
	if len(entry.Metadata) > 0 {
		event.Interface("metadata", entry.Metadata)
	}

	event.Msg("audit log")
}
