// Package obslog provides the repository's default dialog.Logger
// implementation: a log/slog logger bridged to OpenTelemetry's logs
// pipeline. dialog.Logger's methods take no context, so records are not
// linked to a turn's trace span.
package obslog

import (
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"

	"github.com/lokutor-ai/voxdialog/pkg/dialog"
)

// SlogLogger wraps *slog.Logger. Its method set already matches
// dialog.Logger (Debug/Info/Warn/Error, variadic key-value args), so no
// adapter methods are needed beyond embedding.
type SlogLogger struct {
	*slog.Logger
}

// NewSlogLogger builds the default logger for scopeName (conventionally
// the importing package's path), emitting records through the OTel logs
// pipeline via otelslog.
func NewSlogLogger(scopeName string) *SlogLogger {
	return &SlogLogger{Logger: otelslog.NewLogger(scopeName)}
}

var _ dialog.Logger = (*SlogLogger)(nil)
