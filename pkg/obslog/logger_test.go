package obslog

import (
	"testing"

	"github.com/lokutor-ai/voxdialog/pkg/dialog"
)

func TestSlogLoggerImplementsDialogLogger(t *testing.T) {
	var l dialog.Logger = NewSlogLogger("test-scope")
	l.Debug("debug message", "k", "v")
	l.Info("info message")
	l.Warn("warn message", "err", "boom")
	l.Error("error message")
}
