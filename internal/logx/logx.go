// Package logx builds per-component loggers sharing a single output.
//
// Every station component receives a logger scoped to its name via
// With("component", ...) rather than reaching for a package-level
// global, so a component can be tested with its own captured sink.
package logx

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Base is the root logger; For derives component-scoped children from it.
type Base struct {
	logger *log.Logger
}

// NewBase creates a root logger writing to w (os.Stderr if nil).
func NewBase(w io.Writer) *Base {
	if w == nil {
		w = os.Stderr
	}
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000",
	})
	return &Base{logger: l}
}

// SetLevel adjusts the root logger's minimum level; children inherit it.
func (b *Base) SetLevel(lvl log.Level) {
	b.logger.SetLevel(lvl)
}

// For returns a logger scoped to component.
func (b *Base) For(component string) *log.Logger {
	return b.logger.With("component", component)
}
