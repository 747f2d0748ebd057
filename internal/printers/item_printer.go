// Package printers formats diagnostic output: the fixed-width hexadecimal
// rows the fault handler emits on its sink, and the decoded reports of the
// host-side tools.
package printers

import (
	"fmt"
	"io"

	"go.uber.org/zap"
)

// ItemPrinter is the common base of the printers: a writer, an optional
// logger that sees every line, and a mute switch.
type ItemPrinter struct {
	writer io.Writer
	logger *zap.Logger
	muted  bool
}

// NewItemPrinter constructs an ItemPrinter using the given io.Writer.
func NewItemPrinter(writer io.Writer) *ItemPrinter {
	return &ItemPrinter{
		writer: writer,
	}
}

// SetLogger sets the optional logger that receives each printed line.
func (p *ItemPrinter) SetLogger(logger *zap.Logger) {
	p.logger = logger
}

// ItemPrintLine writes msg to the writer. Write errors are dropped; the
// printers run on paths that have nowhere to report them.
func (p *ItemPrinter) ItemPrintLine(msg string) {
	if p.muted {
		return
	}
	if p.writer != nil {
		fmt.Fprint(p.writer, msg)
	}
	if p.logger != nil {
		p.logger.Debug(msg)
	}
}

// SetMute sets the printer to mute (avoids output).
func (p *ItemPrinter) SetMute(mute bool) { p.muted = mute }

// IsMuted returns true if the printer is muted.
func (p *ItemPrinter) IsMuted() bool { return p.muted }
