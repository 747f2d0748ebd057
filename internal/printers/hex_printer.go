package printers

import (
	"fmt"
	"io"
	"strings"
)

// BytesPerRow is the width of one sink row.
const BytesPerRow = 32

// HexPrinter writes data as "<offset>: <hex>" rows. Offsets are logical
// offsets into the diagnostic blob, so consecutive sections continue the
// numbering and the rows can be parsed back into the original bytes.
type HexPrinter struct {
	ItemPrinter
}

// NewHexPrinter creates a printer for sink rows.
func NewHexPrinter(writer io.Writer) *HexPrinter {
	return &HexPrinter{
		ItemPrinter: *NewItemPrinter(writer),
	}
}

// Printf writes a free-form line through the printer.
func (p *HexPrinter) Printf(format string, args ...any) {
	p.ItemPrintLine(fmt.Sprintf(format, args...))
}

// WriteSection prints data starting at the logical offset. A partial last
// row is terminated with a newline.
func (p *HexPrinter) WriteSection(offset uint32, data []byte) {
	if p.IsMuted() || len(data) == 0 {
		return
	}
	var sb strings.Builder
	lineBytes := 0
	for i := range data {
		if lineBytes == 0 {
			sb.WriteString(fmt.Sprintf("%08x: ", offset))
		}
		sb.WriteString(fmt.Sprintf("%02x", data[i]))
		offset++
		lineBytes++
		if lineBytes == BytesPerRow {
			sb.WriteString("\n")
			p.ItemPrintLine(sb.String())
			sb.Reset()
			lineBytes = 0
		}
	}
	if lineBytes != 0 {
		sb.WriteString("\n")
		p.ItemPrintLine(sb.String())
	}
}
