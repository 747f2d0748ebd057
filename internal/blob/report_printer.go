package blob

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"faultcore/internal/fault"
	"faultcore/internal/printers"
)

var banner = strings.Repeat("=", 80) + "\n"

// ReportPrinter prints a decoded diagnostic blob.
type ReportPrinter struct {
	printers.ItemPrinter
	showOffsets  bool
	collectStats bool
	tagCounts    map[uint8]int
	tagText      map[uint8]string
}

// NewReportPrinter creates a printer for decoded reports.
func NewReportPrinter(writer io.Writer) *ReportPrinter {
	return &ReportPrinter{
		ItemPrinter: *printers.NewItemPrinter(writer),
		tagCounts:   make(map[uint8]int),
		tagText:     make(map[uint8]string),
	}
}

// SetShowOffsets prefixes each trace line with the payload offset of its tag.
func (p *ReportPrinter) SetShowOffsets(on bool) { p.showOffsets = on }

// SetCollectStats turns on per-tag counting.
func (p *ReportPrinter) SetCollectStats() { p.collectStats = true }

func (p *ReportPrinter) heading(title string) {
	p.ItemPrintLine(banner + title + "\n" + banner)
}

// PrintReport prints each section in blob order.
func (p *ReportPrinter) PrintReport(rep *Report) {
	for _, s := range rep.Sections {
		switch s.Kind {
		case SectionFault:
			if rep.Fault != nil {
				p.PrintFault(rep.Fault)
			}
		case SectionTrace:
			if rep.Trace != nil {
				p.PrintTrace(rep.Trace)
			}
		case SectionEnd:
			p.heading("End of fault data")
		}
	}
}

// PrintFault prints the record fields, right aligned on the longest name.
func (p *ReportPrinter) PrintFault(fr *FaultReport) {
	p.heading("Fault data")
	width := 0
	for _, name := range fault.FieldNames {
		width = max(width, len(name))
	}
	var sb strings.Builder
	for _, f := range fr.Fields {
		if f.Name == "pad" || f.Name == "magic" || f.Name == "num_section_bytes" {
			continue
		}
		sb.WriteString(fmt.Sprintf("%*s: 0x%08x (%d)\n", width, f.Name, f.Value, f.Value))
	}
	if fr.Problem != "" {
		sb.WriteString("ERROR: " + fr.Problem + "\n")
	}
	p.ItemPrintLine(sb.String())
}

// PrintTrace prints the replayed entries oldest first.
func (p *ReportPrinter) PrintTrace(tr *TraceReport) {
	p.heading("Trace")
	if tr.Problem != "" {
		p.ItemPrintLine("ERROR: " + tr.Problem + "\n")
		return
	}
	var sb strings.Builder
	for _, e := range tr.Entries {
		if len(e.Skipped) > 0 {
			sb.WriteString("Skipped data (hex): " + hexBytes(e.Skipped) + "\n")
		}
		if p.showOffsets {
			sb.WriteString(fmt.Sprintf("[%4d] ", e.Offset))
		}
		sb.WriteString(e.Text + "\n")
		if p.collectStats {
			p.tagCounts[e.Tag]++
			if _, ok := p.tagText[e.Tag]; !ok {
				p.tagText[e.Tag] = e.Text
			}
		}
	}
	if tr.Replayed {
		sb.WriteString("Unused data (hex): " + hexBytes(tr.Unused) + "\n")
	}
	p.ItemPrintLine(sb.String())
}

// PrintStats outputs how often each tag was seen, with a sample line.
func (p *ReportPrinter) PrintStats() {
	tags := make([]int, 0, len(p.tagCounts))
	for t := range p.tagCounts {
		tags = append(tags, int(t))
	}
	sort.Ints(tags)

	var sb strings.Builder
	sb.WriteString("Trace tags processed:-\n")
	for _, t := range tags {
		sb.WriteString(fmt.Sprintf("%3d : %d (%s)\n", t, p.tagCounts[uint8(t)], p.tagText[uint8(t)]))
	}
	sb.WriteString("\n")
	p.ItemPrintLine(sb.String())
}

func hexBytes(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%02x", c)
	}
	return strings.Join(parts, " ")
}
