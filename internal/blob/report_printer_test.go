package blob

import (
	"bytes"
	"strings"
	"testing"
)

func testReport() *Report {
	return &Report{
		Sections: []Section{
			{Kind: SectionFault, Offset: 0, Len: 96},
			{Kind: SectionTrace, Offset: 96, Len: 32},
			{Kind: SectionEnd, Offset: 128, Len: 16},
		},
		Fault: &FaultReport{Fields: []Field{
			{Name: "magic", Value: 0xdead0001},
			{Name: "num_section_bytes", Value: 96},
			{Name: "fault_type", Value: 2},
			{Name: "tick_ms", Value: 4321},
			{Name: "pad", Value: 0},
		}},
		Trace: &TraceReport{
			Capacity: 16,
			Replayed: true,
			Entries: []TraceEntry{
				{Offset: 3, Tag: 2, Args: []uint32{10}, Text: "test 2 10", Skipped: []byte{0x00, 0x9a}},
				{Offset: 5, Tag: 1, Text: "test 1"},
				{Offset: 6, Tag: 2, Args: []uint32{11}, Text: "test 2 11"},
			},
			Unused: []byte{0x04, 0x0b},
		},
		Complete: true,
	}
}

func TestReportPrinter(t *testing.T) {
	var buf bytes.Buffer
	rp := NewReportPrinter(&buf)
	rp.SetCollectStats()
	rp.PrintReport(testReport())

	bar := strings.Repeat("=", 80) + "\n"
	expt := bar + "Fault data\n" + bar +
		"        fault_type: 0x00000002 (2)\n" +
		"           tick_ms: 0x000010e1 (4321)\n" +
		bar + "Trace\n" + bar +
		"Skipped data (hex): 00 9a\n" +
		"test 2 10\n" +
		"test 1\n" +
		"test 2 11\n" +
		"Unused data (hex): 04 0b\n" +
		bar + "End of fault data\n" + bar
	if buf.String() != expt {
		t.Errorf("\nexpected:\n%s\nactual:\n%s", expt, buf.String())
	}

	buf.Reset()
	rp.PrintStats()
	if !strings.Contains(buf.String(), "  1 : 1 (test 1)\n") {
		t.Errorf("expected tag 1 count 1, got %s", buf.String())
	}
	if !strings.Contains(buf.String(), "  2 : 2 (test 2 10)\n") {
		t.Errorf("expected tag 2 count 2, got %s", buf.String())
	}
}

func TestReportPrinterOffsetsAndProblems(t *testing.T) {
	var buf bytes.Buffer
	rp := NewReportPrinter(&buf)
	rp.SetShowOffsets(true)

	rp.PrintTrace(&TraceReport{
		Replayed: true,
		Entries:  []TraceEntry{{Offset: 12, Tag: 1, Text: "test 1"}},
	})
	if !strings.Contains(buf.String(), "[  12] test 1\n") {
		t.Errorf("expected offset prefix, got %q", buf.String())
	}
	if !strings.HasSuffix(buf.String(), "Unused data (hex): \n") {
		t.Errorf("expected empty unused line, got %q", buf.String())
	}

	buf.Reset()
	rp.PrintTrace(&TraceReport{Problem: "invalid trace put_idx: 16"})
	if !strings.Contains(buf.String(), "ERROR: invalid trace put_idx: 16\n") {
		t.Errorf("expected problem line, got %q", buf.String())
	}
	if strings.Contains(buf.String(), "Unused") {
		t.Errorf("no replay expected, got %q", buf.String())
	}
}

func TestReportPrinterShortFault(t *testing.T) {
	var buf bytes.Buffer
	NewReportPrinter(&buf).PrintFault(&FaultReport{
		Fields:  []Field{{Name: "type", Value: 1}},
		Problem: "fault record needs 88 bytes, have 16",
	})
	if !strings.Contains(buf.String(), "ERROR: fault record needs 88 bytes, have 16\n") {
		t.Errorf("expected problem line, got %q", buf.String())
	}
}
