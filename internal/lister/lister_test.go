package lister

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"faultcore/internal/diag"
	"faultcore/internal/fault"
	"faultcore/internal/hw/sim"
	"faultcore/internal/printers"
	"faultcore/internal/trace"
)

// testBlob builds a blob with a report of kind 2 and the trace self test
// followed by one entry of tag 9.
func testBlob(t *testing.T) []byte {
	t.Helper()
	r, err := trace.New(trace.Config{Capacity: 48}, &sim.IRQ{})
	require.NoError(t, err)
	r.Enable(true)
	r.Record16(9, 0x1234)
	r.SelfTest()

	rec := fault.Record{Magic: diag.MagicFault, SectionBytes: 88, Kind: fault.KindException, Param: 5, TickMs: 77}
	out := make([]byte, fault.RecordBytes(8))
	rec.Encode(out)
	out = append(out, r.Buffer()...)
	end := make([]byte, 8)
	binary.LittleEndian.PutUint32(end, diag.MagicEnd)
	binary.LittleEndian.PutUint32(end[4:], 8)
	return append(out, end...)
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func capture(data []byte) []byte {
	var buf bytes.Buffer
	hp := printers.NewHexPrinter(&buf)
	hp.Printf("\nFault type=%d param=%d\n", 2, 5)
	hp.WriteSection(0, data)
	return buf.Bytes()
}

func TestRunConsoleCapture(t *testing.T) {
	path := writeFile(t, "console.txt", capture(testBlob(t)))
	var out bytes.Buffer
	err := Run(Config{Input: path, OutputWriter: &out, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	s := out.String()
	assert.Contains(t, s, "Read 160 bytes of fault data\n")
	assert.Contains(t, s, "        fault_type: 0x00000002 (2)\n")
	assert.Contains(t, s, "           tick_ms: 0x0000004d (77)\n")
	assert.Contains(t, s, "test 4 10 1000 100000\n")
	assert.Contains(t, s, "End of fault data\n")
	assert.NotContains(t, s, "WARNING")
	// Tag 9 is not in the built-in catalog.
	assert.NotContains(t, s, "sensor")
}

func TestRunRawWithCatalog(t *testing.T) {
	img := writeFile(t, "flash.bin", testBlob(t))
	cat := writeFile(t, "tags.yaml", []byte("tags:\n  - id: 9\n    format: \"sensor %d\"\n    args: [2]\n"))

	var out bytes.Buffer
	err := Run(Config{
		Input:        img,
		Raw:          true,
		CatalogPath:  cat,
		ShowOffsets:  true,
		Stats:        true,
		OutputWriter: &out,
	})
	require.NoError(t, err)

	s := out.String()
	assert.Contains(t, s, "(5 tags)\n")
	assert.Contains(t, s, "[   0] sensor 4660\n")
	assert.Contains(t, s, "  9 : 1 (sensor 4660)\n")
	assert.Contains(t, s, "  4 : 1 (test 4 10 1000 100000)\n")
}

func TestRunTruncated(t *testing.T) {
	data := testBlob(t)
	img := writeFile(t, "short.bin", data[:100])

	var out bytes.Buffer
	err := Run(Config{Input: img, Raw: true, OutputWriter: &out})
	assert.True(t, errors.Is(err, diag.ErrArg), "got %v", err)
	assert.Contains(t, out.String(), "fault_param: 0x00000005 (5)\n")
	assert.NotContains(t, out.String(), "End of fault data")
}

func TestRunMissingEndMarker(t *testing.T) {
	data := testBlob(t)
	img := writeFile(t, "noend.bin", data[:len(data)-8])

	var out bytes.Buffer
	require.NoError(t, Run(Config{Input: img, Raw: true, OutputWriter: &out}))
	assert.True(t, strings.HasSuffix(out.String(), "WARNING: no end marker, fault data may be truncated\n"))
}

func TestRunErrors(t *testing.T) {
	var out bytes.Buffer
	err := Run(Config{Input: filepath.Join(t.TempDir(), "absent"), OutputWriter: &out})
	assert.True(t, errors.Is(err, diag.ErrArg), "got %v", err)

	bad := writeFile(t, "bad.txt", []byte("00000010: 00\n"))
	err = Run(Config{Input: bad, OutputWriter: &out})
	assert.True(t, errors.Is(err, diag.ErrArg), "got %v", err)

	img := writeFile(t, "flash.bin", testBlob(t))
	cat := writeFile(t, "tags.yaml", []byte("tags:\n  - id: 1\n    format: \"dup\"\n"))
	err = Run(Config{Input: img, Raw: true, CatalogPath: cat, OutputWriter: &out})
	assert.True(t, errors.Is(err, diag.ErrArg), "got %v", err)
}
