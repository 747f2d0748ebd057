package blob

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"faultcore/internal/common"
	"faultcore/internal/diag"
)

var rowPattern = regexp.MustCompile(`([0-9a-fA-F]+):\s*([0-9a-fA-F]+)`)

// ParseText rebuilds the blob from "<offset>: <hex>" rows as printed on the
// diagnostic sink or by the "fault data" command. Lines without a row are
// ignored; rows must be contiguous from offset 0.
func ParseText(r io.Reader) ([]byte, error) {
	var data []byte
	sc := bufio.NewScanner(r)
	lineNum := 0
	for sc.Scan() {
		lineNum++
		m := rowPattern.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m == nil {
			continue
		}
		offHex, dataHex := m[1], m[2]
		if len(offHex)%2 != 0 {
			return nil, common.Errorf(diag.ErrArg, "line %d: odd number of hex chars in offset field (%d)",
				lineNum, len(offHex))
		}
		if len(dataHex)%2 != 0 {
			return nil, common.Errorf(diag.ErrArg, "line %d: odd number of hex chars in data field (%d)",
				lineNum, len(dataHex))
		}
		off, err := strconv.ParseUint(offHex, 16, 32)
		if err != nil {
			return nil, common.Errorf(diag.ErrArg, "line %d: bad offset %q", lineNum, offHex)
		}
		if int(off) != len(data) {
			return nil, common.Errorf(diag.ErrArg, "line %d: expected offset of 0x%08x but got 0x%08x",
				lineNum, len(data), off)
		}
		b, err := hex.DecodeString(dataHex)
		if err != nil {
			return nil, common.Errorf(diag.ErrArg, "line %d: %v", lineNum, err)
		}
		data = append(data, b...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return data, nil
}
