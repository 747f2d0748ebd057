package fault

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"faultcore/internal/common"
	"faultcore/internal/diag"
	"faultcore/internal/hw"
	"faultcore/internal/printers"
)

// ResetBits names the reset cause flags in report order.
var ResetBits = []struct {
	Name string
	Mask uint32
}{
	{"LPWR", hw.ResetLowPower},
	{"WWDG", hw.ResetWindowWdg},
	{"IWDG", hw.ResetIndepWdg},
	{"SFT", hw.ResetSoftware},
	{"POR", hw.ResetPowerOn},
	{"PIN", hw.ResetPin},
	{"BOR", hw.ResetBrownOut},
}

// Status is the "fault status" report.
type Status struct {
	StackTop uint32
	GuardEnd uint32
	// UsageLow is the lowest stack address found overwritten.
	UsageLow     uint32
	PowerOnFlags uint32
	CurrentFlags uint32
}

func (s Status) StackBytes() uint32 { return s.StackTop - s.GuardEnd }
func (s Status) UsedBytes() uint32  { return s.StackTop - s.UsageLow }

// WriteTo prints the report in the console format.
func (s Status) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Stack: 0x%08x -> 0x%08x (%d bytes)\n", s.StackTop, s.GuardEnd, s.StackBytes())
	fmt.Fprintf(&sb, "Stack usage: 0x%08x -> 0x%08x (%d bytes)\n", s.StackTop, s.UsageLow, s.UsedBytes())
	fmt.Fprintf(&sb, "CSR: Poweron=0x%08x Current=0x%08x\n", s.PowerOnFlags, s.CurrentFlags)
	for _, b := range ResetBits {
		if s.PowerOnFlags&b.Mask != 0 {
			fmt.Fprintf(&sb, "     %s reset bit set in CSR at power on.\n", b.Name)
		}
	}
	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

// Status scans the stack for the painted pattern and reads the reset flags.
func (h *Handler) Status() Status {
	a := h.guardEnd
	for a < h.cfg.StackTop {
		v, err := h.deps.RAM.ReadWord(a)
		if err != nil || v != StackPattern {
			break
		}
		a += 4
	}
	return Status{
		StackTop:     h.cfg.StackTop,
		GuardEnd:     h.guardEnd,
		UsageLow:     a,
		PowerOnFlags: h.powerOn,
		CurrentFlags: h.deps.ResetCause.Current(),
	}
}

// Data reads the stored diagnostic blob, sized for the current layout.
func (h *Handler) Data() ([]byte, error) {
	if h.deps.Store == nil {
		return nil, common.Errorf(diag.ErrState, "no panic store")
	}
	addr, _ := h.deps.Store.Region()
	p := make([]byte, h.BlobBytes())
	if err := h.deps.Store.Read(addr, p); err != nil {
		return nil, err
	}
	return p, nil
}

// WriteData prints the stored blob as sink rows.
func (h *Handler) WriteData(w io.Writer) error {
	p, err := h.Data()
	if err != nil {
		return err
	}
	printers.NewHexPrinter(w).WriteSection(0, p)
	return nil
}

// EraseData erases the pages holding the blob so the next fault is stored.
func (h *Handler) EraseData() error {
	store := h.deps.Store
	if store == nil {
		return common.Errorf(diag.ErrState, "no panic store")
	}
	addr, _ := store.Region()
	end := addr + h.BlobBytes()
	for a := addr; a < end; a += store.PageSize() {
		if err := store.EraseBlock(a); err != nil {
			return err
		}
	}
	h.logger.Info("diagnostic region erased")
	return nil
}

// TestHelp lists the operations accepted by Test.
const TestHelp = "Test operations and param(s) are as follows:\n" +
	"  Report fault: usage: fault test report <type> <param>\n" +
	"  Stack overflow: usage: fault test stack\n" +
	"  Bad pointer: usage: fault test ptr\n"

// badPointer is the address the "ptr" test stores to.
const badPointer = 0xffffffff

// Test runs one of the "fault test" operations. The successful operations
// end in a reset.
func (h *Handler) Test(op string, args ...string) error {
	switch strings.ToLower(op) {
	case "report":
		if len(args) != 2 {
			return common.Errorf(diag.ErrBadCmd, "report needs <type> <param>")
		}
		kind, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			return common.Errorf(diag.ErrBadCmd, "bad fault type %q", args[0])
		}
		param, err := strconv.ParseInt(args[1], 0, 32)
		if err != nil {
			return common.Errorf(diag.ErrBadCmd, "bad fault param %q", args[1])
		}
		h.Detected(Kind(kind), uint32(int32(param)))
	case "stack":
		h.overflowStack()
	case "ptr":
		if err := h.deps.RAM.WriteWord(badPointer, 0xbad); err != nil {
			h.Exception(h.deps.CPU.SP())
		}
	default:
		return common.Errorf(diag.ErrBadCmd, "invalid test '%s'", op)
	}
	return nil
}

// overflowStack recurses without bound: each level pushes an 8-byte frame.
// The store that lands in the guard block faults into Exception.
func (h *Handler) overflowStack() {
	for {
		sp := h.deps.CPU.SP() - 8
		if h.guardArmed && sp < h.guardEnd && sp+8 > h.cfg.GuardStart {
			h.Exception(sp)
		}
		if sp < h.cfg.DataStart {
			h.Exception(sp)
		}
		if err := h.deps.RAM.WriteWord(sp, sp); err != nil {
			h.Exception(sp)
		}
		h.deps.CPU.SetSP(sp)
	}
}

func hex32(v uint32) string { return "0x" + strconv.FormatUint(uint64(v), 16) }
