package board

import (
	"fmt"
	"io"
	"strings"

	"faultcore/internal/common"
	"faultcore/internal/diag"
	"faultcore/internal/fault"
	"faultcore/internal/hw/sim"
	"faultcore/internal/printers"
	"faultcore/internal/wdg"
)

// CommandHelp lists the console commands accepted by Exec.
const CommandHelp = "fault status | fault data [erase] | fault test <op> [args]\n" +
	"wdg status | wdg test <op> [args]\n" +
	"trace status | trace on | trace off | trace test | trace dump\n"

// Exec runs one console command, writing its output to the console. A
// command that ends in a reset returns the reset event.
func (b *Board) Exec(args ...string) (*sim.ResetEvent, error) {
	if b.Fault == nil {
		return nil, common.Errorf(diag.ErrState, "board not booted")
	}
	if len(args) < 2 {
		return nil, common.Errorf(diag.ErrBadCmd, "usage: %s", CommandHelp)
	}
	cmd, op, rest := strings.ToLower(args[0]), strings.ToLower(args[1]), args[2:]
	switch cmd {
	case "fault":
		return b.faultCmd(op, rest)
	case "wdg":
		return nil, b.wdgCmd(op, rest)
	case "trace":
		return nil, b.traceCmd(op)
	}
	return nil, common.Errorf(diag.ErrBadCmd, "unknown command '%s'", args[0])
}

func (b *Board) faultCmd(op string, args []string) (*sim.ResetEvent, error) {
	switch op {
	case "status":
		_, err := b.Fault.Status().WriteTo(b.console)
		return nil, err
	case "data":
		if len(args) == 0 {
			return nil, b.Fault.WriteData(b.console)
		}
		if len(args) == 1 && strings.EqualFold(args[0], "erase") {
			return nil, b.Fault.EraseData()
		}
		return nil, common.Errorf(diag.ErrBadCmd, "usage: fault data [erase]")
	case "test":
		if len(args) == 0 {
			_, err := io.WriteString(b.console, fault.TestHelp)
			return nil, err
		}
		var err error
		ev := sim.CatchReset(func() { err = b.Fault.Test(args[0], args[1:]...) })
		return ev, err
	}
	return nil, common.Errorf(diag.ErrBadCmd, "unknown fault command '%s'", op)
}

func (b *Board) wdgCmd(op string, args []string) error {
	switch op {
	case "status":
		_, err := b.Wdg.Status().WriteTo(b.console)
		return err
	case "test":
		if len(args) == 0 {
			_, err := io.WriteString(b.console, wdg.TestHelp)
			return err
		}
		return b.Wdg.Test(args[0], args[1:]...)
	}
	return common.Errorf(diag.ErrBadCmd, "unknown wdg command '%s'", op)
}

func (b *Board) traceCmd(op string) error {
	switch op {
	case "status":
		_, err := fmt.Fprintln(b.console, b.Trace.Status())
		return err
	case "on":
		b.Trace.Enable(true)
	case "off":
		b.Trace.Enable(false)
	case "test":
		b.Trace.SelfTest()
	case "dump":
		printers.NewHexPrinter(b.console).WriteSection(0, b.Trace.Buffer())
	default:
		return common.Errorf(diag.ErrBadCmd, "unknown trace command '%s'", op)
	}
	return nil
}
