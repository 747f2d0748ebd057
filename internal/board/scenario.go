package board

import (
	"strconv"

	"go.uber.org/zap"

	"faultcore/internal/common"
	"faultcore/internal/diag"
	"faultcore/internal/hw/sim"
)

// Injection names a fault Play can inject.
type Injection string

const (
	InjectNone     Injection = "none"
	InjectStarve   Injection = "starve"
	InjectReport   Injection = "report"
	InjectPointer  Injection = "ptr"
	InjectStack    Injection = "stack"
	InjectHardware Injection = "hw-wdg"
	InjectHangInit Injection = "hang-init"
)

// Injections lists the accepted names.
var Injections = []Injection{
	InjectNone, InjectStarve, InjectReport, InjectPointer, InjectStack, InjectHardware, InjectHangInit,
}

// Scenario describes one simulated run.
type Scenario struct {
	// Tasks is the number of watchdog clients fed by board tasks. Task n
	// feeds every 20*(n+1) ms against a period of twice that.
	Tasks    uint32
	WarmupMs uint32
	RunMs    uint32
	Inject   Injection
	// Kind and Param are passed to the report injection.
	Kind  uint32
	Param uint32
}

// Outcome is what Play observed.
type Outcome struct {
	// Resets lists every reset in order.
	Resets []*sim.ResetEvent
	Boots  uint32
}

// Play boots the board, runs the warm-up, injects the fault and runs on
// until a reset or RunMs. After a reset the board is booted again, so the
// stored report can be read. A hung init is retried until the init guard
// gives up.
func (b *Board) Play(sc Scenario) (*Outcome, error) {
	log := b.logger.Named("board")
	out := &Outcome{}
	b.HangInit(sc.Inject == InjectHangInit)

	for {
		ev, err := b.Boot()
		if err != nil && common.CodeOf(err) != diag.ErrState {
			return out, err
		}
		if ev == nil {
			if err != nil {
				log.Warn("init guard gave up", zap.Error(err))
			}
			break
		}
		out.Resets = append(out.Resets, ev)
	}
	if sc.Inject == InjectHangInit {
		b.HangInit(false)
		if _, err := b.Boot(); err != nil {
			return out, err
		}
		out.Boots = b.Boots()
		return out, nil
	}

	for n := uint32(0); n < sc.Tasks; n++ {
		every := 20 * (n + 1)
		if err := b.AddTask(n, 2*every, every); err != nil {
			return out, err
		}
	}
	if ev := b.Run(sc.WarmupMs); ev != nil {
		out.Resets = append(out.Resets, ev)
		return out, b.reboot(out)
	}

	var ev *sim.ResetEvent
	var err error
	switch sc.Inject {
	case InjectNone:
	case InjectStarve:
		if sc.Tasks == 0 {
			return out, common.Errorf(diag.ErrArg, "starve needs at least one task")
		}
		err = b.Starve(0)
	case InjectReport:
		ev, err = b.Exec("fault", "test", "report",
			strconv.FormatUint(uint64(sc.Kind), 10), strconv.FormatUint(uint64(sc.Param), 10))
	case InjectPointer, InjectStack:
		ev, err = b.Exec("fault", "test", string(sc.Inject))
	case InjectHardware:
		_, err = b.Exec("wdg", "test", "fail-hdw")
	default:
		err = common.Errorf(diag.ErrArg, "unknown injection %q", sc.Inject)
	}
	if err != nil {
		return out, err
	}
	if ev == nil {
		ev = b.Run(sc.RunMs)
	}
	if ev != nil {
		out.Resets = append(out.Resets, ev)
		return out, b.reboot(out)
	}
	out.Boots = b.Boots()
	return out, nil
}

func (b *Board) reboot(out *Outcome) error {
	ev, err := b.Boot()
	if err != nil {
		return err
	}
	if ev != nil {
		out.Resets = append(out.Resets, ev)
	}
	out.Boots = b.Boots()
	return nil
}
