package fault

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"faultcore/internal/diag"
	"faultcore/internal/flash"
	"faultcore/internal/hw"
	"faultcore/internal/hw/sim"
	"faultcore/internal/memacc"
	"faultcore/internal/trace"
	"faultcore/internal/wdg"
)

const (
	ramBase    = 0x20000000
	ramSize    = 0x2000
	guardStart = ramBase + 0x1000
	stackTop   = ramBase + ramSize

	flashBase  = 0x08000000
	pageSize   = 0x800
	numPages   = 8
	regionAddr = flashBase + (numPages-1)*pageSize
)

type fakeWatchdog struct {
	fn    wdg.TriggeredFunc
	feeds int
}

func (w *fakeWatchdog) RegisterTriggered(fn wdg.TriggeredFunc) { w.fn = fn }
func (w *fakeWatchdog) FeedHardware()                          { w.feeds++ }

type rig struct {
	h     *Handler
	cpu   *sim.CPU
	scb   *sim.SCB
	mpu   *sim.MPU
	irq   *sim.IRQ
	clock *sim.Clock
	ram   []byte
	mem   *memacc.Mapper
	flash *sim.Flash
	rec   *trace.Recorder
	wd    *fakeWatchdog
	sink  *bytes.Buffer
}

type rigOpts struct {
	unit       uint32
	noFlash    bool
	resetFlags uint32
}

func newRig(t *testing.T, o rigOpts) *rig {
	t.Helper()
	if o.unit == 0 {
		o.unit = 8
	}
	r := &rig{
		cpu:   &sim.CPU{SPVal: stackTop - 0x100, LRVal: 0x08000123},
		scb:   &sim.SCB{Regs: hw.FaultRegs{ICSR: 1, SHCSR: 2, CFSR: 3, HFSR: 4, MMFAR: 5, BFAR: 6}},
		mpu:   &sim.MPU{},
		irq:   &sim.IRQ{},
		clock: &sim.Clock{},
		ram:   make([]byte, ramSize),
		mem:   memacc.NewMapper(),
		wd:    &fakeWatchdog{},
		sink:  &bytes.Buffer{},
	}
	require.NoError(t, r.mem.AddAccessor(memacc.NewBufferAccessor(ramBase, r.ram)))

	var err error
	r.rec, err = trace.New(trace.Config{Capacity: trace.DefaultCapacity, ProgramUnit: o.unit}, r.irq)
	require.NoError(t, err)

	r.flash = sim.NewFlash(sim.FlashGeometry{
		BaseAddr: flashBase, PageSize: pageSize, NumPages: numPages, NumBanks: 1, ProgramUnit: o.unit,
	})
	store, err := flash.New(flash.Config{
		BaseAddr: flashBase, PageSize: pageSize, NumPages: numPages, NumBanks: 1,
		ProgramUnit: o.unit, RegionAddr: regionAddr, RegionSize: pageSize,
	}, r.flash, zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	cause := sim.NewResetCause(o.resetFlags)
	r.scb.Cause = cause
	deps := Deps{
		Trace:      r.rec,
		Watchdog:   r.wd,
		CPU:        r.cpu,
		SCB:        r.scb,
		MPU:        r.mpu,
		RAM:        r.mem,
		Clock:      r.clock,
		IRQ:        r.irq,
		ResetCause: hw.NewResetLatch(cause),
		Sink:       r.sink,
	}
	cfg := Config{
		ProgramUnit: o.unit,
		DataStart:   ramBase,
		StackTop:    stackTop,
		GuardStart:  guardStart,
		ToFlash:     !o.noFlash,
		ToSink:      true,
	}
	if !o.noFlash {
		deps.Store = store
	}
	r.h, err = New(cfg, deps, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r
}

func (r *rig) region() []byte {
	return r.flash.Bytes()[regionAddr-flashBase:]
}

func (r *rig) fault(t *testing.T, fn func()) {
	t.Helper()
	ev := sim.CatchReset(fn)
	require.NotNil(t, ev, "fault path returned without a reset")
	assert.Equal(t, PhaseResetting, r.h.Phase())
}

func (r *rig) putWord(addr, v uint32) {
	binary.LittleEndian.PutUint32(r.ram[addr-ramBase:], v)
}

func TestConfigValidate(t *testing.T) {
	good := Config{ProgramUnit: 8, DataStart: ramBase, StackTop: stackTop, GuardStart: guardStart}
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unit not pow2", func(c *Config) { c.ProgramUnit = 12 }},
		{"unit too large", func(c *Config) { c.ProgramUnit = 32 }},
		{"stack top misaligned", func(c *Config) { c.StackTop -= 4 }},
		{"guard misaligned", func(c *Config) { c.GuardStart += 8 }},
		{"guard below data", func(c *Config) { c.DataStart = guardStart + 0x100 }},
		{"no room above guard", func(c *Config) { c.StackTop = guardStart + GuardBlockBytes }},
	}
	assert.NoError(t, good.Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := good
			tt.modify(&cfg)
			assert.True(t, errors.Is(cfg.Validate(), diag.ErrArg))
		})
	}
}

func TestStartPaintsStackAndGuard(t *testing.T) {
	r := newRig(t, rigOpts{})
	require.NoError(t, r.h.Start())

	sp := r.cpu.SP()
	for a := uint32(guardStart); a < sp; a += 4 {
		v, err := r.mem.ReadWord(a)
		require.NoError(t, err)
		require.Equal(t, StackPattern, v, "word at 0x%08x", a)
	}
	v, _ := r.mem.ReadWord(sp)
	assert.Zero(t, v, "live stack must not be painted")
	v, _ = r.mem.ReadWord(guardStart - 4)
	assert.Zero(t, v, "below the guard must not be painted")

	assert.True(t, r.mpu.Enabled)
	assert.Equal(t, hw.MPURegion{Number: 0, Base: guardStart, Size: 32, ReadOnly: true, ExecuteNever: true},
		r.mpu.Regions[0])
	assert.NotNil(t, r.wd.fn)
}

func TestStatusReport(t *testing.T) {
	r := newRig(t, rigOpts{resetFlags: hw.ResetIndepWdg | hw.ResetPin})
	require.NoError(t, r.h.Start())
	r.putWord(guardStart+0x60, 0x12345678)

	st := r.h.Status()
	assert.Equal(t, uint32(guardStart+GuardBlockBytes), st.GuardEnd)
	assert.Equal(t, uint32(guardStart+0x60), st.UsageLow)
	assert.Equal(t, uint32(4064), st.StackBytes())
	assert.Equal(t, uint32(4000), st.UsedBytes())

	var out bytes.Buffer
	_, err := st.WriteTo(&out)
	require.NoError(t, err)
	want := "Stack: 0x20002000 -> 0x20001020 (4064 bytes)\n" +
		"Stack usage: 0x20002000 -> 0x20001060 (4000 bytes)\n" +
		"CSR: Poweron=0x24000000 Current=0x00000000\n" +
		"     IWDG reset bit set in CSR at power on.\n" +
		"     PIN reset bit set in CSR at power on.\n"
	assert.Equal(t, want, out.String())
}

func TestDetectedWritesBlob(t *testing.T) {
	r := newRig(t, rigOpts{})
	require.NoError(t, r.h.Start())
	r.rec.Enable(true)
	r.rec.Record32(7, 0xa1b2c3d4)
	r.clock.Set(1234)
	sp := r.cpu.SP()

	r.fault(t, func() { r.h.Detected(KindWatchdog, 3) })

	assert.True(t, r.irq.Masked())
	assert.False(t, r.rec.Enabled())
	assert.False(t, r.mpu.Enabled)
	assert.Equal(t, 1, r.wd.feeds)
	assert.Equal(t, uint32(stackTop), r.cpu.SP())

	region := r.region()
	var got Record
	require.NoError(t, got.Decode(region, binary.LittleEndian))
	want := Record{
		Magic: diag.MagicFault, SectionBytes: 88, Kind: KindWatchdog, Param: 3,
		SP: sp, LR: 0x08000123,
		ICSR: 1, SHCSR: 2, CFSR: 3, HFSR: 4, MMFAR: 5, BFAR: 6, TickMs: 1234,
	}
	assert.Equal(t, want, got)

	tr := region[88:]
	assert.Equal(t, diag.MagicTrace, binary.LittleEndian.Uint32(tr[0:]))
	assert.Equal(t, uint32(1024), binary.LittleEndian.Uint32(tr[4:]))
	assert.Equal(t, uint32(5), binary.LittleEndian.Uint32(tr[12:]), "cursor")
	assert.Equal(t, []byte{7, 0xa1, 0xb2, 0xc3, 0xd4}, tr[16:21])

	end := region[88+1024:]
	assert.Equal(t, diag.MagicEnd, binary.LittleEndian.Uint32(end[0:]))
	assert.Equal(t, uint32(8), binary.LittleEndian.Uint32(end[4:]))

	out := r.sink.String()
	require.True(t, strings.HasPrefix(out, "\nFault type=1 param=3\n"))
	rows := strings.Split(strings.TrimSuffix(strings.TrimPrefix(out, "\nFault type=1 param=3\n"), "\n"), "\n")
	// Each section starts a new row: 3 + 32 + 1.
	require.Len(t, rows, 36)
	assert.Equal(t, fmt.Sprintf("00000000: %x", region[:32]), rows[0])
	assert.Equal(t, fmt.Sprintf("00000040: %x", region[0x40:0x58]), rows[2])
	assert.Equal(t, fmt.Sprintf("00000058: %x", region[0x58:0x78]), rows[3])
	assert.Equal(t, fmt.Sprintf("00000458: %x", region[0x458:0x460]), rows[35])
}

func TestWatchdogTriggerReportsClient(t *testing.T) {
	r := newRig(t, rigOpts{})
	require.NoError(t, r.h.Start())
	r.fault(t, func() { r.wd.fn(5) })
	assert.Equal(t, KindWatchdog, r.h.Record().Kind)
	assert.Equal(t, uint32(5), r.h.Record().Param)
}

func TestExceptionCapturesFrame(t *testing.T) {
	r := newRig(t, rigOpts{})
	r.cpu.IPSRVal = 3
	sp := uint32(stackTop - 0x40)
	for i := uint32(0); i < 8; i++ {
		r.putWord(sp+4*i, 0x100+i)
	}
	r.fault(t, func() { r.h.Exception(sp) })

	rec := r.h.Record()
	assert.Equal(t, KindException, rec.Kind)
	assert.Equal(t, uint32(3), rec.Param)
	assert.Equal(t, sp, rec.SP)
	assert.Equal(t, ExceptionFrame{
		R0: 0x100, R1: 0x101, R2: 0x102, R3: 0x103,
		R12: 0x104, LR: 0x105, ReturnAddr: 0x106, XPSR: 0x107,
	}, rec.Frame)
	assert.Equal(t, uint32(stackTop), r.cpu.SP())
	assert.True(t, strings.HasPrefix(r.sink.String(), "\nFault type=2 param=3\n"))
}

func TestExceptionBadStackPointer(t *testing.T) {
	tests := []struct {
		name string
		sp   uint32
	}{
		{"misaligned", stackTop - 0x44},
		{"below data", ramBase - 8},
		{"frame past top", stackTop - 32},
		{"zero", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, rigOpts{})
			for i := range r.ram {
				r.ram[i] = 0xee
			}
			r.fault(t, func() { r.h.Exception(tt.sp) })
			assert.Equal(t, ExceptionFrame{}, r.h.Record().Frame)
			assert.Equal(t, tt.sp, r.h.Record().SP)
		})
	}
}

func TestFirstReportWins(t *testing.T) {
	r := newRig(t, rigOpts{})
	r.fault(t, func() { r.h.Detected(KindWatchdog, 1) })
	erases := r.flash.Erases

	r.sink.Reset()
	r.fault(t, func() { r.h.Detected(KindException, 9) })

	assert.Equal(t, erases, r.flash.Erases)
	var got Record
	require.NoError(t, got.Decode(r.region(), binary.LittleEndian))
	assert.Equal(t, KindWatchdog, got.Kind)
	assert.Equal(t, uint32(1), got.Param)
	assert.True(t, strings.HasPrefix(r.sink.String(), "\nFault type=2 param=9\n"),
		"sink still carries the later fault")
}

func TestEraseDataAllowsNextReport(t *testing.T) {
	r := newRig(t, rigOpts{})
	r.fault(t, func() { r.h.Detected(KindWatchdog, 1) })
	require.NoError(t, r.h.EraseData())
	assert.Equal(t, byte(0xff), r.region()[0])

	r.fault(t, func() { r.h.Detected(KindWatchdog, 2) })
	var got Record
	require.NoError(t, got.Decode(r.region(), binary.LittleEndian))
	assert.Equal(t, uint32(2), got.Param)
}

func TestDataReadsStoredBlob(t *testing.T) {
	r := newRig(t, rigOpts{})
	r.fault(t, func() { r.h.Detected(KindWatchdog, 4) })

	data, err := r.h.Data()
	require.NoError(t, err)
	assert.Equal(t, r.region()[:r.h.BlobBytes()], data)

	var out bytes.Buffer
	require.NoError(t, r.h.WriteData(&out))
	rows := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, rows, 35)
	assert.Equal(t, fmt.Sprintf("00000440: %x", data[0x440:0x460]), rows[34])
}

func TestProgramUnit16Padding(t *testing.T) {
	r := newRig(t, rigOpts{unit: 16})
	r.fault(t, func() { r.h.Detected(KindWatchdog, 1) })

	region := r.region()
	assert.Equal(t, uint32(96), binary.LittleEndian.Uint32(region[4:]))
	assert.Equal(t, make([]byte, 8), region[88:96], "pad words")
	assert.Equal(t, diag.MagicTrace, binary.LittleEndian.Uint32(region[96:]))
	end := region[96+1024:]
	assert.Equal(t, diag.MagicEnd, binary.LittleEndian.Uint32(end[0:]))
	assert.Equal(t, uint32(16), binary.LittleEndian.Uint32(end[4:]))
	assert.Equal(t, make([]byte, 8), end[8:16])
	assert.Equal(t, uint32(96+1024+16), r.h.BlobBytes())
}

func TestSinkOnly(t *testing.T) {
	r := newRig(t, rigOpts{noFlash: true})
	r.fault(t, func() { r.h.Detected(KindWatchdog, 1) })
	assert.Zero(t, r.flash.Programs)
	assert.Contains(t, r.sink.String(), "00000000: 0100adde")

	_, err := r.h.Data()
	assert.True(t, errors.Is(err, diag.ErrState))
}

func TestTestOperations(t *testing.T) {
	t.Run("invalid", func(t *testing.T) {
		r := newRig(t, rigOpts{})
		for _, args := range [][]string{{"bogus"}, {"report"}, {"report", "1"}, {"report", "x", "1"}, {"report", "1", "y"}} {
			err := r.h.Test(args[0], args[1:]...)
			assert.True(t, errors.Is(err, diag.ErrBadCmd), "%v", args)
		}
		assert.Equal(t, PhaseNormal, r.h.Phase())
	})

	t.Run("report", func(t *testing.T) {
		r := newRig(t, rigOpts{})
		r.fault(t, func() { _ = r.h.Test("report", "7", "-1") })
		assert.Equal(t, Kind(7), r.h.Record().Kind)
		assert.Equal(t, uint32(0xffffffff), r.h.Record().Param)
	})

	t.Run("ptr", func(t *testing.T) {
		r := newRig(t, rigOpts{})
		sp := r.cpu.SP()
		r.fault(t, func() { _ = r.h.Test("PTR") })
		assert.Equal(t, KindException, r.h.Record().Kind)
		assert.Equal(t, sp, r.h.Record().SP)
	})

	t.Run("stack", func(t *testing.T) {
		r := newRig(t, rigOpts{})
		require.NoError(t, r.h.Start())
		r.fault(t, func() { _ = r.h.Test("stack") })
		rec := r.h.Record()
		assert.Equal(t, KindException, rec.Kind)
		assert.Less(t, rec.SP, uint32(guardStart+GuardBlockBytes))
		assert.GreaterOrEqual(t, rec.SP+8, uint32(guardStart))
		st := r.h.Status()
		assert.Equal(t, st.GuardEnd, st.UsageLow, "whole stack used")
	})
}
