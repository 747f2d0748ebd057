// Package flash implements the persistent panic store: blocking erase and
// program primitives over the reserved diagnostic region of on-chip flash.
//
// The store has no locking. It is meant for a single caller in panic mode;
// the busy polls have no timeout because the hardware watchdog is the
// backstop.
package flash

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"faultcore/internal/common"
	"faultcore/internal/diag"
	"faultcore/internal/hw"
)

// Config describes the flash geometry and the diagnostic region within it.
type Config struct {
	BaseAddr    uint32
	PageSize    uint32
	NumPages    uint32
	NumBanks    uint32
	ProgramUnit uint32
	RegionAddr  uint32
	RegionSize  uint32
}

// Validate checks the geometry.
func (c Config) Validate() error {
	switch {
	case c.PageSize == 0 || c.NumPages == 0:
		return common.Errorf(diag.ErrArg, "flash geometry is empty")
	case c.NumBanks == 0 || c.NumPages%c.NumBanks != 0:
		return common.Errorf(diag.ErrArg, "%d pages do not split into %d banks", c.NumPages, c.NumBanks)
	case !diag.IsPow2(c.ProgramUnit) || c.ProgramUnit < 4:
		return common.Errorf(diag.ErrArg, "program unit %d must be a power of two of at least 4", c.ProgramUnit)
	case c.PageSize%c.ProgramUnit != 0:
		return common.Errorf(diag.ErrArg, "page size %d is not a multiple of the program unit", c.PageSize)
	case c.RegionAddr < c.BaseAddr || (c.RegionAddr-c.BaseAddr)%c.PageSize != 0:
		return common.NewErrorWithAddrMsg(diag.ErrSevError, diag.ErrArg, c.RegionAddr, "diagnostic region is not page aligned")
	case c.RegionSize == 0 || c.RegionSize%c.PageSize != 0:
		return common.Errorf(diag.ErrArg, "diagnostic region size %d is not a whole number of pages", c.RegionSize)
	case uint64(c.RegionAddr-c.BaseAddr)+uint64(c.RegionSize) > uint64(c.PageSize)*uint64(c.NumPages):
		return common.NewErrorWithAddrMsg(diag.ErrSevError, diag.ErrArg, c.RegionAddr, "diagnostic region extends past the end of flash")
	}
	return nil
}

// Store is the panic-mode flash writer.
type Store struct {
	cfg    Config
	ctl    hw.FlashController
	logger *zap.Logger

	disabledICache bool
	disabledDCache bool
	lastErrMask    uint32

	erases   metric.Int64Counter
	programs metric.Int64Counter
	failures metric.Int64Counter
}

// New creates a store over ctl. A nil logger or meter is replaced by a no-op
// logger and the global meter provider.
func New(cfg Config, ctl hw.FlashController, logger *zap.Logger, meter metric.Meter) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ctl == nil {
		return nil, common.Errorf(diag.ErrArg, "flash store needs a controller")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if meter == nil {
		meter = otel.Meter("faultcore/flash")
	}
	erases, _ := meter.Int64Counter("flash_panic_erases_total",
		metric.WithDescription("Pages erased by the panic store"))
	programs, _ := meter.Int64Counter("flash_panic_programs_total",
		metric.WithDescription("Program units written by the panic store"))
	failures, _ := meter.Int64Counter("flash_panic_failures_total",
		metric.WithDescription("Panic store operations that failed"))

	return &Store{
		cfg:      cfg,
		ctl:      ctl,
		logger:   logger.Named("flash"),
		erases:   erases,
		programs: programs,
		failures: failures,
	}, nil
}

// Region returns the address and size of the diagnostic region.
func (s *Store) Region() (addr, size uint32) {
	return s.cfg.RegionAddr, s.cfg.RegionSize
}

// PageSize is the erase unit.
func (s *Store) PageSize() uint32 { return s.cfg.PageSize }

// ProgramUnit is the minimum atomic write size.
func (s *Store) ProgramUnit() uint32 { return s.cfg.ProgramUnit }

// LastErrorFlags are the controller error flags seen by the last operation.
func (s *Store) LastErrorFlags() uint32 { return s.lastErrMask }

// EraseBlock erases the page starting at addr.
func (s *Store) EraseBlock(addr uint32) error {
	bank, page, err := s.pageNum(addr)
	if err != nil {
		return s.fail(err)
	}

	s.logger.Debug("flash panic erase",
		zap.String("addr", hex32(addr)), zap.Uint32("bank", bank), zap.Uint32("page", page))

	if s.ctl.Busy() {
		return s.fail(common.NewErrorWithAddr(diag.ErrSevError, diag.ErrBusy, addr))
	}

	s.opStart()
	s.ctl.StartErase(bank, page)
	for s.ctl.Busy() {
	}
	s.opComplete()

	if s.lastErrMask != 0 {
		return s.fail(common.NewErrorWithAddrMsg(diag.ErrSevError, diag.ErrPeriph, addr,
			"erase error flags "+hex32(s.lastErrMask)))
	}
	s.erases.Add(context.Background(), 1)
	return nil
}

// WriteBlock programs data at addr, one program unit at a time. Both addr
// and len(data) must be multiples of the program unit.
func (s *Store) WriteBlock(addr uint32, data []byte) error {
	unit := s.cfg.ProgramUnit
	n := uint32(len(data))
	if n == 0 || !diag.Aligned(addr, unit) || !diag.Aligned(n, unit) {
		return s.fail(common.NewErrorWithAddrMsg(diag.ErrSevError, diag.ErrArg, addr,
			"address and length must be multiples of the program unit"))
	}
	if !s.inRegion(addr, n) {
		return s.fail(common.NewErrorWithAddrMsg(diag.ErrSevError, diag.ErrArg, addr,
			"write outside the diagnostic region"))
	}

	if s.ctl.Busy() {
		return s.fail(common.NewErrorWithAddr(diag.ErrSevError, diag.ErrBusy, addr))
	}
	if s.ctl.WriteWait() {
		return s.fail(common.NewErrorWithAddrMsg(diag.ErrSevError, diag.ErrPeriph, addr, "write already pending"))
	}

	s.opStart()
	s.ctl.BeginProgram()
	var written int64
	for off := uint32(0); off < n; off += unit {
		s.ctl.ProgramUnit(addr+off, data[off:off+unit])
		for s.ctl.Busy() {
		}
		written++
		if s.ctl.WriteWait() {
			s.opComplete()
			s.programs.Add(context.Background(), written)
			return s.fail(common.NewErrorWithAddrMsg(diag.ErrSevError, diag.ErrPeriph, addr+off, "write wait after program"))
		}
	}
	s.opComplete()
	s.programs.Add(context.Background(), written)

	if s.lastErrMask != 0 {
		return s.fail(common.NewErrorWithAddrMsg(diag.ErrSevError, diag.ErrPeriph, addr,
			"program error flags "+hex32(s.lastErrMask)))
	}
	return nil
}

// Read fills p from the diagnostic region starting at addr.
func (s *Store) Read(addr uint32, p []byte) error {
	if !s.inRegion(addr, uint32(len(p))) {
		return common.NewErrorWithAddrMsg(diag.ErrSevError, diag.ErrArg, addr, "read outside the diagnostic region")
	}
	s.ctl.Read(addr, p)
	return nil
}

func (s *Store) opStart() {
	s.ctl.Unlock()
	s.ctl.ClearErrorFlags(s.ctl.ErrorFlags())
	s.lastErrMask = 0
	s.ctl.ClearCommand()

	icache, dcache := s.ctl.Caches()
	s.disabledICache = icache
	s.disabledDCache = dcache
	if icache || dcache {
		s.ctl.SetCaches(false, false)
	}
}

func (s *Store) opComplete() {
	s.lastErrMask = s.ctl.ErrorFlags()
	s.ctl.ClearErrorFlags(s.lastErrMask)
	s.ctl.ClearCommand()

	s.ctl.InvalidateCaches()
	if s.disabledICache || s.disabledDCache {
		s.ctl.SetCaches(s.disabledICache, s.disabledDCache)
	}
	s.disabledICache, s.disabledDCache = false, false
}

// pageNum maps a page aligned address inside the region to its bank and
// page number within the bank.
func (s *Store) pageNum(addr uint32) (bank, page uint32, err error) {
	if addr < s.cfg.BaseAddr || (addr-s.cfg.BaseAddr)%s.cfg.PageSize != 0 {
		return 0, 0, common.NewErrorWithAddrMsg(diag.ErrSevError, diag.ErrArg, addr, "address is not page aligned")
	}
	if !s.inRegion(addr, s.cfg.PageSize) {
		return 0, 0, common.NewErrorWithAddrMsg(diag.ErrSevError, diag.ErrArg, addr, "page outside the diagnostic region")
	}
	abs := (addr - s.cfg.BaseAddr) / s.cfg.PageSize
	perBank := s.cfg.NumPages / s.cfg.NumBanks
	return abs / perBank, abs % perBank, nil
}

func (s *Store) inRegion(addr, n uint32) bool {
	end := uint64(s.cfg.RegionAddr) + uint64(s.cfg.RegionSize)
	return addr >= s.cfg.RegionAddr && uint64(addr)+uint64(n) <= end
}

func (s *Store) fail(err error) error {
	s.failures.Add(context.Background(), 1)
	s.logger.Debug("flash panic operation failed", zap.Error(err))
	return err
}

func hex32(v uint32) string { return fmt.Sprintf("0x%08x", v) }
