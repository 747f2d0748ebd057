// Package config loads the settings of every component from one YAML file,
// with FAULTCORE_* environment variables taking precedence. The defaults are
// those of the reference board, an STM32L452 with 2 KiB flash pages.
package config

import (
	"strings"

	"github.com/spf13/viper"

	applog "faultcore/common"
	"faultcore/internal/common"
	"faultcore/internal/diag"
	"faultcore/internal/fault"
	"faultcore/internal/flash"
	"faultcore/internal/trace"
	"faultcore/internal/wdg"
)

// EnvPrefix is prepended to environment overrides, e.g. FAULTCORE_TRACE_CAPACITY.
const EnvPrefix = "FAULTCORE"

// Board describes the simulated part outside the four components.
type Board struct {
	RAMBase uint32
	RAMSize uint32
	// RetainedWords is the size of the RAM block startup code leaves alone.
	RetainedWords uint32
	// StackReserve is how far below the top the stack pointer sits when the
	// fault handler starts.
	StackReserve uint32
	MPU          bool
	MaxTimers    int
	LogLevel     string
}

// Config holds every setting.
type Config struct {
	Trace    trace.Config
	Flash    flash.Config
	Watchdog wdg.Config
	Fault    fault.Config
	Board    Board
}

var defaults = map[string]any{
	"trace.capacity": trace.DefaultCapacity,

	"flash.base_addr":    0x08000000,
	"flash.page_size":    0x800,
	"flash.num_pages":    256,
	"flash.num_banks":    1,
	"flash.program_unit": 8,
	"flash.region_addr":  0x0807f800,
	"flash.region_size":  0x800,

	"wdg.num_clients":     8,
	"wdg.check_period_ms": 10,
	"wdg.init_timeout_ms": 8000,
	"wdg.max_init_fails":  3,
	"wdg.hard_timeout_ms": 4000,

	"fault.data_start":  0x20000000,
	"fault.stack_top":   0x20028000,
	"fault.guard_start": 0x20027000,
	"fault.to_flash":    true,
	"fault.to_sink":     true,

	"board.ram_base":       0x20000000,
	"board.ram_size":       0x28000,
	"board.retained_words": wdg.CrossResetWords,
	"board.stack_reserve":  0x100,
	"board.mpu":            true,
	"board.max_timers":     8,
	"board.log_level":      "info",
}

// New returns a viper instance holding the defaults and reading environment
// overrides.
func New() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the reference board settings.
func Default() *Config {
	return FromViper(New())
}

// Load reads path, if set, over the defaults and validates the result.
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, common.Errorf(diag.ErrArg, "read config %s: %v", path, err)
		}
	}
	cfg := FromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromViper builds a Config from v without validating it.
func FromViper(v *viper.Viper) *Config {
	unit := v.GetUint32("flash.program_unit")
	return &Config{
		Trace: trace.Config{
			Capacity:    v.GetUint32("trace.capacity"),
			ProgramUnit: unit,
		},
		Flash: flash.Config{
			BaseAddr:    v.GetUint32("flash.base_addr"),
			PageSize:    v.GetUint32("flash.page_size"),
			NumPages:    v.GetUint32("flash.num_pages"),
			NumBanks:    v.GetUint32("flash.num_banks"),
			ProgramUnit: unit,
			RegionAddr:  v.GetUint32("flash.region_addr"),
			RegionSize:  v.GetUint32("flash.region_size"),
		},
		Watchdog: wdg.Config{
			NumClients:    v.GetUint32("wdg.num_clients"),
			CheckPeriodMs: v.GetUint32("wdg.check_period_ms"),
			InitTimeoutMs: v.GetUint32("wdg.init_timeout_ms"),
			MaxInitFails:  v.GetUint32("wdg.max_init_fails"),
			HardTimeoutMs: v.GetUint32("wdg.hard_timeout_ms"),
		},
		Fault: fault.Config{
			ProgramUnit: unit,
			DataStart:   v.GetUint32("fault.data_start"),
			StackTop:    v.GetUint32("fault.stack_top"),
			GuardStart:  v.GetUint32("fault.guard_start"),
			ToFlash:     v.GetBool("fault.to_flash"),
			ToSink:      v.GetBool("fault.to_sink"),
		},
		Board: Board{
			RAMBase:       v.GetUint32("board.ram_base"),
			RAMSize:       v.GetUint32("board.ram_size"),
			RetainedWords: v.GetUint32("board.retained_words"),
			StackReserve:  v.GetUint32("board.stack_reserve"),
			MPU:           v.GetBool("board.mpu"),
			MaxTimers:     v.GetInt("board.max_timers"),
			LogLevel:      v.GetString("board.log_level"),
		},
	}
}

// BlobBytes is the size of the diagnostic blob this layout produces.
func (c *Config) BlobBytes() uint32 {
	return fault.RecordBytes(c.Flash.ProgramUnit) + trace.HeaderBytes + c.Trace.Capacity +
		fault.EndMarkerBytes(c.Flash.ProgramUnit)
}

// Validate checks each component and how they fit together.
func (c *Config) Validate() error {
	if err := c.Flash.Validate(); err != nil {
		return err
	}
	if err := c.Fault.Validate(); err != nil {
		return err
	}
	if c.Trace.Capacity == 0 || !diag.Aligned(trace.HeaderBytes+c.Trace.Capacity, c.Flash.ProgramUnit) {
		return common.Errorf(diag.ErrArg, "trace section of %d bytes is not a multiple of the %d byte program unit",
			trace.HeaderBytes+c.Trace.Capacity, c.Flash.ProgramUnit)
	}
	if n := c.BlobBytes(); c.Fault.ToFlash && n > c.Flash.RegionSize {
		return common.Errorf(diag.ErrArg, "diagnostic blob of %d bytes exceeds the %d byte flash region",
			n, c.Flash.RegionSize)
	}

	w := c.Watchdog
	if w.NumClients == 0 || w.CheckPeriodMs == 0 {
		return common.Errorf(diag.ErrArg, "watchdog needs clients and a check period")
	}
	for _, ms := range []uint32{w.InitTimeoutMs, w.HardTimeoutMs} {
		if _, err := wdg.ReloadFor(ms); err != nil {
			return err
		}
	}
	if w.HardTimeoutMs <= w.CheckPeriodMs {
		return common.Errorf(diag.ErrArg, "hardware timeout %d ms must exceed the %d ms check period",
			w.HardTimeoutMs, w.CheckPeriodMs)
	}

	b := c.Board
	ramEnd := uint64(b.RAMBase) + uint64(b.RAMSize)
	if b.RAMSize == 0 || ramEnd > 1<<32 {
		return common.Errorf(diag.ErrArg, "RAM 0x%08x+0x%x is not addressable", b.RAMBase, b.RAMSize)
	}
	if c.Fault.DataStart < b.RAMBase || uint64(c.Fault.StackTop) > ramEnd {
		return common.Errorf(diag.ErrArg, "stack 0x%08x..0x%08x lies outside RAM", c.Fault.DataStart, c.Fault.StackTop)
	}
	if b.RetainedWords < wdg.CrossResetWords {
		return common.Errorf(diag.ErrArg, "retained block of %d words is smaller than %d", b.RetainedWords, wdg.CrossResetWords)
	}
	if b.StackReserve%8 != 0 || c.Fault.StackTop-b.StackReserve <= c.Fault.GuardStart+fault.GuardBlockBytes {
		return common.Errorf(diag.ErrArg, "stack reserve 0x%x does not fit the stack", b.StackReserve)
	}
	if b.MaxTimers < 1 {
		return common.Errorf(diag.ErrArg, "board needs at least one timer")
	}
	if _, ok := applog.ParseSeverity(b.LogLevel); !ok {
		return common.Errorf(diag.ErrArg, "unknown log level %q", b.LogLevel)
	}
	return nil
}
