package diag

import "fmt"

// Result codes

// Err is the result code returned by the reliability core. It implements error
// so that callers can match wrapped errors with errors.Is(err, diag.ErrArg).
type Err uint32

const (
	OK          Err = 0
	ErrArg      Err = 1 // bad alignment, out-of-range id, address or timeout
	ErrBusy     Err = 2 // operation already pending in the peripheral
	ErrPeriph   Err = 3 // hardware status flags indicate failure
	ErrInternal Err = 4 // lookup miss, invalid instance
	ErrBadCmd   Err = 5 // malformed command surface request
	ErrState    Err = 6 // lifecycle misuse (start before init, etc.)
	ErrLast     Err = 7
)

var errNames = [...]string{
	OK:          "MOD_OK",
	ErrArg:      "MOD_ERR_ARG",
	ErrBusy:     "MOD_ERR_BUSY",
	ErrPeriph:   "MOD_ERR_PERIPH",
	ErrInternal: "MOD_ERR_INTERNAL",
	ErrBadCmd:   "MOD_ERR_BAD_CMD",
	ErrState:    "MOD_ERR_STATE",
}

// Name returns the symbolic name of the code.
func (e Err) Name() string {
	if e < ErrLast {
		return errNames[e]
	}
	return fmt.Sprintf("MOD_ERR_UNKNOWN(%d)", uint32(e))
}

func (e Err) Error() string { return e.Name() }

// ErrSeverity is used to indicate the severity of an error.
type ErrSeverity uint32

const (
	ErrSevNone  ErrSeverity = 0
	ErrSevError ErrSeverity = 1
	ErrSevWarn  ErrSeverity = 2
	ErrSevInfo  ErrSeverity = 3
)

// Section magics of the persisted diagnostic blob and of the cross-reset block.
const (
	MagicFault    uint32 = 0xdead0001
	MagicTrace    uint32 = 0xf00d0001
	MagicEnd      uint32 = 0xc0da0001
	MagicRetained uint32 = 0xdeaddead
)

// SectionHeaderBytes is the size of the magic + length prefix every section of
// the diagnostic blob starts with.
const SectionHeaderBytes = 8

// NoReturn is the result type of calls that end in a system reset. A function
// returning NoReturn never returns to its caller; the type makes that contract
// visible in signatures such as the watchdog triggered callback.
type NoReturn struct{ _ [0]func() }

// IsPow2 reports whether v is a non-zero power of two.
func IsPow2(v uint32) bool { return v != 0 && v&(v-1) == 0 }

// Aligned reports whether v is a multiple of the power-of-two unit.
func Aligned(v, unit uint32) bool { return v&(unit-1) == 0 }
