package fault

import (
	"encoding/binary"
	"fmt"

	"faultcore/internal/diag"
)

// Kind identifies what raised the fault.
type Kind uint32

const (
	KindWatchdog  Kind = 1
	KindException Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindWatchdog:
		return "watchdog"
	case KindException:
		return "exception"
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// ExceptionFrameBytes is the size of the frame the core pushes on exception
// entry: r0-r3, r12, lr, return address, xpsr.
const ExceptionFrameBytes = 8 * 4

// ExceptionFrame is the stacked register frame of an exception.
type ExceptionFrame struct {
	R0, R1, R2, R3 uint32
	R12            uint32
	LR             uint32
	ReturnAddr     uint32
	XPSR           uint32
}

// Record is the fault section of the diagnostic blob.
type Record struct {
	Magic        uint32
	SectionBytes uint32
	Kind         Kind
	Param        uint32
	Frame        ExceptionFrame
	SP           uint32
	LR           uint32
	IPSR         uint32
	ICSR         uint32
	SHCSR        uint32
	CFSR         uint32
	HFSR         uint32
	MMFAR        uint32
	BFAR         uint32
	TickMs       uint32
}

const recordWords = 22

// Field names in blob order, as printed by the decoder. Pad words appended
// for a 16-byte program unit are named "pad".
var FieldNames = [recordWords]string{
	"magic", "num_section_bytes", "fault_type", "fault_param",
	"excpt_stk_r0", "excpt_stk_r1", "excpt_stk_r2", "excpt_stk_r3",
	"excpt_stk_r12", "excpt_stk_lr", "excpt_stk_rtn_addr", "excpt_stk_xpsr",
	"sp", "lr", "ipsr", "icsr", "shcsr", "cfsr", "hfsr", "mmfar", "bfar",
	"tick_ms",
}

// RecordBytes is the size of the fault section for a program unit.
func RecordBytes(programUnit uint32) uint32 {
	n := uint32(recordWords * 4)
	if programUnit == 16 {
		n += 8
	}
	return n
}

// EndMarkerBytes is the size of the end-of-blob section.
func EndMarkerBytes(programUnit uint32) uint32 {
	if programUnit == 16 {
		return 16
	}
	return diag.SectionHeaderBytes
}

func (r *Record) words() [recordWords]uint32 {
	f := &r.Frame
	return [recordWords]uint32{
		r.Magic, r.SectionBytes, uint32(r.Kind), r.Param,
		f.R0, f.R1, f.R2, f.R3, f.R12, f.LR, f.ReturnAddr, f.XPSR,
		r.SP, r.LR, r.IPSR, r.ICSR, r.SHCSR, r.CFSR, r.HFSR, r.MMFAR, r.BFAR,
		r.TickMs,
	}
}

// Encode writes the record little-endian into dst, which must hold at least
// recordWords words. Bytes past the last field are zeroed.
func (r *Record) Encode(dst []byte) {
	w := r.words()
	for i, v := range w {
		binary.LittleEndian.PutUint32(dst[i*4:], v)
	}
	clear(dst[recordWords*4:])
}

// Decode fills r from an encoded record.
func (r *Record) Decode(src []byte, order binary.ByteOrder) error {
	if len(src) < recordWords*4 {
		return fmt.Errorf("fault record needs %d bytes, have %d", recordWords*4, len(src))
	}
	var w [recordWords]uint32
	for i := range w {
		w[i] = order.Uint32(src[i*4:])
	}
	*r = Record{
		Magic: w[0], SectionBytes: w[1], Kind: Kind(w[2]), Param: w[3],
		Frame: ExceptionFrame{
			R0: w[4], R1: w[5], R2: w[6], R3: w[7],
			R12: w[8], LR: w[9], ReturnAddr: w[10], XPSR: w[11],
		},
		SP: w[12], LR: w[13], IPSR: w[14], ICSR: w[15], SHCSR: w[16],
		CFSR: w[17], HFSR: w[18], MMFAR: w[19], BFAR: w[20], TickMs: w[21],
	}
	return nil
}

// Words returns the fields in blob order.
func (r *Record) Words() []uint32 {
	w := r.words()
	return w[:]
}

func decodeFrame(b []byte) ExceptionFrame {
	le := binary.LittleEndian
	return ExceptionFrame{
		R0: le.Uint32(b[0:]), R1: le.Uint32(b[4:]), R2: le.Uint32(b[8:]), R3: le.Uint32(b[12:]),
		R12: le.Uint32(b[16:]), LR: le.Uint32(b[20:]), ReturnAddr: le.Uint32(b[24:]), XPSR: le.Uint32(b[28:]),
	}
}

func encodeEndMarker(dst []byte) {
	clear(dst)
	binary.LittleEndian.PutUint32(dst[0:], diag.MagicEnd)
	binary.LittleEndian.PutUint32(dst[4:], uint32(len(dst)))
}
