// Package blob decodes the diagnostic blob written by the fault handler: a
// fault record section, the trace buffer section and an end marker. Each
// section starts with a magic number and its length in bytes.
package blob

import (
	"encoding/binary"

	"go.uber.org/zap"

	"faultcore/internal/catalog"
	"faultcore/internal/common"
	"faultcore/internal/diag"
	"faultcore/internal/fault"
)

// SectionKind tells the sections apart.
type SectionKind int

const (
	SectionFault SectionKind = iota
	SectionTrace
	SectionEnd
)

var sectionKinds = map[uint32]SectionKind{
	diag.MagicFault: SectionFault,
	diag.MagicTrace: SectionTrace,
	diag.MagicEnd:   SectionEnd,
}

func (k SectionKind) String() string {
	switch k {
	case SectionFault:
		return "fault"
	case SectionTrace:
		return "trace"
	case SectionEnd:
		return "end"
	}
	return "unknown"
}

// Section locates one section in the blob.
type Section struct {
	Kind   SectionKind
	Offset uint32
	Len    uint32
	// BigEndian is set when the header only made sense byte-swapped.
	BigEndian bool
}

// Field is one named word of the fault record.
type Field struct {
	Name  string
	Value uint32
}

// FaultReport is the decoded fault section.
type FaultReport struct {
	Fields []Field
	Record fault.Record
	// Problem is set when the section is too short for a full record.
	Problem string
}

// Report is everything decoded from a blob. Decoding stops at the first
// structural error; the sections before it are kept.
type Report struct {
	Sections []Section
	Fault    *FaultReport
	Trace    *TraceReport
	Complete bool
}

// Decoder turns blobs into reports.
type Decoder struct {
	cat    *catalog.Catalog
	logger *zap.Logger
}

// NewDecoder uses cat to replay the trace section; nil means the built-in
// catalog.
func NewDecoder(cat *catalog.Catalog, logger *zap.Logger) *Decoder {
	if cat == nil {
		cat = catalog.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{cat: cat, logger: logger.Named("blob")}
}

// Decode walks the sections of data. Header words are little-endian unless
// the magic only matches byte-swapped, after which the swapped order sticks.
func (d *Decoder) Decode(data []byte) (*Report, error) {
	rep := &Report{}
	var order binary.ByteOrder = binary.LittleEndian
	idx := uint32(0)
	n := uint32(len(data))
	for idx < n {
		if idx+diag.SectionHeaderBytes > n {
			return rep, common.Errorf(diag.ErrArg, "insufficient bytes for a section header idx=%d data_len=%d", idx, n)
		}
		magic := order.Uint32(data[idx:])
		kind, ok := sectionKinds[magic]
		if !ok {
			order = swap(order)
			magic = order.Uint32(data[idx:])
			if kind, ok = sectionKinds[magic]; !ok {
				return rep, common.Errorf(diag.ErrArg, "can not determine section type at idx %d", idx)
			}
		}
		secLen := order.Uint32(data[idx+4:])
		if secLen < diag.SectionHeaderBytes || uint64(idx)+uint64(secLen) > uint64(n) {
			return rep, common.Errorf(diag.ErrArg, "bad section length idx=%d section_len=%d data_len=%d",
				idx, secLen, n)
		}
		sec := Section{Kind: kind, Offset: idx, Len: secLen, BigEndian: order == binary.BigEndian}
		rep.Sections = append(rep.Sections, sec)
		d.logger.Debug("section",
			zap.Stringer("kind", kind), zap.Uint32("offset", idx), zap.Uint32("len", secLen))

		body := data[idx : idx+secLen]
		switch kind {
		case SectionFault:
			rep.Fault = decodeFault(body, order)
		case SectionTrace:
			rep.Trace = d.replay(body, order)
		case SectionEnd:
			rep.Complete = true
		}
		idx += secLen
	}
	return rep, nil
}

func swap(o binary.ByteOrder) binary.ByteOrder {
	if o == binary.ByteOrder(binary.LittleEndian) {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func decodeFault(body []byte, order binary.ByteOrder) *FaultReport {
	fr := &FaultReport{}
	for i, name := range fault.FieldNames {
		off := i * 4
		if off+4 > len(body) {
			break
		}
		fr.Fields = append(fr.Fields, Field{Name: name, Value: order.Uint32(body[off:])})
	}
	for off := len(fault.FieldNames) * 4; off+4 <= len(body); off += 4 {
		fr.Fields = append(fr.Fields, Field{Name: "pad", Value: order.Uint32(body[off:])})
	}
	if err := fr.Record.Decode(body, order); err != nil {
		fr.Problem = err.Error()
	}
	return fr
}
