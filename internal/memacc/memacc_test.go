package memacc

import (
	"encoding/binary"
	"errors"
	"testing"

	"faultcore/internal/diag"
)

const (
	BlockNumWords  = 64
	BlockSizeBytes = 4 * BlockNumWords
)

func blockVal(blockNum int, index int) uint32 {
	return (uint32(blockNum) << 16) | uint32(index)
}

func asByteSlice(blockNum int) []byte {
	buf := make([]byte, BlockSizeBytes)
	for i := 0; i < BlockNumWords; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], blockVal(blockNum, i))
	}
	return buf
}

func TestOverlapRegions(t *testing.T) {
	mapper := NewMapper()

	acc1 := NewBufferAccessor(0x20000000, asByteSlice(0))
	if err := mapper.AddAccessor(acc1); err != nil {
		t.Errorf("Failed to set memory accessor: %v", err)
	}

	// Overlapping region
	acc2 := NewBufferAccessor(0x20000080, asByteSlice(1))
	err := mapper.AddAccessor(acc2)
	if !errors.Is(err, diag.ErrArg) {
		t.Errorf("Expected overlap error, got: %v", err)
	}

	// Region enclosing the first one
	acc3 := NewBufferAccessor(0x1ffffff0, make([]byte, 2*BlockSizeBytes))
	if err := mapper.AddAccessor(acc3); !errors.Is(err, diag.ErrArg) {
		t.Errorf("Expected overlap error for enclosing range, got: %v", err)
	}

	// Non overlapping region
	acc2.Reset(0x20000000+BlockSizeBytes, asByteSlice(1))
	if err := mapper.AddAccessor(acc2); err != nil {
		t.Errorf("Failed to set non overlapping memory accessor: %v", err)
	}
}

func TestInvalidRange(t *testing.T) {
	mapper := NewMapper()
	tests := []struct {
		name string
		acc  Accessor
	}{
		{"unaligned start", NewBufferAccessor(0x20000002, make([]byte, 8))},
		{"unaligned length", NewBufferAccessor(0x20000000, make([]byte, 6))},
		{"inverted", NewCBAccessor(0x20000100, 0x200000ff, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := mapper.AddAccessor(tt.acc); !errors.Is(err, diag.ErrArg) {
				t.Errorf("AddAccessor() = %v, want MOD_ERR_ARG", err)
			}
		})
	}
}

func TestReadWords(t *testing.T) {
	mapper := NewMapper()
	base := uint32(0x20000000)
	for blk := 0; blk < 2; blk++ {
		acc := NewBufferAccessor(base+uint32(blk*BlockSizeBytes), asByteSlice(blk))
		if err := mapper.AddAccessor(acc); err != nil {
			t.Fatalf("AddAccessor: %v", err)
		}
	}

	tests := []struct {
		addr uint32
		want uint32
	}{
		{base, blockVal(0, 0)},
		{base + 4*10, blockVal(0, 10)},
		{base + BlockSizeBytes - 4, blockVal(0, BlockNumWords-1)},
		{base + BlockSizeBytes, blockVal(1, 0)},
	}
	for _, tt := range tests {
		got, err := mapper.ReadWord(tt.addr)
		if err != nil {
			t.Errorf("ReadWord(0x%08x) error: %v", tt.addr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ReadWord(0x%08x) = 0x%08x, want 0x%08x", tt.addr, got, tt.want)
		}
	}

	// A read spanning both blocks.
	p := make([]byte, 8)
	if err := mapper.Read(base+BlockSizeBytes-4, p); err != nil {
		t.Fatalf("spanning read: %v", err)
	}
	if binary.LittleEndian.Uint32(p[4:]) != blockVal(1, 0) {
		t.Errorf("spanning read second word = 0x%08x", binary.LittleEndian.Uint32(p[4:]))
	}

	// Past the end of the mapped space.
	if _, err := mapper.ReadWord(base + 2*BlockSizeBytes - 2); !errors.Is(err, diag.ErrArg) {
		t.Errorf("expected out of range error, got %v", err)
	}
	if mapper.Contains(base-4, 8) {
		t.Errorf("Contains() should be false for a range starting before the map")
	}
}

func TestWriteWords(t *testing.T) {
	mapper := NewMapper()
	ram := make([]byte, 32)
	if err := mapper.AddAccessor(NewBufferAccessor(0x20000000, ram)); err != nil {
		t.Fatal(err)
	}
	flash := NewCBAccessor(0x08000000, 0x080007ff, func(addr uint32, p []byte) {
		for i := range p {
			p[i] = 0xff
		}
	})
	if err := mapper.AddAccessor(flash); err != nil {
		t.Fatal(err)
	}

	if err := mapper.WriteWord(0x2000001c, 0xcafebadd); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}
	if got := binary.LittleEndian.Uint32(ram[28:]); got != 0xcafebadd {
		t.Errorf("backing buffer = 0x%08x", got)
	}
	if err := mapper.WriteWord(0x08000000, 0); !errors.Is(err, diag.ErrArg) {
		t.Errorf("write to callback range should fail, got %v", err)
	}
	if v, err := mapper.ReadWord(0x08000010); err != nil || v != 0xffffffff {
		t.Errorf("ReadWord(flash) = 0x%08x, %v", v, err)
	}
}

func TestSpan(t *testing.T) {
	ram := NewBufferAccessor(0x20000000, make([]byte, 16)).Range()
	if got := ram.String(); got != "RAM 0x20000000-0x2000000f" {
		t.Errorf("String() = %q", got)
	}
	if got := ram.Avail(0x2000000c, 8); got != 4 {
		t.Errorf("Avail at end = %d, want 4", got)
	}
	if got := ram.Avail(0x20000010, 1); got != 0 {
		t.Errorf("Avail past end = %d, want 0", got)
	}
	dev := NewCBAccessor(0x08000000, 0x080007ff, nil).Range()
	if dev.Kind != KindDevice || dev.Overlaps(ram) {
		t.Errorf("device span %v", dev)
	}
}
