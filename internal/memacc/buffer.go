package memacc

// BufferAccessor backs a range with a byte slice, such as simulated RAM.
type BufferAccessor struct {
	Span
	Buffer []byte
}

// NewBufferAccessor maps buffer at startAddr.
func NewBufferAccessor(startAddr uint32, buffer []byte) *BufferAccessor {
	b := &BufferAccessor{}
	b.Reset(startAddr, buffer)
	return b
}

// ReadBytes implements Accessor.
func (b *BufferAccessor) ReadBytes(address uint32, p []byte) uint32 {
	n := b.Avail(address, uint32(len(p)))
	if n > 0 {
		off := address - b.Start
		copy(p, b.Buffer[off:off+n])
	}
	return n
}

// WriteBytes implements Accessor.
func (b *BufferAccessor) WriteBytes(address uint32, p []byte) uint32 {
	n := b.Avail(address, uint32(len(p)))
	if n > 0 {
		off := address - b.Start
		copy(b.Buffer[off:off+n], p)
	}
	return n
}

// Reset remaps the accessor onto a new buffer.
func (b *BufferAccessor) Reset(startAddr uint32, buffer []byte) {
	b.Span = Span{Start: startAddr, End: startAddr + uint32(len(buffer)) - 1, Kind: KindRAM}
	b.Buffer = buffer
}
