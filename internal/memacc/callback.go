package memacc

// ReadFn services a read for a callback accessor.
type ReadFn func(address uint32, p []byte)

// CBAccessor maps a read-only address range onto a live device, such as
// memory mapped flash behind its controller.
type CBAccessor struct {
	Span
	read ReadFn
}

// NewCBAccessor creates an accessor for [startAddr, endAddr].
func NewCBAccessor(startAddr, endAddr uint32, read ReadFn) *CBAccessor {
	return &CBAccessor{
		Span: Span{Start: startAddr, End: endAddr, Kind: KindDevice},
		read: read,
	}
}

// ReadBytes implements Accessor.
func (c *CBAccessor) ReadBytes(address uint32, p []byte) uint32 {
	n := c.Avail(address, uint32(len(p)))
	if n > 0 && c.read != nil {
		c.read(address, p[:n])
	}
	return n
}

// WriteBytes always fails; the range is read-only.
func (c *CBAccessor) WriteBytes(address uint32, p []byte) uint32 {
	return 0
}
