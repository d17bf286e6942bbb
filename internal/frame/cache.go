package frame

// BufferCache owns the per-resolution working buffers of the pipeline.
// The packed buffer is reallocated only when the source size changes and the
// normalized buffer only when the input size changes. Not safe for concurrent
// use; the admission gate serializes its users.
type BufferCache struct {
	packed     *PackedFrame
	normalized *NormalizedFrame

	allocations int
}

// NewBufferCache creates an empty cache
func NewBufferCache() *BufferCache {
	return &BufferCache{}
}

// Packed returns a buffer for a width x height frame
func (c *BufferCache) Packed(width, height int) *PackedFrame {
	if c.packed == nil || c.packed.Width != width || c.packed.Height != height {
		c.packed = NewPackedFrame(width, height)
		c.allocations++
	}
	return c.packed
}

// Normalized returns a buffer for a size x size input
func (c *BufferCache) Normalized(size int) *NormalizedFrame {
	if c.normalized == nil || c.normalized.Width != size {
		c.normalized = NewNormalizedFrame(size)
		c.allocations++
	}
	return c.normalized
}

// Allocations reports how many buffers were allocated so far
func (c *BufferCache) Allocations() int {
	return c.allocations
}
