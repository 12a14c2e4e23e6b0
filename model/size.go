package model

// Size is the aggregate payload size of the chunk's lines in bytes.
func (c *LogChunk) Size() int {
	size := 0
	for _, line := range c.Lines {
		size += line.Size()
	}

	return size
}

// Oversized reports whether the chunk's payload exceeds maxSize.
func (c *LogChunk) Oversized(maxSize int) bool {
	return c.Size() > maxSize
}
