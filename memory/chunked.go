package memory

// ChunkedRead reads size bytes at addr in cfg.ChunkSize pieces through read,
// which performs one bounded read against the target. On the first failing
// piece it stops: the returned buffer keeps full length with everything read
// so far in place and the remainder zeroed, and failed holds the address of
// the piece that failed. There are no per-piece retries. failed is zero when
// every piece landed.
func ChunkedRead(addr Address, size Size, cfg Config, read func(Address, Size) ([]byte, error)) (buf []byte, failed Address) {
	chunk := cfg.ChunkSize
	if chunk == 0 {
		chunk = DefaultConfig().ChunkSize
	}

	buf = make([]byte, size)
	for done := Size(0); done < size; done += chunk {
		n := chunk
		if size-done < n {
			n = size - done
		}

		at := addr + Address(done)
		data, err := read(at, n)
		if err != nil {
			return buf, at
		}
		copy(buf[done:], data)
	}

	return buf, 0
}
