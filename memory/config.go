package memory

import "time"

// Config carries the tunables every channel consults. Callers that do not
// care start from DefaultConfig and override individual fields.
type Config struct {
	// ChunkSize is the piece size used when a large read is split up
	ChunkSize Size

	// ChunkThreshold is the request size above which reads are chunked
	ChunkThreshold Size

	// MaxReadSize rejects single read requests larger than this up front
	MaxReadSize Size

	// MaxStringLength bounds null-terminated string reads
	MaxStringLength Size

	// ExecTimeout bounds one synthesized remote call
	ExecTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:       0x1000,
		ChunkThreshold:  0x100000,
		MaxReadSize:     0x10000000,
		MaxStringLength: 1024,
		ExecTimeout:     10 * time.Second,
	}
}
