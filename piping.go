// Package piping tunables.
package piping

const (
	// FanoutChunkSize is the size in bytes of a single chunk read from the
	// source stream and handed to every receiver.
	FanoutChunkSize = 0x10000
	// MaxFanoutWindow is the maximum value allowed for FanoutWindow.
	MaxFanoutWindow = 64
)

var (
	// FanoutWindow is the number of chunks allowed in flight per receiver
	// before the source stream is paused (configurable).
	FanoutWindow = 8 // usually 8
)

// sanity check the configuration
func init() {
	if FanoutChunkSize < 1 {
		panic("FanoutChunkSize < 1")
	}
	if FanoutWindow < 1 {
		panic("FanoutWindow < 1")
	}
	if FanoutWindow > MaxFanoutWindow {
		panic("FanoutWindow > MaxFanoutWindow")
	}
}
