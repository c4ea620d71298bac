package gojs

import (
	"crypto/rand"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
)

// Clock supplies the two time sources the guest imports. NanoTime must be
// monotonic for the lifetime of the engine; WallTime returns the current wall
// clock split into epoch seconds and residual nanoseconds.
type Clock interface {
	NanoTime() int64
	WallTime() (sec int64, nsec int32)
}

type systemClock struct {
	start time.Time
}

// NewClock returns a Clock backed by the system time. The monotonic reading
// starts at zero when the clock is created.
func NewClock() Clock {
	return &systemClock{start: time.Now()}
}

func (c *systemClock) NanoTime() int64 {
	return int64(time.Since(c.start))
}

func (c *systemClock) WallTime() (int64, int32) {
	now := time.Now()
	return now.Unix(), int32(now.Nanosecond())
}

// Config carries the host resources the engine exposes to the guest. The zero
// value is usable: missing fields fall back to the process stdio, the system
// clock, the crypto random source and a no-op logger.
type Config struct {
	Stdout io.Writer
	Stderr io.Writer
	Rand   io.Reader
	Clock  Clock
	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
	if c.Clock == nil {
		c.Clock = NewClock()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
