// Package config holds functional options for constructing an Emulator,
// following the same option-func idiom as dmgcore/serial.LogSinkOption.
package config

// Config collects engine-construction options. The palette is deliberately
// absent: the host owns color mapping, the engine only ever emits 0..3
// color indices (spec.md §6).
type Config struct {
	MasterVolume      float32
	CompletionMax     uint64
	CompletionMinLoop int
}

// Option mutates a Config during construction.
type Option func(*Config)

// Default returns the Config New/NewWithFile start from before options apply.
func Default() Config {
	return Config{MasterVolume: 1.0}
}

// WithMasterVolume sets the initial output gain, in [0, 1]. Values outside
// that range are clamped by audio.Sink.SetMasterVolume.
func WithMasterVolume(v float32) Option {
	return func(c *Config) { c.MasterVolume = v }
}

// WithCompletionDetection configures the headless "has this test ROM
// finished" heuristic used by RunUntilComplete: a hard frame cap, and a
// minimum number of consecutive frames PC must hold steady before the
// engine treats the ROM as having reached its terminal spin loop.
func WithCompletionDetection(maxFrames uint64, minLoopCount int) Option {
	return func(c *Config) {
		c.CompletionMax = maxFrames
		c.CompletionMinLoop = minLoopCount
	}
}

// Apply folds opts onto Default() and returns the resulting Config.
func Apply(opts ...Option) Config {
	c := Default()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
