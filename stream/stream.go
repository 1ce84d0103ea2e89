// Package stream runs frame acquisition in the background and delivers rendered frames over a
// channel. Configuration travels the other way through a single-slot channel: producers replace
// whatever is pending, and the acquisition loop picks up the newest value once per cycle.
package stream

import (
	"context"
	"time"

	"github.com/mtraver/thermalcam/measurement"
	"github.com/mtraver/thermalcam/render"
	"github.com/mtraver/thermalcam/sensor"
	"github.com/mtraver/thermalcam/settings"
)

type Config struct {
	settings.Settings

	// Bounds fixes the temperature span of the color scale. The zero value uses each frame's
	// own minimum and maximum.
	Bounds render.Bounds
}

// BoundsFor returns the color scale span to use for f.
func (c Config) BoundsFor(f *measurement.Frame) render.Bounds {
	if c.Bounds == (render.Bounds{}) {
		return render.FrameBounds(f)
	}
	return c.Bounds
}

// Result is one cycle of the loop: either a frame and its rendering, or an error.
type Result struct {
	Frame  measurement.Frame
	Image  render.RGB
	Config Config
	Err    error
}

// NewSlot returns a channel suitable for Offer.
func NewSlot() chan Config {
	return make(chan Config, 1)
}

// Offer places cfg in slot without blocking, replacing any configuration not yet picked up.
// slot must have a buffer of exactly one.
func Offer(slot chan Config, cfg Config) {
	for {
		select {
		case slot <- cfg:
			return
		default:
		}

		select {
		case <-slot:
		default:
		}
	}
}

type Options struct {
	// RetryInterval is waited after a failed cycle before trying again.
	RetryInterval time.Duration
}

var DefaultOpts = Options{
	RetryInterval: 2 * time.Second,
}

// Run acquires frames from s until ctx is done, sending one Result per cycle to out. It
// returns ctx.Err(). Errors from the sensor are delivered as Results and never stop the loop.
func Run(ctx context.Context, s sensor.Sensor, initial Config, cfgs <-chan Config, out chan<- Result, opts Options) error {
	cfg := initial

	// current is the framerate the sensor last accepted. A rejected change is retried every cycle
	// until it takes.
	var current sensor.Framerate
	applied := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		select {
		case next := <-cfgs:
			cfg = next
		default:
		}

		if !applied || cfg.Framerate != current {
			if err := s.SetFramerate(cfg.Framerate); err != nil {
				if !send(ctx, out, Result{Config: cfg, Err: err}) || !wait(ctx, opts.RetryInterval) {
					return ctx.Err()
				}
			} else {
				current, applied = cfg.Framerate, true
			}
		}

		r := cycle(s, cfg)
		if !send(ctx, out, r) {
			return ctx.Err()
		}

		if r.Err != nil && !wait(ctx, opts.RetryInterval) {
			return ctx.Err()
		}
	}
}

func cycle(s sensor.Sensor, cfg Config) Result {
	f, err := s.Sense()
	if err != nil {
		return Result{Config: cfg, Err: err}
	}

	img := render.Render(&f, cfg.Scheme, cfg.BoundsFor(&f))
	if cfg.LeftHanded {
		img = render.Rotate180(img)
	}

	return Result{Frame: f, Image: img, Config: cfg}
}

func send(ctx context.Context, out chan<- Result, r Result) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// wait sleeps for d. It returns false if ctx is done first.
func wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
