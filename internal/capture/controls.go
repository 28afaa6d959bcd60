package capture

import (
	"context"

	"github.com/AlverezYari/finecam/pkg/camera"
)

// Every adjustment below reports whether it was applied. Unsupported
// controls, a stream that is restarting, out-of-range values and platform
// errors all leave the recorded value unchanged and return false.

// SetManualFocus toggles manual focus. Enabling it applies the current slider
// position; disabling it restores continuous auto-focus. The mode only flips
// once the device accepted the change.
func (p *Pipeline) SetManualFocus(ctx context.Context, on bool) bool {
	p.mu.Lock()
	if !p.readyLocked() || !p.profile.FocusSupported() {
		p.mu.Unlock()
		p.logger.Debug().Bool("manual", on).Msg("Focus toggle ignored: focus control unavailable")
		return false
	}
	r := *p.profile.Focus
	percent := p.controls.FocusPercent
	track, gen := p.track, p.gen
	p.mu.Unlock()

	if on {
		value, ok := p.applyFocus(ctx, track, r, percent)
		if !ok {
			return false
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.gen != gen {
			return false
		}
		p.controls.ManualFocus = true
		p.controls.FocusDistance = value
		return true
	}

	if err := track.ApplyConstraints(ctx, camera.Constraints{FocusMode: camera.FocusContinuous}); err != nil {
		p.logger.Warn().Err(err).Msg("Error enabling auto-focus")
		return false
	}
	p.logger.Debug().Msg("Auto-focus enabled")

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return false
	}
	p.controls.ManualFocus = false
	return true
}

// AdjustFocus maps percent (0-100) onto the native focus range and applies it.
// Only honoured while manual focus is on.
func (p *Pipeline) AdjustFocus(ctx context.Context, percent float64) bool {
	p.mu.Lock()
	if !p.readyLocked() || !p.profile.FocusSupported() || !p.controls.ManualFocus {
		p.mu.Unlock()
		p.logger.Debug().Float64("percent", percent).Msg("Focus adjustment ignored")
		return false
	}
	r := *p.profile.Focus
	track, gen := p.track, p.gen
	p.mu.Unlock()

	value, ok := p.applyFocus(ctx, track, r, percent)
	if !ok {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return false
	}
	p.controls.FocusPercent = percent
	p.controls.FocusDistance = value
	return true
}

func (p *Pipeline) applyFocus(ctx context.Context, track camera.Track, r camera.Range, percent float64) (float64, bool) {
	value := FocusMapping(r, percent)
	if !r.Contains(value) {
		p.logger.Error().
			Float64("value", value).
			Float64("min", r.Min).
			Float64("max", r.Max).
			Msg("Focus distance value is out of range")
		return 0, false
	}

	c := camera.Constraints{FocusMode: camera.FocusManual, FocusDistance: camera.Float(value)}
	if err := track.ApplyConstraints(ctx, c); err != nil {
		p.logger.Warn().Err(err).Msg("Error applying focus constraints")
		return 0, false
	}
	p.logger.Debug().Float64("focus", value).Msg("Focus constraints applied")
	return value, true
}

// SetManualBrightness toggles the brightness slider. Enabling it re-applies
// the current value; disabling leaves the device where it is.
func (p *Pipeline) SetManualBrightness(ctx context.Context, on bool) bool {
	p.mu.Lock()
	if !p.readyLocked() || !p.profile.BrightnessSupported() {
		p.mu.Unlock()
		p.logger.Debug().Bool("manual", on).Msg("Brightness toggle ignored: brightness control unavailable")
		return false
	}
	if !on {
		p.controls.ManualBrightness = false
		p.mu.Unlock()
		return true
	}
	r := *p.profile.Brightness
	value := p.controls.Brightness
	track, gen := p.track, p.gen
	p.mu.Unlock()

	if !p.applyBrightness(ctx, track, r, value) {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return false
	}
	p.controls.ManualBrightness = true
	return true
}

// AdjustBrightness applies a native brightness value. Only honoured while
// manual brightness is on.
func (p *Pipeline) AdjustBrightness(ctx context.Context, value float64) bool {
	p.mu.Lock()
	if !p.readyLocked() || !p.profile.BrightnessSupported() || !p.controls.ManualBrightness {
		p.mu.Unlock()
		p.logger.Debug().Float64("value", value).Msg("Brightness adjustment ignored")
		return false
	}
	r := *p.profile.Brightness
	track, gen := p.track, p.gen
	p.mu.Unlock()

	if !p.applyBrightness(ctx, track, r, value) {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return false
	}
	p.controls.Brightness = value
	return true
}

func (p *Pipeline) applyBrightness(ctx context.Context, track camera.Track, r camera.Range, value float64) bool {
	if !r.Contains(value) {
		p.logger.Error().
			Float64("value", value).
			Float64("min", r.Min).
			Float64("max", r.Max).
			Msg("Brightness value is out of range")
		return false
	}

	if err := track.ApplyConstraints(ctx, camera.Constraints{Brightness: camera.Float(value)}); err != nil {
		p.logger.Warn().Err(err).Msg("Error applying brightness constraints")
		return false
	}
	p.logger.Debug().Float64("brightness", value).Msg("Brightness constraints applied")
	return true
}

// readyLocked is true once the current stream's profile has been computed.
func (p *Pipeline) readyLocked() bool {
	return p.track != nil && p.profile != nil
}
