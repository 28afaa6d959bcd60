package capture

import (
	"math"

	"github.com/AlverezYari/finecam/pkg/camera"
)

const (
	PercentMin = 0
	PercentMax = 100

	// defaultFocusPercent matches the slider position the operator sees before
	// touching manual focus.
	defaultFocusPercent = 100
)

// CapabilityProfile is computed once per acquisition. A nil field means the
// control is unsupported and its UI is hidden.
type CapabilityProfile struct {
	Focus      *camera.Range
	Brightness *camera.Range
}

func (p *CapabilityProfile) FocusSupported() bool {
	return p != nil && p.Focus != nil
}

func (p *CapabilityProfile) BrightnessSupported() bool {
	return p != nil && p.Brightness != nil
}

func (p *CapabilityProfile) clone() *CapabilityProfile {
	if p == nil {
		return nil
	}
	out := &CapabilityProfile{}
	if p.Focus != nil {
		r := *p.Focus
		out.Focus = &r
	}
	if p.Brightness != nil {
		r := *p.Brightness
		out.Brightness = &r
	}
	return out
}

func profileFrom(caps camera.Capabilities) CapabilityProfile {
	var p CapabilityProfile
	if caps.FocusDistance != nil && caps.FocusDistance.Max >= caps.FocusDistance.Min {
		r := *caps.FocusDistance
		p.Focus = &r
	}
	if caps.Brightness != nil && caps.Brightness.Max >= caps.Brightness.Min {
		r := *caps.Brightness
		p.Brightness = &r
	}
	return p
}

// FocusMapping maps a 0-100 slider position onto the device's native focus
// range by linear interpolation. Inputs outside 0-100 map outside the range.
func FocusMapping(r camera.Range, percent float64) float64 {
	v := r.Min + (r.Max-r.Min)*(percent/PercentMax)
	if percent >= PercentMin && percent <= PercentMax {
		// absorb float rounding at the endpoints
		v = math.Max(r.Min, math.Min(r.Max, v))
	}
	return v
}

func defaultControls(p CapabilityProfile) Controls {
	c := Controls{FocusPercent: defaultFocusPercent}
	if p.Focus != nil {
		c.FocusDistance = FocusMapping(*p.Focus, defaultFocusPercent)
	}
	if p.Brightness != nil {
		c.Brightness = p.Brightness.Mid()
	}
	return c
}
