// Package capture implements the photo pipeline behind fine registration:
// camera session, capability controls, still capture, fixed-aspect crop and
// PNG export.
package capture

import (
	"errors"

	"github.com/AlverezYari/finecam/pkg/camera"
)

var (
	ErrNotStreaming   = errors.New("camera is not streaming")
	ErrNotEditing     = errors.New("no capture is being edited")
	ErrDisabled       = errors.New("camera is disabled until restarted")
	ErrCaptureFailed  = errors.New("failed to capture frame")
	ErrEncode         = errors.New("failed to encode image")
	ErrInvalidDataURL = errors.New("invalid data URL")
)

// State is the single pipeline state. Idle holds no stream, Streaming holds
// one, Editing holds a frozen frame (and usually the stream), Disabled means
// the last acquisition failed.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateDisabled
	StateEditing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateDisabled:
		return "disabled"
	case StateEditing:
		return "editing"
	}
	return "unknown"
}

// Controls is the operator-facing side of the capability adapter.
type Controls struct {
	ManualFocus      bool
	FocusPercent     float64
	FocusDistance    float64
	ManualBrightness bool
	Brightness       float64
}

// Status is a point-in-time copy of the pipeline for UIs.
type Status struct {
	State           State
	CameraAvailable bool
	Device          camera.Device
	Profile         *CapabilityProfile
	Controls        Controls
	Crop            CropRegion
	FrameID         string
	FrameWidth      int
	FrameHeight     int
	LastError       string
}
