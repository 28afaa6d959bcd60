// pkg/camera/camera.go
package camera

import (
	"context"
	"errors"
	"image"
)

var (
	ErrPermissionDenied      = errors.New("camera permission denied")
	ErrNoDevice              = errors.New("no camera device available")
	ErrTrackClosed           = errors.New("camera track closed")
	ErrUnsupportedConstraint = errors.New("constraint not supported by device")
)

type DeviceType int

const (
	USBCamera DeviceType = iota
	PiCamera
	VirtualCamera
)

func (t DeviceType) String() string {
	switch t {
	case USBCamera:
		return "usb"
	case PiCamera:
		return "pi"
	case VirtualCamera:
		return "virtual"
	}
	return "unknown"
}

// Facing is the direction a camera points relative to the operator.
type Facing string

const (
	FacingUnknown     Facing = ""
	FacingEnvironment Facing = "environment"
	FacingUser        Facing = "user"
)

type Device struct {
	ID          string
	Name        string
	IsAvailable bool
	DeviceType  DeviceType
	Facing      Facing
}

type StreamConfig struct {
	DeviceID  string
	Facing    Facing
	Width     int
	Height    int
	Framerate int
}

// Range is a closed interval of native device values.
type Range struct {
	Min float64
	Max float64
}

func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

func (r Range) Mid() float64 {
	return (r.Min + r.Max) / 2
}

type FocusMode string

const (
	FocusContinuous FocusMode = "continuous"
	FocusManual     FocusMode = "manual"
)

// Capabilities is what a track reports about its optional controls.
// A nil range means the control is not present.
type Capabilities struct {
	FocusDistance *Range
	Brightness    *Range
	FocusModes    []FocusMode
}

func (c Capabilities) SupportsFocusMode(mode FocusMode) bool {
	for _, m := range c.FocusModes {
		if m == mode {
			return true
		}
	}
	return false
}

// Constraints is a partial update; zero fields are left untouched.
type Constraints struct {
	FocusMode     FocusMode
	FocusDistance *float64
	Brightness    *float64
}

// Float returns a pointer to v, for building Constraints.
func Float(v float64) *float64 {
	return &v
}

// Track is an open video stream from one device.
type Track interface {
	Device() Device
	Capabilities() Capabilities
	ApplyConstraints(ctx context.Context, c Constraints) error
	ReadFrame(ctx context.Context) (image.Image, error)
	Close() error
}

// Manager is the platform camera API: discovery and acquisition.
type Manager interface {
	ScanDevices(ctx context.Context) ([]Device, error)
	OpenCamera(ctx context.Context, config StreamConfig) (Track, error)
}

type DeviceEventKind int

const (
	DeviceAdded DeviceEventKind = iota
	DeviceRemoved
)

func (k DeviceEventKind) String() string {
	if k == DeviceRemoved {
		return "removed"
	}
	return "added"
}

type DeviceEvent struct {
	Kind DeviceEventKind
	Path string
}

// DeviceNotifier delivers device-change notifications. The channel is closed
// when the notifier is closed.
type DeviceNotifier interface {
	Events() <-chan DeviceEvent
	Close() error
}
