// Package gocvcam implements camera.Manager on top of OpenCV's VideoCapture.
package gocvcam

import (
	"context"
	"fmt"
	"image"
	"math"
	"strconv"
	"sync"

	"github.com/AlverezYari/finecam/pkg/camera"
	"gocv.io/x/gocv"
)

const builtinCamera = "Built-in Camera"

// Options carries what OpenCV cannot report itself. V4L2 exposes control
// ranges, but VideoCapture only returns current values.
type Options struct {
	MaxProbe        int
	FocusRange      *camera.Range
	BrightnessRange *camera.Range
}

type Manager struct {
	opts Options
}

func New(opts Options) *Manager {
	if opts.MaxProbe <= 0 {
		opts.MaxProbe = 5
	}
	return &Manager{opts: opts}
}

func (m *Manager) ScanDevices(ctx context.Context) ([]camera.Device, error) {
	// Try to open cameras sequentially to find available ones; index 0 is
	// usually the built-in webcam.
	var devices []camera.Device
	for i := 0; i < m.opts.MaxProbe; i++ {
		if err := ctx.Err(); err != nil {
			return devices, err
		}
		vc, err := gocv.OpenVideoCapture(i)
		if err != nil {
			continue
		}
		opened := vc.IsOpened()
		vc.Close()
		if !opened {
			continue
		}

		name := fmt.Sprintf("Camera %d", i)
		if i == 0 {
			name = builtinCamera
		}
		devices = append(devices, camera.Device{
			ID:          strconv.Itoa(i),
			Name:        name,
			IsAvailable: true,
			DeviceType:  camera.USBCamera,
		})
	}
	return devices, nil
}

func (m *Manager) OpenCamera(ctx context.Context, config camera.StreamConfig) (camera.Track, error) {
	devices, err := m.ScanDevices(ctx)
	if err != nil {
		return nil, err
	}
	device, err := camera.PickDevice(devices, config)
	if err != nil {
		return nil, err
	}

	index, err := deviceIndex(device.ID)
	if err != nil {
		return nil, err
	}

	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("error opening camera %s: %w", device.ID, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("camera %s is not open: %w", device.ID, camera.ErrNoDevice)
	}

	if config.Width > 0 && config.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(config.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(config.Height))
	}
	if config.Framerate > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(config.Framerate))
	}

	t := &track{
		vc:     vc,
		frame:  gocv.NewMat(),
		device: device,
	}
	t.caps = m.probe(vc)
	return t, nil
}

func (m *Manager) probe(vc *gocv.VideoCapture) camera.Capabilities {
	var caps camera.Capabilities
	if m.opts.FocusRange != nil && reported(vc.Get(gocv.VideoCaptureFocus)) {
		r := *m.opts.FocusRange
		caps.FocusDistance = &r
		caps.FocusModes = append(caps.FocusModes, camera.FocusManual)
	}
	if reported(vc.Get(gocv.VideoCaptureAutoFocus)) {
		caps.FocusModes = append(caps.FocusModes, camera.FocusContinuous)
	}
	if m.opts.BrightnessRange != nil && reported(vc.Get(gocv.VideoCaptureBrightness)) {
		r := *m.opts.BrightnessRange
		caps.Brightness = &r
	}
	return caps
}

// OpenCV backends answer -1 (or NaN) for properties they do not implement.
func reported(v float64) bool {
	return !math.IsNaN(v) && v != -1
}

func deviceIndex(id string) (int, error) {
	if id == builtinCamera {
		return 0, nil
	}
	index, err := strconv.Atoi(id)
	if err != nil {
		return 0, fmt.Errorf("invalid device ID: %s", id)
	}
	return index, nil
}

type track struct {
	mu     sync.Mutex
	vc     *gocv.VideoCapture
	frame  gocv.Mat
	device camera.Device
	caps   camera.Capabilities
	closed bool
}

func (t *track) Device() camera.Device { return t.device }

func (t *track) Capabilities() camera.Capabilities { return t.caps }

func (t *track) ApplyConstraints(ctx context.Context, c camera.Constraints) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return camera.ErrTrackClosed
	}

	switch c.FocusMode {
	case camera.FocusContinuous:
		if !t.caps.SupportsFocusMode(camera.FocusContinuous) {
			return fmt.Errorf("auto focus: %w", camera.ErrUnsupportedConstraint)
		}
		t.vc.Set(gocv.VideoCaptureAutoFocus, 1)
	case camera.FocusManual:
		t.vc.Set(gocv.VideoCaptureAutoFocus, 0)
	}

	if c.FocusDistance != nil {
		if t.caps.FocusDistance == nil {
			return fmt.Errorf("focus distance: %w", camera.ErrUnsupportedConstraint)
		}
		t.vc.Set(gocv.VideoCaptureFocus, *c.FocusDistance)
	}
	if c.Brightness != nil {
		if t.caps.Brightness == nil {
			return fmt.Errorf("brightness: %w", camera.ErrUnsupportedConstraint)
		}
		t.vc.Set(gocv.VideoCaptureBrightness, *c.Brightness)
	}
	return nil
}

func (t *track) ReadFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, camera.ErrTrackClosed
	}

	if ok := t.vc.Read(&t.frame); !ok || t.frame.Empty() {
		return nil, fmt.Errorf("failed to read frame from camera %s", t.device.ID)
	}
	img, err := t.frame.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	return img, nil
}

func (t *track) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.frame.Close()
	if err := t.vc.Close(); err != nil {
		return fmt.Errorf("error closing camera %s: %w", t.device.ID, err)
	}
	return nil
}
