package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
)

// Synthetic is a Manager that renders a deterministic test pattern. It backs
// the --synthetic CLI mode and the pipeline tests.
type Synthetic struct {
	Width        int
	Height       int
	Capabilities Capabilities
	Devices      []Device

	// OpenErr, when set, makes every OpenCamera call fail with it.
	OpenErr error
	// ApplyErr, when set, makes every ApplyConstraints call fail with it.
	ApplyErr error
	// BeforeOpen runs at the start of OpenCamera; tests use it to hold an
	// acquisition in flight.
	BeforeOpen func(ctx context.Context) error

	mu     sync.Mutex
	tracks []*SyntheticTrack

	opens  atomic.Int64
	closes atomic.Int64
}

func NewSynthetic(width, height int) *Synthetic {
	return &Synthetic{
		Width:  width,
		Height: height,
		Capabilities: Capabilities{
			FocusDistance: &Range{Min: 0, Max: 255},
			Brightness:    &Range{Min: 0, Max: 200},
			FocusModes:    []FocusMode{FocusContinuous, FocusManual},
		},
		Devices: []Device{
			{ID: "synthetic-0", Name: "Synthetic Camera", IsAvailable: true, DeviceType: VirtualCamera, Facing: FacingEnvironment},
		},
	}
}

func (s *Synthetic) ScanDevices(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Device, len(s.Devices))
	copy(out, s.Devices)
	return out, nil
}

func (s *Synthetic) OpenCamera(ctx context.Context, config StreamConfig) (Track, error) {
	if s.BeforeOpen != nil {
		if err := s.BeforeOpen(ctx); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}

	devices, _ := s.ScanDevices(ctx)
	device, err := PickDevice(devices, config)
	if err != nil {
		return nil, err
	}

	width, height := s.Width, s.Height
	if width <= 0 || height <= 0 {
		width, height = config.Width, config.Height
	}

	t := &SyntheticTrack{
		owner:  s,
		device: device,
		width:  width,
		height: height,
		caps:   s.Capabilities,
	}
	s.opens.Add(1)

	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
	return t, nil
}

// Opens reports how many tracks were successfully opened.
func (s *Synthetic) Opens() int { return int(s.opens.Load()) }

// Closes reports how many tracks were closed.
func (s *Synthetic) Closes() int { return int(s.closes.Load()) }

// Tracks returns every track opened so far, oldest first.
func (s *Synthetic) Tracks() []*SyntheticTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*SyntheticTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// OpenTracks counts tracks that have not been closed.
func (s *Synthetic) OpenTracks() int {
	n := 0
	for _, t := range s.Tracks() {
		if !t.Closed() {
			n++
		}
	}
	return n
}

type SyntheticTrack struct {
	owner  *Synthetic
	device Device
	width  int
	height int
	caps   Capabilities

	mu      sync.Mutex
	closed  bool
	applied []Constraints
}

func (t *SyntheticTrack) Device() Device { return t.device }

func (t *SyntheticTrack) Capabilities() Capabilities { return t.caps }

func (t *SyntheticTrack) ApplyConstraints(ctx context.Context, c Constraints) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTrackClosed
	}
	if t.owner.ApplyErr != nil {
		return t.owner.ApplyErr
	}
	if c.FocusDistance != nil && t.caps.FocusDistance == nil {
		return fmt.Errorf("focus distance: %w", ErrUnsupportedConstraint)
	}
	if c.Brightness != nil && t.caps.Brightness == nil {
		return fmt.Errorf("brightness: %w", ErrUnsupportedConstraint)
	}
	t.applied = append(t.applied, c)
	return nil
}

// Applied returns the constraints accepted by this track, in order.
func (t *SyntheticTrack) Applied() []Constraints {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Constraints, len(t.applied))
	copy(out, t.applied)
	return out
}

func (t *SyntheticTrack) ReadFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, ErrTrackClosed
	}
	return TestPattern(t.width, t.height), nil
}

func (t *SyntheticTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.owner.closes.Add(1)
	return nil
}

func (t *SyntheticTrack) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// TestPattern renders the synthetic frame. Every pixel is a pure function of
// its coordinates so crops can be compared against the source.
func TestPattern(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x),
				G: uint8(y),
				B: uint8((x / 8) ^ (y / 8)),
				A: 0xff,
			})
		}
	}
	return img
}
