package capture

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
)

// CapturedFrame is one frozen frame at native resolution plus its encoded
// form. Immutable once created.
type CapturedFrame struct {
	ID         string
	Image      *image.RGBA
	DataURL    string
	CapturedAt time.Time
}

func (f *CapturedFrame) Width() int  { return f.Image.Bounds().Dx() }
func (f *CapturedFrame) Height() int { return f.Image.Bounds().Dy() }

// Capture freezes the current live frame and opens the crop editor on it with
// the default crop. The stream stays open underneath.
func (p *Pipeline) Capture(ctx context.Context) (*CapturedFrame, error) {
	p.mu.Lock()
	track, gen := p.track, p.gen
	p.mu.Unlock()

	if track == nil {
		return nil, ErrNotStreaming
	}

	img, err := track.ReadFrame(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("Error capturing frame")
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}

	frame, err := newFrame(img)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen || p.track == nil {
		return nil, fmt.Errorf("%w: stream changed during capture", ErrCaptureFailed)
	}
	p.frame = frame
	p.crop = DefaultCrop(frame.Width(), frame.Height(), p.opts.AutoCropArea)
	p.state = StateEditing

	p.logger.Info().
		Str("frame", frame.ID).
		Int("width", frame.Width()).
		Int("height", frame.Height()).
		Msg("Frame captured")
	return frame, nil
}

// Import opens the crop editor on an existing image data URI, e.g. a photo
// taken elsewhere. No stream is required, but a Disabled pipeline refuses
// until the next Start.
func (p *Pipeline) Import(dataURL string) (*CapturedFrame, error) {
	img, err := decodeDataURL(dataURL)
	if err != nil {
		return nil, err
	}
	frame, err := newFrame(img)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateDisabled {
		return nil, ErrDisabled
	}
	p.frame = frame
	p.crop = DefaultCrop(frame.Width(), frame.Height(), p.opts.AutoCropArea)
	p.state = StateEditing

	p.logger.Info().Str("frame", frame.ID).Msg("Image imported for cropping")
	return frame, nil
}

// LiveFrame reads one frame from the stream without changing state. Used by
// the preview broadcaster.
func (p *Pipeline) LiveFrame(ctx context.Context) (image.Image, error) {
	p.mu.Lock()
	track := p.track
	p.mu.Unlock()

	if track == nil {
		return nil, ErrNotStreaming
	}
	return track.ReadFrame(ctx)
}

// Frame returns the frame being edited, if any.
func (p *Pipeline) Frame() (*CapturedFrame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frame, p.frame != nil
}

func newFrame(img image.Image) (*CapturedFrame, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrCaptureFailed)
	}
	rgba := toRGBA(img)
	dataURL, err := EncodeDataURL(rgba)
	if err != nil {
		return nil, err
	}
	return &CapturedFrame{
		ID:         uuid.NewString(),
		Image:      rgba,
		DataURL:    dataURL,
		CapturedAt: time.Now(),
	}, nil
}
