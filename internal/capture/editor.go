package capture

import (
	"context"
	"fmt"
	"strings"
)

// Crop returns the current crop box. Empty outside Editing.
func (p *Pipeline) Crop() CropRegion {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.crop
}

// MoveCrop shifts the crop box by (dx, dy) pixels. The box size never changes
// and the box never leaves the frame.
func (p *Pipeline) MoveCrop(dx, dy int) (CropRegion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateEditing || p.frame == nil {
		return CropRegion{}, ErrNotEditing
	}
	b := p.frame.Image.Bounds()
	// saturate so the sum cannot overflow
	dx = clampInt(dx, -b.Dx(), b.Dx())
	dy = clampInt(dy, -b.Dy(), b.Dy())
	p.crop = p.crop.MoveTo(p.crop.X+dx, p.crop.Y+dy, b)
	return p.crop, nil
}

// SetCropOrigin places the crop box's top-left corner at (x, y), clamped to
// the frame.
func (p *Pipeline) SetCropOrigin(x, y int) (CropRegion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateEditing || p.frame == nil {
		return CropRegion{}, ErrNotEditing
	}
	p.crop = p.crop.MoveTo(x, y, p.frame.Image.Bounds())
	return p.crop, nil
}

// Save renders the crop at native resolution and hands both PNG artifacts to
// the photo callback exactly once. On error nothing is handed over and the
// editor stays open.
func (p *Pipeline) Save(ctx context.Context) (Photo, error) {
	if err := ctx.Err(); err != nil {
		return Photo{}, err
	}

	p.mu.Lock()
	if p.state != StateEditing || p.frame == nil {
		p.mu.Unlock()
		return Photo{}, ErrNotEditing
	}
	frame, crop := p.frame, p.crop
	p.mu.Unlock()

	photo, err := renderPhoto(frame, crop)
	if err != nil {
		p.logger.Error().Err(err).Str("frame", frame.ID).Msg("Error saving cropped image")
		return Photo{}, err
	}

	p.mu.Lock()
	if p.frame != frame {
		p.mu.Unlock()
		return Photo{}, ErrNotEditing
	}
	p.frame = nil
	p.crop = CropRegion{}
	if p.track != nil {
		p.state = StateStreaming
	} else {
		p.state = StateIdle
	}
	p.lastPhoto = &photo
	setPhoto := p.opts.SetPhoto
	p.mu.Unlock()

	p.logger.Info().
		Str("frame", frame.ID).
		Int("x", crop.X).
		Int("y", crop.Y).
		Int("width", crop.Width).
		Int("height", crop.Height).
		Msg("Cropped image saved")

	if setPhoto != nil {
		setPhoto(photo)
	}
	return photo, nil
}

// Cancel discards the frozen frame and returns to the live view.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateEditing {
		return
	}
	p.frame = nil
	p.crop = CropRegion{}
	if p.track != nil {
		p.state = StateStreaming
	} else {
		p.state = StateIdle
	}
	p.logger.Debug().Msg("Crop cancelled")
}

func renderPhoto(frame *CapturedFrame, crop CropRegion) (Photo, error) {
	cropped, err := cropImage(frame.Image, crop)
	if err != nil {
		return Photo{}, err
	}
	croppedURL, err := EncodeDataURL(cropped)
	if err != nil {
		return Photo{}, err
	}
	if !strings.HasPrefix(croppedURL, dataURLPrefix) {
		return Photo{}, fmt.Errorf("%w: cropped output is not an image", ErrInvalidDataURL)
	}
	return exportPhoto(frame.DataURL, croppedURL)
}

// exportPhoto converts both data URIs into named files. Either failing fails
// the whole export.
func exportPhoto(fullURL, croppedURL string) (Photo, error) {
	full, err := DataURLToFile(fullURL, FullImageName)
	if err != nil {
		return Photo{}, err
	}
	cropped, err := DataURLToFile(croppedURL, CroppedImageName)
	if err != nil {
		return Photo{}, err
	}
	return Photo{FullImage: full, CroppedImage: cropped}, nil
}
