package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"golang.org/x/image/draw"

	"github.com/AlverezYari/finecam/internal/capture"
)

const previewQuality = 75

// RunPreview pushes JPEG frames of the live stream to every preview socket
// until ctx is done. Nothing is read from the camera while no one watches.
func (s *Server) RunPreview(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.PreviewFPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.Clients() == 0 {
			continue
		}
		frame, err := s.camera.LiveFrame(ctx)
		if err != nil {
			if !errors.Is(err, capture.ErrNotStreaming) && ctx.Err() == nil {
				s.logger.Debug().Err(err).Msg("Preview frame unavailable")
			}
			continue
		}
		data, err := encodePreview(frame, s.cfg.PreviewWidth)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Error encoding preview frame")
			continue
		}
		s.BroadcastFrame(data)
		s.metrics.previewFrames.Inc()
	}
}

// encodePreview downscales img to width (keeping aspect) and encodes JPEG.
// A width of zero or wider than the frame keeps the native size.
func encodePreview(img image.Image, width int) ([]byte, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	out := img
	if width > 0 && width < b.Dx() {
		height := b.Dy() * width / b.Dx()
		if height < 1 {
			height = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: previewQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
