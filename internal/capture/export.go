package capture

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"strings"
)

const (
	FullImageName    = "fullImage.png"
	CroppedImageName = "croppedImage.png"

	dataURLPrefix = "data:image"
	pngHeader     = "data:image/png;base64,"
)

// File is a binary image artifact ready for a multipart upload.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
}

func (f *File) Decode() (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Name, err)
	}
	return img, nil
}

// Photo is the pair handed to the caller on every successful save.
type Photo struct {
	FullImage    *File
	CroppedImage *File
}

// EncodeDataURL encodes img as a PNG data URI.
func EncodeDataURL(img image.Image) (string, error) {
	if img == nil || img.Bounds().Empty() {
		return "", fmt.Errorf("%w: canvas is empty", ErrEncode)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return pngHeader + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DataURLToFile converts an image data URI into a File. The MIME type comes
// from the URI header.
func DataURLToFile(dataURL, filename string) (*File, error) {
	if dataURL == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidDataURL)
	}

	header, payload, ok := strings.Cut(dataURL, ",")
	if !ok || !strings.HasPrefix(header, dataURLPrefix) {
		return nil, fmt.Errorf("%w: format", ErrInvalidDataURL)
	}

	mime, params, ok := strings.Cut(strings.TrimPrefix(header, "data:"), ";")
	if !ok || mime == "" || params != "base64" {
		return nil, fmt.Errorf("%w: header %q", ErrInvalidDataURL, header)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidDataURL)
	}

	return &File{Name: filename, MIMEType: mime, Data: data}, nil
}

// decodeDataURL turns an image data URI back into pixels.
func decodeDataURL(dataURL string) (image.Image, error) {
	f, err := DataURLToFile(dataURL, "")
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return img, nil
}
