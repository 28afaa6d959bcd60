package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/AlverezYari/finecam/internal/capture"
	"github.com/AlverezYari/finecam/internal/session"
)

var (
	ErrImageRequired  = errors.New("vehicle image is required")
	ErrRulingRequired = errors.New("ruling decision number is required")
)

const vehicleImageName = "vehicleImagePath.png"

type Fine struct {
	RulingDecisionNum string `json:"rulingDecisionNum"`
	DateOfOffence     string `json:"dateOfOffence"`
	VehicleImagePath  string `json:"vehicleImagePath"`
}

// ImageURL resolves the stored image path against the image host.
func (f *Fine) ImageURL(base string) string {
	if f.VehicleImagePath == "" {
		return ""
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(f.VehicleImagePath, "/")
}

// FineForm is what an operator submits: the cropped vehicle photo and the
// ruling decision number.
type FineForm struct {
	RulingDecisionNum string
	VehicleImage      *capture.File
}

// Validate reports every missing field at once.
func (f FineForm) Validate() error {
	var errs []error
	if f.VehicleImage == nil || len(f.VehicleImage.Data) == 0 {
		errs = append(errs, ErrImageRequired)
	}
	if strings.TrimSpace(f.RulingDecisionNum) == "" {
		errs = append(errs, ErrRulingRequired)
	}
	return errors.Join(errs...)
}

func (f FineForm) encode() (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	mimeType := f.VehicleImage.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="VehicleImagePath"; filename="%s"`, vehicleImageName))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(f.VehicleImage.Data); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("RulingDecisionNum", strings.TrimSpace(f.RulingDecisionNum)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// CreateFine registers a fine. Only operators with the user role may do this.
func (c *Client) CreateFine(ctx context.Context, s *session.Session, form FineForm) error {
	if err := authorize(s, session.RoleUser); err != nil {
		return err
	}
	if err := form.Validate(); err != nil {
		return err
	}
	body, contentType, err := form.encode()
	if err != nil {
		return fmt.Errorf("failed to build form: %w", err)
	}

	_, err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "user/create-new-fine",
		body:        body,
		contentType: contentType,
		session:     s,
	})
	if err != nil {
		return err
	}
	c.logger.Info().Str("ruling", form.RulingDecisionNum).Int("image_bytes", len(form.VehicleImage.Data)).Msg("Fine created")
	return nil
}

// GetFine looks a fine up by ruling decision number. A success response with
// no results is ErrFineNotFound.
func (c *Client) GetFine(ctx context.Context, s *session.Session, rulingDecisionNum string) (*Fine, error) {
	if err := authorize(s, session.RoleAdmin, session.RoleUser); err != nil {
		return nil, err
	}
	rulingDecisionNum = strings.TrimSpace(rulingDecisionNum)
	if rulingDecisionNum == "" {
		return nil, ErrRulingRequired
	}

	env, err := c.do(ctx, request{
		method:  http.MethodGet,
		path:    "user/get-fine",
		query:   url.Values{"rulingDecisionNum": {rulingDecisionNum}},
		session: s,
	})
	if err != nil {
		return nil, err
	}
	if env.empty() {
		return nil, ErrFineNotFound
	}

	var fine Fine
	if err := decodeResults(env, &fine); err != nil {
		return nil, err
	}
	return &fine, nil
}
