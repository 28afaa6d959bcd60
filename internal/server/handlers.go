package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/AlverezYari/finecam/internal/capture"
)

const requestIDHeader = "X-Request-ID"

type ctxKey int

const requestIDKey ctxKey = iota

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.observeRequest(r, rec.status, time.Since(start))

		id, _ := r.Context().Value(requestIDKey).(string)
		s.logger.Debug().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	})
}

type cropJSON struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type rangeJSON struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type statusJSON struct {
	State            string     `json:"state"`
	CameraAvailable  bool       `json:"cameraAvailable"`
	DeviceID         string     `json:"deviceId,omitempty"`
	DeviceName       string     `json:"deviceName,omitempty"`
	FocusRange       *rangeJSON `json:"focusRange,omitempty"`
	BrightnessRange  *rangeJSON `json:"brightnessRange,omitempty"`
	ManualFocus      bool       `json:"manualFocus"`
	FocusPercent     float64    `json:"focusPercent"`
	ManualBrightness bool       `json:"manualBrightness"`
	Brightness       float64    `json:"brightness"`
	Crop             *cropJSON  `json:"crop,omitempty"`
	FrameID          string     `json:"frameId,omitempty"`
	FrameWidth       int        `json:"frameWidth,omitempty"`
	FrameHeight      int        `json:"frameHeight,omitempty"`
	LastError        string     `json:"lastError,omitempty"`
}

func toStatusJSON(st capture.Status) statusJSON {
	out := statusJSON{
		State:            st.State.String(),
		CameraAvailable:  st.CameraAvailable,
		DeviceID:         st.Device.ID,
		DeviceName:       st.Device.Name,
		ManualFocus:      st.Controls.ManualFocus,
		FocusPercent:     st.Controls.FocusPercent,
		ManualBrightness: st.Controls.ManualBrightness,
		Brightness:       st.Controls.Brightness,
		FrameID:          st.FrameID,
		FrameWidth:       st.FrameWidth,
		FrameHeight:      st.FrameHeight,
		LastError:        st.LastError,
	}
	if st.Profile.FocusSupported() {
		out.FocusRange = &rangeJSON{Min: st.Profile.Focus.Min, Max: st.Profile.Focus.Max}
	}
	if st.Profile.BrightnessSupported() {
		out.BrightnessRange = &rangeJSON{Min: st.Profile.Brightness.Min, Max: st.Profile.Brightness.Max}
	}
	if !st.Crop.Empty() {
		out.Crop = &cropJSON{X: st.Crop.X, Y: st.Crop.Y, Width: st.Crop.Width, Height: st.Crop.Height}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeStatus(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, toStatusJSON(s.camera.Snapshot()))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.camera.Start(r.Context())
	s.writeStatus(w)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.camera.Stop()
	s.writeStatus(w)
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	_, err := s.camera.Capture(r.Context())
	s.metrics.cameraOp("capture", err)
	if err != nil {
		writeError(w, captureStatus(err), err)
		return
	}
	s.writeStatus(w)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	photo, err := s.camera.Save(r.Context())
	s.metrics.cameraOp("save", err)
	if err != nil {
		writeError(w, captureStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fullImage":    map[string]any{"name": photo.FullImage.Name, "size": len(photo.FullImage.Data)},
		"croppedImage": map[string]any{"name": photo.CroppedImage.Name, "size": len(photo.CroppedImage.Data)},
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.camera.Cancel()
	s.writeStatus(w)
}

type cropRequest struct {
	DX *int `json:"dx"`
	DY *int `json:"dy"`
	X  *int `json:"x"`
	Y  *int `json:"y"`
}

func (s *Server) handleCrop(w http.ResponseWriter, r *http.Request) {
	var req cropRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid crop request: %w", err))
		return
	}

	var (
		region capture.CropRegion
		err    error
	)
	switch {
	case req.X != nil && req.Y != nil:
		region, err = s.camera.SetCropOrigin(*req.X, *req.Y)
	case req.DX != nil || req.DY != nil:
		region, err = s.camera.MoveCrop(deref(req.DX), deref(req.DY))
	default:
		writeError(w, http.StatusBadRequest, errors.New("crop request needs x and y, or dx/dy"))
		return
	}
	if err != nil {
		writeError(w, captureStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, cropJSON{X: region.X, Y: region.Y, Width: region.Width, Height: region.Height})
}

type focusRequest struct {
	Manual  *bool    `json:"manual"`
	Percent *float64 `json:"percent"`
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	var req focusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid focus request: %w", err))
		return
	}
	applied := true
	if req.Manual != nil {
		applied = s.camera.SetManualFocus(r.Context(), *req.Manual) && applied
	}
	if req.Percent != nil {
		applied = s.camera.AdjustFocus(r.Context(), *req.Percent) && applied
	}
	s.writeAdjustment(w, applied)
}

type brightnessRequest struct {
	Manual *bool    `json:"manual"`
	Value  *float64 `json:"value"`
}

func (s *Server) handleBrightness(w http.ResponseWriter, r *http.Request) {
	var req brightnessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid brightness request: %w", err))
		return
	}
	applied := true
	if req.Manual != nil {
		applied = s.camera.SetManualBrightness(r.Context(), *req.Manual) && applied
	}
	if req.Value != nil {
		applied = s.camera.AdjustBrightness(r.Context(), *req.Value) && applied
	}
	s.writeAdjustment(w, applied)
}

// writeAdjustment reports a rejected adjustment as a normal response; the
// pipeline treats those as no-ops, not failures.
func (s *Server) writeAdjustment(w http.ResponseWriter, applied bool) {
	writeJSON(w, http.StatusOK, map[string]any{
		"applied": applied,
		"status":  toStatusJSON(s.camera.Snapshot()),
	})
}

func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	photo, ok := s.camera.LastPhoto()
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no photo saved yet"))
		return
	}
	f := photo.CroppedImage
	if mux.Vars(r)["kind"] == "full" {
		f = photo.FullImage
	}
	w.Header().Set("Content-Type", f.MIMEType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, f.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
	w.Write(f.Data)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	if s.history == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.history.Recent(limit))
}

func captureStatus(err error) int {
	switch {
	case errors.Is(err, capture.ErrNotStreaming), errors.Is(err, capture.ErrNotEditing),
		errors.Is(err, capture.ErrDisabled):
		return http.StatusConflict
	case errors.Is(err, capture.ErrInvalidDataURL), errors.Is(err, capture.ErrEncode):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
