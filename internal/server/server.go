// internal/server/server.go
package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/AlverezYari/finecam/internal/capture"
	"github.com/AlverezYari/finecam/internal/logging"
)

// Camera is the part of the capture pipeline the server drives.
type Camera interface {
	Start(ctx context.Context)
	Stop()
	Capture(ctx context.Context) (*capture.CapturedFrame, error)
	Save(ctx context.Context) (capture.Photo, error)
	Cancel()
	MoveCrop(dx, dy int) (capture.CropRegion, error)
	SetCropOrigin(x, y int) (capture.CropRegion, error)
	SetManualFocus(ctx context.Context, on bool) bool
	AdjustFocus(ctx context.Context, percent float64) bool
	SetManualBrightness(ctx context.Context, on bool) bool
	AdjustBrightness(ctx context.Context, value float64) bool
	Snapshot() capture.Status
	LastPhoto() (capture.Photo, bool)
	LiveFrame(ctx context.Context) (image.Image, error)
}

type Config struct {
	Addr         string
	PreviewFPS   int
	PreviewWidth int
}

type Server struct {
	cfg     Config
	camera  Camera
	history *logging.History
	logger  zerolog.Logger

	mu        sync.Mutex
	server    *http.Server
	listener  net.Listener
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}

	upgrader        websocket.Upgrader
	wsConnections   map[*websocket.Conn]bool
	wsConnectionsMu sync.RWMutex

	metrics *metrics
}

func New(cfg Config, camera Camera, history *logging.History, logger zerolog.Logger) *Server {
	if cfg.PreviewFPS <= 0 {
		cfg.PreviewFPS = 10
	}
	s := &Server{
		cfg:     cfg,
		camera:  camera,
		history: history,
		logger:  logger.With().Str("component", "server").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		wsConnections: make(map[*websocket.Conn]bool),
	}
	s.metrics = newMetrics(s)
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestID, s.accessLog)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "OK")
	}).Methods(http.MethodGet)
	r.HandleFunc("/ws/camera", s.handleWebSocketCamera).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/camera", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/camera/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/camera/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/camera/capture", s.handleCapture).Methods(http.MethodPost)
	api.HandleFunc("/camera/save", s.handleSave).Methods(http.MethodPost)
	api.HandleFunc("/camera/cancel", s.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/camera/crop", s.handleCrop).Methods(http.MethodPost)
	api.HandleFunc("/camera/focus", s.handleFocus).Methods(http.MethodPost)
	api.HandleFunc("/camera/brightness", s.handleBrightness).Methods(http.MethodPost)
	api.HandleFunc("/camera/photo/{kind:full|cropped}", s.handlePhoto).Methods(http.MethodGet)
	api.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)
	return r
}

// Start listens on the configured address and runs the preview loop until
// Stop.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		s.logger.Error().Str("addr", s.cfg.Addr).Msg("Server is already running")
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()
	go func() {
		defer close(s.done)
		s.RunPreview(ctx)
	}()

	s.isRunning = true
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Server is running")
	return nil
}

func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		s.logger.Error().Msg("Server stop requested, but server is not running")
		return fmt.Errorf("server is not running")
	}

	s.logger.Info().Msg("Stopping server...")
	s.cancel()
	<-s.done

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.closeConnections()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Server shutdown error")
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.isRunning = false
	s.logger.Info().Msg("Server stopped")
	return nil
}

func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Addr is the bound address while running, the configured one otherwise.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning && s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

func (s *Server) handleWebSocketCamera(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("Websocket connection attempt")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Error upgrading websocket connection")
		return
	}

	s.logger.Info().Str("remote", r.RemoteAddr).Msg("Websocket connection established")

	s.wsConnectionsMu.Lock()
	s.wsConnections[conn] = true
	s.wsConnectionsMu.Unlock()

	defer func() {
		conn.Close()
		s.wsConnectionsMu.Lock()
		delete(s.wsConnections, conn)
		s.wsConnectionsMu.Unlock()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("Websocket closed")
			}
			break
		}
	}
}

// Clients counts connected preview sockets.
func (s *Server) Clients() int {
	s.wsConnectionsMu.RLock()
	defer s.wsConnectionsMu.RUnlock()
	return len(s.wsConnections)
}

func (s *Server) BroadcastFrame(frameBytes []byte) {
	s.wsConnectionsMu.Lock()
	defer s.wsConnectionsMu.Unlock()
	for conn := range s.wsConnections {
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteMessage(websocket.BinaryMessage, frameBytes); err != nil {
			s.logger.Warn().Err(err).Msg("Error writing frame to websocket")
			conn.Close()
			delete(s.wsConnections, conn)
		}
	}
}

func (s *Server) closeConnections() {
	s.wsConnectionsMu.Lock()
	defer s.wsConnectionsMu.Unlock()
	for conn := range s.wsConnections {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"),
			time.Now().Add(time.Second))
		conn.Close()
		delete(s.wsConnections, conn)
	}
}
