package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AlverezYari/finecam/internal/api"
	"github.com/AlverezYari/finecam/internal/capture"
	"github.com/AlverezYari/finecam/internal/config"
	"github.com/AlverezYari/finecam/internal/logging"
	"github.com/AlverezYari/finecam/internal/messages"
	"github.com/AlverezYari/finecam/internal/server"
	"github.com/AlverezYari/finecam/internal/session"
	"github.com/AlverezYari/finecam/pkg/camera"
	"github.com/AlverezYari/finecam/pkg/camera/gocvcam"
)

// app is everything a command needs, built once from the config file.
type app struct {
	cfg    *config.AppConfig
	log    *logging.Logger
	store  session.Storage
	client *api.Client
	locale messages.Locale
}

func newApp(configPath string, console bool) (*app, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	logDir := cfg.Logging.Dir
	if logDir == "" {
		logDir = dir
	}

	log, err := logging.New(logging.Config{
		Dir:        logDir,
		Level:      cfg.Logging.Level,
		Console:    console || cfg.Logging.Console,
		MaxHistory: cfg.Logging.MaxHistory,
	})
	if err != nil {
		return nil, err
	}

	client, err := api.NewClient(api.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
	}, log.Zerolog())
	if err != nil {
		log.Close()
		return nil, err
	}

	var store session.Storage = session.NewStore(filepath.Join(dir, "session.json"))
	if cfg.Session.Backend == "keyring" {
		store = session.NewKeyringStore()
	}

	return &app{
		cfg:    cfg,
		log:    log,
		store:  store,
		client: client,
		locale: messages.ParseLocale(cfg.UI.Locale),
	}, nil
}

func (a *app) Close() error {
	return a.log.Close()
}

func (a *app) manager() camera.Manager {
	c := a.cfg.Camera
	if c.Synthetic {
		w, h, _ := c.Size()
		return camera.NewSynthetic(w, h)
	}
	return gocvcam.New(gocvcam.Options{
		FocusRange:      &camera.Range{Min: c.FocusMin, Max: c.FocusMax},
		BrightnessRange: &camera.Range{Min: c.BrightnessMin, Max: c.BrightnessMax},
	})
}

// pipeline builds the capture pipeline and, if configured, starts watching
// for camera hot-plug. The caller closes it.
func (a *app) pipeline() *capture.Pipeline {
	c := a.cfg.Camera
	w, h, _ := c.Size()
	logger := a.log.Component("capture")

	p := capture.New(a.manager(), capture.Options{
		Stream: camera.StreamConfig{
			DeviceID:  c.DeviceID,
			Facing:    camera.Facing(c.Facing),
			Width:     w,
			Height:    h,
			Framerate: c.FPS,
		},
		AutoCropArea: c.AutoCropArea,
	}, logger)

	if c.WatchDevices && !c.Synthetic {
		watcher, err := camera.NewWatcher(c.DeviceDir)
		if err != nil {
			logger.Warn().Err(err).Msg("Camera hot-plug detection disabled")
		} else {
			p.Watch(watcher)
		}
	}
	return p
}

func (a *app) server(p *capture.Pipeline) *server.Server {
	s := a.cfg.Server
	return server.New(server.Config{
		Addr:         s.Addr(),
		PreviewFPS:   s.PreviewFPS,
		PreviewWidth: s.PreviewWidth,
	}, p, a.log.History(), a.log.Component("server"))
}

// startCamera opens the stream and reports why it is unusable, if it is.
func startCamera(ctx context.Context, p *capture.Pipeline) error {
	p.Start(ctx)
	st := p.Snapshot()
	if st.State != capture.StateStreaming {
		return fmt.Errorf("%w: %s", camera.ErrNoDevice, st.LastError)
	}
	return nil
}

// cropFile runs an image file through the crop editor with the default crop
// and returns the cropped PNG.
func (a *app) cropFile(ctx context.Context, path string) (*capture.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading image: %w", err)
	}
	img, err := (&capture.File{Name: filepath.Base(path), Data: data}).Decode()
	if err != nil {
		return nil, err
	}
	dataURL, err := capture.EncodeDataURL(img)
	if err != nil {
		return nil, err
	}

	p := capture.New(a.manager(), capture.Options{AutoCropArea: a.cfg.Camera.AutoCropArea}, a.log.Component("capture"))
	defer p.Close()
	if _, err := p.Import(dataURL); err != nil {
		return nil, err
	}
	photo, err := p.Save(ctx)
	if err != nil {
		return nil, err
	}
	return photo.CroppedImage, nil
}
