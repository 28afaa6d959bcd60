package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	appName   = "finecam"
	envPrefix = "FINECAM"
)

type APIConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	ImageBaseURL string        `mapstructure:"image_base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// CameraConfig selects and tunes the capture device. OpenCV does not report
// native control ranges, so they are configured here.
type CameraConfig struct {
	DeviceID      string  `mapstructure:"device_id"`
	Facing        string  `mapstructure:"facing"`
	Resolution    string  `mapstructure:"resolution"`
	FPS           int     `mapstructure:"fps"`
	AutoCropArea  float64 `mapstructure:"auto_crop_area"`
	FocusMin      float64 `mapstructure:"focus_min"`
	FocusMax      float64 `mapstructure:"focus_max"`
	BrightnessMin float64 `mapstructure:"brightness_min"`
	BrightnessMax float64 `mapstructure:"brightness_max"`
	Synthetic     bool    `mapstructure:"synthetic"`
	WatchDevices  bool    `mapstructure:"watch_devices"`
	DeviceDir     string  `mapstructure:"device_dir"`
}

// Size parses Resolution ("WIDTHxHEIGHT").
func (c CameraConfig) Size() (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(c.Resolution), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid resolution %q", c.Resolution)
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("invalid resolution width %q", c.Resolution)
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("invalid resolution height %q", c.Resolution)
	}
	return width, height, nil
}

type ServerConfig struct {
	IP           string `mapstructure:"ip"`
	Port         string `mapstructure:"port"`
	PreviewFPS   int    `mapstructure:"preview_fps"`
	PreviewWidth int    `mapstructure:"preview_width"`
}

func (s ServerConfig) Addr() string {
	return s.IP + ":" + s.Port
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Dir        string `mapstructure:"dir"`
	Console    bool   `mapstructure:"console"`
	MaxHistory int    `mapstructure:"max_history"`
}

type UIConfig struct {
	Locale string `mapstructure:"locale"`
}

// SessionConfig picks where the login token is kept: "file" (session.json
// in the config dir) or "keyring".
type SessionConfig struct {
	Backend string `mapstructure:"backend"`
}

type AppConfig struct {
	API     APIConfig     `mapstructure:"api"`
	Camera  CameraConfig  `mapstructure:"camera"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	UI      UIConfig      `mapstructure:"ui"`
	Session SessionConfig `mapstructure:"session"`
}

// DefaultConfig is what a fresh install runs with.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		API: APIConfig{
			BaseURL:      "http://localhost:5075/api/",
			ImageBaseURL: "http://localhost:5075",
			Timeout:      30 * time.Second,
		},
		Camera: CameraConfig{
			Facing:        "environment",
			Resolution:    "1280x720",
			FPS:           30,
			AutoCropArea:  0.8,
			FocusMin:      0,
			FocusMax:      255,
			BrightnessMin: 0,
			BrightnessMax: 255,
			WatchDevices:  true,
			DeviceDir:     "/dev",
		},
		Server: ServerConfig{
			IP:           "localhost",
			Port:         "8080",
			PreviewFPS:   10,
			PreviewWidth: 640,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxHistory: 500,
		},
		UI: UIConfig{
			Locale: "ar",
		},
		Session: SessionConfig{
			Backend: "file",
		},
	}
}

// values flattens cfg into viper keys. It drives both defaults and Save so
// the file keys always match the mapstructure tags.
func values(cfg *AppConfig) map[string]any {
	return map[string]any{
		"api.base_url":          cfg.API.BaseURL,
		"api.image_base_url":    cfg.API.ImageBaseURL,
		"api.timeout":           cfg.API.Timeout.String(),
		"camera.device_id":      cfg.Camera.DeviceID,
		"camera.facing":         cfg.Camera.Facing,
		"camera.resolution":     cfg.Camera.Resolution,
		"camera.fps":            cfg.Camera.FPS,
		"camera.auto_crop_area": cfg.Camera.AutoCropArea,
		"camera.focus_min":      cfg.Camera.FocusMin,
		"camera.focus_max":      cfg.Camera.FocusMax,
		"camera.brightness_min": cfg.Camera.BrightnessMin,
		"camera.brightness_max": cfg.Camera.BrightnessMax,
		"camera.synthetic":      cfg.Camera.Synthetic,
		"camera.watch_devices":  cfg.Camera.WatchDevices,
		"camera.device_dir":     cfg.Camera.DeviceDir,
		"server.ip":             cfg.Server.IP,
		"server.port":           cfg.Server.Port,
		"server.preview_fps":    cfg.Server.PreviewFPS,
		"server.preview_width":  cfg.Server.PreviewWidth,
		"logging.level":         cfg.Logging.Level,
		"logging.dir":           cfg.Logging.Dir,
		"logging.console":       cfg.Logging.Console,
		"logging.max_history":   cfg.Logging.MaxHistory,
		"ui.locale":             cfg.UI.Locale,
		"session.backend":       cfg.Session.Backend,
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range values(DefaultConfig()) {
		v.SetDefault(k, val)
	}
	return v
}

// Dir returns ~/.config/finecam, creating it if needed.
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("unable to determine user home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".config", appName)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("error creating config directory: %w", err)
	}
	return configDir, nil
}

func getConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the config file from ~/.config/finecam, with FINECAM_*
// environment overrides.
func Load() (*AppConfig, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, fmt.Errorf("error getting config path: %w", err)
	}
	return LoadFromPath(configPath)
}

// LoadFromPath reads path; a missing file yields the defaults.
func LoadFromPath(path string) (*AppConfig, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to ~/.config/finecam/config.yaml.
func Save(cfg *AppConfig) error {
	configPath, err := getConfigPath()
	if err != nil {
		return fmt.Errorf("error getting config path: %w", err)
	}
	return SaveToPath(cfg, configPath)
}

func SaveToPath(cfg *AppConfig, path string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	v := viper.New()
	for k, val := range values(cfg) {
		v.Set(k, val)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

func (c *AppConfig) Validate() error {
	var errs []error
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if _, _, err := c.Camera.Size(); err != nil {
		errs = append(errs, fmt.Errorf("camera.resolution: %w", err))
	}
	if c.Camera.FPS <= 0 {
		errs = append(errs, errors.New("camera.fps must be positive"))
	}
	if c.Camera.AutoCropArea <= 0 || c.Camera.AutoCropArea > 1 {
		errs = append(errs, errors.New("camera.auto_crop_area must be in (0, 1]"))
	}
	if c.Camera.FocusMax < c.Camera.FocusMin {
		errs = append(errs, errors.New("camera.focus_max is below focus_min"))
	}
	if c.Camera.BrightnessMax < c.Camera.BrightnessMin {
		errs = append(errs, errors.New("camera.brightness_max is below brightness_min"))
	}
	switch c.Camera.Facing {
	case "", "environment", "user":
	default:
		errs = append(errs, fmt.Errorf("camera.facing %q is not environment or user", c.Camera.Facing))
	}
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Server.PreviewFPS <= 0 {
		errs = append(errs, errors.New("server.preview_fps must be positive"))
	}
	switch c.Session.Backend {
	case "", "file", "keyring":
	default:
		errs = append(errs, fmt.Errorf("session.backend %q is not file or keyring", c.Session.Backend))
	}
	return errors.Join(errs...)
}
