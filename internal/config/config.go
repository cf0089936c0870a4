package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a config file accepted by Load.
const MaxConfigFileBytes = 1 << 20

// Supported camera backends.
const (
	CameraMock   = "mock"
	CameraOpenCV = "opencv"
)

// Supported permission modes.
const (
	PermissionGranted = "granted" // camera access always allowed
	PermissionDenied  = "denied"  // camera access always refused
	PermissionPrompt  = "prompt"  // ask on the terminal
	PermissionDevice  = "device"  // allowed when the device node is readable
)

// CameraConfig describes the frame source.
// Type selects a concrete implementation ("mock" or "opencv").
type CameraConfig struct {
	Type        string `yaml:"type"`         // e.g., "mock"
	BackDevice  string `yaml:"back_device"`  // OpenCV device id or path for the back camera
	FrontDevice string `yaml:"front_device"` // optional front camera
	WidthPx     int    `yaml:"width_px"`     // requested frame width
	HeightPx    int    `yaml:"height_px"`    // requested frame height
	PreviewFPS  int    `yaml:"preview_fps"`  // preview frames per second
	JPEGQuality int    `yaml:"jpeg_quality"` // 1-100
}

// PermissionConfig selects how camera access is granted.
type PermissionConfig struct {
	Mode string `yaml:"mode"` // granted, denied, prompt or device
}

// OutputConfig describes where photos are stored.
// Empty directories fall back to the XDG defaults.
type OutputConfig struct {
	AppName  string `yaml:"app_name"`  // subdirectory created under media_dir
	MediaDir string `yaml:"media_dir"` // preferred shared location (default: XDG pictures)
	FilesDir string `yaml:"files_dir"` // private fallback (default: XDG data home)
}

// ButtonConfig describes the optional physical shutter button.
type ButtonConfig struct {
	Pin        int `yaml:"pin"`         // BCM pin, 0 = no button
	DebounceMs int `yaml:"debounce_ms"` // level must be stable this long
	PollMs     int `yaml:"poll_ms"`     // sampling period
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera        CameraConfig     `yaml:"camera"`
	Permission    PermissionConfig `yaml:"permission"`
	Output        OutputConfig     `yaml:"output"`
	ShutterButton ButtonConfig     `yaml:"shutter_button"`
	Defaults      DefaultsConfig   `yaml:"defaults"`
}

// Environment holds the SNAPGO_* overrides read from the process environment.
type Environment struct {
	CameraType     string `env:"SNAPGO_CAMERA_TYPE"`
	PermissionMode string `env:"SNAPGO_PERMISSION"`
	MediaDir       string `env:"SNAPGO_MEDIA_DIR"`
	FilesDir       string `env:"SNAPGO_FILES_DIR"`
	DebugLevel     int    `env:"SNAPGO_DEBUG_LEVEL,default=-1"`
}

// ValidateConfigPath rejects paths that are empty, contain "..", do not end
// in .yaml, or do not live directly inside a "configs" directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain ..", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file is %d bytes, limit is %d", info.Size(), MaxConfigFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnvironment overlays the non-empty SNAPGO_* values of es on cfg and
// re-validates the result.
func ApplyEnvironment(cfg *Config, es env.EnvSet) error {
	var e Environment
	if err := env.Unmarshal(es, &e); err != nil {
		return fmt.Errorf("decode environment: %w", err)
	}
	if e.CameraType != "" {
		cfg.Camera.Type = e.CameraType
	}
	if e.PermissionMode != "" {
		cfg.Permission.Mode = e.PermissionMode
	}
	if e.MediaDir != "" {
		cfg.Output.MediaDir = e.MediaDir
	}
	if e.FilesDir != "" {
		cfg.Output.FilesDir = e.FilesDir
	}
	if e.DebugLevel >= 0 {
		cfg.Defaults.DebugLevel = e.DebugLevel
	}
	return cfg.normalize()
}

// ApplyEnviron is ApplyEnvironment over the current process environment.
func ApplyEnviron(cfg *Config) error {
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	return ApplyEnvironment(cfg, es)
}

// normalize validates cfg and fills in defaults.
func (c *Config) normalize() error {
	switch c.Camera.Type {
	case "":
		return fmt.Errorf("camera.type is required")
	case CameraMock, CameraOpenCV:
	default:
		return fmt.Errorf("unsupported camera.type %q", c.Camera.Type)
	}
	if c.Camera.BackDevice == "" {
		c.Camera.BackDevice = "0"
	}
	if c.Camera.WidthPx <= 0 {
		c.Camera.WidthPx = 640
	}
	if c.Camera.HeightPx <= 0 {
		c.Camera.HeightPx = 480
	}
	if c.Camera.PreviewFPS <= 0 {
		c.Camera.PreviewFPS = 10
	}
	if c.Camera.PreviewFPS > 60 {
		return fmt.Errorf("camera.preview_fps must be <= 60, got %d", c.Camera.PreviewFPS)
	}
	if c.Camera.JPEGQuality == 0 {
		c.Camera.JPEGQuality = 90
	}
	if c.Camera.JPEGQuality < 1 || c.Camera.JPEGQuality > 100 {
		return fmt.Errorf("camera.jpeg_quality must be between 1 and 100, got %d", c.Camera.JPEGQuality)
	}

	switch c.Permission.Mode {
	case "":
		c.Permission.Mode = PermissionGranted
	case PermissionGranted, PermissionDenied, PermissionPrompt, PermissionDevice:
	default:
		return fmt.Errorf("unsupported permission.mode %q", c.Permission.Mode)
	}

	if c.Output.AppName == "" {
		c.Output.AppName = "SnapGo"
	}
	if strings.ContainsAny(c.Output.AppName, `/\`) {
		return fmt.Errorf("output.app_name must not contain path separators, got %q", c.Output.AppName)
	}

	if c.ShutterButton.Pin < 0 {
		return fmt.Errorf("shutter_button.pin must be >= 0, got %d", c.ShutterButton.Pin)
	}
	if c.ShutterButton.DebounceMs <= 0 {
		c.ShutterButton.DebounceMs = 50
	}
	if c.ShutterButton.PollMs <= 0 {
		c.ShutterButton.PollMs = 10
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// PreviewInterval returns the delay between two preview frames.
func (c *Config) PreviewInterval() time.Duration {
	return time.Second / time.Duration(c.Camera.PreviewFPS)
}

// Debounce returns how long the shutter button level must be stable.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.ShutterButton.DebounceMs) * time.Millisecond
}

// PollInterval returns the shutter button sampling period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.ShutterButton.PollMs) * time.Millisecond
}

// Validate re-checks cfg after it was changed in code, filling in defaults.
func (c *Config) Validate() error {
	return c.normalize()
}
