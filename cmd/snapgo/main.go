package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"

	"github.com/cjeanneret/SnapGo/internal/app"
	"github.com/cjeanneret/SnapGo/internal/config"
	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/executor"
	"github.com/cjeanneret/SnapGo/internal/hw/button"
	"github.com/cjeanneret/SnapGo/internal/hw/camera"
	"github.com/cjeanneret/SnapGo/internal/hw/gpio"
	"github.com/cjeanneret/SnapGo/internal/permission"
	"github.com/cjeanneret/SnapGo/internal/pipeline"
	"github.com/cjeanneret/SnapGo/internal/storage"
	"github.com/cjeanneret/SnapGo/internal/web"
)

// cliOverrides holds the flags that override the config file.
type cliOverrides struct {
	CameraType string
	OutputDir  string
	Permission string
}

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	cameraType := flag.String("camera", "", "override camera type (mock, opencv)")
	outputDir := flag.String("output_dir", "", "override the media directory photos are stored under")
	permissionMode := flag.String("permission", "", "override permission mode (granted, denied, prompt, device)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("load .env failed: %v", err)
	}

	// Load configuration
	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := config.ApplyEnviron(cfg); err != nil {
		log.Fatalf("apply environment failed: %v", err)
	}

	overrides := cliOverrides{CameraType: *cameraType, OutputDir: *outputDir, Permission: *permissionMode}
	if err := validateCLIOverrides(overrides); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, overrides)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	broadcaster := web.NewStatusBroadcaster()
	if webPort.port() > 0 {
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
	}

	debug.Step(1, "Initializing cameras")
	devices, err := newDevicesFromConfig(cfg)
	if err != nil {
		log.Fatalf("init camera failed: %v", err)
	}
	debug.Value("Camera type", cfg.Camera.Type)
	debug.PrintStruct("Camera config", cfg.Camera)

	debug.Step(2, "Creating camera session")
	osFs := afero.NewOsFs()
	mainExec := executor.NewSerial("main")
	defer mainExec.Shutdown()
	cameraExec := executor.NewSerial("camera")
	platform := pipeline.NewPlatform(devices, pipeline.Options{
		Fs:              osFs,
		CameraExecutor:  cameraExec,
		PreviewInterval: cfg.PreviewInterval(),
	})
	preview := web.NewPreviewSurface()
	screen := app.NewScreen(app.Config{
		Gate:           newGateFromConfig(osFs, cfg),
		Source:         platform,
		Resolver:       storage.NewResolver(osFs, cfg.Output.AppName, cfg.Output.MediaDir, cfg.Output.FilesDir),
		Main:           mainExec,
		CameraExecutor: cameraExec,
		Notifier:       web.NewNotifier(broadcaster),
		Surface:        preview,
	})
	defer screen.Destroy()

	if err := screen.OnCreate(ctx); err != nil {
		log.Fatalf("start screen failed: %v", err)
	}

	// Finish (permission denied) ends the program like a signal does.
	go func() {
		select {
		case <-screen.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	debug.Step(3, "Initializing shutter button")
	if cfg.ShutterButton.Pin > 0 {
		gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
		if err != nil {
			log.Fatalf("init GPIO failed: %v", err)
		}
		defer func() {
			if err := gpioDriver.Close(); err != nil {
				log.Printf("closing GPIO driver failed: %v", err)
			}
		}()
		shutter, err := button.NewButton(gpioDriver, button.Config{
			Pin:          cfg.ShutterButton.Pin,
			Debounce:     cfg.Debounce(),
			PollInterval: cfg.PollInterval(),
		}, func() {
			if err := screen.TakePhoto(); err != nil {
				debug.Error(err)
			}
		})
		if err != nil {
			log.Fatalf("init shutter button failed: %v", err)
		}
		go func() {
			if err := shutter.Run(ctx); err != nil {
				debug.Error(err)
			}
		}()
	}

	if port := webPort.port(); port > 0 {
		webAddr := fmt.Sprintf(":%d", port)
		srv := web.NewServer(webAddr, broadcaster, preview, screen.TakePhoto, screen.Info)
		if err := srv.Run(ctx); err != nil {
			log.Fatalf("web server: %v", err)
		}
		return
	}

	// Without the web UI, take one photo once the camera is up.
	if err := snapOnce(ctx, screen, broadcaster); err != nil {
		if errors.Is(err, errScreenFinished) {
			// The screen already told the user why.
			return
		}
		log.Fatalf("capture failed: %v", err)
	}
}

// errScreenFinished is returned by snapOnce when the screen finished before
// the camera started, for instance after a permission denial.
var errScreenFinished = errors.New("screen finished")

// snapOnce waits for the camera, takes one photo and waits for its outcome.
func snapOnce(ctx context.Context, screen *app.Screen, broadcaster *web.StatusBroadcaster) error {
	select {
	case res := <-screen.StartResults():
		if res.Err != nil {
			return res.Err
		}
	case <-screen.Done():
		return errScreenFinished
	case <-ctx.Done():
		return ctx.Err()
	}

	events, unsub := broadcaster.Subscribe()
	defer unsub()
	if err := screen.TakePhoto(); err != nil {
		return err
	}

	timeout := time.NewTimer(10 * time.Second)
	defer timeout.Stop()
	for {
		select {
		case msg := <-events:
			var evt web.StatusEvent
			if err := json.Unmarshal([]byte(msg), &evt); err != nil {
				continue
			}
			switch evt.Kind {
			case web.KindToast:
				fmt.Println(evt.Msg)
				return nil
			case web.KindError:
				return fmt.Errorf("%s: %s", evt.Tag, evt.Msg)
			}
		case <-timeout.C:
			return errors.New("no capture outcome within 10s")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// validateCLIOverrides checks that non-empty CLI overrides name supported values.
// Empty values are ignored (they mean "use config").
func validateCLIOverrides(o cliOverrides) error {
	switch o.CameraType {
	case "", config.CameraMock, config.CameraOpenCV:
	default:
		return fmt.Errorf("camera must be %s or %s, got %q", config.CameraMock, config.CameraOpenCV, o.CameraType)
	}
	switch o.Permission {
	case "", config.PermissionGranted, config.PermissionDenied, config.PermissionPrompt, config.PermissionDevice:
	default:
		return fmt.Errorf("permission must be granted, denied, prompt or device, got %q", o.Permission)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-empty override values are applied.
func applyOverrides(cfg *config.Config, o cliOverrides) {
	if o.CameraType != "" {
		cfg.Camera.Type = o.CameraType
	}
	if o.OutputDir != "" {
		cfg.Output.MediaDir = o.OutputDir
	}
	if o.Permission != "" {
		cfg.Permission.Mode = o.Permission
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }

// newDevicesFromConfig builds the camera set based on configuration.
// The back camera is always present; the front one only when configured.
func newDevicesFromConfig(cfg *config.Config) ([]camera.Device, error) {
	c := cfg.Camera
	switch c.Type {
	case config.CameraMock:
		devices := []camera.Device{camera.NewMock("mock-back", camera.Back, c.WidthPx, c.HeightPx, c.JPEGQuality)}
		if c.FrontDevice != "" {
			devices = append(devices, camera.NewMock("mock-front", camera.Front, c.WidthPx, c.HeightPx, c.JPEGQuality))
		}
		return devices, nil
	case config.CameraOpenCV:
		back, err := camera.NewOpenCV("back", camera.Back, c.BackDevice, c.WidthPx, c.HeightPx, c.JPEGQuality)
		if err != nil {
			return nil, err
		}
		devices := []camera.Device{back}
		if c.FrontDevice != "" {
			front, err := camera.NewOpenCV("front", camera.Front, c.FrontDevice, c.WidthPx, c.HeightPx, c.JPEGQuality)
			if err != nil {
				return nil, err
			}
			devices = append(devices, front)
		}
		return devices, nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", c.Type)
	}
}

// newGateFromConfig selects how camera access is granted.
func newGateFromConfig(fsys afero.Fs, cfg *config.Config) permission.Gate {
	switch cfg.Permission.Mode {
	case config.PermissionDenied:
		return permission.NewStatic(false)
	case config.PermissionPrompt:
		return permission.NewPrompt(nil)
	case config.PermissionDevice:
		return permission.NewDevice(fsys, deviceNodes(cfg)...)
	default:
		return permission.NewStatic(true)
	}
}

// deviceNodes lists the device files behind the configured cameras. Numeric
// OpenCV ids map to /dev/videoN; the mock camera has none.
func deviceNodes(cfg *config.Config) []string {
	if cfg.Camera.Type != config.CameraOpenCV {
		return nil
	}
	var nodes []string
	for _, dev := range []string{cfg.Camera.BackDevice, cfg.Camera.FrontDevice} {
		if dev == "" {
			continue
		}
		if n, err := strconv.Atoi(dev); err == nil {
			dev = fmt.Sprintf("/dev/video%d", n)
		}
		nodes = append(nodes, dev)
	}
	return nodes
}
