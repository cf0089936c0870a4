package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/executor"
	"github.com/cjeanneret/SnapGo/internal/lifecycle"
	"github.com/cjeanneret/SnapGo/internal/logic/session"
	"github.com/cjeanneret/SnapGo/internal/permission"
	"github.com/cjeanneret/SnapGo/internal/pipeline"
)

// CameraPermissionRequestCode identifies the camera permission request.
const CameraPermissionRequestCode = 10

// PermissionsDenied is toasted once when the camera permission is refused.
const PermissionsDenied = "Permissions not granted by the user"

var requiredPermissions = []permission.Capability{permission.Camera}

// OutputResolver picks the photo directory. *storage.Resolver implements it.
type OutputResolver interface {
	Resolve() (string, error)
}

// Config wires a Screen.
type Config struct {
	Gate           permission.Gate
	Source         session.ProviderSource
	Resolver       OutputResolver
	Main           executor.Executor
	CameraExecutor *executor.Serial
	Notifier       session.Notifier
	Surface        pipeline.SurfaceProvider
	Now            func() time.Time
}

// Info describes a running screen.
type Info struct {
	SessionID  string `json:"session_id"`
	OutputDir  string `json:"output_dir"`
	State      string `json:"state"`
	Ready      bool   `json:"ready"`
	Previewing bool   `json:"previewing"`
}

// Screen is the single camera screen: it gates camera access on the
// permission, starts the session and turns user requests into captures.
type Screen struct {
	id       string
	gate     permission.Gate
	resolver OutputResolver
	main     executor.Executor
	camExec  *executor.Serial
	notifier session.Notifier
	surface  pipeline.SurfaceProvider
	owner    *lifecycle.Registry
	ctrl     *session.Controller

	mu        sync.Mutex
	outputDir string
	ctx       context.Context
	cancel    context.CancelFunc
	destroyed bool

	starts      chan session.StartResult
	finished    chan struct{}
	finishOnce  sync.Once
	destroyOnce sync.Once
}

func NewScreen(cfg Config) *Screen {
	if cfg.Main == nil {
		cfg.Main = executor.Direct{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Screen{
		id:       uuid.NewString(),
		gate:     cfg.Gate,
		resolver: cfg.Resolver,
		main:     cfg.Main,
		camExec:  cfg.CameraExecutor,
		notifier: cfg.Notifier,
		surface:  cfg.Surface,
		owner:    lifecycle.NewRegistry(),
		ctrl: session.NewController(session.Config{
			Source:   cfg.Source,
			Main:     cfg.Main,
			Notifier: cfg.Notifier,
			Now:      cfg.Now,
		}),
		ctx:      ctx,
		cancel:   cancel,
		starts:   make(chan session.StartResult, 8),
		finished: make(chan struct{}),
	}
}

// OnCreate brings the screen up. The output directory is resolved once here;
// the camera starts right away when permitted, otherwise permission is
// requested and the answer comes back through OnRequestPermissionsResult.
func (s *Screen) OnCreate(ctx context.Context) error {
	debug.Section("Screen")
	debug.Value("Session", s.id)

	dir, err := s.resolver.Resolve()
	if err != nil {
		return fmt.Errorf("resolve output directory: %w", err)
	}
	s.mu.Lock()
	s.outputDir = dir
	s.mu.Unlock()

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return lifecycle.ErrDestroyed
	}
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if err := s.owner.Advance(lifecycle.Created); err != nil {
		return err
	}
	if err := s.owner.Advance(lifecycle.Started); err != nil {
		return err
	}

	if permission.AllGranted(s.gate, requiredPermissions) {
		s.startCamera()
		return nil
	}
	debug.Info("Requesting camera permission")
	s.gate.Request(s.lifetime(), CameraPermissionRequestCode, requiredPermissions, s.OnRequestPermissionsResult)
	return nil
}

// OnRequestPermissionsResult handles a permission answer on the main executor.
func (s *Screen) OnRequestPermissionsResult(requestCode int) {
	err := s.main.Execute(func() {
		if requestCode != CameraPermissionRequestCode {
			debug.Verbose("Screen: ignoring permission result %d", requestCode)
			return
		}
		if permission.AllGranted(s.gate, requiredPermissions) {
			s.startCamera()
			return
		}
		s.notifier.Toast(PermissionsDenied)
		s.Finish()
	})
	if err != nil {
		debug.Error(err)
	}
}

func (s *Screen) startCamera() {
	results := s.ctrl.Start(s.lifetime(), s.owner, s.surface)
	go func() {
		res, ok := <-results
		if !ok {
			return
		}
		if res.Err != nil {
			debug.Verbose("Screen: camera start failed: %v", res.Err)
		} else {
			debug.Info("Camera started on %s", res.Camera.Device().Name())
		}
		select {
		case s.starts <- res:
		default:
		}
	}()
}

// lifetime is cancelled by Destroy.
func (s *Screen) lifetime() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// StartResults delivers the outcome of every camera start.
func (s *Screen) StartResults() <-chan session.StartResult {
	return s.starts
}

// TakePhoto posts a capture onto the main executor. It returns an error
// only when the screen can no longer accept work.
func (s *Screen) TakePhoto() error {
	select {
	case <-s.finished:
		return errors.New("app: screen finished")
	default:
	}
	dir := s.OutputDir()
	return s.main.Execute(func() {
		s.ctrl.CapturePhoto(dir)
	})
}

// OutputDir returns the directory resolved by OnCreate.
func (s *Screen) OutputDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputDir
}

// Info returns a snapshot of the screen.
func (s *Screen) Info() Info {
	return Info{
		SessionID:  s.id,
		OutputDir:  s.OutputDir(),
		State:      s.ctrl.State().String(),
		Ready:      s.ctrl.Ready(),
		Previewing: s.ctrl.Previewing(),
	}
}

// Finish ends the screen. The application terminates once Done is closed.
func (s *Screen) Finish() {
	s.finishOnce.Do(func() {
		debug.Info("Screen finished")
		close(s.finished)
	})
}

// Done is closed by Finish.
func (s *Screen) Done() <-chan struct{} {
	return s.finished
}

// Destroy releases the camera bindings and stops the camera executor.
func (s *Screen) Destroy() {
	s.destroyOnce.Do(func() {
		s.mu.Lock()
		s.destroyed = true
		cancel := s.cancel
		s.mu.Unlock()

		if err := s.owner.Advance(lifecycle.Destroyed); err != nil {
			debug.Verbose("Screen: %v", err)
		}
		cancel()
		if s.camExec != nil {
			s.camExec.Shutdown()
		}
		debug.Verbose("Screen: destroyed")
	})
}
