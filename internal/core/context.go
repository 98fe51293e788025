package core

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"openfd/config"
	"openfd/internal/abort"
	"openfd/internal/board"
	"openfd/internal/env"
	fderr "openfd/internal/errors"
	"openfd/internal/metrics"
	"openfd/internal/nand"
	"openfd/internal/netboot"
	"openfd/internal/session"
	"openfd/internal/shell"
	"openfd/internal/storage"
	"openfd/internal/transport"
	"openfd/internal/uboot"
	"openfd/util"
)

// Elevator obtains administrative rights; privilege.Gate implements it.
type Elevator interface {
	Elevate(ctx context.Context) error
	// ViaSudo reports whether host commands need a sudo prefix.
	ViaSudo() bool
}

// EnvInstaller sets one monitor environment variable.
type EnvInstaller interface {
	InstallVariable(ctx context.Context, name, value string, force bool) (bool, error)
}

// MediaKind selects the storage installer of a media mode.
type MediaKind int

const (
	MediaSD MediaKind = iota + 1
	MediaLoop
	MediaUSB
)

// Destination is where a media mode installs.
type Destination struct {
	Kind   MediaKind
	Device string // MediaSD, MediaUSB
	Image  string // MediaLoop
	SizeMB int    // MediaLoop
}

// Deps builds the collaborators of a run.  Tests replace individual
// factories; nil fields fall back to DefaultDeps.
type Deps struct {
	NewOpener  func(cfg config.Console, logger *util.Logger) transport.Opener
	NewConsole func(rc *RunContext) session.ConsoleFactory
	NewNetwork func(rc *RunContext, c session.Console, n config.Network) netboot.Network
	NewFlasher func(rc *RunContext, c session.Console, loader nand.RAMLoader, cfg *config.NANDConfig) nand.Flasher
	NewEnv     func(rc *RunContext, c session.Console) EnvInstaller
	NewStorage func(rc *RunContext, dest Destination) storage.Installer
}

// DefaultDeps wires the real collaborators.
func DefaultDeps() Deps {
	return Deps{
		NewOpener: transport.NewOpener,
		NewConsole: func(rc *RunContext) session.ConsoleFactory {
			return func(rw io.ReadWriter) session.Console {
				return uboot.New(rw, uboot.Options{
					Prompt:  rc.Board.Prompt,
					DryRun:  rc.DryRun,
					Logger:  rc.Logger,
					Metrics: rc.Metrics,
				})
			}
		},
		NewNetwork: func(rc *RunContext, c session.Console, n config.Network) netboot.Network {
			return netboot.New(c, netboot.Options{
				Network: n,
				DryRun:  rc.DryRun,
				Logger:  rc.Logger,
				Metrics: rc.Metrics,
			})
		},
		NewFlasher: func(rc *RunContext, c session.Console, loader nand.RAMLoader, cfg *config.NANDConfig) nand.Flasher {
			return nand.New(c, loader, nand.Options{
				Board:       rc.Board,
				BlockSize:   cfg.BlockSize,
				PageSize:    cfg.PageSize,
				RAMLoadAddr: cfg.RAMLoadAddr,
				SyncTimeout: cfg.Console.SyncTimeout,
				DryRun:      rc.DryRun,
				Logger:      rc.Logger,
			})
		},
		NewEnv: func(rc *RunContext, c session.Console) EnvInstaller {
			return env.New(c, rc.Logger)
		},
		NewStorage: func(rc *RunContext, dest Destination) storage.Installer {
			switch dest.Kind {
			case MediaLoop:
				return storage.NewLoopImage(dest.Image, dest.SizeMB, rc.shell(), rc.Logger)
			case MediaUSB:
				return storage.NewUSB(dest.Device, rc.shell(), rc.Prompt, rc.Logger)
			default:
				return storage.NewSDCard(dest.Device, rc.shell(), rc.Prompt, rc.Logger)
			}
		},
	}
}

func (d Deps) withDefaults() Deps {
	def := DefaultDeps()
	if d.NewOpener == nil {
		d.NewOpener = def.NewOpener
	}
	if d.NewConsole == nil {
		d.NewConsole = def.NewConsole
	}
	if d.NewNetwork == nil {
		d.NewNetwork = def.NewNetwork
	}
	if d.NewFlasher == nil {
		d.NewFlasher = def.NewFlasher
	}
	if d.NewEnv == nil {
		d.NewEnv = def.NewEnv
	}
	if d.NewStorage == nil {
		d.NewStorage = def.NewStorage
	}
	return d
}

// Options configure a RunContext.
type Options struct {
	DryRun      bool
	AssumeYes   bool
	Logger      *util.Logger
	Board       *board.Board
	MetricsFile string

	// Optional; defaults are built from the fields above.
	Abort   *abort.Controller
	Gate    Elevator
	Shell   shell.Runner
	Prompt  storage.Prompter
	Metrics *metrics.Collector
	Deps    Deps
}

// RunContext is everything one invocation shares between its steps.
// It is built once per run and passed explicitly; nothing in this
// package is global.
type RunContext struct {
	ID      string
	Mode    config.Mode
	DryRun  bool
	Logger  *util.Logger
	Board   *board.Board
	Abort   *abort.Controller
	Gate    Elevator
	Shell   shell.Runner
	Prompt  storage.Prompter
	Metrics *metrics.Collector
	Deps    Deps

	metricsFile string

	mu   sync.Mutex
	held []resource
}

type resource struct {
	name    string
	release func(ctx context.Context) error
}

// NewRunContext returns a RunContext with a fresh run id.  The shell is
// built lazily, after the privilege gate decided whether it needs sudo.
func NewRunContext(opts Options) *RunContext {
	rc := &RunContext{
		ID:          uuid.NewString(),
		DryRun:      opts.DryRun,
		Logger:      opts.Logger,
		Board:       opts.Board,
		Abort:       opts.Abort,
		Gate:        opts.Gate,
		Shell:       opts.Shell,
		Prompt:      opts.Prompt,
		Metrics:     opts.Metrics,
		Deps:        opts.Deps.withDefaults(),
		metricsFile: opts.MetricsFile,
	}
	if rc.Logger == nil {
		rc.Logger = util.NewLogger(1)
	}
	if rc.Abort == nil {
		rc.Abort = abort.New(rc.Logger)
	}
	if rc.Metrics == nil {
		rc.Metrics = metrics.New()
	}
	if rc.Prompt == nil {
		if opts.AssumeYes {
			rc.Prompt = storage.AssumeYes{Logger: rc.Logger}
		} else {
			rc.Prompt = storage.NewInteractive()
		}
	}
	return rc
}

// hold registers a resource that must be released before the run ends.
func (rc *RunContext) hold(name string, release func(ctx context.Context) error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.held = append(rc.held, resource{name: name, release: release})
}

// releaseAll releases held resources in reverse acquisition order.
// Each resource is released once; later calls are no-ops.  Release
// runs on a context detached from cancellation so an interrupted run
// still unmounts and closes.
func (rc *RunContext) releaseAll(ctx context.Context) error {
	rc.mu.Lock()
	held := rc.held
	rc.held = nil
	rc.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(held) - 1; i >= 0; i-- {
		r := held[i]
		start := time.Now()
		err := r.release(ctx)
		rc.Metrics.RecordStep("release-"+r.name, time.Since(start), err != nil)
		if err != nil {
			rc.Logger.Error("releasing %s: %v", r.name, err)
			errs = append(errs, err)
		}
	}
	return fderr.Join(errs...)
}

// step runs one collaborator call of a mode sequence.  The abort flag
// is checked before and after, so a signal stops the sequence at the
// next step boundary.
func (rc *RunContext) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := rc.Abort.Checkpoint(); err != nil {
		return err
	}
	rc.Logger.Debug("step: %s", name)
	start := time.Now()
	err := fn(ctx)
	rc.Metrics.RecordStep(name, time.Since(start), err != nil)
	if err != nil {
		return err
	}
	return rc.Abort.Checkpoint()
}

// acquire opens the console session and holds it for release.
func (rc *RunContext) acquire(ctx context.Context, cfg config.Console) (*session.Session, error) {
	opener := rc.Deps.NewOpener(cfg, rc.Logger)
	var s *session.Session
	err := rc.step(ctx, "acquire-console", func(ctx context.Context) error {
		var err error
		s, err = session.Acquire(ctx, opener, rc.Deps.NewConsole(rc), session.Options{
			DryRun:      rc.DryRun,
			SyncTimeout: cfg.SyncTimeout,
			Logger:      rc.Logger,
		})
		if err != nil {
			return err
		}
		rc.hold("console", func(context.Context) error { return s.Release() })
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// shell returns the host command runner, building it on first use.
func (rc *RunContext) shell() shell.Runner {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.Shell == nil {
		sudo := rc.Gate != nil && rc.Gate.ViaSudo()
		rc.Shell = shell.New(rc.Logger, rc.DryRun, sudo)
	}
	return rc.Shell
}
