package core

import (
	"context"
	"fmt"

	"openfd/config"
	"openfd/internal/metrics"
	"openfd/internal/privilege"
)

// Run validates raw for mode and executes it.  Whatever happens, every
// resource acquired during the run is released before Run returns.  A
// nil error means Success or UserCancelled; otherwise the error is a
// *RunError carrying the Outcome.
func (rc *RunContext) Run(ctx context.Context, mode config.Mode, raw *config.Raw) (Outcome, error) {
	rc.Mode = mode
	ctx = rc.Abort.Start(ctx)
	defer rc.Abort.Stop()

	rc.Logger.Debug("run %s: mode %s, board %s", rc.ID, mode, rc.boardName())

	cfg, err := config.Validate(mode, raw)
	if err != nil {
		return rc.finish(err)
	}
	return rc.finish(rc.execute(ctx, cfg))
}

// Execute runs an already validated configuration.
func (rc *RunContext) Execute(ctx context.Context, cfg config.Config) (Outcome, error) {
	rc.Mode = cfg.Mode()
	ctx = rc.Abort.Start(ctx)
	defer rc.Abort.Stop()
	return rc.finish(rc.execute(ctx, cfg))
}

func (rc *RunContext) execute(ctx context.Context, cfg config.Config) error {
	h, ok := handlers[cfg.Mode()]
	if !ok {
		return fmt.Errorf("no handler for mode %s", cfg.Mode())
	}
	if rc.Board == nil {
		return fmt.Errorf("no board selected")
	}

	if privilege.Required(cfg.Mode()) {
		if rc.Gate == nil {
			rc.Gate = privilege.NewGate(rc.Logger, rc.DryRun)
		}
		if err := rc.step(ctx, "privilege", rc.Gate.Elevate); err != nil {
			return err
		}
	}

	return rc.dispatch(ctx, h, cfg)
}

// dispatch runs h and then releases everything it held, also when h
// panics.
func (rc *RunContext) dispatch(ctx context.Context, h handler, cfg config.Config) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: internal error: %v", cfg.Mode(), r)
		}
		if rerr := rc.releaseAll(ctx); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return h(ctx, rc, cfg)
}

// finish classifies err, reports it and exports metrics.
func (rc *RunContext) finish(err error) (Outcome, error) {
	outcome := Classify(err, rc.Abort.Interrupted())

	switch outcome {
	case Success:
		rc.Logger.Info("Installation complete")
	case UserCancelled:
		if rc.Abort.Interrupted() {
			rc.Logger.Warn("Installation interrupted")
		} else {
			rc.Logger.Warn("Installation cancelled by user")
		}
	default:
		rc.Metrics.RecordError(err.Error())
		rc.Logger.Error("%v", err)
		rc.Logger.Error("Installation aborted")
	}

	rc.Logger.Debug("run metrics: %s", rc.Metrics.JSON())
	if rc.metricsFile != "" {
		run := metrics.RunInfo{ID: rc.ID, Mode: rc.Mode.String(), Outcome: outcome.String()}
		if werr := rc.Metrics.WriteTextfile(rc.metricsFile, run); werr != nil {
			rc.Logger.Warn("%v", werr)
		}
	}

	if outcome.ExitCode() == 0 {
		return outcome, nil
	}
	return outcome, &RunError{Outcome: outcome, Err: err}
}

func (rc *RunContext) boardName() string {
	if rc.Board == nil {
		return "<none>"
	}
	return rc.Board.Name
}
