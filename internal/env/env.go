// Package env installs single variables into the bootloader
// environment.
package env

import (
	"context"
	"strings"

	"openfd/internal/session"
	"openfd/util"
)

// Installer sets monitor environment variables.
type Installer struct {
	console session.Console
	logger  *util.Logger
}

// New returns an Installer driving console.
func New(console session.Console, logger *util.Logger) *Installer {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Installer{console: console, logger: logger}
}

// InstallVariable sets name to value and persists the environment.
// Unless force is set, nothing is written when the board already holds
// the same value.  It reports whether the environment was changed.
func (i *Installer) InstallVariable(ctx context.Context, name, value string, force bool) (bool, error) {
	i.logger.Info("Installing %s", name)
	value = strings.TrimSpace(value)

	if !force {
		i.logger.Debug("env: verifying if %s installation is needed", name)
		current, err := i.console.GetEnv(ctx, name)
		if err != nil {
			return false, err
		}
		if current == value {
			i.logger.Info("%s doesn't need to be installed", name)
			return false, nil
		}
	}

	if err := i.console.SetEnv(ctx, name, value); err != nil {
		return false, err
	}
	if err := i.console.SaveEnv(ctx); err != nil {
		return false, err
	}
	i.logger.Info("%s installation complete", name)
	return true, nil
}
