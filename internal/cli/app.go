package cli

import (
	"fmt"

	"github.com/dl-alexandre/cloudsync/internal/config"
	"github.com/dl-alexandre/cloudsync/internal/connector"
	"github.com/dl-alexandre/cloudsync/internal/credstore"
	"github.com/dl-alexandre/cloudsync/internal/syncer"
	"github.com/dl-alexandre/cloudsync/internal/types"
	"github.com/dl-alexandre/cloudsync/internal/utils"
)

const keyringService = "cloudsync"

// app bundles the engine components a command needs
type app struct {
	cfg          *config.Config
	store        *credstore.Store
	registry     *connector.Registry
	orchestrator *syncer.Orchestrator
	out          *config.OutputFormatter
}

// newApp builds the engine from configuration. The credential root
// secret is injected here; nothing below the CLI reads ambient state.
func newApp() (*app, error) {
	cfg, err := config.LoadFrom(globalFlags.Config)
	if err != nil {
		return nil, err
	}
	if globalFlags.DataDir != "" {
		cfg.DataDir = globalFlags.DataDir
	}

	var backend credstore.Backend
	if cfg.UseKeyring && credstore.KeyringAvailable(keyringService) {
		backend = credstore.NewKeyringBackend(keyringService)
	} else {
		backend = credstore.NewFileBackend(cfg.DataDir)
	}
	store := credstore.NewStoreWithBackend(backend, cfg.RootSecret(), logger)

	registry := connector.NewDefaultRegistry(connector.Deps{
		Store:  store,
		Logger: logger,
	})

	orchestrator, err := syncer.New(syncer.Options{
		ConfigPath:   cfg.SyncConfigPath(),
		HistoryPath:  cfg.HistoryPath(),
		HistoryLimit: cfg.HistoryLimit,
		Registry:     registry,
		RootSecret:   cfg.RootSecret(),
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	out := config.NewOutputFormatter(config.OutputOptions{
		Format:  globalFlags.OutputFormat,
		Quiet:   globalFlags.Quiet,
		Verbose: globalFlags.Verbose,
	})

	return &app{
		cfg:          cfg,
		store:        store,
		registry:     registry,
		orchestrator: orchestrator,
		out:          out,
	}, nil
}

// Close releases engine resources, closing each provider individually
func (a *app) Close() {
	if err := a.orchestrator.Close(); err != nil {
		logger.Error("failed to close sync engine")
	}
	a.registry.CloseAll(logger)
}

// writeAppError renders an error through the structured output path
func (a *app) writeAppError(command string, err error) error {
	cliErr := types.CLIError{
		Code:    utils.CodeOf(err),
		Message: err.Error(),
	}
	if writeErr := a.out.WriteError(command, cliErr); writeErr != nil {
		return writeErr
	}
	return fmt.Errorf("%s failed: %w", command, err)
}
