package services

import (
	"fmt"
	"log/slog"
	"time"

	"munireports/internal/browser"
	"munireports/internal/config"
	apperrors "munireports/internal/errors"
	"munireports/internal/files"
	"munireports/internal/operations"
	"munireports/internal/progress"
	"munireports/internal/recipes"
)

// BuilderConfig is what NewWorkflowBuilder wires into every workflow
type BuilderConfig struct {
	Config   *config.Config
	Paths    *config.Paths
	Cities   config.Cities
	Registry *recipes.Registry

	// Factory starts browsers. Nil means Chrome via chromedp.
	Factory browser.DriverFactory
	// Codec converts raw downloads. Nil means the xls to xlsx codec.
	Codec  files.Codec
	Tracer *operations.OperationTracer
	Logger *slog.Logger
	Now    func() time.Time
}

// NewWorkflowBuilder installs every city's overrides into the registry and
// returns the builder the pool calls per pair. Unknown cities and years
// before the portal's first exercise fail the pair as configuration errors.
func NewWorkflowBuilder(bc BuilderConfig) (operations.WorkflowBuilder, error) {
	if bc.Config == nil || bc.Paths == nil || bc.Registry == nil {
		return nil, fmt.Errorf("workflow builder needs config, paths and registry")
	}
	if bc.Logger == nil {
		bc.Logger = slog.Default()
	}
	if bc.Now == nil {
		bc.Now = time.Now
	}
	if bc.Codec == nil {
		bc.Codec = files.NewXLSCodec()
	}
	if bc.Factory == nil {
		bc.Factory = browser.ChromeFactory(browser.ChromeOptions{
			Headless: bc.Config.Portal.Headless,
			ExecPath: bc.Config.Portal.ChromePath,
			Logger:   bc.Logger,
		})
	}

	for _, key := range bc.Cities.Keys() {
		if err := bc.Registry.ApplyCity(bc.Cities[key]); err != nil {
			return nil, fmt.Errorf("failed to apply city configuration: %w", err)
		}
	}

	cfg := bc.Config
	session := browser.DefaultOptions(cfg.Portal)

	return func(pair operations.Pair, token *operations.Token, sink progress.Publisher) (*operations.Workflow, error) {
		city, err := bc.Cities.Lookup(pair.City)
		if err != nil {
			return nil, apperrors.NewConfigurationError("unknown city "+pair.City, err)
		}
		if err := config.ValidateYear(pair.Year); err != nil {
			return nil, apperrors.NewConfigurationError("invalid year", err)
		}

		ws := files.NewWorkspace(bc.Paths.WorkspaceDir(city.Key, pair.Year), bc.Logger)
		if cfg.Harvest.SettlingWindow > 0 {
			ws.SettlingWindow = cfg.Harvest.SettlingWindow
		}

		return operations.NewWorkflow(operations.WorkflowDeps{
			City:      city,
			Year:      pair.Year,
			Workspace: ws,
			Registry:  bc.Registry,
			Factory:   bc.Factory,
			Session:   session,
			Portal:    cfg.Portal,
			Harvest:   cfg.Harvest,
			Pool:      cfg.Pool,
			Codec:     bc.Codec,
			Token:     token,
			Sink:      sink,
			Tracer:    bc.Tracer,
			Logger:    bc.Logger,
			Now:       bc.Now,
		}), nil
	}, nil
}
