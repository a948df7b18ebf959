package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/deployconf/pkg/config"
	"github.com/openfroyo/deployconf/pkg/engine"
	"github.com/openfroyo/deployconf/pkg/kube"
	"github.com/openfroyo/deployconf/pkg/policy"
	"github.com/openfroyo/deployconf/pkg/questions"
	"github.com/openfroyo/deployconf/pkg/stores"
	"github.com/openfroyo/deployconf/pkg/synth"
	"github.com/openfroyo/deployconf/pkg/telemetry"
	"github.com/openfroyo/deployconf/pkg/validation"
)

// app holds the components wired from the configuration for one command.
type app struct {
	cfg      *config.Config
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	store    stores.Store
	policies *policy.Engine
	kubectl  *kube.Kubectl
	chain    *validation.Chain
	orch     *engine.Orchestrator
}

// loadConfig reads --config, falls back to ./deployconf.yaml when present,
// and otherwise uses the defaults.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err != nil {
			log.Debug().Msg("No config file found, using defaults")
			return applyVerbose(config.Default()), nil
		}
		path = defaultConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("config", path).Msg("Config loaded")
	return applyVerbose(cfg), nil
}

func applyVerbose(cfg *config.Config) *config.Config {
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg
}

// newApp wires the store, policies, question source, synthesizer,
// validators and deployer into an orchestrator.
func newApp(ctx context.Context) (_ *app, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.tel, err = telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.logger = a.tel.Logger.Zerolog()
	if err := a.tel.StartMetricsServer(); err != nil {
		return nil, err
	}

	a.store, err = openStore(ctx, cfg.Store, a.logger)
	if err != nil {
		return nil, err
	}

	a.policies, err = newPolicyEngine(ctx, cfg.Policy, a.logger)
	if err != nil {
		return nil, err
	}
	if cfg.Policy.Watch && len(cfg.Policy.Paths) > 0 {
		if err := a.policies.Watch(ctx, cfg.Policy.Paths, nil); err != nil {
			return nil, err
		}
	}

	source, err := buildQuestionSource(cfg.Questions, a.policies, a.logger)
	if err != nil {
		return nil, err
	}

	synthesizer, err := buildSynthesizer(cfg.Synth, source, a.logger)
	if err != nil {
		return nil, err
	}

	a.kubectl, err = kube.New(cfg.Kube, a.logger)
	if err != nil {
		return nil, err
	}

	a.chain, err = buildValidator(cfg.Validation, a.policies, a.kubectl, a.logger)
	if err != nil {
		return nil, err
	}

	a.orch, err = engine.NewOrchestrator(engine.Options{
		Store:         a.store,
		Questions:     source,
		Synthesizer:   synthesizer,
		Validator:     a.chain,
		Deployer:      a.kubectl,
		Limits:        cfg.Generation.Limits(),
		LeaseTimeout:  cfg.Generation.LeaseTimeout,
		DeployTimeout: cfg.Generation.DeployTimeout,
		Logger:        a.logger,
		Tracer:        a.tel.Tracer,
		Metrics:       a.tel.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases everything newApp opened.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.policies != nil {
		errs = append(errs, a.policies.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.tel != nil {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		errs = append(errs, a.tel.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// withApp runs fn with a wired app and closes it afterwards.
func withApp(ctx context.Context, fn func(*app) error) (err error) {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.Background()); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

func openStore(ctx context.Context, cfg stores.Config, logger zerolog.Logger) (stores.Store, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" && cfg.Path != ":memory:" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}
	store, err := stores.NewSQLiteStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	store.WithLogger(logger)
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// newPolicyEngine creates a policy engine with the built-ins, the policies
// under cfg.Paths and cfg.Disabled switched off.
func newPolicyEngine(ctx context.Context, cfg config.PolicyConfig, logger zerolog.Logger) (*policy.Engine, error) {
	policies, err := policy.NewEngine(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	policies.SetReloadDelay(cfg.ReloadDelay)
	if len(cfg.Paths) > 0 {
		if err := policies.LoadPolicies(ctx, cfg.Paths); err != nil {
			return nil, err
		}
	}
	for _, name := range cfg.Disabled {
		if err := policies.DisablePolicy(name); err != nil {
			return nil, fmt.Errorf("policy.disabled: %w", err)
		}
	}
	return policies, nil
}

func buildQuestionSource(cfg config.QuestionsConfig, policies *policy.Engine, logger zerolog.Logger) (engine.QuestionSource, error) {
	var (
		catalog *questions.Catalog
		err     error
	)
	if cfg.CatalogPath != "" {
		catalog, err = questions.LoadCatalog(cfg.CatalogPath, logger)
	} else {
		catalog, err = questions.DefaultCatalog(logger)
	}
	if err != nil {
		return nil, err
	}
	if !cfg.PolicyEnrichment {
		return catalog, nil
	}
	return questions.NewEnricher(catalog, policies, logger), nil
}

func buildSynthesizer(cfg config.SynthConfig, source engine.QuestionSource, logger zerolog.Logger) (engine.Synthesizer, error) {
	switch cfg.Mode {
	case config.SynthStarlark:
		eval := synth.NewEvaluator(cfg.Timeout, cfg.MaxSteps)
		return synth.LoadStarlarkSynthesizer(cfg.Script, eval, logger)
	default:
		return synth.NewMappingSynthesizer(source, logger), nil
	}
}

func buildValidator(cfg config.ValidationConfig, policies *policy.Engine, kubectl *kube.Kubectl, logger zerolog.Logger) (*validation.Chain, error) {
	var steps []validation.Step
	if cfg.Schema {
		sv, err := validation.NewSchemaValidator(logger)
		if err != nil {
			return nil, err
		}
		if cfg.SchemaDir != "" {
			if err := sv.LoadSchemas(cfg.SchemaDir); err != nil {
				return nil, err
			}
		}
		steps = append(steps, validation.Step{Name: "schema", Validator: sv})
	}
	if cfg.Policy {
		pctx := &policy.Context{Environment: cfg.Environment}
		steps = append(steps, validation.Step{
			Name:      "policy",
			Validator: validation.NewPolicyValidator(policies, pctx, logger),
		})
	}
	if cfg.Server {
		steps = append(steps, validation.Step{
			Name:      "server",
			Validator: validation.NewKubectlValidator(kubectl, logger),
		})
	}
	return validation.NewChain(logger, steps...), nil
}
