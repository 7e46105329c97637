package commands

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/openrules/openrules/pkg/config"
	"github.com/openrules/openrules/pkg/dataservice"
	"github.com/openrules/openrules/pkg/engine"
	"github.com/openrules/openrules/pkg/evaluator"
	"github.com/openrules/openrules/pkg/policy"
	"github.com/openrules/openrules/pkg/registry"
	"github.com/openrules/openrules/pkg/telemetry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// runtime holds the wired engine for one command invocation.
type runtime struct {
	cfg    *config.Options
	tel    *telemetry.Telemetry
	logger zerolog.Logger
	eng    *evaluator.Engine
	reg    engine.Registry
	pol    *policy.Engine

	store  *registry.SQLiteStore
	memory *registry.Memory
	loader *registry.Loader
}

// setup loads configuration and assembles the engine: telemetry,
// admission policies, the registry (SQLite or in-memory), bundle
// loading, and the data-service client.
func setup(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.LogLevel = "debug"
	}

	tel, err := telemetry.NewTelemetry(telemetryConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()

	rt := &runtime{cfg: cfg, tel: tel, logger: logger}

	rt.pol, err = policy.NewEngine(logger)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := rt.pol.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			rt.close()
			return nil, err
		}
	}

	var writer registry.Writer
	if cfg.Registry.StorePath != "" {
		store, err := registry.NewSQLiteStore(registry.SQLiteConfig{Path: cfg.Registry.StorePath})
		if err != nil {
			rt.close()
			return nil, err
		}
		if err := store.Init(ctx); err != nil {
			rt.close()
			return nil, err
		}
		rt.store = store
		if err := store.Migrate(ctx); err != nil {
			rt.close()
			return nil, err
		}
		rt.reg = store
		writer = &admittedWriter{target: store, admission: rt.pol}
	} else {
		rt.memory = registry.NewMemory(registry.MemoryOptions{Admission: rt.pol}, logger)
		rt.reg = rt.memory
		writer = rt.memory
	}

	if len(cfg.Registry.BundleDirs) > 0 {
		rt.loader = registry.NewLoader(writer, logger)
		for _, dir := range cfg.Registry.BundleDirs {
			report, err := rt.loader.LoadDir(ctx, dir)
			if err != nil {
				rt.close()
				return nil, err
			}
			for _, loadErr := range report.Errors {
				logger.Warn().Err(loadErr).Msg("bundle entry rejected")
			}
		}
		if cfg.Registry.Watch {
			for _, dir := range cfg.Registry.BundleDirs {
				if err := rt.loader.Watch(ctx, dir); err != nil {
					rt.close()
					return nil, err
				}
			}
		}
	}

	client := dataservice.New(dataservice.Options{
		DefaultTimeout:         time.Duration(cfg.DataService.DefaultTimeoutMs) * time.Millisecond,
		MaxRetries:             *cfg.DataService.MaxRetries,
		BackoffInitial:         time.Duration(cfg.DataService.BackoffInitialMs) * time.Millisecond,
		GlobalConcurrency:      int64(cfg.HTTP.GlobalPool),
		PerEndpointConcurrency: int64(cfg.HTTP.PerEndpoint),
	}, logger)

	rt.eng = evaluator.New(rt.reg, client, evaluator.Options{
		Config:    cfg,
		Telemetry: tel,
	}, logger)

	return rt, nil
}

func (rt *runtime) close() {
	if rt.loader != nil {
		_ = rt.loader.StopWatching()
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
	if rt.tel != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.tel.Shutdown(shutdownCtx)
	}
}

// admittedWriter gates SQLite saves through the admission policies, the
// same way the in-memory registry does natively.
type admittedWriter struct {
	target    registry.Writer
	admission registry.Admission
}

func (w *admittedWriter) SaveFieldConfig(ctx context.Context, cfg *engine.FieldConfig) error {
	if err := w.admission.AdmitFieldConfig(ctx, cfg); err != nil {
		return err
	}
	return w.target.SaveFieldConfig(ctx, cfg)
}

func (w *admittedWriter) SaveEntityType(ctx context.Context, et *engine.EntityType) error {
	if err := w.admission.AdmitEntityType(ctx, et); err != nil {
		return err
	}
	return w.target.SaveEntityType(ctx, et)
}

// telemetryConfig maps the engine options onto the telemetry package's
// configuration.
func telemetryConfig(cfg *config.Options) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = buildVersion
	tc.Logging.Level = cfg.Telemetry.LogLevel
	tc.Logging.Format = cfg.Telemetry.LogFormat
	tc.Logging.Output = "stderr"
	tc.Metrics.Enabled = cfg.Telemetry.MetricsEnabled
	tc.Metrics.ListenAddress = cfg.Telemetry.MetricsAddress
	tc.Tracing.Enabled = cfg.Telemetry.TraceExporter != "" && cfg.Telemetry.TraceExporter != "none"
	if tc.Tracing.Enabled {
		tc.Tracing.Exporter = cfg.Telemetry.TraceExporter
		tc.Tracing.Endpoint = cfg.Telemetry.TraceEndpoint
		tc.Tracing.SamplingRate = cfg.Telemetry.TraceSamplingRate
	}
	return tc
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
