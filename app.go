package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/kwv/meshfit/estimator"
	"github.com/kwv/meshfit/logging"
	"github.com/kwv/meshfit/mesh"
)

// App encapsulates the application state and dependencies
type App struct {
	Out      io.Writer // Destination for --input results when no output file is set
	Config   *mesh.Config
	Logger   zerolog.Logger
	Registry *prometheus.Registry
	Metrics  *mesh.Metrics
	Solver   *mesh.Solver
	Store    *mesh.ResultStore
	Service  *mesh.FitService

	opts AppOptions
}

// NewApp creates a new App instance
func NewApp(out io.Writer) *App {
	return &App{
		Out:    out,
		Logger: zerolog.Nop(),
		Store:  mesh.NewResultStore(),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.opts = opts
}

// loadConfig reads the config file, then applies env and flag overrides. A
// missing file at the default path falls back to DefaultConfig.
func (a *App) loadConfig() (*mesh.Config, error) {
	config := mesh.DefaultConfig()
	if _, err := os.Stat(a.opts.ConfigFile); err == nil || a.opts.ConfigFile != "config.yaml" {
		loaded, err := mesh.LoadConfig(a.opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		config = loaded
	}
	config.ApplyEnv()

	if a.opts.Model != "" {
		config.Model = mesh.ModelKind(a.opts.Model)
	}
	if a.opts.Statistic != "" {
		stat, err := estimator.ParseStatistic(a.opts.Statistic)
		if err != nil {
			return nil, err
		}
		config.Matcher.Statistic = stat
		if a.opts.Retention == 0 {
			config.Matcher.Retention = estimator.DefaultRetention(stat)
		}
	}
	if a.opts.Retention != 0 {
		config.Matcher.Retention = a.opts.Retention
	}
	if a.opts.MaxIterations != 0 {
		config.Matcher.MaxIterations = a.opts.MaxIterations
	}
	if a.opts.Ransac {
		config.Ransac.Enabled = true
	}
	if a.opts.HttpPort != 0 {
		config.HTTP.Port = a.opts.HttpPort
	}
	if a.opts.LogLevel != "" {
		config.Logging.Level = a.opts.LogLevel
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// setup builds config, logger, metrics and solver
func (a *App) setup() error {
	config, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.Config = config

	logger, err := logging.New(logging.Config{
		Level:  config.Logging.Level,
		Format: config.Logging.Format,
	}, nil)
	if err != nil {
		return err
	}
	a.Logger = logger

	a.Registry = prometheus.NewRegistry()
	a.Metrics = mesh.NewMetrics(a.Registry)

	solver, err := mesh.NewSolver(config, logger, a.Metrics)
	if err != nil {
		return err
	}
	a.Solver = solver
	return nil
}

// readInput loads correspondences from a file or an http(s) URL
func (a *App) readInput(ctx context.Context) (*mesh.CorrespondenceSet, error) {
	in := a.opts.Input
	if strings.HasPrefix(in, "http://") || strings.HasPrefix(in, "https://") {
		return mesh.FetchCorrespondences(ctx, in)
	}
	return mesh.ParseCorrespondenceFile(in)
}

// RunFit performs one robust fit of the --input correspondences and writes
// the result in the requested format.
func (a *App) RunFit() error {
	if err := a.setup(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	set, err := a.readInput(ctx)
	if err != nil {
		return err
	}

	outcome, err := a.Solver.Solve(*set)
	if err != nil {
		return err
	}
	a.Store.Put(outcome)

	var buf bytes.Buffer
	if err := writeOutcome(&buf, outcome, a.opts.OutputFormat); err != nil {
		return err
	}

	if a.opts.OutputFile == "" {
		_, err = a.Out.Write(buf.Bytes())
	} else {
		err = os.WriteFile(a.opts.OutputFile, buf.Bytes(), 0644)
	}
	if err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	if !outcome.OK {
		return fmt.Errorf("fit failed: %s", outcome.Reason)
	}
	return nil
}

// writeOutcome encodes an outcome in one of the CLI output formats
func writeOutcome(w io.Writer, o mesh.FitOutcome, format string) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(o)
	case "geojson":
		data, err := mesh.OutcomeToFeatureCollection(o).MarshalJSON()
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "svg":
		return mesh.NewPlotRenderer(o).RenderToSVG(w)
	case "png":
		return mesh.NewPlotRenderer(o).RenderToPNG(w)
	case "histogram":
		return mesh.RenderResidualHistogram(o, w)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// RunService serves fits over HTTP, and over MQTT when a broker is
// configured, until SIGINT or SIGTERM.
func (a *App) RunService() error {
	if err := a.setup(); err != nil {
		return err
	}
	if a.opts.MqttMode && a.Config.MQTT.Broker == "" {
		return fmt.Errorf("--mqtt requires mqtt.broker or MQTT_BROKER")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := mesh.StartFitService(ctx, a.Config.MQTT, a.Solver, a.Store, a.Logger)
	if err != nil {
		return err
	}
	a.Service = svc

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.HTTP.Port),
		Handler:           newRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", srv.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("HTTP server: %w", err)
	}

	a.Logger.Info().Msg("shutting down")
	if a.Service != nil {
		a.Service.Disconnect()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}
