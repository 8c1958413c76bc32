package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
	ConfigFile    string
	Input         string // Correspondence file or http(s) URL for a one-shot fit
	OutputFile    string
	OutputFormat  string // json, geojson, svg, png or histogram
	Model         string
	Statistic     string
	Retention     float64
	MaxIterations int
	Ransac        bool
	MqttMode      bool
	HttpPort      int
	LogLevel      string
}

// Runner is what run dispatches to; App implements it and tests mock it
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunFit() error
	RunService() error
}

func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("meshfit", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file (defaults are used when it is missing)")
	fs.StringVar(&opts.Input, "input", "", "Correspondence JSON file or URL; fits once and exits")
	fs.StringVar(&opts.OutputFile, "output", "", "Output file for --input mode (default stdout)")
	fs.StringVar(&opts.OutputFormat, "format", "json", "Output format: json, geojson, svg, png or histogram")
	fs.StringVar(&opts.Model, "model", "", "Model kind: affine, similarity, rigid or translation (overrides config)")
	fs.StringVar(&opts.Statistic, "statistic", "", "Pruning statistic: mean, median or percentile (overrides config)")
	fs.Float64Var(&opts.Retention, "retention", 0, "Retention parameter for the statistic (overrides config)")
	fs.IntVar(&opts.MaxIterations, "max-iterations", 0, "Iteration budget (overrides config)")
	fs.BoolVar(&opts.Ransac, "ransac", false, "Seed each fit with RANSAC sampling")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Serve fit requests over MQTT in service mode")
	fs.IntVar(&opts.HttpPort, "http-port", 0, "HTTP server port (overrides config)")
	fs.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn or error (overrides config)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "meshfit version: %s\n", Version)
	app.ApplyOptions(opts)

	if opts.Input != "" {
		return app.RunFit()
	}
	fmt.Fprintln(out, "meshfit service starting...")
	return app.RunService()
}

func main() {
	app := NewApp(os.Stdout)
	if err := run(os.Args[1:], os.Stderr, app); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "meshfit: %v\n", err)
		os.Exit(1)
	}
}
