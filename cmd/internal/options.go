// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package internal

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/googleapis/tabular-toolbox/internal/credentials"
	"github.com/googleapis/tabular-toolbox/internal/log"
	"github.com/googleapis/tabular-toolbox/internal/server"
	"github.com/googleapis/tabular-toolbox/internal/telemetry"
	"github.com/googleapis/tabular-toolbox/internal/util"
)

// DefaultConfigFile is read when no configuration flag is given.
const DefaultConfigFile = "tabular.yaml"

type IOStreams struct {
	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer
}

// ToolboxOptions holds dependencies shared by all commands.
type ToolboxOptions struct {
	IOStreams    IOStreams
	Logger       log.Logger
	Cfg          server.ServerConfig
	ConfigFile   string
	ConfigFiles  []string
	ConfigFolder string
}

// Option defines a function that modifies the ToolboxOptions struct.
type Option func(*ToolboxOptions)

// NewToolboxOptions creates a new instance with defaults, then applies any
// provided options.
func NewToolboxOptions(opts ...Option) *ToolboxOptions {
	o := &ToolboxOptions{
		IOStreams: IOStreams{
			In:     os.Stdin,
			Out:    os.Stdout,
			ErrOut: os.Stderr,
		},
	}

	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithIOStreams updates the IO streams.
func WithIOStreams(out, err io.Writer) Option {
	return func(o *ToolboxOptions) {
		o.IOStreams.Out = out
		o.IOStreams.ErrOut = err
	}
}

// Setup create logger and telemetry instrumentations. Subcommands print
// their results on Out, so logToErr moves their logs to ErrOut.
func (opts *ToolboxOptions) Setup(ctx context.Context, logToErr bool) (context.Context, func(context.Context) error, error) {
	loggerOut := opts.IOStreams.Out
	if logToErr {
		loggerOut = opts.IOStreams.ErrOut
	}

	logger, err := log.NewLogger(opts.Cfg.LoggingFormat.String(), opts.Cfg.LogLevel.String(), loggerOut, opts.IOStreams.ErrOut)
	if err != nil {
		return ctx, nil, fmt.Errorf("unable to initialize logger: %w", err)
	}

	ctx = util.WithLogger(ctx, logger)
	opts.Logger = logger

	otelShutdown, err := telemetry.SetupOTel(ctx, telemetry.Config{
		Version:      opts.Cfg.Version,
		ServiceName:  opts.Cfg.TelemetryServiceName,
		OTLPEndpoint: opts.Cfg.TelemetryOTLP,
		GCP:          opts.Cfg.TelemetryGCP,
	})
	if err != nil {
		errMsg := fmt.Errorf("error setting up OpenTelemetry: %w", err)
		logger.ErrorContext(ctx, errMsg.Error())
		return ctx, nil, errMsg
	}

	shutdownFunc := func(ctx context.Context) error {
		err := otelShutdown(ctx)
		if err != nil {
			errMsg := fmt.Errorf("error shutting down OpenTelemetry: %w", err)
			logger.ErrorContext(ctx, errMsg.Error())
			return err
		}
		return nil
	}

	instrumentation, err := telemetry.CreateTelemetryInstrumentation(opts.Cfg.Version)
	if err != nil {
		errMsg := fmt.Errorf("unable to create telemetry instrumentation: %w", err)
		logger.ErrorContext(ctx, errMsg.Error())
		return ctx, shutdownFunc, errMsg
	}

	ctx = util.WithInstrumentation(ctx, instrumentation)
	// One credential cache serves every source, across reloads too.
	ctx = credentials.WithCache(ctx, credentials.New())

	return ctx, shutdownFunc, nil
}

// LoadConfig reads the configuration files into Cfg. It falls back to
// DefaultConfigFile when no configuration flag is set.
func (opts *ToolboxOptions) LoadConfig(ctx context.Context) error {
	logger, err := util.LoggerFromContext(ctx)
	if err != nil {
		return err
	}

	if (opts.ConfigFile != "" && len(opts.ConfigFiles) > 0) ||
		(opts.ConfigFile != "" && opts.ConfigFolder != "") ||
		(len(opts.ConfigFiles) > 0 && opts.ConfigFolder != "") {
		errMsg := fmt.Errorf("--config, --configs, and --config-folder flags cannot be used simultaneously")
		logger.ErrorContext(ctx, errMsg.Error())
		return errMsg
	}
	if opts.ConfigFile == "" && len(opts.ConfigFiles) == 0 && opts.ConfigFolder == "" {
		opts.ConfigFile = DefaultConfigFile
	}

	var configFile ConfigFile
	switch {
	case len(opts.ConfigFiles) > 0:
		logger.InfoContext(ctx, fmt.Sprintf("Loading and merging %d configuration files", len(opts.ConfigFiles)))
		configFile, err = LoadAndMergeConfigFiles(ctx, opts.ConfigFiles)
	case opts.ConfigFolder != "":
		logger.InfoContext(ctx, fmt.Sprintf("Loading and merging all YAML files from directory: %s", opts.ConfigFolder))
		configFile, err = LoadAndMergeConfigFolder(ctx, opts.ConfigFolder)
	default:
		buf, readErr := os.ReadFile(opts.ConfigFile)
		if readErr != nil {
			errMsg := fmt.Errorf("unable to read config file at %q: %w", opts.ConfigFile, readErr)
			logger.ErrorContext(ctx, errMsg.Error())
			return errMsg
		}
		configFile, err = parseConfigFile(ctx, buf)
		if err != nil {
			err = fmt.Errorf("unable to parse config file at %q: %w", opts.ConfigFile, err)
		}
	}
	if err != nil {
		logger.ErrorContext(ctx, err.Error())
		return err
	}

	opts.Cfg.SourceConfigs = configFile.Sources
	return nil
}
