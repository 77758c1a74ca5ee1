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

package cmd

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	// Importing the cmd/internal package also import packages for side effect of registration
	"github.com/googleapis/tabular-toolbox/cmd/internal"
	"github.com/googleapis/tabular-toolbox/cmd/internal/control"
	"github.com/googleapis/tabular-toolbox/cmd/internal/databases"
	"github.com/googleapis/tabular-toolbox/cmd/internal/process"
	"github.com/googleapis/tabular-toolbox/cmd/internal/query"
	"github.com/googleapis/tabular-toolbox/internal/server"
	"github.com/googleapis/tabular-toolbox/internal/util"
	"github.com/spf13/cobra"
)

var (
	// versionString stores the full semantic version, including build metadata.
	versionString string
	// versionNum indicates the numerical part fo the version
	//go:embed version.txt
	versionNum string
	// metadataString indicates additional build or distribution metadata.
	buildType string = "dev" // should be one of "dev", "binary", or "container"
	// commitSha is the git commit it was built from
	commitSha string
)

func init() {
	versionString = semanticVersion()
}

// semanticVersion returns the version of the CLI including a compile-time metadata.
func semanticVersion() string {
	metadataStrings := []string{buildType, runtime.GOOS, runtime.GOARCH}
	if commitSha != "" {
		metadataStrings = append(metadataStrings, commitSha)
	}
	v := strings.TrimSpace(versionNum) + "+" + strings.Join(metadataStrings, ".")
	return v
}

// GenerateCommand returns a new Command object with the specified IO streams
func GenerateCommand(out, err io.Writer) *cobra.Command {
	opts := internal.NewToolboxOptions(internal.WithIOStreams(out, err))
	return NewCommand(opts)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	opts := internal.NewToolboxOptions()

	if err := NewCommand(opts).Execute(); err != nil {
		fmt.Fprintln(opts.IOStreams.ErrOut, err)
		os.Exit(1)
	}
}

// NewCommand returns a Command object representing an invocation of the CLI.
func NewCommand(opts *internal.ToolboxOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tabular-toolbox",
		Short:         "Query and manage Analysis Services tabular servers",
		Version:       versionString,
		SilenceErrors: true,
	}

	// Do not print Usage on runtime error
	cmd.SilenceUsage = true

	opts.Cfg.Version = versionString

	cmd.SetIn(opts.IOStreams.In)
	cmd.SetOut(opts.IOStreams.Out)
	cmd.SetErr(opts.IOStreams.ErrOut)

	// setup flags that are common across all commands
	internal.PersistentFlags(cmd, opts)

	flags := cmd.Flags()

	flags.StringVarP(&opts.Cfg.Address, "address", "a", "127.0.0.1", "Address of the interface the server will listen on.")
	flags.IntVarP(&opts.Cfg.Port, "port", "p", 5000, "Port the server will listen on.")
	flags.BoolVar(&opts.Cfg.DisableReload, "disable-reload", false, "Disables dynamic reloading of the configuration.")
	flags.StringSliceVar(&opts.Cfg.AllowedOrigins, "allowed-origins", []string{"*"}, "Specifies a list of origins permitted to access this server. Defaults to '*'.")
	flags.StringSliceVar(&opts.Cfg.AllowedHosts, "allowed-hosts", []string{"*"}, "Specifies a list of hosts permitted to access this server. Defaults to '*'.")

	// wrap RunE command so that we have access to original Command object
	cmd.RunE = func(*cobra.Command, []string) error { return run(cmd, opts) }

	cmd.AddCommand(query.NewCommand(opts))
	cmd.AddCommand(process.NewCommand(opts))
	cmd.AddCommand(databases.NewCommand(opts))
	cmd.AddCommand(control.NewCommand(opts))

	return cmd
}

// handleDynamicReload swaps in the sources of a reloaded configuration. The
// running set is kept when any source fails to initialize.
func handleDynamicReload(ctx context.Context, cfg server.ServerConfig, configFile internal.ConfigFile, s *server.Server) error {
	logger, err := util.LoggerFromContext(ctx)
	if err != nil {
		panic(err)
	}
	instrumentation, err := util.InstrumentationFromContext(ctx)
	if err != nil {
		panic(err)
	}

	logger.DebugContext(ctx, "Attempting to parse and validate reloaded configuration.")

	ctx, span := instrumentation.Tracer.Start(ctx, "toolbox/server/reload")
	defer span.End()

	cfg.SourceConfigs = configFile.Sources
	sourcesMap, err := server.InitializeConfigs(ctx, cfg)
	if err != nil {
		errMsg := fmt.Errorf("unable to initialize reloaded configs: %w", err)
		logger.WarnContext(ctx, errMsg.Error())
		return err
	}

	old := s.ResourceMgr.SetResources(sourcesMap)
	server.CloseSources(context.WithoutCancel(ctx), logger, old)
	return nil
}

// watchChanges checks for changes in the provided yaml configuration file(s) or folder.
func watchChanges(ctx context.Context, cfg server.ServerConfig, watchDirs map[string]bool, watchedFiles map[string]bool, s *server.Server) {
	logger, err := util.LoggerFromContext(ctx)
	if err != nil {
		panic(err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.WarnContext(ctx, fmt.Sprintf("error setting up new watcher %s", err))
		return
	}

	defer w.Close()

	watchingFolder := false
	var folderToWatch string

	// if watchedFiles is empty, indicates that user passed entire folder instead
	if len(watchedFiles) == 0 {
		watchingFolder = true

		if len(watchDirs) > 1 {
			logger.WarnContext(ctx, "error setting watcher, expected single configuration folder if no file(s) are defined.")
			return
		}

		for onlyKey := range watchDirs {
			folderToWatch = onlyKey
			break
		}
	}

	for dir := range watchDirs {
		err := w.Add(dir)
		if err != nil {
			logger.WarnContext(ctx, fmt.Sprintf("Error adding path %s to watcher: %s", dir, err))
			break
		}
		logger.DebugContext(ctx, fmt.Sprintf("Added directory %s to watcher.", dir))
	}

	// debounce timer is used to prevent multiple writes triggering multiple reloads
	debounceDelay := 100 * time.Millisecond
	debounce := time.NewTimer(1 * time.Minute)
	debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.DebugContext(ctx, "file watcher context cancelled")
			return
		case err, ok := <-w.Errors:
			if !ok {
				logger.WarnContext(ctx, "file watcher was closed unexpectedly")
				return
			}
			if err != nil {
				logger.WarnContext(ctx, fmt.Sprintf("file watcher error %s", err))
				return
			}

		case e, ok := <-w.Events:
			if !ok {
				logger.WarnContext(ctx, "file watcher already closed")
				return
			}

			// editors save through write, create or rename
			if !e.Has(fsnotify.Write | fsnotify.Create | fsnotify.Rename) {
				continue
			}

			cleanedFilename := filepath.Clean(e.Name)
			logger.DebugContext(ctx, fmt.Sprintf("%s event detected in %s", e.Op, cleanedFilename))

			folderChanged := watchingFolder &&
				(strings.HasSuffix(cleanedFilename, ".yaml") || strings.HasSuffix(cleanedFilename, ".yml"))

			if folderChanged || watchedFiles[cleanedFilename] {
				debounce.Reset(debounceDelay)
			}

		case <-debounce.C:
			debounce.Stop()
			var reloaded internal.ConfigFile

			if watchingFolder {
				logger.DebugContext(ctx, "Reloading configuration folder.")
				reloaded, err = internal.LoadAndMergeConfigFolder(ctx, folderToWatch)
				if err != nil {
					logger.WarnContext(ctx, fmt.Sprintf("error loading configuration folder %s", err))
					continue
				}
			} else {
				logger.DebugContext(ctx, "Reloading configuration file(s).")
				reloaded, err = internal.LoadAndMergeConfigFiles(ctx, slices.Sorted(maps.Keys(watchedFiles)))
				if err != nil {
					logger.WarnContext(ctx, fmt.Sprintf("error loading configuration files %s", err))
					continue
				}
			}

			err = handleDynamicReload(ctx, cfg, reloaded, s)
			if err != nil {
				logger.WarnContext(ctx, fmt.Sprintf("unable to apply reloaded configuration: %s", err))
				continue
			}
		}
	}
}

func resolveWatcherInputs(configFile string, configFiles []string, configFolder string) (map[string]bool, map[string]bool) {
	var relevantFiles []string

	watchedFiles := make(map[string]bool)

	// fsnotify prefers watching directories then filtering for files
	watchDirs := make(map[string]bool)

	if len(configFiles) > 0 {
		relevantFiles = configFiles
	} else if configFolder != "" {
		watchDirs[filepath.Clean(configFolder)] = true
	} else {
		relevantFiles = []string{configFile}
	}

	for _, f := range relevantFiles {
		cleanFile := filepath.Clean(f)
		watchedFiles[cleanFile] = true
		watchDirs[filepath.Dir(cleanFile)] = true
	}

	return watchDirs, watchedFiles
}

func run(cmd *cobra.Command, opts *internal.ToolboxOptions) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// watch for sigterm / sigint signals
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(signals)
	go func(sCtx context.Context) {
		var s os.Signal
		select {
		case <-sCtx.Done():
			return
		case s = <-signals:
		}
		switch s {
		case syscall.SIGINT:
			opts.Logger.DebugContext(sCtx, "Received SIGINT signal to shutdown.")
		case syscall.SIGTERM:
			opts.Logger.DebugContext(sCtx, "Sending SIGTERM signal to shutdown.")
		}
		cancel()
	}(ctx)

	ctx, shutdown, err := opts.Setup(ctx, false)
	if err != nil {
		return err
	}
	defer func() {
		_ = shutdown(ctx)
	}()

	if err := opts.LoadConfig(ctx); err != nil {
		return err
	}

	s, err := server.NewServer(ctx, opts.Cfg)
	if err != nil {
		errMsg := fmt.Errorf("toolbox failed to initialize: %w", err)
		opts.Logger.ErrorContext(ctx, errMsg.Error())
		return errMsg
	}
	defer server.CloseSources(context.WithoutCancel(ctx), opts.Logger, s.ResourceMgr.GetSourcesMap())

	err = s.Listen(ctx)
	if err != nil {
		errMsg := fmt.Errorf("toolbox failed to start listener: %w", err)
		opts.Logger.ErrorContext(ctx, errMsg.Error())
		return errMsg
	}
	opts.Logger.InfoContext(ctx, "Server ready to serve!")

	srvErr := make(chan error)
	go func() {
		defer close(srvErr)
		if err := s.Serve(ctx); err != nil {
			srvErr <- err
		}
	}()

	if !opts.Cfg.DisableReload {
		watchDirs, watchedFiles := resolveWatcherInputs(opts.ConfigFile, opts.ConfigFiles, opts.ConfigFolder)
		go watchChanges(ctx, opts.Cfg, watchDirs, watchedFiles, s)
	}

	// wait for either the server to error out or the command's context to be canceled
	select {
	case err := <-srvErr:
		if err != nil {
			errMsg := fmt.Errorf("toolbox crashed with the following error: %w", err)
			opts.Logger.ErrorContext(ctx, errMsg.Error())
			return errMsg
		}
	case <-ctx.Done():
		shutdownContext, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		opts.Logger.WarnContext(shutdownContext, "Shutting down gracefully...")
		err := s.Shutdown(shutdownContext)
		if err == context.DeadlineExceeded {
			return fmt.Errorf("graceful shutdown timed out... forcing exit")
		}
	}

	return nil
}
