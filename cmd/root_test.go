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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/googleapis/tabular-toolbox/cmd/internal"
	"github.com/googleapis/tabular-toolbox/internal/log"
	"github.com/googleapis/tabular-toolbox/internal/server"
	"github.com/googleapis/tabular-toolbox/internal/telemetry"
	"github.com/googleapis/tabular-toolbox/internal/testutils"
	"github.com/googleapis/tabular-toolbox/internal/util"
	"github.com/spf13/cobra"
)

func withDefaults(c server.ServerConfig) server.ServerConfig {
	data, _ := os.ReadFile("version.txt")
	version := strings.TrimSpace(string(data))
	c.Version = version + "+" + strings.Join([]string{"dev", runtime.GOOS, runtime.GOARCH}, ".")

	if c.Address == "" {
		c.Address = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 5000
	}
	if c.TelemetryServiceName == "" {
		c.TelemetryServiceName = "tabular-toolbox"
	}
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = []string{"*"}
	}
	if c.AllowedHosts == nil {
		c.AllowedHosts = []string{"*"}
	}
	if c.UserAgentMetadata == nil {
		c.UserAgentMetadata = []string{}
	}
	return c
}

func invokeCommand(args []string) (*cobra.Command, *internal.ToolboxOptions, string, error) {
	buf := new(bytes.Buffer)
	opts := internal.NewToolboxOptions(internal.WithIOStreams(buf, buf))
	c := NewCommand(opts)

	// Keep the test output quiet
	c.SilenceUsage = true
	c.SilenceErrors = true

	c.SetOut(buf)
	c.SetErr(buf)
	c.SetArgs(args)

	// Disable execute behavior
	c.RunE = func(*cobra.Command, []string) error {
		return nil
	}

	err := c.Execute()

	return c, opts, buf.String(), err
}

// invokeCommandWithContext executes the command with a context and returns the captured output.
func invokeCommandWithContext(ctx context.Context, args []string) (*cobra.Command, *internal.ToolboxOptions, string, error) {
	buf := new(bytes.Buffer)
	opts := internal.NewToolboxOptions(internal.WithIOStreams(buf, buf))
	c := NewCommand(opts)

	c.SetArgs(args)
	c.SilenceUsage = true
	c.SilenceErrors = true
	c.SetContext(ctx)

	err := c.Execute()
	return c, opts, buf.String(), err
}

// invokeSubcommand runs a subcommand and returns what it printed on stdout
// and stderr separately.
func invokeSubcommand(t *testing.T, args []string) (string, string, error) {
	t.Helper()
	out, errOut := new(bytes.Buffer), new(bytes.Buffer)
	c := GenerateCommand(out, errOut)
	c.SetArgs(args)
	c.SilenceUsage = true
	err := c.Execute()
	return out.String(), errOut.String(), err
}

func TestVersion(t *testing.T) {
	data, err := os.ReadFile("version.txt")
	if err != nil {
		t.Fatalf("failed to read version.txt: %v", err)
	}
	want := strings.TrimSpace(string(data))

	_, _, got, err := invokeCommand([]string{"--version"})
	if err != nil {
		t.Fatalf("error invoking command: %s", err)
	}

	if !strings.Contains(got, want) {
		t.Errorf("cli did not return correct version: want %q, got %q", want, got)
	}
}

func TestServerConfigFlags(t *testing.T) {
	tcs := []struct {
		desc string
		args []string
		want server.ServerConfig
	}{
		{
			desc: "default values",
			args: []string{},
			want: withDefaults(server.ServerConfig{}),
		},
		{
			desc: "address short",
			args: []string{"-a", "127.0.1.1"},
			want: withDefaults(server.ServerConfig{
				Address: "127.0.1.1",
			}),
		},
		{
			desc: "address long",
			args: []string{"--address", "0.0.0.0"},
			want: withDefaults(server.ServerConfig{
				Address: "0.0.0.0",
			}),
		},
		{
			desc: "port short",
			args: []string{"-p", "5052"},
			want: withDefaults(server.ServerConfig{
				Port: 5052,
			}),
		},
		{
			desc: "port long",
			args: []string{"--port", "5050"},
			want: withDefaults(server.ServerConfig{
				Port: 5050,
			}),
		},
		{
			desc: "logging format",
			args: []string{"--logging-format", "JSON"},
			want: withDefaults(server.ServerConfig{
				LoggingFormat: "JSON",
			}),
		},
		{
			desc: "debug logs",
			args: []string{"--log-level", "WARN"},
			want: withDefaults(server.ServerConfig{
				LogLevel: "WARN",
			}),
		},
		{
			desc: "telemetry gcp",
			args: []string{"--telemetry-gcp"},
			want: withDefaults(server.ServerConfig{
				TelemetryGCP: true,
			}),
		},
		{
			desc: "telemetry otlp",
			args: []string{"--telemetry-otlp", "http://127.0.0.1:4553"},
			want: withDefaults(server.ServerConfig{
				TelemetryOTLP: "http://127.0.0.1:4553",
			}),
		},
		{
			desc: "telemetry service name",
			args: []string{"--telemetry-service-name", "tabular-custom"},
			want: withDefaults(server.ServerConfig{
				TelemetryServiceName: "tabular-custom",
			}),
		},
		{
			desc: "disable reload",
			args: []string{"--disable-reload"},
			want: withDefaults(server.ServerConfig{
				DisableReload: true,
			}),
		},
		{
			desc: "allowed origin",
			args: []string{"--allowed-origins", "http://foo.com,http://bar.com"},
			want: withDefaults(server.ServerConfig{
				AllowedOrigins: []string{"http://foo.com", "http://bar.com"},
			}),
		},
		{
			desc: "allowed hosts",
			args: []string{"--allowed-hosts", "http://foo.com,http://bar.com"},
			want: withDefaults(server.ServerConfig{
				AllowedHosts: []string{"http://foo.com", "http://bar.com"},
			}),
		},
		{
			desc: "user agent metadata",
			args: []string{"--user-agent-metadata", "foo,bar"},
			want: withDefaults(server.ServerConfig{
				UserAgentMetadata: []string{"foo", "bar"},
			}),
		},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			_, opts, _, err := invokeCommand(tc.args)
			if err != nil {
				t.Fatalf("unexpected error invoking command: %s", err)
			}

			if diff := cmp.Diff(tc.want, opts.Cfg); diff != "" {
				t.Fatalf("unexpected config (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConfigFlags(t *testing.T) {
	tcs := []struct {
		desc       string
		args       []string
		wantFile   string
		wantFiles  []string
		wantFolder string
	}{
		{
			desc:      "default value",
			args:      []string{},
			wantFiles: []string{},
		},
		{
			desc:      "config file",
			args:      []string{"--config", "foo.yaml"},
			wantFile:  "foo.yaml",
			wantFiles: []string{},
		},
		{
			desc:      "multiple config files",
			args:      []string{"--configs", "a.yaml,b.yaml"},
			wantFiles: []string{"a.yaml", "b.yaml"},
		},
		{
			desc:       "config folder",
			args:       []string{"--config-folder", "conf"},
			wantFiles:  []string{},
			wantFolder: "conf",
		},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			_, opts, _, err := invokeCommand(tc.args)
			if err != nil {
				t.Fatalf("unexpected error invoking command: %s", err)
			}
			if opts.ConfigFile != tc.wantFile {
				t.Errorf("unexpected config file: want %q, got %q", tc.wantFile, opts.ConfigFile)
			}
			if diff := cmp.Diff(tc.wantFiles, opts.ConfigFiles); diff != "" {
				t.Errorf("unexpected config files (-want +got):\n%s", diff)
			}
			if opts.ConfigFolder != tc.wantFolder {
				t.Errorf("unexpected config folder: want %q, got %q", tc.wantFolder, opts.ConfigFolder)
			}
		})
	}
}

func TestFailServerConfigFlags(t *testing.T) {
	tcs := []struct {
		desc string
		args []string
	}{
		{
			desc: "logging format",
			args: []string{"--logging-format", "fail"},
		},
		{
			desc: "debug logs",
			args: []string{"--log-level", "fail"},
		},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			_, _, _, err := invokeCommand(tc.args)
			if err == nil {
				t.Fatalf("expected an error, but got nil")
			}
		})
	}
}

func TestDefaultLoggingFormat(t *testing.T) {
	_, opts, _, err := invokeCommand([]string{})
	if err != nil {
		t.Fatalf("unexpected error invoking command: %s", err)
	}
	got := opts.Cfg.LoggingFormat.String()
	want := "standard"
	if got != want {
		t.Fatalf("unexpected default logging format flag: got %v, want %v", got, want)
	}
}

func TestDefaultLogLevel(t *testing.T) {
	_, opts, _, err := invokeCommand([]string{})
	if err != nil {
		t.Fatalf("unexpected error invoking command: %s", err)
	}
	got := opts.Cfg.LogLevel.String()
	want := "info"
	if got != want {
		t.Fatalf("unexpected default log level flag: got %v, want %v", got, want)
	}
}

// normalizeFilepaths allows the same filepath formats on Mac and Windows.
func normalizeFilepaths(m map[string]bool) map[string]bool {
	newMap := make(map[string]bool)
	for k, v := range m {
		newMap[filepath.ToSlash(k)] = v
	}
	return newMap
}

func TestResolveWatcherInputs(t *testing.T) {
	tcs := []struct {
		description      string
		configFile       string
		configFiles      []string
		configFolder     string
		wantWatchDirs    map[string]bool
		wantWatchedFiles map[string]bool
	}{
		{
			description:      "single config file",
			configFile:       "conf/olap.yaml",
			wantWatchDirs:    map[string]bool{"conf": true},
			wantWatchedFiles: map[string]bool{"conf/olap.yaml": true},
		},
		{
			description:      "default config file",
			configFile:       "tabular.yaml",
			wantWatchDirs:    map[string]bool{".": true},
			wantWatchedFiles: map[string]bool{"tabular.yaml": true},
		},
		{
			description:   "multiple files in different folders",
			configFiles:   []string{"conf/olap.yaml", "conf2/aas.yaml"},
			wantWatchDirs: map[string]bool{"conf": true, "conf2": true},
			wantWatchedFiles: map[string]bool{
				"conf/olap.yaml": true,
				"conf2/aas.yaml": true,
			},
		},
		{
			description:   "multiple files in same folder",
			configFiles:   []string{"conf/olap.yaml", "conf/cache.yaml"},
			wantWatchDirs: map[string]bool{"conf": true},
			wantWatchedFiles: map[string]bool{
				"conf/olap.yaml":  true,
				"conf/cache.yaml": true,
			},
		},
		{
			description:   "multiple files in different levels",
			configFiles:   []string{"conf/olap.yaml", "conf/azure/aas.yaml"},
			wantWatchDirs: map[string]bool{"conf": true, "conf/azure": true},
			wantWatchedFiles: map[string]bool{
				"conf/olap.yaml":      true,
				"conf/azure/aas.yaml": true,
			},
		},
		{
			description:      "config folder",
			configFolder:     "conf",
			wantWatchDirs:    map[string]bool{"conf": true},
			wantWatchedFiles: map[string]bool{},
		},
	}
	for _, tc := range tcs {
		t.Run(tc.description, func(t *testing.T) {
			gotWatchDirs, gotWatchedFiles := resolveWatcherInputs(tc.configFile, tc.configFiles, tc.configFolder)

			if diff := cmp.Diff(tc.wantWatchDirs, normalizeFilepaths(gotWatchDirs)); diff != "" {
				t.Errorf("incorrect watchDirs: diff %v", diff)
			}
			if diff := cmp.Diff(tc.wantWatchedFiles, normalizeFilepaths(gotWatchedFiles)); diff != "" {
				t.Errorf("incorrect watchedFiles: diff %v", diff)
			}
		})
	}
}

// tmpFileWithCleanup writes content to a new temporary file.
func tmpFileWithCleanup(content []byte) (string, func(), error) {
	f, err := os.CreateTemp("", "*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.Remove(f.Name()) }

	if _, err := f.Write(content); err != nil {
		cleanup()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return f.Name(), cleanup, err
}

func TestSingleEdit(t *testing.T) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), time.Minute)
	defer cancelCtx()

	pr, pw := io.Pipe()
	defer pw.Close()
	defer pr.Close()

	fileToWatch, cleanup, err := tmpFileWithCleanup([]byte("initial content"))
	if err != nil {
		t.Fatalf("error editing config file %s", err)
	}
	defer cleanup()

	logger, err := log.NewStdLogger(pw, pw, "DEBUG")
	if err != nil {
		t.Fatalf("failed to setup logger %s", err)
	}
	ctx = util.WithLogger(ctx, logger)

	instrumentation, err := telemetry.CreateTelemetryInstrumentation(versionString)
	if err != nil {
		t.Fatalf("failed to setup instrumentation %s", err)
	}
	ctx = util.WithInstrumentation(ctx, instrumentation)

	mockServer := &server.Server{}

	cleanFileToWatch := filepath.Clean(fileToWatch)
	watchDir := filepath.Dir(cleanFileToWatch)

	watchedFiles := map[string]bool{cleanFileToWatch: true}
	watchDirs := map[string]bool{watchDir: true}

	go watchChanges(ctx, server.ServerConfig{}, watchDirs, watchedFiles, mockServer)

	// escape backslash so regex doesn't fail on windows filepaths
	regexEscapedPathFile := strings.ReplaceAll(cleanFileToWatch, `\`, `\\\\*\\`)
	regexEscapedPathFile = path.Clean(regexEscapedPathFile)

	regexEscapedPathDir := strings.ReplaceAll(watchDir, `\`, `\\\\*\\`)
	regexEscapedPathDir = path.Clean(regexEscapedPathDir)

	begunWatchingDir := regexp.MustCompile(fmt.Sprintf(`DEBUG "Added directory %s to watcher."`, regexEscapedPathDir))
	_, err = testutils.WaitForString(ctx, begunWatchingDir, pr)
	if err != nil {
		t.Fatalf("timeout or error waiting for watcher to start: %s", err)
	}

	err = os.WriteFile(fileToWatch, []byte("modification"), 0777)
	if err != nil {
		t.Fatalf("error writing to file: %v", err)
	}

	// editors fire different operations, so only the common part is matched
	detectedFileChange := regexp.MustCompile(fmt.Sprintf(`event detected in %s"`, regexEscapedPathFile))
	_, err = testutils.WaitForString(ctx, detectedFileChange, pr)
	if err != nil {
		t.Fatalf("timeout or error waiting for file to detect write: %s", err)
	}
}

func TestMutuallyExclusiveFlags(t *testing.T) {
	testCases := []struct {
		desc      string
		args      []string
		errString string
	}{
		{
			desc:      "--config and --configs",
			args:      []string{"--config", "my.yaml", "--configs", "a.yaml,b.yaml"},
			errString: "--config, --configs, and --config-folder flags cannot be used simultaneously",
		},
		{
			desc:      "--config-folder and --configs",
			args:      []string{"--config-folder", "./", "--configs", "a.yaml,b.yaml"},
			errString: "--config, --configs, and --config-folder flags cannot be used simultaneously",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			buf := new(bytes.Buffer)
			opts := internal.NewToolboxOptions(internal.WithIOStreams(buf, buf))
			cmd := NewCommand(opts)
			cmd.SetArgs(tc.args)
			err := cmd.Execute()
			if err == nil {
				t.Fatalf("expected an error but got none")
			}
			if !strings.Contains(err.Error(), tc.errString) {
				t.Errorf("expected error message to contain %q, but got %q", tc.errString, err.Error())
			}
		})
	}
}

func TestFileLoadingErrors(t *testing.T) {
	t.Run("non-existent config file", func(t *testing.T) {
		buf := new(bytes.Buffer)
		opts := internal.NewToolboxOptions(internal.WithIOStreams(buf, buf))
		cmd := NewCommand(opts)
		nonExistentFile := filepath.Join(t.TempDir(), "non-existent.yaml")
		cmd.SetArgs([]string{"--config", nonExistentFile})

		err := cmd.Execute()
		if err == nil {
			t.Fatal("expected an error for non-existent file but got none")
		}
		if !strings.Contains(err.Error(), "unable to read config file") {
			t.Errorf("expected error about reading file, but got: %v", err)
		}
	})

	t.Run("non-existent config folder", func(t *testing.T) {
		buf := new(bytes.Buffer)
		opts := internal.NewToolboxOptions(internal.WithIOStreams(buf, buf))
		cmd := NewCommand(opts)
		nonExistentFolder := filepath.Join(t.TempDir(), "non-existent-folder")
		cmd.SetArgs([]string{"--config-folder", nonExistentFolder})

		err := cmd.Execute()
		if err == nil {
			t.Fatal("expected an error for non-existent folder but got none")
		}
		if !strings.Contains(err.Error(), "unable to access config folder") {
			t.Errorf("expected error about accessing folder, but got: %v", err)
		}
	})
}

func TestDefaultConfigFileBehavior(t *testing.T) {
	t.Run("missing default file", func(t *testing.T) {
		t.Chdir(t.TempDir())
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		_, _, _, err := invokeCommandWithContext(ctx, []string{})
		if err == nil {
			t.Fatalf("expected error reading default file, got nil")
		}
		if !strings.Contains(err.Error(), internal.DefaultConfigFile) {
			t.Errorf("expected error message to contain %q, but got %q", internal.DefaultConfigFile, err.Error())
		}
	})

	t.Run("default file is served", func(t *testing.T) {
		t.Chdir(t.TempDir())
		content := "kind: sources\nname: olap\ntype: analysis-services\nconnectionString: Data Source=http://127.0.0.1:1/olap/msmdpump.dll\n"
		if err := os.WriteFile(internal.DefaultConfigFile, []byte(content), 0o644); err != nil {
			t.Fatalf("unable to write config file: %s", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		_, _, output, err := invokeCommandWithContext(ctx, []string{"--port", "0", "--disable-reload"})
		if err != nil && err != context.DeadlineExceeded && err != context.Canceled {
			t.Fatalf("expected server start, got error: %v", err)
		}
		if !strings.Contains(output, "Server ready to serve!") {
			t.Errorf("server did not start successfully (no ready message found). Output:\n%s", output)
		}
	})
}

func TestSubcommandWiring(t *testing.T) {
	buf := new(bytes.Buffer)
	opts := internal.NewToolboxOptions(internal.WithIOStreams(buf, buf))
	baseCmd := NewCommand(opts)

	tests := []struct {
		args         []string
		expectedName string
	}{
		{[]string{"query"}, "query"},
		{[]string{"process"}, "process"},
		{[]string{"databases"}, "databases"},
		{[]string{"server", "pause"}, "pause"},
		{[]string{"server", "resume"}, "resume"},
		{[]string{"server", "status"}, "status"},
		{[]string{"server", "scale"}, "scale"},
	}

	for _, tc := range tests {
		cmd, _, err := baseCmd.Find(tc.args)
		if err != nil {
			t.Fatalf("Failed to find command %v: %v", tc.args, err)
		}
		if cmd.Name() != tc.expectedName {
			t.Errorf("Expected command name %q, got %q", tc.expectedName, cmd.Name())
		}
	}
}

// olapConfig starts a fake XMLA endpoint and writes a config file with a
// single "olap" source pointing at it.
func olapConfig(t *testing.T) (string, *testutils.XMLAServer) {
	t.Helper()
	srv := testutils.NewXMLAServer(func(req testutils.XMLARequest) (int, string) {
		switch {
		case req.Has("EndSession") || req.Has("Cancel"):
			return http.StatusOK, testutils.EmptyResponse("")
		case strings.Contains(req.Statement(), "EVALUATE Sales"):
			return http.StatusOK, testutils.RowsetResponse("S-1",
				[]string{"Sales[Region]", "[Amount]"},
				[]any{"West", 12.5},
				[]any{"East", 7.25},
			)
		case strings.Contains(req.Statement(), "EVALUATE Broken"):
			return http.StatusInternalServerError, testutils.FaultResponse("3238002695", "Query (1, 10) The syntax for 'Broken' is incorrect.")
		case req.RequestType() == "DISCOVER_PROPERTIES":
			return http.StatusOK, testutils.RowsetResponse("S-1", []string{"PropertyName", "Value"}, []any{"DBMSVersion", "16.0.43.21"})
		default:
			return http.StatusOK, testutils.EmptyResponse("S-1")
		}
	})
	t.Cleanup(srv.Close)

	content := fmt.Sprintf("kind: sources\nname: olap\ntype: analysis-services\nconnectionString: Data Source=%s\n", srv.URL)
	p := filepath.Join(t.TempDir(), "olap.yaml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("unable to write config file: %s", err)
	}
	return p, srv
}

func TestQuerySubcommand(t *testing.T) {
	configPath, srv := olapConfig(t)

	out, _, err := invokeSubcommand(t, []string{"query", "olap", "EVALUATE Sales", "--config", configPath, "--database", "Sales", "--param", "year=2024"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	var got struct {
		Columns []string         `json:"columns"`
		Rows    []map[string]any `json:"rows"`
		Count   int              `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("unable to parse output %q: %s", out, err)
	}
	if diff := cmp.Diff([]string{"Sales[Region]", "[Amount]"}, got.Columns); diff != "" {
		t.Errorf("unexpected columns (-want +got):\n%s", diff)
	}
	if got.Count != 2 || len(got.Rows) != 2 {
		t.Fatalf("expected 2 rows, got count %d and %d rows", got.Count, len(got.Rows))
	}
	if amount := got.Rows[1]["[Amount]"]; amount != 7.25 {
		t.Errorf("unexpected second amount %v", amount)
	}

	var catalog string
	for _, req := range srv.Requests() {
		if strings.Contains(req.Statement(), "EVALUATE Sales") {
			catalog = req.Property("Catalog")
		}
	}
	if catalog != "Sales" {
		t.Errorf("query should run in the Sales catalog, got %q", catalog)
	}

	_, _, err = invokeSubcommand(t, []string{"query", "olap", "EVALUATE Broken", "--config", configPath})
	if err == nil {
		t.Fatalf("expected the server fault to surface")
	}
	if !strings.Contains(err.Error(), "query failed") || !strings.Contains(err.Error(), "3238002695") {
		t.Errorf("unexpected error: %s", err)
	}
}

func TestProcessSubcommand(t *testing.T) {
	configPath, srv := olapConfig(t)

	out, _, err := invokeSubcommand(t, []string{"process", "olap", "--object", "Sales/Orders", "--type", "dataOnly", "--config", configPath})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	var got struct {
		Type    string `json:"type"`
		Objects []struct {
			Database string `json:"database"`
			Table    string `json:"table"`
		} `json:"objects"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("unable to parse output %q: %s", out, err)
	}
	if got.Type != "dataOnly" || got.Count != 1 || len(got.Objects) != 1 || got.Objects[0].Table != "Orders" {
		t.Errorf("unexpected result %+v", got)
	}

	var script string
	for _, req := range srv.Requests() {
		if strings.Contains(req.Statement(), "refresh") {
			script = req.Statement()
		}
	}
	if !strings.Contains(script, `"dataOnly"`) || !strings.Contains(script, `"Orders"`) {
		t.Errorf("unexpected refresh script %q", script)
	}

	tcs := []struct {
		desc      string
		args      []string
		errString string
	}{
		{
			desc:      "unknown refresh type",
			args:      []string{"process", "olap", "--object", "Sales", "--type", "sometimes", "--config", configPath},
			errString: "sometimes",
		},
		{
			desc:      "too many path segments",
			args:      []string{"process", "olap", "--object", "a/b/c/d", "--config", configPath},
			errString: "invalid object",
		},
		{
			desc:      "unknown source",
			args:      []string{"process", "missing", "--object", "Sales", "--config", configPath},
			errString: `source "missing" is not configured`,
		},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			_, _, err := invokeSubcommand(t, tc.args)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if !strings.Contains(err.Error(), tc.errString) {
				t.Errorf("expected error to contain %q, got %q", tc.errString, err)
			}
		})
	}
}

func TestServerSubcommandOnPrem(t *testing.T) {
	configPath, _ := olapConfig(t)

	_, _, err := invokeSubcommand(t, []string{"server", "status", "olap", "--config", configPath})
	if err == nil {
		t.Fatalf("an on-premises source has no control plane")
	}
	if !strings.Contains(err.Error(), "status failed") {
		t.Errorf("unexpected error: %s", err)
	}
}
