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

// Package testutils holds helpers shared by the package tests: YAML
// fixtures, a ready context and a fake XMLA endpoint.
package testutils

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/googleapis/tabular-toolbox/internal/log"
	"github.com/googleapis/tabular-toolbox/internal/telemetry"
	"github.com/googleapis/tabular-toolbox/internal/util"
)

// FormatYaml turns the tab indentation of a Go raw string into spaces.
func FormatYaml(in string) []byte {
	in = strings.ReplaceAll(in, "\n\t", "\n ")
	return []byte(strings.ReplaceAll(in, "\t", "  "))
}

// ContextWithNewLogger returns a context carrying what source initialization
// expects: a logger writing to the test output, noop instrumentation and a
// user agent.
func ContextWithNewLogger() (context.Context, error) {
	logger, err := log.NewStdLogger(os.Stdout, os.Stderr, "info")
	if err != nil {
		return nil, fmt.Errorf("unable to create logger: %s", err)
	}
	ctx := util.WithLogger(context.Background(), logger)
	ctx = util.WithInstrumentation(ctx, telemetry.NewNoopInstrumentation())
	return util.WithUserAgent(ctx, "test"), nil
}

// WaitForString reads lines from r until one matches re and returns
// everything read so far. It fails when ctx is done or r is closed first.
func WaitForString(ctx context.Context, re *regexp.Regexp, r io.ReadCloser) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		err := sc.Err()
		if err == nil {
			err = io.EOF
		}
		readErr <- err
	}()

	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		case err := <-readErr:
			return sb.String(), err
		case line := <-lines:
			sb.WriteString(line)
			sb.WriteByte('\n')
			if re.MatchString(line) {
				return sb.String(), nil
			}
		}
	}
}
