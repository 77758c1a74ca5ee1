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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/googleapis/tabular-toolbox/internal/server"
)

// ConfigFile is the parsed content of one or more configuration files.
type ConfigFile struct {
	Sources server.SourceConfigs `yaml:"sources"`
}

var envPattern = regexp.MustCompile(`\$\{(\w+)(:([^}]*))?\}`)

// parseEnv replaces environment variables ${ENV_NAME} with their values.
// also support ${ENV_NAME:default_value}.
func parseEnv(input string) (string, error) {
	var err error
	output := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)

		variableName := parts[1]
		if value, found := os.LookupEnv(variableName); found {
			return value
		}
		if len(parts) >= 4 && parts[2] != "" {
			return parts[3]
		}
		err = fmt.Errorf("environment variable not found: %q", variableName)
		return ""
	})
	return output, err
}

// parseConfigFile parses the provided yaml into source configs.
func parseConfigFile(ctx context.Context, raw []byte) (ConfigFile, error) {
	var configFile ConfigFile
	output, err := parseEnv(string(raw))
	if err != nil {
		return configFile, fmt.Errorf("error parsing environment variables: %s", err)
	}

	raw, err = convertConfigFile([]byte(output))
	if err != nil {
		return configFile, fmt.Errorf("error converting config file: %s", err)
	}

	configFile.Sources, err = server.UnmarshalResourceConfig(ctx, raw)
	if err != nil {
		return configFile, err
	}
	return configFile, nil
}

// convertConfigFile rewrites the map form
//
//	sources:
//	  olap:
//	    type: analysis-services
//
// into one `kind: sources` document per entry. Documents already in that
// form are copied as they are.
func convertConfigFile(raw []byte) ([]byte, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(raw), yaml.UseOrderedMap())

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)

	for {
		var input yaml.MapSlice
		if err := decoder.Decode(&input); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if len(input) == 0 {
			continue
		}
		first, ok := input[0].Key.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected non-string key in input: %v", input[0].Key)
		}
		slice, isMap := input[0].Value.(yaml.MapSlice)
		if first != "sources" || !isMap {
			if err := encoder.Encode(input); err != nil {
				return nil, err
			}
			continue
		}
		if len(input) > 1 {
			return nil, fmt.Errorf("unexpected key %v next to the sources map", input[1].Key)
		}
		docs, err := transformDocs("sources", slice)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			if err := encoder.Encode(doc); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}

// transformDocs turns each entry of a named map into its own document.
// yaml.MapSlice keeps the field order of each entry.
func transformDocs(kind string, input yaml.MapSlice) ([]yaml.MapSlice, error) {
	var transformed []yaml.MapSlice
	for _, entry := range input {
		entryName, ok := entry.Key.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected non-string key for entry in '%s': %v", kind, entry.Key)
		}
		body, ok := entry.Value.(yaml.MapSlice)
		if !ok {
			return nil, fmt.Errorf("entry %q in '%s' must be a map", entryName, kind)
		}
		doc := yaml.MapSlice{
			{Key: "kind", Value: kind},
			{Key: "name", Value: entryName},
		}
		for _, item := range body {
			// "kind" inside an entry is the old spelling of "type"
			if item.Key == "kind" {
				item.Key = "type"
			}
			doc = append(doc, item)
		}
		transformed = append(transformed, doc)
	}
	return transformed, nil
}

// mergeConfigFiles merges several files into one. Source names must be
// unique across all files.
func mergeConfigFiles(files ...ConfigFile) (ConfigFile, error) {
	merged := ConfigFile{Sources: make(server.SourceConfigs)}

	var conflicts []string
	for fileIndex, file := range files {
		for name, source := range file.Sources {
			if _, exists := merged.Sources[name]; exists {
				conflicts = append(conflicts, fmt.Sprintf("source '%s' (file #%d)", name, fileIndex+1))
				continue
			}
			merged.Sources[name] = source
		}
	}

	if len(conflicts) > 0 {
		return ConfigFile{}, fmt.Errorf("resource conflicts detected:\n  - %s\n\nPlease ensure each source has a unique name across all files", strings.Join(conflicts, "\n  - "))
	}
	return merged, nil
}

// LoadAndMergeConfigFiles loads multiple YAML files and merges them
func LoadAndMergeConfigFiles(ctx context.Context, filePaths []string) (ConfigFile, error) {
	var configFiles []ConfigFile

	for _, filePath := range filePaths {
		buf, err := os.ReadFile(filePath)
		if err != nil {
			return ConfigFile{}, fmt.Errorf("unable to read config file at %q: %w", filePath, err)
		}

		configFile, err := parseConfigFile(ctx, buf)
		if err != nil {
			return ConfigFile{}, fmt.Errorf("unable to parse config file at %q: %w", filePath, err)
		}

		configFiles = append(configFiles, configFile)
	}

	mergedFile, err := mergeConfigFiles(configFiles...)
	if err != nil {
		return ConfigFile{}, fmt.Errorf("unable to merge config files: %w", err)
	}

	return mergedFile, nil
}

// LoadAndMergeConfigFolder loads all YAML files from a directory and merges
// them.
func LoadAndMergeConfigFolder(ctx context.Context, folderPath string) (ConfigFile, error) {
	info, err := os.Stat(folderPath)
	if err != nil {
		return ConfigFile{}, fmt.Errorf("unable to access config folder at %q: %w", folderPath, err)
	}
	if !info.IsDir() {
		return ConfigFile{}, fmt.Errorf("path %q is not a directory", folderPath)
	}

	var allFiles []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		files, err := filepath.Glob(filepath.Join(folderPath, pattern))
		if err != nil {
			return ConfigFile{}, fmt.Errorf("error finding %s files in %q: %w", pattern, folderPath, err)
		}
		allFiles = append(allFiles, files...)
	}

	if len(allFiles) == 0 {
		return ConfigFile{}, fmt.Errorf("no YAML files found in directory %q", folderPath)
	}

	return LoadAndMergeConfigFiles(ctx, allFiles)
}
