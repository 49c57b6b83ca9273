// Copyright 2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/openhydro/teleacq/data"
	"github.com/openhydro/teleacq/fetch"
)

var (
	ErrUnknownFormat = errors.New("unknown endpoint file format")
)

type endpointFile struct {
	Endpoints []*data.Endpoint `json:"endpoints" toml:"endpoints" yaml:"endpoints"`
}

// FileSource reads endpoint configurations from a TOML, YAML or JSON file.
// The file is read again on every call so that edits apply on the next tick.
type FileSource struct {
	Path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (source *FileSource) Endpoints(ctx context.Context) ([]*data.Endpoint, error) {
	contents, err := os.ReadFile(source.Path)
	if err != nil {
		return nil, err
	}

	endpoints, err := ParseEndpoints(filepath.Ext(source.Path), contents)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source.Path, err)
	}

	return endpoints, nil
}

func (source *FileSource) Endpoint(ctx context.Context, id int64) (*data.Endpoint, error) {
	endpoints, err := source.Endpoints(ctx)
	if err != nil {
		return nil, err
	}
	return fetch.NewStaticSource(endpoints...).Endpoint(ctx, id)
}

// ParseEndpoints decodes an endpoint file. The format is chosen by the file
// extension.
func ParseEndpoints(ext string, contents []byte) ([]*data.Endpoint, error) {
	var file endpointFile
	var err error

	switch strings.ToLower(ext) {
	case ".toml":
		err = toml.Unmarshal(contents, &file)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(contents, &file)
	case ".json":
		err = json.Unmarshal(contents, &file)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, ext)
	}

	if err != nil {
		return nil, err
	}

	sort.Slice(file.Endpoints, func(i, j int) bool {
		return file.Endpoints[i].ID < file.Endpoints[j].ID
	})

	return file.Endpoints, nil
}
