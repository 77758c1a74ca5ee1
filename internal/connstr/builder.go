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

package connstr

import (
	"strconv"
	"time"
)

// ImpersonationLevel controls how the server may impersonate the client.
type ImpersonationLevel int

const (
	Anonymous ImpersonationLevel = iota
	Identify
	Impersonate
	Delegate
)

func (l ImpersonationLevel) String() string {
	switch l {
	case Anonymous:
		return "Anonymous"
	case Identify:
		return "Identify"
	case Impersonate:
		return "Impersonate"
	case Delegate:
		return "Delegate"
	default:
		return strconv.Itoa(int(l))
	}
}

// Option edits connection string properties.
type Option func(*Properties)

func WithDataSource(dataSource string) Option {
	return func(p *Properties) { p.Set(KeyDataSource, dataSource) }
}

// WithDatabase sets the Catalog property.
func WithDatabase(database string) Option {
	return func(p *Properties) { p.Set(KeyCatalog, database) }
}

func WithCube(cube string) Option {
	return func(p *Properties) { p.Set(KeyCube, cube) }
}

func WithEffectiveUserName(user string) Option {
	return func(p *Properties) { p.Set(KeyEffectiveUserName, user) }
}

func WithImpersonationLevel(level ImpersonationLevel) Option {
	return func(p *Properties) { p.Set(KeyImpersonationLevel, level.String()) }
}

func WithPasswordEncryption(encrypt bool) Option {
	return func(p *Properties) { p.Set(KeyEncryptPassword, formatBool(encrypt)) }
}

func WithCredentials(user, password string) Option {
	return func(p *Properties) {
		p.Set(KeyUserID, user)
		p.Set(KeyPassword, password)
	}
}

func WithLocale(lcid int) Option {
	return func(p *Properties) { p.Set(KeyLocaleIdentifier, strconv.Itoa(lcid)) }
}

// WithTimeout sets the command timeout, rounded down to whole seconds.
func WithTimeout(d time.Duration) Option {
	return func(p *Properties) { p.Set(KeyTimeout, strconv.Itoa(int(d/time.Second))) }
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// Builder assembles a connection string on top of the provider defaults.
type Builder struct {
	props Properties
}

func NewBuilder() *Builder {
	b := &Builder{}
	b.props.Set(KeyProvider, "MSOLAP")
	b.props.Set(KeyPersistSecurityInfo, "True")
	b.props.Set(KeyIntegratedSecurity, "SSPI")
	b.props.Set(KeyCube, "Model")
	return b
}

// UsingConnectionString replaces everything, defaults included, with the
// pairs of s.
func (b *Builder) UsingConnectionString(s string) error {
	props, err := Parse(s)
	if err != nil {
		return err
	}
	b.props = props
	return nil
}

func (b *Builder) Apply(opts ...Option) *Builder {
	for _, opt := range opts {
		opt(&b.props)
	}
	return b
}

func (b *Builder) ConnectionString() string { return b.props.String() }

// Configure turns the built string into a Descriptor.
func (b *Builder) Configure(cloudInfo *CloudResourceInfo) (Descriptor, error) {
	return configure(b.props.Clone(), cloudInfo)
}
