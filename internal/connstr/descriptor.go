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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/googleapis/tabular-toolbox/internal/util"
)

const cloudScheme = "asazure://"

// TransportKind selects how a session talks to the server.
type TransportKind int

const (
	// TransportOnPrem posts XMLA to an msmdpump.dll HTTP endpoint.
	TransportOnPrem TransportKind = iota
	// TransportCloud posts XMLA to an Azure Analysis Services cluster with a
	// bearer token.
	TransportCloud
)

func (t TransportKind) String() string {
	switch t {
	case TransportOnPrem:
		return "on-prem"
	case TransportCloud:
		return "cloud"
	default:
		return "unknown"
	}
}

// Cloud names a sovereign Azure cloud.
type Cloud string

const (
	AzurePublic     Cloud = "AzurePublic"
	AzureGovernment Cloud = "AzureGovernment"
	AzureChina      Cloud = "AzureChina"
)

// Configuration returns the azcore configuration for c. Unknown or empty
// values fall back to the public cloud.
func (c Cloud) Configuration() cloud.Configuration {
	switch c {
	case AzureGovernment:
		return cloud.AzureGovernment
	case AzureChina:
		return cloud.AzureChina
	default:
		return cloud.AzurePublic
	}
}

// CloudResourceInfo holds what is needed to authenticate against and manage
// an Azure hosted server.
type CloudResourceInfo struct {
	TenantID                string   `yaml:"tenantId"`
	ClientID                string   `yaml:"clientId"`
	ClientSecret            string   `yaml:"clientSecret"`
	ManagedIdentityClientID string   `yaml:"managedIdentityClientId"`
	SubscriptionID          string   `yaml:"subscriptionId"`
	ResourceGroupName       string   `yaml:"resourceGroupName"`
	Username                string   `yaml:"username"`
	Password                string   `yaml:"password"`
	Instance                string   `yaml:"instance"`
	Domain                  string   `yaml:"domain"`
	Audience                string   `yaml:"audience"`
	Scopes                  []string `yaml:"scopes"`
	Cloud                   Cloud    `yaml:"cloud" validate:"omitempty,oneof=AzurePublic AzureGovernment AzureChina"`
}

// IsEmpty reports whether no field is set.
func (c *CloudResourceInfo) IsEmpty() bool {
	if c == nil {
		return true
	}
	return c.TenantID == "" && c.ClientID == "" && c.ClientSecret == "" &&
		c.ManagedIdentityClientID == "" && c.SubscriptionID == "" &&
		c.ResourceGroupName == "" && c.Username == "" && c.Password == "" &&
		c.Instance == "" && c.Domain == "" && c.Audience == "" &&
		len(c.Scopes) == 0 && c.Cloud == ""
}

func (c *CloudResourceInfo) clone() *CloudResourceInfo {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Scopes = slices.Clone(c.Scopes)
	return &cp
}

// Descriptor is the immutable result of configuring a connection string.
type Descriptor struct {
	props      Properties
	dataSource string
	transport  TransportKind
	cloud      *CloudResourceInfo
}

// Configure validates connectionString and decides the transport. For cloud
// targets the user name and password move from the string into the returned
// cloud info and are stripped from the retained string. For on-prem targets
// cloudInfo is ignored.
func Configure(connectionString string, cloudInfo *CloudResourceInfo) (Descriptor, error) {
	props, err := Parse(connectionString)
	if err != nil {
		return Descriptor{}, err
	}
	return configure(props, cloudInfo)
}

func configure(props Properties, cloudInfo *CloudResourceInfo) (Descriptor, error) {
	dataSource := strings.TrimSpace(props.Value(KeyDataSource))
	if dataSource == "" {
		return Descriptor{}, util.NewConfigurationError("'Data Source' is a required connection string property", nil)
	}

	d := Descriptor{props: props.Clone(), dataSource: dataSource}
	if !IsCloudDataSource(dataSource) {
		d.transport = TransportOnPrem
		return d, nil
	}

	if cloudInfo.IsEmpty() {
		return Descriptor{}, util.NewConfigurationError(
			fmt.Sprintf("cloud resource info is empty: a server located on Azure (%s) requires tenant and credential information", dataSource), nil)
	}
	info := cloudInfo.clone()
	if v, ok := d.props.Get(KeyUserID); ok {
		info.Username = v
		d.props.Delete(KeyUserID)
	}
	if v, ok := d.props.Get(KeyPassword); ok {
		info.Password = v
		d.props.Delete(KeyPassword)
	}
	if info.Cloud == "" {
		info.Cloud = AzurePublic
	}
	d.transport = TransportCloud
	d.cloud = info
	return d, nil
}

// IsCloudDataSource reports whether dataSource addresses Azure Analysis
// Services.
func IsCloudDataSource(dataSource string) bool {
	ds := strings.TrimSpace(dataSource)
	return len(ds) >= len(cloudScheme) && strings.EqualFold(ds[:len(cloudScheme)], cloudScheme)
}

// With returns a copy of d with opts applied to its properties. The transport
// is decided again, so moving a copy to the cloud requires d to carry cloud
// info.
func (d Descriptor) With(opts ...Option) (Descriptor, error) {
	props := d.props.Clone()
	for _, opt := range opts {
		opt(&props)
	}
	return configure(props, d.cloud)
}

// ConnectionString returns the retained string, without cloud credentials.
func (d Descriptor) ConnectionString() string { return d.props.String() }

func (d Descriptor) DataSource() string { return d.dataSource }

func (d Descriptor) Transport() TransportKind { return d.transport }

func (d Descriptor) IsCloud() bool { return d.transport == TransportCloud }

// Cloud returns a copy of the cloud info, or nil for on-prem targets.
func (d Descriptor) Cloud() *CloudResourceInfo { return d.cloud.clone() }

// Properties returns a copy of the retained pairs.
func (d Descriptor) Properties() Properties { return d.props.Clone() }

func (d Descriptor) Catalog() string { return d.props.Value(KeyCatalog) }

func (d Descriptor) EffectiveUserName() string { return d.props.Value(KeyEffectiveUserName) }

func (d Descriptor) Cube() string { return d.props.Value(KeyCube) }

// Credentials returns the basic auth pair of an on-prem target.
func (d Descriptor) Credentials() (user, password string) {
	return d.props.Value(KeyUserID), d.props.Value(KeyPassword)
}

// Locale returns the LocaleIdentifier property, or 0 when unset or invalid.
func (d Descriptor) Locale() int {
	lcid, err := strconv.Atoi(d.props.Value(KeyLocaleIdentifier))
	if err != nil {
		return 0
	}
	return lcid
}

// Timeout returns the command timeout, given in seconds by the Timeout
// property, or 0 when unset.
func (d Descriptor) Timeout() time.Duration {
	s, err := strconv.Atoi(d.props.Value(KeyTimeout))
	if err != nil || s <= 0 {
		return 0
	}
	return time.Duration(s) * time.Second
}

// ServerName returns the last path segment of a cloud data source, which is
// the server name the cluster resolver expects. On-prem targets return the
// host.
func (d Descriptor) ServerName() string {
	if d.transport == TransportCloud {
		rest := d.dataSource[len(cloudScheme):]
		rest = strings.TrimRight(rest, "/")
		if i := strings.LastIndex(rest, "/"); i >= 0 {
			return rest[i+1:]
		}
		return rest
	}
	if u, err := url.Parse(d.dataSource); err == nil && u.Host != "" {
		return u.Hostname()
	}
	return d.dataSource
}

// Key is a stable identity for d. Two descriptors that would obtain the same
// token share a key. Secrets take part in the digest, so descriptors that
// differ only in a secret do not share one, and the key never reveals them.
func (d Descriptor) Key() string {
	_, password := d.Credentials()
	parts := []string{d.transport.String(), strings.ToLower(d.dataSource), password}
	if c := d.cloud; c != nil {
		parts = append(parts, string(c.Cloud), c.TenantID, c.ClientID, c.ClientSecret,
			c.ManagedIdentityClientID, c.Username, c.Password, c.Audience)
		parts = append(parts, c.Scopes...)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}
