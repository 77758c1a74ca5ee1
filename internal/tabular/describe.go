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

package tabular

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/googleapis/tabular-toolbox/internal/cache"
	"github.com/googleapis/tabular-toolbox/internal/connstr"
	"github.com/googleapis/tabular-toolbox/internal/session"
	"github.com/googleapis/tabular-toolbox/internal/util"
)

// DataSourceDescription is a data source of a model. The connection string
// is reduced to its data source and initial catalog.
type DataSourceDescription struct {
	ID               int64     `json:"id" mapstructure:"ID"`
	Name             string    `json:"name" mapstructure:"Name"`
	Description      string    `json:"description,omitempty" mapstructure:"Description"`
	ModifiedTime     time.Time `json:"modifiedTime" mapstructure:"ModifiedTime"`
	Account          string    `json:"account,omitempty" mapstructure:"Account"`
	MaxConnections   int       `json:"maxConnections" mapstructure:"MaxConnections"`
	ConnectionString string    `json:"connectionString" mapstructure:"ConnectionString"`
}

type PartitionDescription struct {
	ID            string                  `json:"id"`
	Name          string                  `json:"name"`
	Description   string                  `json:"description,omitempty"`
	ModifiedTime  time.Time               `json:"modifiedTime"`
	RefreshedTime time.Time               `json:"refreshedTime"`
	RowCount      int64                   `json:"rowCount"`
	Size          int64                   `json:"size"`
	DataSources   []DataSourceDescription `json:"dataSources"`
}

type TableDescription struct {
	ID                    string                 `json:"id"`
	Name                  string                 `json:"name"`
	ModifiedTime          time.Time              `json:"modifiedTime"`
	StructureModifiedTime time.Time              `json:"structureModifiedTime"`
	RowCount              int64                  `json:"rowCount"`
	Size                  int64                  `json:"size"`
	Partitions            []PartitionDescription `json:"partitions"`
}

// DatabaseDescription is the structure of a database with row counts and
// storage sizes.
type DatabaseDescription struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Model         string             `json:"model"`
	LastProcessed time.Time          `json:"lastProcessed"`
	Size          int64              `json:"size"`
	RowCount      int64              `json:"rowCount"`
	Tables        []TableDescription `json:"tables"`
}

const (
	modelQuery             = "SELECT [Name] FROM $SYSTEM.TMSCHEMA_MODEL"
	tablesQuery            = "SELECT [ID], [Name], [ModifiedTime], [StructureModifiedTime] FROM $SYSTEM.TMSCHEMA_TABLES"
	partitionsQuery        = "SELECT [ID], [TableID], [Name], [Description], [ModifiedTime], [RefreshedTime], [DataSourceID] FROM $SYSTEM.TMSCHEMA_PARTITIONS"
	tableRowCountQuery     = "SELECT [DIMENSION_CAPTION], [DIMENSION_CARDINALITY] FROM $SYSTEM.MDSCHEMA_DIMENSIONS"
	tableSizeQuery         = "SELECT [DIMENSION_NAME], [DICTIONARY_SIZE] FROM $SYSTEM.DISCOVER_STORAGE_TABLE_COLUMNS WHERE [DICTIONARY_SIZE] > 0"
	partitionSizeQuery     = "SELECT [DIMENSION_NAME], [PARTITION_NAME], [USED_SIZE] FROM $SYSTEM.DISCOVER_STORAGE_TABLE_COLUMN_SEGMENTS WHERE [USED_SIZE] > 0"
	partitionRowCountQuery = "SELECT [DIMENSION_NAME], [PARTITION_NAME], [RECORDS_COUNT] FROM $SYSTEM.DISCOVER_STORAGE_TABLE_COLUMN_SEGMENTS WHERE [COMPRESSION_TYPE] = 'C123'"
	dataSourcesQuery       = "SELECT [ID], [Name], [Description], [ConnectionString], [Account], [ModifiedTime], [MaxConnections] FROM $SYSTEM.TMSCHEMA_DATA_SOURCES"
)

type modelRow struct {
	Name string `mapstructure:"Name"`
}

type tableRow struct {
	ID                    int64     `mapstructure:"ID"`
	Name                  string    `mapstructure:"Name"`
	ModifiedTime          time.Time `mapstructure:"ModifiedTime"`
	StructureModifiedTime time.Time `mapstructure:"StructureModifiedTime"`
}

type partitionRow struct {
	ID            int64     `mapstructure:"ID"`
	TableID       int64     `mapstructure:"TableID"`
	Name          string    `mapstructure:"Name"`
	Description   string    `mapstructure:"Description"`
	ModifiedTime  time.Time `mapstructure:"ModifiedTime"`
	RefreshedTime time.Time `mapstructure:"RefreshedTime"`
	DataSourceID  int64     `mapstructure:"DataSourceID"`
}

type tableRowCount struct {
	TableName string `mapstructure:"DIMENSION_CAPTION"`
	RowCount  int64  `mapstructure:"DIMENSION_CARDINALITY"`
}

type tableSize struct {
	TableName string `mapstructure:"DIMENSION_NAME"`
	Size      int64  `mapstructure:"DICTIONARY_SIZE"`
}

type partitionSize struct {
	TableName     string `mapstructure:"DIMENSION_NAME"`
	PartitionName string `mapstructure:"PARTITION_NAME"`
	Size          int64  `mapstructure:"USED_SIZE"`
}

type partitionRowCount struct {
	TableName     string `mapstructure:"DIMENSION_NAME"`
	PartitionName string `mapstructure:"PARTITION_NAME"`
	RowCount      int64  `mapstructure:"RECORDS_COUNT"`
}

// databaseStructure is the cached part of a description.
type databaseStructure struct {
	Model    string             `json:"model"`
	RowCount int64              `json:"rowCount"`
	Tables   []TableDescription `json:"tables"`
}

// Describe returns the structure of database. The tables are cached under
// "TableDescriptions:{database}" for the describe TTL; the database
// properties are read from the server on every call.
func (c *Client) Describe(ctx context.Context, database string) (DatabaseDescription, error) {
	if err := util.CheckContext(ctx, "describe"); err != nil {
		return DatabaseDescription{}, err
	}
	h, err := c.factory.ServerHandle(ctx, c.desc, false)
	if err != nil {
		return DatabaseDescription{}, err
	}
	defer h.Close(ctx)
	info, ok := h.Database(database)
	if !ok {
		return DatabaseDescription{}, util.NewConfigurationError(fmt.Sprintf("database %q does not exist", database), nil)
	}

	key := describeKeyPrefix + database
	structure, ok, err := cache.GetJSON[databaseStructure](ctx, c.store, key)
	if err != nil {
		c.logger.WarnContext(ctx, fmt.Sprintf("unable to read cached description of %q: %s", database, err))
	}
	if err != nil || !ok {
		if structure, err = c.describe(ctx, h, info.Name); err != nil {
			return DatabaseDescription{}, err
		}
		if err := cache.SetJSON(ctx, c.store, key, structure, c.describeTTL); err != nil {
			c.logger.WarnContext(ctx, fmt.Sprintf("unable to cache description of %q: %s", database, err))
		}
	}
	return DatabaseDescription{
		ID:            info.ID,
		Name:          info.Name,
		Model:         structure.Model,
		LastProcessed: info.LastProcessed,
		Size:          info.EstimatedSize,
		RowCount:      structure.RowCount,
		Tables:        structure.Tables,
	}, nil
}

func (c *Client) describe(ctx context.Context, h *session.ServerHandle, database string) (databaseStructure, error) {
	s := h.Session()
	if err := s.ChangeDatabase(database); err != nil {
		return databaseStructure{}, err
	}

	models, err := collect[modelRow](ctx, s, modelQuery)
	if err != nil {
		return databaseStructure{}, err
	}
	tables, err := collect[tableRow](ctx, s, tablesQuery)
	if err != nil {
		return databaseStructure{}, err
	}
	partitions, err := collect[partitionRow](ctx, s, partitionsQuery)
	if err != nil {
		return databaseStructure{}, err
	}
	rowCounts, err := collect[tableRowCount](ctx, s, tableRowCountQuery)
	if err != nil {
		return databaseStructure{}, err
	}
	tableSizes, err := collect[tableSize](ctx, s, tableSizeQuery)
	if err != nil {
		return databaseStructure{}, err
	}
	partitionSizes, err := collect[partitionSize](ctx, s, partitionSizeQuery)
	if err != nil {
		return databaseStructure{}, err
	}
	partitionRowCounts, err := collect[partitionRowCount](ctx, s, partitionRowCountQuery)
	if err != nil {
		return databaseStructure{}, err
	}
	dataSources, err := collect[DataSourceDescription](ctx, s, dataSourcesQuery)
	if err != nil {
		return databaseStructure{}, err
	}

	sourcesByID := make(map[int64]DataSourceDescription, len(dataSources))
	for _, ds := range dataSources {
		ds.ConnectionString = reduceConnectionString(ds.ConnectionString)
		sourcesByID[ds.ID] = ds
	}

	desc := databaseStructure{Model: c.modelName()}
	if len(models) > 0 && models[0].Name != "" {
		desc.Model = models[0].Name
	}

	for _, t := range tables {
		td := TableDescription{
			ID:                    t.Name,
			Name:                  t.Name,
			ModifiedTime:          t.ModifiedTime,
			StructureModifiedTime: t.StructureModifiedTime,
			Partitions:            []PartitionDescription{},
		}
		for _, rc := range rowCounts {
			if rc.TableName == t.Name {
				td.RowCount = rc.RowCount
				break
			}
		}
		for _, ts := range tableSizes {
			if ts.TableName == t.Name {
				td.Size += ts.Size
			}
		}
		for _, ps := range partitionSizes {
			if ps.TableName == t.Name {
				td.Size += ps.Size
			}
		}
		for _, p := range partitions {
			if p.TableID != t.ID {
				continue
			}
			pd := PartitionDescription{
				ID:            p.Name,
				Name:          p.Name,
				Description:   p.Description,
				ModifiedTime:  p.ModifiedTime,
				RefreshedTime: p.RefreshedTime,
				DataSources:   []DataSourceDescription{},
			}
			if ds, ok := sourcesByID[p.DataSourceID]; ok && p.DataSourceID != 0 {
				pd.DataSources = append(pd.DataSources, ds)
			}
			for _, rc := range partitionRowCounts {
				if rc.TableName == t.Name && rc.PartitionName == p.Name {
					pd.RowCount += rc.RowCount
				}
			}
			for _, ps := range partitionSizes {
				if ps.TableName == t.Name && ps.PartitionName == p.Name {
					pd.Size += ps.Size
				}
			}
			td.Partitions = append(td.Partitions, pd)
		}
		slices.SortFunc(td.Partitions, func(a, b PartitionDescription) int { return cmp.Compare(a.Name, b.Name) })
		desc.Tables = append(desc.Tables, td)
		desc.RowCount += td.RowCount
	}
	slices.SortFunc(desc.Tables, func(a, b TableDescription) int { return cmp.Compare(a.Name, b.Name) })
	if desc.Tables == nil {
		desc.Tables = []TableDescription{}
	}
	return desc, nil
}

// reduceConnectionString keeps only the data source and initial catalog, and
// only when both are present.
func reduceConnectionString(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	props, err := connstr.Parse(s)
	if err != nil {
		return ""
	}
	ds, okDS := props.Get(connstr.KeyDataSource)
	catalog, okCat := props.Get(connstr.KeyCatalog)
	if !okDS || !okCat {
		return ""
	}
	var out connstr.Properties
	out.Set("Data Source", ds)
	out.Set("Initial Catalog", catalog)
	return out.String()
}
