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
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/google/go-cmp/cmp"
	"github.com/googleapis/tabular-toolbox/internal/cache"
	"github.com/googleapis/tabular-toolbox/internal/connstr"
	"github.com/googleapis/tabular-toolbox/internal/session"
	"github.com/googleapis/tabular-toolbox/internal/testutils"
	"github.com/googleapis/tabular-toolbox/internal/util"
	"github.com/googleapis/tabular-toolbox/internal/xmla"
)

// route answers every statement or discover request containing match.
type route struct {
	match string
	resp  string
}

func router(routes []route) testutils.XMLAHandler {
	return func(req testutils.XMLARequest) (int, string) {
		if req.Has("EndSession") || req.Has("Cancel") {
			return http.StatusOK, testutils.EmptyResponse("")
		}
		text := req.Statement() + req.RequestType()
		for _, r := range routes {
			if strings.Contains(text, r.match) {
				return http.StatusOK, r.resp
			}
		}
		return http.StatusInternalServerError, testutils.FaultResponse("3238002695", "unexpected request: "+text)
	}
}

func newTestClient(t *testing.T, routes ...route) (*Client, *testutils.XMLAServer) {
	t.Helper()
	srv := testutils.NewXMLAServer(router(routes))
	t.Cleanup(srv.Close)
	desc, err := connstr.Configure("Data Source="+srv.URL, nil)
	if err != nil {
		t.Fatalf("unable to configure descriptor: %s", err)
	}
	f := session.NewFactory(nil)
	t.Cleanup(f.Close)
	c := NewClient(desc, f, WithName("olap"))
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c, srv
}

// statements returns the statements and discover request types received so
// far that contain substr.
func statements(srv *testutils.XMLAServer, substr string) []testutils.XMLARequest {
	var out []testutils.XMLARequest
	for _, r := range srv.Requests() {
		if strings.Contains(r.Statement()+r.RequestType(), substr) {
			out = append(out, r)
		}
	}
	return out
}

func ended(srv *testutils.XMLAServer) int {
	n := 0
	for _, r := range srv.Requests() {
		if r.Has("EndSession") {
			n++
		}
	}
	return n
}

var (
	modified = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	salesRows = testutils.RowsetResponse("S-1",
		[]string{"Sales[Region]", "[Amount]", "[Closed]", "[Updated]", "[Note]"},
		[]any{"West", 12.5, true, modified, nil},
		[]any{"East", 7.25, false, modified, "late"},
		[]any{"North", 1.0, true, modified, nil},
	)
)

type sale struct {
	Region  string    `mapstructure:"[region]"`
	Amount  float64   `mapstructure:"Amount"`
	Closed  bool      `mapstructure:"Closed"`
	Updated time.Time `mapstructure:"Updated"`
	Note    *string   `mapstructure:"Note"`
}

func TestQuery(t *testing.T) {
	c, srv := newTestClient(t, route{"EVALUATE", salesRows})
	ctx := context.Background()

	rows, err := Query(ctx, c, QuerySpec{
		Query: "EVALUATE Sales",
		Params: Params{
			{Name: "@region", Value: "West"},
			{Name: "missing", Value: nil, Skip: SkipIfNull},
			{Name: "ignored", Value: 1, Skip: SkipAlways},
		},
		Settings: &QuerySettings{Database: "Sales", EffectiveUserName: `contoso\alice`},
	}, DecodeRow[sale])
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	got, err := rows.Collect()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	late := "late"
	want := []sale{
		{Region: "West", Amount: 12.5, Closed: true, Updated: modified},
		{Region: "East", Amount: 7.25, Updated: modified, Note: &late},
		{Region: "North", Amount: 1, Closed: true, Updated: modified},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected rows (-want +got):\n%s", diff)
	}

	req := statements(srv, "EVALUATE")[0]
	if got := req.Property("Catalog"); got != "Sales" {
		t.Errorf("unexpected catalog %q", got)
	}
	if got := req.Property("EffectiveUserName"); got != `contoso\alice` {
		t.Errorf("unexpected effective user %q", got)
	}
	if !strings.Contains(req.Body, "<Name>region</Name>") {
		t.Errorf("parameter should be sent without its prefix: %s", req.Body)
	}
	for _, name := range []string{"missing", "ignored"} {
		if strings.Contains(req.Body, "<Name>"+name+"</Name>") {
			t.Errorf("parameter %q should be skipped", name)
		}
	}
	if ended(srv) != 1 {
		t.Errorf("session should be closed after the rows are read")
	}
}

func TestQueryPreCancelled(t *testing.T) {
	c, srv := newTestClient(t, route{"EVALUATE", salesRows})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Query(ctx, c, QuerySpec{Query: "EVALUATE Sales"}, MapRow)
	if util.CategoryOf(err) != util.CategoryCancelled {
		t.Fatalf("expected cancelled error, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled error should match context.Canceled")
	}
	if n := len(srv.Requests()); n != 0 {
		t.Fatalf("no request should be sent, got %d", n)
	}
}

func TestRowsEarlyBreak(t *testing.T) {
	c, srv := newTestClient(t, route{"EVALUATE", salesRows})
	ctx := context.Background()

	rows, err := Query(ctx, c, QuerySpec{Query: "EVALUATE Sales"}, MapRow)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got := len(rows.Columns()); got != 5 {
		t.Fatalf("unexpected column count %d", got)
	}
	n := 0
	for _, err := range rows.All() {
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		n++
		break
	}
	if n != 1 {
		t.Fatalf("expected one row, got %d", n)
	}
	if ended(srv) != 1 {
		t.Fatalf("breaking out of the iteration should end the session")
	}
	for _, err := range rows.All() {
		if util.CategoryOf(err) != util.CategoryState {
			t.Fatalf("a second pass should fail with a state error, got %v", err)
		}
	}
	if err := rows.Close(); err != nil {
		t.Fatalf("close after iteration should be a no-op, got %s", err)
	}
}

func TestQuerySeqReexecutes(t *testing.T) {
	c, srv := newTestClient(t, route{"EVALUATE", salesRows})
	seq := QuerySeq(context.Background(), c, QuerySpec{Query: "EVALUATE Sales"}, RawRow)
	for i := 0; i < 2; i++ {
		n := 0
		for row, err := range seq {
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if row.String("Sales[Region]") == "" {
				t.Fatalf("row is missing its region")
			}
			n++
		}
		if n != 3 {
			t.Fatalf("expected 3 rows, got %d", n)
		}
	}
	if got := len(statements(srv, "EVALUATE")); got != 2 {
		t.Fatalf("each iteration should run the query, got %d runs", got)
	}
}

func TestQueryServerError(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.QueryRows(context.Background(), QuerySpec{Query: "EVALUATE Nope"})
	if util.CategoryOf(err) != util.CategoryExecution {
		t.Fatalf("expected execution error, got %v", err)
	}
}

func TestDecodeRow(t *testing.T) {
	cols := []xmla.Column{{Name: "[ID]", Type: "long"}, {Name: "Name", Type: "string"}, {Name: "When", Type: "string"}, {Name: "Count", Type: "string"}}
	row := xmla.NewRow(cols, []any{int64(7), "seven", "2024-03-01T00:00:00", "42"})

	type target struct {
		ID    int       `mapstructure:"ID"`
		Name  string    `mapstructure:"name"`
		When  time.Time `mapstructure:"When"`
		Count int64     `mapstructure:"Count"`
		Other string    `mapstructure:"Other"`
	}
	got, err := DecodeRow[target](row)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	want := target{ID: 7, Name: "seven", When: modified, Count: 42}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected value (-want +got):\n%s", diff)
	}
}

func TestExecute(t *testing.T) {
	tcs := []struct {
		desc      string
		resp      string
		want      int
		wantError util.ErrorCategory
	}{
		{desc: "no rowset", resp: testutils.EmptyResponse("S-1"), want: 1},
		{desc: "rowset", resp: testutils.RowsetResponse("S-1", []string{"Result"}, []any{"a"}, []any{"b"}), want: 2},
		{desc: "fault", resp: testutils.FaultResponse("-1055784777", "The JSON DDL request failed"), wantError: util.CategoryExecution},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			c, _ := newTestClient(t, route{"refresh", tc.resp})
			got, err := c.Execute(context.Background(), `{"refresh":{"type":"full","objects":[{"database":"Sales"}]}}`)
			if tc.wantError != "" {
				if util.CategoryOf(err) != tc.wantError {
					t.Fatalf("expected %s, got %v", tc.wantError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected affected count: got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestProcessInvalidatesDescription(t *testing.T) {
	store := cache.NewMemoryStore()
	defer store.Close()
	c, srv := newTestClient(t, route{"refresh", testutils.EmptyResponse("S-1")})
	c.store = store
	ctx := context.Background()

	for _, key := range []string{describeKeyPrefix + "Sales", rolesKeyPrefix + "Sales", describeKeyPrefix + "Finance"} {
		if err := cache.SetJSON(ctx, store, key, "cached", time.Minute); err != nil {
			t.Fatalf("unable to seed cache: %s", err)
		}
	}

	if _, err := c.ProcessDatabase(ctx, "Sales", "Orders", ""); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	script := statements(srv, "refresh")[0].Statement()
	if want := `{"refresh":{"type":"full","objects":[{"database":"Sales","table":"Orders","partition":""}]}}`; script != want {
		t.Errorf("unexpected script:\n got %s\nwant %s", script, want)
	}

	present := func(key string) bool {
		_, ok, err := store.Get(ctx, key)
		if err != nil {
			t.Fatalf("unexpected store error: %s", err)
		}
		return ok
	}
	if present(describeKeyPrefix + "Sales") {
		t.Errorf("description of the processed database should be dropped")
	}
	if !present(rolesKeyPrefix + "Sales") {
		t.Errorf("roles are not changed by processing")
	}
	if !present(describeKeyPrefix + "Finance") {
		t.Errorf("other databases should keep their description")
	}

	if _, err := c.Process(ctx); util.CategoryOf(err) != util.CategoryConfiguration {
		t.Errorf("processing nothing should be a configuration error, got %v", err)
	}
}

var lockRoutes = []route{
	{"DISCOVER_PROPERTIES", testutils.RowsetResponse("S-1", []string{"PropertyName", "Value"}, []any{"DBMSVersion", "16.0.43.21"})},
	{"DISCOVER_LOCKS", testutils.RowsetResponse("S-1",
		[]string{"SPID", "LOCK_ID", "LOCK_TYPE", "LOCK_STATUS"},
		[]any{int64(10), "L1", int64(4), int64(1)},
		[]any{int64(11), "L2", int64(1), int64(1)},
		[]any{int64(12), "L3", int64(2), int64(1)},
		[]any{int64(99), "L4", int64(4), int64(1)},
	)},
	{"DISCOVER_SESSIONS", testutils.RowsetResponse("S-1",
		[]string{"SESSION_ID", "SESSION_SPID", "SESSION_USER_NAME", "SESSION_CURRENT_DATABASE"},
		[]any{"A", int64(10), "alice", "Sales"},
		[]any{"B", int64(11), "bob", "sales"},
		[]any{"C", int64(12), "carol", "Finance"},
	)},
}

func TestLocks(t *testing.T) {
	c, _ := newTestClient(t, lockRoutes...)
	ctx := context.Background()

	got, err := c.Locks(ctx, "Sales")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	want := []Lock{
		{SPID: 10, ID: "L1", Status: 1, Type: LockWrite, TypeName: "LOCK_WRITE", Session: SessionInfo{ID: "A", SPID: 10, UserName: "alice", CurrentDatabase: "Sales"}},
		{SPID: 11, ID: "L2", Status: 1, Type: LockSession, TypeName: "LOCK_SESSION_LOCK", Session: SessionInfo{ID: "B", SPID: 11, UserName: "bob", CurrentDatabase: "sales"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected locks (-want +got):\n%s", diff)
	}

	all, err := c.Locks(ctx, "")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(all) != 3 {
		t.Fatalf("locks without a session should be dropped, got %d locks", len(all))
	}

	tcs := []struct {
		database string
		want     bool
	}{
		{"Sales", true},
		{"Finance", true},
		{"Other", false},
	}
	for _, tc := range tcs {
		t.Run(tc.database, func(t *testing.T) {
			got, err := c.IsProcessing(ctx, tc.database)
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if got != tc.want {
				t.Fatalf("IsProcessing(%q) = %t, want %t", tc.database, got, tc.want)
			}
		})
	}
}

func TestLockTypeString(t *testing.T) {
	tcs := map[LockType]string{
		LockNone:               "LOCK_NONE",
		LockRead | LockWrite:   "LOCK_READ|LOCK_WRITE",
		LockCommitInProgress:   "LOCK_COMMIT_INPROGRESS",
		LockType(0x100):        "LockType(256)",
		LockSession | LockRead: "LOCK_SESSION_LOCK|LOCK_READ",
	}
	for lt, want := range tcs {
		if got := lt.String(); got != want {
			t.Errorf("LockType(%d).String() = %q, want %q", int(lt), got, want)
		}
	}
}

func TestCancelProcessing(t *testing.T) {
	c, srv := newTestClient(t, lockRoutes...)
	n, err := c.CancelProcessing(context.Background(), "Sales")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if n != 1 {
		t.Fatalf("expected one cancelled connection, got %d", n)
	}
	var cancels []string
	for _, r := range srv.Requests() {
		if r.Has("Cancel") {
			cancels = append(cancels, r.Body)
		}
	}
	if len(cancels) != 1 {
		t.Fatalf("expected one cancel request, got %d", len(cancels))
	}
	if !strings.Contains(cancels[0], "<SPID>10</SPID>") || !strings.Contains(cancels[0], "<CancelAssociated>true</CancelAssociated>") {
		t.Fatalf("unexpected cancel request: %s", cancels[0])
	}
}

const serverMetadata = `<Server xmlns="http://schemas.microsoft.com/analysisservices/2003/engine">
  <Databases>
    <Database>
      <ID>Sales_1</ID>
      <Name>Sales</Name>
      <LastProcessed>2024-03-02T08:00:00</LastProcessed>
      <CompatibilityLevel>1600</CompatibilityLevel>
      <EstimatedSize>2048</EstimatedSize>
      <StorageEngineUsed>TabularMetadata</StorageEngineUsed>
    </Database>
    <Database>
      <ID>Cubes</ID>
      <Name>Cubes</Name>
      <CompatibilityLevel>1050</CompatibilityLevel>
      <StorageEngineUsed>Traditional</StorageEngineUsed>
    </Database>
  </Databases>
</Server>`

func describeRoutes() []route {
	return []route{
		{"DISCOVER_PROPERTIES", testutils.RowsetResponse("S-1", []string{"PropertyName", "Value"}, []any{"DBMSVersion", "16.0.43.21"})},
		{"DISCOVER_XML_METADATA", testutils.RowsetResponse("S-1", []string{"METADATA"}, []any{serverMetadata})},
		{"DISCOVER_LOCKS", testutils.RowsetResponse("S-1", []string{"SPID", "LOCK_TYPE"})},
		{"DISCOVER_SESSIONS", testutils.RowsetResponse("S-1", []string{"SESSION_SPID", "SESSION_CURRENT_DATABASE"})},
		{"TMSCHEMA_MODEL", testutils.RowsetResponse("S-1", []string{"Name"}, []any{"SalesModel"})},
		{"TMSCHEMA_TABLES", testutils.RowsetResponse("S-1",
			[]string{"ID", "Name", "ModifiedTime", "StructureModifiedTime"},
			[]any{int64(1), "Sales", modified, modified},
			[]any{int64(2), "Customer", modified, modified},
		)},
		{"TMSCHEMA_PARTITIONS", testutils.RowsetResponse("S-1",
			[]string{"ID", "TableID", "Name", "Description", "ModifiedTime", "RefreshedTime", "DataSourceID"},
			[]any{int64(10), int64(1), "Sales 2024", "current", modified, modified, int64(100)},
			[]any{int64(11), int64(1), "Sales 2023", nil, modified, modified, int64(0)},
			[]any{int64(20), int64(2), "Customer", nil, modified, modified, int64(100)},
		)},
		{"MDSCHEMA_DIMENSIONS", testutils.RowsetResponse("S-1",
			[]string{"DIMENSION_CAPTION", "DIMENSION_CARDINALITY"},
			[]any{"Sales", int64(300)},
			[]any{"Customer", int64(50)},
		)},
		{"DICTIONARY_SIZE", testutils.RowsetResponse("S-1",
			[]string{"DIMENSION_NAME", "DICTIONARY_SIZE"},
			[]any{"Sales", int64(100)},
			[]any{"Sales", int64(20)},
			[]any{"Customer", int64(5)},
		)},
		{"USED_SIZE", testutils.RowsetResponse("S-1",
			[]string{"DIMENSION_NAME", "PARTITION_NAME", "USED_SIZE"},
			[]any{"Sales", "Sales 2024", int64(1000)},
			[]any{"Sales", "Sales 2023", int64(500)},
			[]any{"Customer", "Customer", int64(7)},
		)},
		{"RECORDS_COUNT", testutils.RowsetResponse("S-1",
			[]string{"DIMENSION_NAME", "PARTITION_NAME", "RECORDS_COUNT"},
			[]any{"Sales", "Sales 2024", int64(200)},
			[]any{"Sales", "Sales 2023", int64(100)},
			[]any{"Customer", "Customer", int64(50)},
		)},
		{"TMSCHEMA_DATA_SOURCES", testutils.RowsetResponse("S-1",
			[]string{"ID", "Name", "Description", "ConnectionString", "Account", "ModifiedTime", "MaxConnections"},
			[]any{int64(100), "SQL", nil, "Provider=SQLNCLI11;Data Source=sql01;Initial Catalog=dw;Integrated Security=SSPI", nil, modified, int64(10)},
		)},
		{"refresh", testutils.EmptyResponse("S-1")},
	}
}

func TestDescribe(t *testing.T) {
	c, srv := newTestClient(t, describeRoutes()...)
	ctx := context.Background()

	got, err := c.Describe(ctx, "sales")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	source := DataSourceDescription{
		ID: 100, Name: "SQL", ModifiedTime: modified, MaxConnections: 10,
		ConnectionString: "Data Source=sql01;Initial Catalog=dw",
	}
	want := DatabaseDescription{
		ID:            "Sales_1",
		Name:          "Sales",
		Model:         "SalesModel",
		LastProcessed: time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC),
		Size:          2048,
		RowCount:      350,
		Tables: []TableDescription{
			{
				ID: "Customer", Name: "Customer", ModifiedTime: modified, StructureModifiedTime: modified,
				RowCount: 50, Size: 12,
				Partitions: []PartitionDescription{
					{ID: "Customer", Name: "Customer", ModifiedTime: modified, RefreshedTime: modified, RowCount: 50, Size: 7, DataSources: []DataSourceDescription{source}},
				},
			},
			{
				ID: "Sales", Name: "Sales", ModifiedTime: modified, StructureModifiedTime: modified,
				RowCount: 300, Size: 1620,
				Partitions: []PartitionDescription{
					{ID: "Sales 2023", Name: "Sales 2023", ModifiedTime: modified, RefreshedTime: modified, RowCount: 100, Size: 500, DataSources: []DataSourceDescription{}},
					{ID: "Sales 2024", Name: "Sales 2024", Description: "current", ModifiedTime: modified, RefreshedTime: modified, RowCount: 200, Size: 1000, DataSources: []DataSourceDescription{source}},
				},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected description (-want +got):\n%s", diff)
	}
	if req := statements(srv, "TMSCHEMA_TABLES")[0]; req.Property("Catalog") != "Sales" {
		t.Errorf("metadata queries should run in the database, got catalog %q", req.Property("Catalog"))
	}

	cached, err := c.Describe(ctx, "sales")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if diff := cmp.Diff(want, cached); diff != "" {
		t.Fatalf("cached description differs (-want +got):\n%s", diff)
	}
	if n := len(statements(srv, "TMSCHEMA_TABLES")); n != 1 {
		t.Fatalf("cached tables should not be read again, got %d reads", n)
	}

	// processed elsewhere: the database properties move, the tables stay cached
	reprocessed := strings.NewReplacer(
		"<LastProcessed>2024-03-02T08:00:00</LastProcessed>", "<LastProcessed>2024-03-05T09:30:00</LastProcessed>",
		"<EstimatedSize>2048</EstimatedSize>", "<EstimatedSize>4096</EstimatedSize>",
	).Replace(serverMetadata)
	routes := describeRoutes()
	for i, r := range routes {
		if r.match == "DISCOVER_XML_METADATA" {
			routes[i].resp = testutils.RowsetResponse("S-1", []string{"METADATA"}, []any{reprocessed})
		}
	}
	srv.SetHandler(router(routes))
	fresh, err := c.Describe(ctx, "sales")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	want.LastProcessed = time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)
	want.Size = 4096
	if diff := cmp.Diff(want, fresh); diff != "" {
		t.Fatalf("database properties should be read on every call (-want +got):\n%s", diff)
	}
	if n := len(statements(srv, "TMSCHEMA_TABLES")); n != 1 {
		t.Fatalf("cached tables should not be read again, got %d reads", n)
	}

	if _, err := c.Describe(ctx, "Missing"); util.CategoryOf(err) != util.CategoryConfiguration {
		t.Fatalf("describing an unknown database should be a configuration error, got %v", err)
	}
}

func TestDatabases(t *testing.T) {
	c, _ := newTestClient(t, describeRoutes()...)
	got, err := c.Databases(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	want := []Database{
		{ID: "Cubes", Name: "Cubes", CompatibilityLevel: 1050},
		{ID: "Sales_1", Name: "Sales", Model: "Model", CompatibilityLevel: 1600, Size: 2048, LastProcessed: time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected databases (-want +got):\n%s", diff)
	}
}

func TestSendXMLA(t *testing.T) {
	echo := `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body><ExecuteResponse xmlns="urn:schemas-microsoft-com:xml-analysis"/></soap:Body></soap:Envelope>`
	drill := `<return xmlns="urn:schemas-microsoft-com:xml-analysis"><root xmlns="urn:schemas-microsoft-com:xml-analysis:rowset" xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:sql="urn:schemas-microsoft-com:xml-sql">` +
		`<xsd:schema><xsd:complexType name="row"><xsd:sequence><xsd:element name="A" sql:field="A"/><xsd:element name="B" sql:field="B"/></xsd:sequence></xsd:complexType></xsd:schema>` +
		`<row><B>2</B></row></root></return>`

	srv := testutils.NewXMLAServer(func(req testutils.XMLARequest) (int, string) {
		switch {
		case req.RequestType() == xmla.DiscoverProperties:
			return http.StatusOK, testutils.RowsetResponse("S-1", []string{"Value"}, []any{"16.0"})
		case strings.Contains(req.Statement(), "DRILLTHROUGH"):
			return http.StatusOK, drill
		}
		return http.StatusOK, echo
	})
	defer srv.Close()
	desc, err := connstr.Configure("Data Source="+srv.URL, nil)
	if err != nil {
		t.Fatalf("unable to configure descriptor: %s", err)
	}
	c := NewClient(desc, session.NewFactory(nil))
	defer c.Close(context.Background())
	ctx := context.Background()

	body := `<Envelope xmlns="http://schemas.xmlsoap.org/soap/envelope/"><Body><Execute xmlns="urn:schemas-microsoft-com:xml-analysis"><Command><Statement>EVALUATE T</Statement></Command><Properties><PropertyList><Catalog>Sales</Catalog></PropertyList></Properties></Execute></Body></Envelope>`
	for i := 0; i < 2; i++ {
		got, err := c.SendXMLA(ctx, XmlaRequest{Body: body, EffectiveUserName: "alice"})
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if got != echo {
			t.Fatalf("response should pass through unchanged, got %s", got)
		}
	}
	if got := len(statements(srv, xmla.DiscoverProperties)); got != 1 {
		t.Fatalf("the management handle should be shared, got %d connects", got)
	}
	last := statements(srv, "EVALUATE T")[1]
	if got := last.Property("EffectiveUserName"); got != "alice" {
		t.Errorf("effective user not applied, got %q", got)
	}

	drillBody := `<Envelope xmlns="http://schemas.xmlsoap.org/soap/envelope/"><Body><Execute xmlns="urn:schemas-microsoft-com:xml-analysis"><Command><Statement>DRILLTHROUGH SELECT FROM [Model]</Statement></Command><Properties><PropertyList><Content>Data</Content></PropertyList></Properties></Execute></Body></Envelope>`
	got, err := c.SendXMLA(ctx, XmlaRequest{Body: drillBody})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if req := statements(srv, "DRILLTHROUGH")[0]; req.Property("Content") != "SchemaData" {
		t.Errorf("drillthrough should ask for schema data, got %q", req.Property("Content"))
	}
	doc, err := xmlquery.Parse(strings.NewReader(got))
	if err != nil {
		t.Fatalf("realigned response is not well formed: %s", err)
	}
	var fields []string
	for _, n := range xmlquery.Find(doc, "//*[local-name()='row']/*") {
		fields = append(fields, n.Data+"="+n.InnerText())
	}
	if diff := cmp.Diff([]string{"A=", "B=2"}, fields); diff != "" {
		t.Errorf("drillthrough rows should be realigned (-want +got):\n%s", diff)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := c.SendXMLA(cancelled, XmlaRequest{Body: body}); util.CategoryOf(err) != util.CategoryCancelled {
		t.Errorf("expected cancelled error, got %v", err)
	}
}
