package controlplane

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestSetUsageBatchFormatsAmountsAsDecimalStrings(t *testing.T) {
	resourceUUID := uuid.New()
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decodeJSONBody(t, r, &gotBody)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", nil)
	err := c.SetUsageBatch(context.Background(), resourceUUID, "2026-07-01", map[string]float64{"cpu": 100})
	if err != nil {
		t.Fatalf("SetUsageBatch: %v", err)
	}

	records, ok := gotBody["usages"].([]any)
	if !ok || len(records) != 1 {
		t.Fatalf("unexpected body: %+v", gotBody)
	}
	rec := records[0].(map[string]any)
	if rec["usage"] != "100" {
		t.Fatalf("got usage %v, want the decimal string \"100\"", rec["usage"])
	}
	if rec["resource_uuid"] != resourceUUID.String() || rec["billing_period"] != "2026-07-01" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestSetUserUsagePostsUsernameAndAmount(t *testing.T) {
	usageUUID := uuid.New()
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		decodeJSONBody(t, r, &gotBody)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", nil)
	if err := c.SetUserUsage(context.Background(), usageUUID, "alice", 42.5); err != nil {
		t.Fatalf("SetUserUsage: %v", err)
	}
	if gotPath != "/api/marketplace-component-usages/"+usageUUID.String()+"/set_user_usage/" {
		t.Fatalf("got path %q", gotPath)
	}
	if gotBody["username"] != "alice" || gotBody["usage"] != "42.5" {
		t.Fatalf("unexpected body: %+v", gotBody)
	}
}

func TestListUsagesFiltersByResourceAndPeriod(t *testing.T) {
	resourceUUID := uuid.New()
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"component":"cpu","usage":"50"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", nil)
	usages, err := c.ListUsages(context.Background(), resourceUUID, "2026-07-01")
	if err != nil {
		t.Fatalf("ListUsages: %v", err)
	}
	if len(usages) != 1 || usages[0].Component != "cpu" || usages[0].Amount != "50" {
		t.Fatalf("unexpected usages: %+v", usages)
	}
	q, err := parseQuery(gotQuery)
	if err != nil {
		t.Fatalf("parsing query: %v", err)
	}
	if q.Get("resource_uuid") != resourceUUID.String() || q.Get("billing_period") != "2026-07-01" {
		t.Fatalf("got query %q", gotQuery)
	}
}
