package controlplane

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestListServiceAccountsFiltersByProject(t *testing.T) {
	projectUUID := uuid.New()
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`["svc-1","svc-2"]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", nil)
	accounts, err := c.ListServiceAccounts(context.Background(), projectUUID)
	if err != nil {
		t.Fatalf("ListServiceAccounts: %v", err)
	}
	if len(accounts) != 2 || accounts[0] != "svc-1" {
		t.Fatalf("got %v", accounts)
	}
	q, err := parseQuery(gotQuery)
	if err != nil {
		t.Fatalf("parsing query: %v", err)
	}
	if q.Get("project_uuid") != projectUUID.String() {
		t.Fatalf("got project_uuid %q", q.Get("project_uuid"))
	}
}

func TestGetOfferingDetailsDecodesComponentSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"uuid":"` + uuid.Nil.String() + `",
			"name":"acme-hpc",
			"username_generation_policy":"email_prefix",
			"components":[{"type":"cpu","accounting_type":"limit","unit_factor":1000,"targets":[{"name":"cpu_core","factor":1}]}]
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", nil)
	details, err := c.GetOfferingDetails(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("GetOfferingDetails: %v", err)
	}
	if details.Name != "acme-hpc" || details.UsernameGenerationPolicy != "email_prefix" {
		t.Fatalf("unexpected details: %+v", details)
	}
	if len(details.Components) != 1 || details.Components[0].Type != "cpu" || len(details.Components[0].Targets) != 1 {
		t.Fatalf("unexpected components: %+v", details.Components)
	}
}
