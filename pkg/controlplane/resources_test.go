package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/uuid"

	"github.com/wisbric/sitebridge/pkg/backendapi"
)

func parseQuery(raw string) (url.Values, error) {
	return url.ParseQuery(raw)
}

func decodeJSONBody(t *testing.T, r *http.Request, out any) {
	t.Helper()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		t.Fatalf("decoding request body: %v", err)
	}
}

func TestListResourcesFiltersByStateAndOfferingUUID(t *testing.T) {
	offeringUUID := uuid.New()
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"uuid":"` + uuid.Nil.String() + `","state":"OK","restrict_member_access":true}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", nil)
	resources, err := c.ListResources(context.Background(), offeringUUID, []backendapi.ResourceState{backendapi.ResourceOK, backendapi.ResourceErred})
	if err != nil {
		t.Fatalf("ListResources: %v", err)
	}
	if len(resources) != 1 || resources[0].State != backendapi.ResourceOK || !resources[0].RestrictMemberAccess {
		t.Fatalf("unexpected decoded resource: %+v", resources)
	}

	q, err := parseQuery(gotQuery)
	if err != nil {
		t.Fatalf("parsing query: %v", err)
	}
	if q.Get("offering_uuid") != offeringUUID.String() {
		t.Fatalf("got offering_uuid %q", q.Get("offering_uuid"))
	}
	if q.Get("state") != "OK,Erred" {
		t.Fatalf("got state filter %q, want OK,Erred", q.Get("state"))
	}
}

func TestListResourcesOmitsStateFilterWhenEmpty(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", nil)
	if _, err := c.ListResources(context.Background(), uuid.New(), nil); err != nil {
		t.Fatalf("ListResources: %v", err)
	}
	q, err := parseQuery(gotQuery)
	if err != nil {
		t.Fatalf("parsing query: %v", err)
	}
	if q.Has("state") {
		t.Fatalf("expected no state filter in query %q", gotQuery)
	}
}

func TestTeamListDecodesUsernames(t *testing.T) {
	resourceUUID := uuid.New()
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"user_uuid":"` + uuid.Nil.String() + `","username":"alice"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", nil)
	team, err := c.TeamList(context.Background(), resourceUUID)
	if err != nil {
		t.Fatalf("TeamList: %v", err)
	}
	if gotPath != "/api/marketplace-provider-resources/"+resourceUUID.String()+"/team/" {
		t.Fatalf("got path %q", gotPath)
	}
	if len(team) != 1 || team[0].Username != "alice" {
		t.Fatalf("unexpected team: %+v", team)
	}
}

func TestSetResourceErredPostsMessageAndTraceback(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decodeJSONBody(t, r, &gotBody)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", nil)
	if err := c.SetResourceErred(context.Background(), uuid.New(), "boom", "trace..."); err != nil {
		t.Fatalf("SetResourceErred: %v", err)
	}
	if gotBody["error_message"] != "boom" || gotBody["error_traceback"] != "trace..." {
		t.Fatalf("unexpected body: %+v", gotBody)
	}
}
