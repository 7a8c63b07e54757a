package app

import (
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/wisbric/sitebridge/pkg/backendapi"
	"github.com/wisbric/sitebridge/pkg/retry"
)

func TestBuildDriverSelectsRestDriverByDefault(t *testing.T) {
	offering := backendapi.Offering{Name: "acme", BackendType: ""}
	d, err := buildDriver(offering, slog.Default())
	if err != nil {
		t.Fatalf("buildDriver: %v", err)
	}
	if _, ok := d.(*backendapi.BaseDriver); !ok {
		t.Fatalf("got %T, want *backendapi.BaseDriver (restdriver.NewDriver's return type)", d)
	}
}

func TestBuildDriverExplicitRest(t *testing.T) {
	offering := backendapi.Offering{Name: "acme", BackendType: "rest"}
	d, err := buildDriver(offering, slog.Default())
	if err != nil {
		t.Fatalf("buildDriver: %v", err)
	}
	if d == nil {
		t.Fatal("expected a non-nil driver")
	}
}

func TestBuildDriverRejectsUnknownBackendType(t *testing.T) {
	offering := backendapi.Offering{Name: "acme", BackendType: "openstack"}
	if _, err := buildDriver(offering, slog.Default()); err == nil {
		t.Fatal("expected an error for an unsupported backend_type")
	}
}

func TestBuildAgentWiresAllThreeLanes(t *testing.T) {
	offering := backendapi.Offering{
		Name:        "acme",
		UUID:        uuid.New(),
		BackendType: "rest",
		APIURL:      "https://marketplace.example.org",
	}
	agent, err := buildAgent(offering, slog.Default(), retry.Options{Attempts: 3}, "")
	if err != nil {
		t.Fatalf("buildAgent: %v", err)
	}
	if agent.Orders == nil || agent.Membership == nil || agent.Report == nil {
		t.Fatalf("expected every lane wired, got %+v", agent)
	}
	if agent.Offering.UUID != offering.UUID {
		t.Fatalf("offering not carried through: %+v", agent.Offering)
	}
}

func TestBuildAgentPropagatesDriverError(t *testing.T) {
	offering := backendapi.Offering{Name: "acme", BackendType: "unsupported"}
	if _, err := buildAgent(offering, slog.Default(), retry.Options{}, ""); err == nil {
		t.Fatal("expected buildAgent to propagate buildDriver's error")
	}
}
