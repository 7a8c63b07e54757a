package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	yaml "go.yaml.in/yaml/v2"

	"github.com/wisbric/sitebridge/pkg/backendapi"
	"github.com/wisbric/sitebridge/pkg/component"
)

// validate is a package-level validator instance, safe for concurrent use
// per its own documentation.
var validate = validator.New()

// targetDoc is one backend-side expansion target for a component.
type targetDoc struct {
	Name   string  `yaml:"name" validate:"required"`
	Factor float64 `yaml:"factor" validate:"gt=0"`
}

// componentDoc is the wire shape of one component declaration.
type componentDoc struct {
	Name           string      `yaml:"name" validate:"required"`
	AccountingType string      `yaml:"accounting_type" validate:"required,oneof=limit usage"`
	UnitFactor     float64     `yaml:"unit_factor" validate:"gt=0"`
	Label          string      `yaml:"label"`
	MeasuredUnit   string      `yaml:"measured_unit"`
	Targets        []targetDoc `yaml:"targets,omitempty" validate:"dive"`
}

// offeringDoc is the wire shape of one offering entry in the offerings
// document (spec.md §5's per-offering configuration surface).
type offeringDoc struct {
	Name             string            `yaml:"name" validate:"required"`
	UUID             string            `yaml:"uuid" validate:"required,uuid4"`
	APIURL           string            `yaml:"api_url" validate:"required,url"`
	APIToken         string            `yaml:"api_token"`
	BackendType      string            `yaml:"backend_type" validate:"required"`
	BackendSettings  map[string]string `yaml:"backend_settings,omitempty"`
	Components       []componentDoc    `yaml:"components" validate:"dive"`
	NamePrefix       string            `yaml:"name_prefix" validate:"required"`
	MessagingChannel string            `yaml:"messaging_channel,omitempty"`
	Timezone         string            `yaml:"timezone,omitempty"`
	TLSVerify        *bool             `yaml:"tls_verify,omitempty"`
	UserAgent        string            `yaml:"user_agent,omitempty"`

	PollOrders     string `yaml:"poll_orders"`
	PollMembership string `yaml:"poll_membership"`
	PollReports    string `yaml:"poll_reports"`
	EventDriven    bool   `yaml:"event_driven"`
	SafetySweep    string `yaml:"safety_sweep,omitempty"`
}

// offeringsDoc is the root of the offerings document.
type offeringsDoc struct {
	Offerings []offeringDoc `yaml:"offerings"`
}

// LoadOfferings reads and validates the offerings document at path,
// producing one backendapi.Offering per entry.
func LoadOfferings(path string) ([]backendapi.Offering, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading offerings file %s: %w", path, err)
	}

	var doc offeringsDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing offerings file %s: %w", path, err)
	}

	offerings := make([]backendapi.Offering, 0, len(doc.Offerings))
	for i, od := range doc.Offerings {
		offering, err := od.toDomain()
		if err != nil {
			return nil, backendapi.Configuration(fmt.Sprintf("offering[%d]", i), err)
		}
		offerings = append(offerings, offering)
	}
	return offerings, nil
}

func (od offeringDoc) toDomain() (backendapi.Offering, error) {
	if err := validate.Struct(od); err != nil {
		return backendapi.Offering{}, fmt.Errorf("offering %q: %w", od.Name, err)
	}
	offeringUUID, err := uuid.Parse(od.UUID)
	if err != nil {
		return backendapi.Offering{}, fmt.Errorf("offering %q: invalid uuid %q: %w", od.Name, od.UUID, err)
	}

	components := make([]component.Component, 0, len(od.Components))
	for _, cd := range od.Components {
		targets := make([]component.Target, 0, len(cd.Targets))
		for _, td := range cd.Targets {
			targets = append(targets, component.Target{Name: td.Name, Factor: td.Factor})
		}
		components = append(components, component.Component{
			Name:           cd.Name,
			AccountingType: component.AccountingType(cd.AccountingType),
			UnitFactor:     cd.UnitFactor,
			Label:          cd.Label,
			MeasuredUnit:   cd.MeasuredUnit,
			Targets:        targets,
		})
	}

	loc := time.UTC
	if od.Timezone != "" {
		loc, err = time.LoadLocation(od.Timezone)
		if err != nil {
			return backendapi.Offering{}, fmt.Errorf("offering %q: invalid timezone %q: %w", od.Name, od.Timezone, err)
		}
	}

	pollOrders, err := parseDuration(od.PollOrders, 60*time.Second)
	if err != nil {
		return backendapi.Offering{}, fmt.Errorf("offering %q: poll_orders: %w", od.Name, err)
	}
	pollMembership, err := parseDuration(od.PollMembership, 5*time.Minute)
	if err != nil {
		return backendapi.Offering{}, fmt.Errorf("offering %q: poll_membership: %w", od.Name, err)
	}
	pollReports, err := parseDuration(od.PollReports, time.Hour)
	if err != nil {
		return backendapi.Offering{}, fmt.Errorf("offering %q: poll_reports: %w", od.Name, err)
	}
	safetySweep, err := parseDuration(od.SafetySweep, 0)
	if err != nil {
		return backendapi.Offering{}, fmt.Errorf("offering %q: safety_sweep: %w", od.Name, err)
	}

	tlsVerify := true
	if od.TLSVerify != nil {
		tlsVerify = *od.TLSVerify
	}

	return backendapi.Offering{
		Name:             od.Name,
		UUID:             offeringUUID,
		APIURL:           od.APIURL,
		APIToken:         od.APIToken,
		BackendType:      od.BackendType,
		BackendSettings:  od.BackendSettings,
		Components:       components,
		NamePrefix:       od.NamePrefix,
		MessagingChannel: od.MessagingChannel,
		Timezone:         loc,
		TLSVerify:        tlsVerify,
		UserAgent:        od.UserAgent,
		PollOrders:       pollOrders,
		PollMembership:   pollMembership,
		PollReports:      pollReports,
		EventDriven:      od.EventDriven,
		SafetySweep:      safetySweep,
	}, nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}
