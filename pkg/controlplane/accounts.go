package controlplane

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// ListServiceAccounts lists service-account usernames for a project.
func (c *Client) ListServiceAccounts(ctx context.Context, projectUUID uuid.UUID) ([]string, error) {
	q := map[string]string{"project_uuid": projectUUID.String()}
	var out []string
	if err := c.do(ctx, http.MethodGet, "/api/marketplace-service-accounts/"+query(q), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListCourseAccounts lists course-account usernames for a project.
func (c *Client) ListCourseAccounts(ctx context.Context, projectUUID uuid.UUID) ([]string, error) {
	q := map[string]string{"project_uuid": projectUUID.String()}
	var out []string
	if err := c.do(ctx, http.MethodGet, "/api/marketplace-course-accounts/"+query(q), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OfferingDetails is the component schema and plugin options retrieve
// (spec.md §6), including the username-generation policy an Offering
// advertises.
type OfferingDetails struct {
	UUID                   uuid.UUID         `json:"uuid"`
	Name                   string            `json:"name"`
	Components             []ComponentSchema `json:"components"`
	UsernameGenerationPolicy string          `json:"username_generation_policy"`
	Options                map[string]any    `json:"plugin_options,omitempty"`
}

// ComponentSchema is the wire shape of one declared component (spec.md §3).
type ComponentSchema struct {
	Type         string             `json:"type"`
	AccountingType string           `json:"accounting_type"`
	UnitFactor   float64            `json:"unit_factor"`
	Label        string             `json:"label"`
	MeasuredUnit string             `json:"measured_unit"`
	Targets      []ComponentTarget  `json:"targets,omitempty"`
}

// ComponentTarget is one backend-side remapping alias.
type ComponentTarget struct {
	Name   string  `json:"name"`
	Factor float64 `json:"factor"`
}

// GetOfferingDetails retrieves the offering's declared component schema
// and plugin options.
func (c *Client) GetOfferingDetails(ctx context.Context, offeringUUID uuid.UUID) (*OfferingDetails, error) {
	var out OfferingDetails
	if err := c.do(ctx, http.MethodGet, "/api/marketplace-provider-offerings/"+offeringUUID.String()+"/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
