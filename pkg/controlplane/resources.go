package controlplane

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/wisbric/sitebridge/pkg/backendapi"
)

// Resource is the wire representation of backendapi.MarketplaceResource.
type Resource struct {
	UUID                 uuid.UUID        `json:"uuid"`
	OfferingUUID         uuid.UUID        `json:"offering_uuid"`
	BackendID            string           `json:"backend_id"`
	State                string           `json:"state"`
	Limits               map[string]int64 `json:"limits,omitempty"`
	Downscaled           bool             `json:"downscaled"`
	Paused               bool             `json:"paused"`
	RestrictMemberAccess bool             `json:"restrict_member_access"`
	ProjectUUID          uuid.UUID        `json:"project_uuid"`
	ProjectSlug          string           `json:"project_slug"`
	CustomerUUID         uuid.UUID        `json:"customer_uuid"`
	ResourceSlug         string           `json:"slug"`
	ParentBackendID      string           `json:"parent_backend_id,omitempty"`
	ErrorMessage         string           `json:"error_message,omitempty"`
	ErrorTraceback       string           `json:"error_traceback,omitempty"`
}

func (r Resource) toDomain() backendapi.MarketplaceResource {
	return backendapi.MarketplaceResource{
		UUID:                 r.UUID,
		OfferingUUID:         r.OfferingUUID,
		BackendID:            r.BackendID,
		State:                backendapi.ResourceState(r.State),
		Limits:               r.Limits,
		Downscaled:           r.Downscaled,
		Paused:               r.Paused,
		RestrictMemberAccess: r.RestrictMemberAccess,
		ProjectUUID:          r.ProjectUUID,
		ProjectSlug:          r.ProjectSlug,
		CustomerUUID:         r.CustomerUUID,
		ResourceSlug:         r.ResourceSlug,
		ParentBackendID:      r.ParentBackendID,
		ErrorMessage:         r.ErrorMessage,
		ErrorTraceback:       r.ErrorTraceback,
	}
}

// ListResources lists resources for one offering, optionally filtered by
// state.
func (c *Client) ListResources(ctx context.Context, offeringUUID uuid.UUID, states []backendapi.ResourceState) ([]backendapi.MarketplaceResource, error) {
	q := map[string]string{"offering_uuid": offeringUUID.String()}
	if len(states) > 0 {
		s := ""
		for i, st := range states {
			if i > 0 {
				s += ","
			}
			s += string(st)
		}
		q["state"] = s
	}
	var out []Resource
	if err := c.do(ctx, http.MethodGet, "/api/marketplace-provider-resources/"+query(q), nil, &out); err != nil {
		return nil, err
	}
	resources := make([]backendapi.MarketplaceResource, len(out))
	for i, r := range out {
		resources[i] = r.toDomain()
	}
	return resources, nil
}

// GetResource retrieves a single resource by UUID.
func (c *Client) GetResource(ctx context.Context, resourceUUID uuid.UUID) (*backendapi.MarketplaceResource, error) {
	var r Resource
	if err := c.do(ctx, http.MethodGet, "/api/marketplace-provider-resources/"+resourceUUID.String()+"/", nil, &r); err != nil {
		return nil, err
	}
	d := r.toDomain()
	return &d, nil
}

// SetResourceBackendID persists the backend-assigned identifier on the
// control plane.
func (c *Client) SetResourceBackendID(ctx context.Context, resourceUUID uuid.UUID, backendID string) error {
	body := map[string]string{"backend_id": backendID}
	return c.do(ctx, http.MethodPost, "/api/marketplace-provider-resources/"+resourceUUID.String()+"/set_backend_id/", body, nil)
}

// SetResourceBackendMetadata writes backend-reported metadata back to the
// control plane (spec.md §4.6 step 5).
func (c *Client) SetResourceBackendMetadata(ctx context.Context, resourceUUID uuid.UUID, metadata map[string]string) error {
	return c.do(ctx, http.MethodPost, "/api/marketplace-provider-resources/"+resourceUUID.String()+"/set_backend_metadata/", metadata, nil)
}

// SetResourceLimits writes control-plane-unit limits back (spec.md §4.6
// step 6: the backend is authoritative for this direction).
func (c *Client) SetResourceLimits(ctx context.Context, resourceUUID uuid.UUID, limits map[string]int64) error {
	body := map[string]any{"limits": limits}
	return c.do(ctx, http.MethodPost, "/api/marketplace-provider-resources/"+resourceUUID.String()+"/set_limits/", body, nil)
}

// SetResourceOK transitions a resource to OK, clearing any error fields.
func (c *Client) SetResourceOK(ctx context.Context, resourceUUID uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/api/marketplace-provider-resources/"+resourceUUID.String()+"/set_as_ok/", nil, nil)
}

// SetResourceErred transitions a resource to Erred with the error captured.
func (c *Client) SetResourceErred(ctx context.Context, resourceUUID uuid.UUID, message, traceback string) error {
	body := map[string]string{"error_message": message, "error_traceback": traceback}
	return c.do(ctx, http.MethodPost, "/api/marketplace-provider-resources/"+resourceUUID.String()+"/set_as_erred/", body, nil)
}

// RefreshResourceLastSync updates the resource's "last reconciled" timestamp.
func (c *Client) RefreshResourceLastSync(ctx context.Context, resourceUUID uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/api/marketplace-provider-resources/"+resourceUUID.String()+"/refresh_last_sync/", nil, nil)
}

// TeamUser is one member of a resource's project team.
type TeamUser struct {
	UserUUID uuid.UUID `json:"user_uuid"`
	Username string    `json:"username,omitempty"`
}

// TeamList lists the project-team usernames backing one resource.
func (c *Client) TeamList(ctx context.Context, resourceUUID uuid.UUID) ([]TeamUser, error) {
	var out []TeamUser
	if err := c.do(ctx, http.MethodGet, "/api/marketplace-provider-resources/"+resourceUUID.String()+"/team/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
