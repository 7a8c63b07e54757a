package controlplane

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

// ComponentUsage is one component-usage record for a resource and period.
type ComponentUsage struct {
	UUID         uuid.UUID `json:"uuid,omitempty"`
	ResourceUUID uuid.UUID `json:"resource_uuid"`
	Component    string    `json:"component"`
	Period       string    `json:"billing_period"`
	Amount       string    `json:"usage"` // decimal string, per spec.md §6 payload conventions
}

// ListUsages lists component-usage records for a resource and billing period.
func (c *Client) ListUsages(ctx context.Context, resourceUUID uuid.UUID, period string) ([]ComponentUsage, error) {
	q := map[string]string{"resource_uuid": resourceUUID.String(), "billing_period": period}
	var out []ComponentUsage
	if err := c.do(ctx, http.MethodGet, "/api/marketplace-component-usages/"+query(q), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetUsageBatch submits a batch of per-component totals for one resource
// and period in a single write (spec.md §4.7 step 4).
func (c *Client) SetUsageBatch(ctx context.Context, resourceUUID uuid.UUID, period string, usage map[string]float64) error {
	records := make([]map[string]string, 0, len(usage))
	for component, amount := range usage {
		records = append(records, map[string]string{
			"resource_uuid":  resourceUUID.String(),
			"billing_period": period,
			"component":      component,
			"usage":          strconv.FormatFloat(amount, 'f', -1, 64),
		})
	}
	body := map[string]any{"usages": records}
	return c.do(ctx, http.MethodPost, "/api/marketplace-component-usages/set_usage/", body, nil)
}

// SetUserUsage submits per-user usage against one component-usage record.
func (c *Client) SetUserUsage(ctx context.Context, usageUUID uuid.UUID, username string, amount float64) error {
	body := map[string]string{
		"username": username,
		"usage":    strconv.FormatFloat(amount, 'f', -1, 64),
	}
	return c.do(ctx, http.MethodPost, "/api/marketplace-component-usages/"+usageUUID.String()+"/set_user_usage/", body, nil)
}

// UserUsage is one user's share of a component-usage record.
type UserUsage struct {
	Username string `json:"username"`
	Amount   string `json:"usage"`
}

// ListUserUsages lists the per-user breakdown of one component-usage record.
func (c *Client) ListUserUsages(ctx context.Context, usageUUID uuid.UUID) ([]UserUsage, error) {
	var out []UserUsage
	if err := c.do(ctx, http.MethodGet, "/api/marketplace-component-usages/"+usageUUID.String()+"/user_usages/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
