package restdriver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/wisbric/sitebridge/pkg/backendapi"
)

// NewDriver builds a BaseDriver over a restdriver Client, wiring the
// CreateResourcePipeline's required CreateInBackend phase and the
// Exists hook the base driver's naming collision retry needs
// (spec.md §4.1).
func NewDriver(offering backendapi.Offering, logger *slog.Logger) *backendapi.BaseDriver {
	client := New(offering.APIURL, offering.APIToken, &http.Client{})

	d := &backendapi.BaseDriver{
		Client:     client,
		NamePrefix: offering.NamePrefix,
		Logger:     logger,
		Exists: func(ctx context.Context, backendID string) (bool, error) {
			info, err := client.GetResource(ctx, backendID)
			if err != nil {
				if backendapi.IsNotFound(err) {
					return false, nil
				}
				return false, err
			}
			return info != nil, nil
		},
	}
	d.Pipeline = backendapi.CreateResourcePipeline{
		CreateInBackend: func(ctx context.Context, uc backendapi.UserContext, name string) (string, error) {
			return client.CreateResource(ctx, name, "", uc.Resource.ProjectSlug, uc.Resource.ParentBackendID)
		},
		SetupLimits: func(ctx context.Context, backendID string, limits map[string]int64) error {
			if len(limits) == 0 {
				return nil
			}
			backendLimits := offering.Mapper().ConvertLimitsToBackend(limits)
			return client.SetResourceLimits(ctx, backendID, backendLimits)
		},
	}
	return d
}
