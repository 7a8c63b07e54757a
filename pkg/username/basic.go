package username

import (
	"context"

	"github.com/wisbric/sitebridge/pkg/backendapi"
)

// NullStore and NullGenerator are the basic username-management backend:
// it never finds a local account and never generates one, leaving the
// offering user in its prior state on every call. Offerings whose backend
// plugin does not implement identity provisioning wire these in by
// default, mirroring the reference implementation's
// basic_username_management plugin.
type NullStore struct{}

// GetUsername always reports a miss.
func (NullStore) GetUsername(_ context.Context, _ backendapi.OfferingUser) (string, bool, error) {
	return "", false, nil
}

// NullGenerator never successfully generates a username.
type NullGenerator struct{}

// GenerateUsername always reports that no username could be generated.
func (NullGenerator) GenerateUsername(_ context.Context, _ backendapi.OfferingUser) Result {
	return Errored(nil)
}
