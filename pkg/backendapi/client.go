package backendapi

import (
	"context"
	"log/slog"
)

// Association records that a username is authorized against a backend
// resource, with an optional "default association" flag some backends use
// to pick a primary account for billing.
type Association struct {
	Username string
	Default  bool
}

// Client is the low-level, per-protocol capability set a concrete backend
// driver delegates to (spec.md §4.1). Implementations speak whatever wire
// protocol the backend exposes (CLI, REST+OIDC, REST+basic-auth, a
// Kubernetes API, a federated REST call to a peer marketplace); the core
// never depends on a concrete Client, only on this interface.
type Client interface {
	ListResources(ctx context.Context) ([]string, error)
	GetResource(ctx context.Context, backendID string) (*BackendResourceInfo, error)
	CreateResource(ctx context.Context, name, description, organization string, parentID string) (string, error)
	DeleteResource(ctx context.Context, backendID string) error
	SetResourceLimits(ctx context.Context, backendID string, limits map[string]int64) error
	GetResourceLimits(ctx context.Context, backendID string) (map[string]int64, error)
	GetResourceUserLimits(ctx context.Context, backendID string) (map[string]map[string]int64, error)
	SetResourceUserLimits(ctx context.Context, backendID, username string, limits map[string]int64) error
	GetAssociation(ctx context.Context, username, backendID string) (*Association, error)
	CreateAssociation(ctx context.Context, username, backendID string, isDefault bool) error
	DeleteAssociation(ctx context.Context, username, backendID string) error
	GetUsageReport(ctx context.Context, backendIDs []string) (map[string]map[string]float64, error)
	// GetUserUsage returns, for one resource, a per-user breakdown of
	// component usage: username -> component -> amount. Backends that
	// only report account-level totals return an empty map.
	GetUserUsage(ctx context.Context, backendID string) (map[string]map[string]float64, error)
	ListResourceUsers(ctx context.Context, backendID string) ([]string, error)
}

// UnknownClient is a capability-set adapter satisfying Client with safe
// defaults for drivers whose backend does not support every operation —
// the Go analogue of the source's abstract-base-plus-null-subclass split
// (spec.md §9): a capability interface, plus a default-returns-sensible-
// defaults implementation that concrete drivers embed and override.
type UnknownClient struct {
	Logger *slog.Logger
}

var _ Client = (*UnknownClient)(nil)

func (u *UnknownClient) log() *slog.Logger {
	if u.Logger != nil {
		return u.Logger
	}
	return slog.Default()
}

func (u *UnknownClient) ListResources(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (u *UnknownClient) GetResource(ctx context.Context, backendID string) (*BackendResourceInfo, error) {
	return nil, NotFound("get_resource", nil)
}

func (u *UnknownClient) CreateResource(ctx context.Context, name, description, organization, parentID string) (string, error) {
	u.log().Warn("create_resource not supported by this backend", "name", name)
	return "", Permanent("create_resource", nil)
}

func (u *UnknownClient) DeleteResource(ctx context.Context, backendID string) error {
	return nil
}

func (u *UnknownClient) SetResourceLimits(ctx context.Context, backendID string, limits map[string]int64) error {
	return nil
}

func (u *UnknownClient) GetResourceLimits(ctx context.Context, backendID string) (map[string]int64, error) {
	return map[string]int64{}, nil
}

func (u *UnknownClient) GetResourceUserLimits(ctx context.Context, backendID string) (map[string]map[string]int64, error) {
	return map[string]map[string]int64{}, nil
}

func (u *UnknownClient) SetResourceUserLimits(ctx context.Context, backendID, username string, limits map[string]int64) error {
	return nil
}

func (u *UnknownClient) GetAssociation(ctx context.Context, username, backendID string) (*Association, error) {
	return nil, NotFound("get_association", nil)
}

func (u *UnknownClient) CreateAssociation(ctx context.Context, username, backendID string, isDefault bool) error {
	return nil
}

func (u *UnknownClient) DeleteAssociation(ctx context.Context, username, backendID string) error {
	return nil
}

func (u *UnknownClient) GetUsageReport(ctx context.Context, backendIDs []string) (map[string]map[string]float64, error) {
	return map[string]map[string]float64{}, nil
}

func (u *UnknownClient) GetUserUsage(ctx context.Context, backendID string) (map[string]map[string]float64, error) {
	return map[string]map[string]float64{}, nil
}

func (u *UnknownClient) ListResourceUsers(ctx context.Context, backendID string) ([]string, error) {
	return nil, nil
}
