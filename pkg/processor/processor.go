// Package processor implements the three reconciliation lanes the
// supervisor drives per offering: orders, membership, and usage
// reporting (spec.md §§4.5-4.7).
package processor

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/wisbric/sitebridge/pkg/backendapi"
	"github.com/wisbric/sitebridge/pkg/controlplane"
)

// OrdersControlPlane is the slice of the control-plane client OrderProcessor needs.
type OrdersControlPlane interface {
	ListOrders(ctx context.Context, offeringUUID uuid.UUID, states []backendapi.OrderState) ([]backendapi.Order, error)
	GetOrder(ctx context.Context, orderUUID uuid.UUID) (*backendapi.Order, error)
	ApproveOrder(ctx context.Context, orderUUID uuid.UUID) error
	RejectOrder(ctx context.Context, orderUUID uuid.UUID, reason string) error
	SetOrderDone(ctx context.Context, orderUUID uuid.UUID) error
	SetOrderErred(ctx context.Context, orderUUID uuid.UUID, message, traceback string) error

	GetResource(ctx context.Context, resourceUUID uuid.UUID) (*backendapi.MarketplaceResource, error)
	SetResourceBackendID(ctx context.Context, resourceUUID uuid.UUID, backendID string) error
	TeamList(ctx context.Context, resourceUUID uuid.UUID) ([]controlplane.TeamUser, error)
	ListOfferingUsers(ctx context.Context, filter controlplane.OfferingUserFilter) ([]backendapi.OfferingUser, error)
}

// MembershipControlPlane is the slice MembershipProcessor needs.
type MembershipControlPlane interface {
	ListResources(ctx context.Context, offeringUUID uuid.UUID, states []backendapi.ResourceState) ([]backendapi.MarketplaceResource, error)
	GetResource(ctx context.Context, resourceUUID uuid.UUID) (*backendapi.MarketplaceResource, error)
	TeamList(ctx context.Context, resourceUUID uuid.UUID) ([]controlplane.TeamUser, error)
	ListOfferingUsers(ctx context.Context, filter controlplane.OfferingUserFilter) ([]backendapi.OfferingUser, error)
	PatchOfferingUser(ctx context.Context, userUUID uuid.UUID, fields map[string]any) error
	BeginCreatingOfferingUser(ctx context.Context, userUUID uuid.UUID, username string) error
	SetOfferingUserOK(ctx context.Context, userUUID uuid.UUID) error
	SetOfferingUserPendingAccountLinking(ctx context.Context, userUUID uuid.UUID, comment, commentURL string) error
	SetOfferingUserPendingAdditionalValidation(ctx context.Context, userUUID uuid.UUID, comment, commentURL string) error
	SetResourceBackendMetadata(ctx context.Context, resourceUUID uuid.UUID, metadata map[string]string) error
	SetResourceLimits(ctx context.Context, resourceUUID uuid.UUID, limits map[string]int64) error
	SetResourceOK(ctx context.Context, resourceUUID uuid.UUID) error
	SetResourceErred(ctx context.Context, resourceUUID uuid.UUID, message, traceback string) error
	RefreshResourceLastSync(ctx context.Context, resourceUUID uuid.UUID) error
	ListServiceAccounts(ctx context.Context, projectUUID uuid.UUID) ([]string, error)
	ListCourseAccounts(ctx context.Context, projectUUID uuid.UUID) ([]string, error)
}

// ReportsControlPlane is the slice ReportProcessor needs.
type ReportsControlPlane interface {
	ListResources(ctx context.Context, offeringUUID uuid.UUID, states []backendapi.ResourceState) ([]backendapi.MarketplaceResource, error)
	SetResourceErred(ctx context.Context, resourceUUID uuid.UUID, message, traceback string) error
	ListUsages(ctx context.Context, resourceUUID uuid.UUID, period string) ([]controlplane.ComponentUsage, error)
	SetUsageBatch(ctx context.Context, resourceUUID uuid.UUID, period string, usage map[string]float64) error
	SetUserUsage(ctx context.Context, usageUUID uuid.UUID, username string, amount float64) error
	ListUserUsages(ctx context.Context, usageUUID uuid.UUID) ([]controlplane.UserUsage, error)
	ListOfferingUsers(ctx context.Context, filter controlplane.OfferingUserFilter) ([]backendapi.OfferingUser, error)
}

// captureFailure renders err and the current stack into the (message,
// traceback) pair the control plane stores against an erred entity
// (spec.md §7: "erred resources carry an error_message and error_traceback").
func captureFailure(err error) (message, traceback string) {
	return err.Error(), string(debug.Stack())
}

func wrapf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
