// Package backendapi defines the capability surface the reconciliation
// core programs against (spec.md §4.1) and the data-model types it
// exchanges with both planes (spec.md §3).
package backendapi

import (
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/sitebridge/pkg/component"
)

// TotalUsageKey is the reserved usage-map key carrying a resource's
// aggregate consumption across all components.
const TotalUsageKey = "TOTAL_ACCOUNT_USAGE"

// ResourceState is the lifecycle state of a MarketplaceResource.
type ResourceState string

const (
	ResourceCreating    ResourceState = "Creating"
	ResourceOK          ResourceState = "OK"
	ResourceUpdating    ResourceState = "Updating"
	ResourceErred       ResourceState = "Erred"
	ResourceTerminating ResourceState = "Terminating"
	ResourceTerminated  ResourceState = "Terminated"
)

// OrderType distinguishes the three order verbs the control plane issues.
type OrderType string

const (
	OrderCreate    OrderType = "Create"
	OrderUpdate    OrderType = "Update"
	OrderTerminate OrderType = "Terminate"
)

// OrderState is the order lifecycle (spec.md §3).
type OrderState string

const (
	OrderPendingProvider OrderState = "pending-provider"
	OrderExecuting       OrderState = "executing"
	OrderDone            OrderState = "done"
	OrderErred           OrderState = "erred"
	OrderRejected        OrderState = "rejected"
)

// OfferingUserState is the lifecycle of a marketplace-user-to-local-
// username binding (spec.md §4.2).
type OfferingUserState string

const (
	UserRequested                 OfferingUserState = "requested"
	UserPendingAccountLinking     OfferingUserState = "pending_account_linking"
	UserPendingAdditionalValidation OfferingUserState = "pending_additional_validation"
	UserCreating                  OfferingUserState = "creating"
	UserOK                        OfferingUserState = "ok"
	UserDeleted                   OfferingUserState = "deleted"
)

// Offering binds one control-plane offering UUID to one backend driver
// instance and its parameters. Immutable for the lifetime of the process.
type Offering struct {
	Name             string
	UUID             uuid.UUID
	APIURL           string
	APIToken         string
	BackendType      string
	BackendSettings  map[string]string
	Components       []component.Component
	NamePrefix       string
	MessagingChannel string // optional Slack channel; empty disables notification
	Timezone         *time.Location
	TLSVerify        bool
	UserAgent        string

	PollOrders      time.Duration
	PollMembership  time.Duration
	PollReports     time.Duration
	EventDriven     bool
	SafetySweep     time.Duration
}

// Mapper builds the component.Mapper for this offering's declared components.
func (o *Offering) Mapper() *component.Mapper {
	return component.NewMapper(o.Components)
}

// MarketplaceResource is the core's view of a resource as seen from the
// control plane (spec.md §3).
type MarketplaceResource struct {
	UUID                  uuid.UUID
	OfferingUUID          uuid.UUID
	BackendID             string
	State                 ResourceState
	Limits                map[string]int64
	Downscaled            bool
	Paused                bool
	RestrictMemberAccess  bool
	ProjectUUID           uuid.UUID
	ProjectSlug           string
	CustomerUUID          uuid.UUID
	ResourceSlug          string
	ParentBackendID       string
	ErrorMessage          string
	ErrorTraceback        string
}

// BackendResourceInfo is the core's view of what the backend currently
// reports for one resource (spec.md §3). Produced only by driver reads.
type BackendResourceInfo struct {
	BackendID string
	Usernames []string
	Usage     map[string]float64 // component -> amount; TOTAL_ACCOUNT_USAGE always present
	Limits    map[string]int64
	ParentID  string
}

// Order is a control-plane directive mutating a resource (spec.md §3).
type Order struct {
	UUID                  uuid.UUID
	OfferingUUID          uuid.UUID
	Type                  OrderType
	State                 OrderState
	MarketplaceResourceUUID uuid.UUID // may be uuid.Nil transiently for Create
	Limits                map[string]int64
	Attributes            map[string]any
}

// HasResource reports whether the order already carries a resolved
// marketplace resource UUID.
func (o Order) HasResource() bool {
	return o.MarketplaceResourceUUID != uuid.Nil
}

// OfferingUser binds a marketplace user to a local username within one
// offering (spec.md §3).
type OfferingUser struct {
	UUID         uuid.UUID
	UserUUID     uuid.UUID
	OfferingUUID uuid.UUID
	Username     string
	State        OfferingUserState
	Comment      string
	CommentURL   string
	// Limits holds per-component limit overrides for this user, nil/empty
	// when the user has no override (spec.md §4.6 step 7).
	Limits map[string]int64
}

// NeedsGeneration reports whether the processor should invoke the
// UsernameManager for this user (spec.md §4.2 closing paragraph).
func (u OfferingUser) NeedsGeneration() bool {
	if u.Username != "" {
		return false
	}
	switch u.State {
	case UserRequested, UserPendingAccountLinking, UserCreating:
		return true
	default:
		return false
	}
}

// UsageRecord is a per-resource, per-component, per-billing-period usage
// tuple (spec.md §3).
type UsageRecord struct {
	UUID           uuid.UUID
	ResourceUUID   uuid.UUID
	Component      string
	Period         string // "2026-07-01", the first of the billing month
	Amount         float64
}

// UserContext is the assembled information an OrderProcessor needs to
// create a resource: the marketplace resource, the team, and the
// offering-user mapping (spec.md §4.5 step 4). Resource.Limits are still in
// control-plane units; the driver's SetupLimits phase converts them.
type UserContext struct {
	Resource     MarketplaceResource
	TeamUsernames []string
	OfferingUsers map[uuid.UUID]OfferingUser // keyed by marketplace user UUID
}
