package processor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wisbric/sitebridge/pkg/backendapi"
	"github.com/wisbric/sitebridge/pkg/component"
	"github.com/wisbric/sitebridge/pkg/controlplane"
	"github.com/wisbric/sitebridge/pkg/retry"
)

// fakeOrdersControl is a hand-written OrdersControlPlane fake recording
// every call the processor makes against it.
type fakeOrdersControl struct {
	orders        []backendapi.Order
	resources     map[uuid.UUID]*backendapi.MarketplaceResource
	team          map[uuid.UUID][]controlplane.TeamUser
	offeringUsers []backendapi.OfferingUser

	approved  []uuid.UUID
	rejected  []uuid.UUID
	done      []uuid.UUID
	erred     []uuid.UUID
	backendID map[uuid.UUID]string
}

func newFakeOrdersControl() *fakeOrdersControl {
	return &fakeOrdersControl{
		resources: map[uuid.UUID]*backendapi.MarketplaceResource{},
		team:      map[uuid.UUID][]controlplane.TeamUser{},
		backendID: map[uuid.UUID]string{},
	}
}

func (f *fakeOrdersControl) ListOrders(_ context.Context, _ uuid.UUID, _ []backendapi.OrderState) ([]backendapi.Order, error) {
	return f.orders, nil
}
func (f *fakeOrdersControl) GetOrder(_ context.Context, orderUUID uuid.UUID) (*backendapi.Order, error) {
	for _, o := range f.orders {
		if o.UUID == orderUUID {
			return &o, nil
		}
	}
	return nil, backendapi.NotFound("get_order", nil)
}
func (f *fakeOrdersControl) ApproveOrder(_ context.Context, orderUUID uuid.UUID) error {
	f.approved = append(f.approved, orderUUID)
	return nil
}
func (f *fakeOrdersControl) RejectOrder(_ context.Context, orderUUID uuid.UUID, _ string) error {
	f.rejected = append(f.rejected, orderUUID)
	return nil
}
func (f *fakeOrdersControl) SetOrderDone(_ context.Context, orderUUID uuid.UUID) error {
	f.done = append(f.done, orderUUID)
	return nil
}
func (f *fakeOrdersControl) SetOrderErred(_ context.Context, orderUUID uuid.UUID, _, _ string) error {
	f.erred = append(f.erred, orderUUID)
	return nil
}
func (f *fakeOrdersControl) GetResource(_ context.Context, resourceUUID uuid.UUID) (*backendapi.MarketplaceResource, error) {
	r, ok := f.resources[resourceUUID]
	if !ok {
		return nil, backendapi.NotFound("get_resource", nil)
	}
	return r, nil
}
func (f *fakeOrdersControl) SetResourceBackendID(_ context.Context, resourceUUID uuid.UUID, backendID string) error {
	f.backendID[resourceUUID] = backendID
	if r, ok := f.resources[resourceUUID]; ok {
		r.BackendID = backendID
	}
	return nil
}
func (f *fakeOrdersControl) TeamList(_ context.Context, resourceUUID uuid.UUID) ([]controlplane.TeamUser, error) {
	return f.team[resourceUUID], nil
}
func (f *fakeOrdersControl) ListOfferingUsers(_ context.Context, _ controlplane.OfferingUserFilter) ([]backendapi.OfferingUser, error) {
	return f.offeringUsers, nil
}

// fakeDriver is a hand-written backendapi.Driver fake; only the subset
// order.go calls is meaningfully implemented.
type fakeDriver struct {
	backendapi.Driver // nil embed: unimplemented methods panic if called, surfacing test gaps
	createCalls       int
	createdBackendID  string
	pulled            *backendapi.BackendResourceInfo
	addedUsers        []string
	deleted           bool
}

func (f *fakeDriver) CreateResource(_ context.Context, uc backendapi.UserContext) (string, error) {
	f.createCalls++
	return f.createdBackendID, nil
}
func (f *fakeDriver) PullResource(_ context.Context, _ backendapi.MarketplaceResource) (*backendapi.BackendResourceInfo, error) {
	return f.pulled, nil
}
func (f *fakeDriver) AddUsersToResource(_ context.Context, _ string, usernames []string, _ backendapi.AddUsersOptions) ([]string, error) {
	f.addedUsers = usernames
	return usernames, nil
}
func (f *fakeDriver) SetResourceLimits(_ context.Context, _ string, _ map[string]int64) error {
	return nil
}
func (f *fakeDriver) DeleteResource(_ context.Context, _ backendapi.MarketplaceResource) error {
	f.deleted = true
	return nil
}
func (f *fakeDriver) EvaluatePendingOrder(_ context.Context, _ backendapi.Order) (backendapi.EvaluateResult, error) {
	return backendapi.EvaluateAccept, nil
}

func testOffering() backendapi.Offering {
	return backendapi.Offering{Name: "test-offering", UUID: uuid.New()}
}

// S1: Create order -> backend resource created, team members associated,
// order marked done.
func TestOrderProcessorCreateOrderDone(t *testing.T) {
	offering := testOffering()
	resourceUUID := uuid.New()
	orderUUID := uuid.New()
	userUUID := uuid.New()

	control := newFakeOrdersControl()
	control.resources[resourceUUID] = &backendapi.MarketplaceResource{UUID: resourceUUID}
	control.team[resourceUUID] = []controlplane.TeamUser{{UserUUID: userUUID, Username: "alice"}}
	control.orders = []backendapi.Order{{
		UUID:                    orderUUID,
		OfferingUUID:            offering.UUID,
		Type:                    backendapi.OrderCreate,
		State:                   backendapi.OrderExecuting,
		MarketplaceResourceUUID: resourceUUID,
	}}

	driver := &fakeDriver{createdBackendID: "sb-proj1"}

	p := &OrderProcessor{Offering: offering, Control: control, Driver: driver, RetryOpts: retry.Options{Attempts: 1}}
	if err := p.ProcessOffering(context.Background()); err != nil {
		t.Fatalf("ProcessOffering: %v", err)
	}

	if driver.createCalls != 1 {
		t.Fatalf("expected CreateResource called once, got %d", driver.createCalls)
	}
	if control.backendID[resourceUUID] != "sb-proj1" {
		t.Fatalf("backend id not persisted: %v", control.backendID)
	}
	if len(driver.addedUsers) != 1 || driver.addedUsers[0] != "alice" {
		t.Fatalf("expected alice associated, got %v", driver.addedUsers)
	}
	if len(control.done) != 1 || control.done[0] != orderUUID {
		t.Fatalf("expected order marked done, got %v", control.done)
	}
	if len(control.erred) != 0 {
		t.Fatalf("expected no erred orders, got %v", control.erred)
	}
}

// Create order is idempotent: if the backend already reports the resource
// (PullResource returns non-nil), CreateResource is never called again.
func TestOrderProcessorCreateOrderAlreadyProvisioned(t *testing.T) {
	offering := testOffering()
	resourceUUID := uuid.New()
	orderUUID := uuid.New()

	control := newFakeOrdersControl()
	control.resources[resourceUUID] = &backendapi.MarketplaceResource{UUID: resourceUUID, BackendID: "sb-proj1"}
	control.orders = []backendapi.Order{{
		UUID:                    orderUUID,
		Type:                    backendapi.OrderCreate,
		State:                   backendapi.OrderExecuting,
		MarketplaceResourceUUID: resourceUUID,
	}}

	driver := &fakeDriver{pulled: &backendapi.BackendResourceInfo{BackendID: "sb-proj1"}}

	p := &OrderProcessor{Offering: offering, Control: control, Driver: driver, RetryOpts: retry.Options{Attempts: 1}}
	if err := p.ProcessOffering(context.Background()); err != nil {
		t.Fatalf("ProcessOffering: %v", err)
	}
	if driver.createCalls != 0 {
		t.Fatalf("expected no CreateResource call for an already-provisioned resource, got %d", driver.createCalls)
	}
	if len(control.done) != 1 {
		t.Fatalf("expected order still marked done, got %v", control.done)
	}
}

// S2: Update order -> limits converted via the component mapper before
// being applied to the backend.
func TestOrderProcessorUpdateOrderConvertsLimits(t *testing.T) {
	offering := testOffering()
	offering.Components = []component.Component{
		{Name: "cpu", AccountingType: component.AccountingLimit, UnitFactor: 1000},
	}
	resourceUUID := uuid.New()
	orderUUID := uuid.New()

	control := newFakeOrdersControl()
	control.resources[resourceUUID] = &backendapi.MarketplaceResource{UUID: resourceUUID, BackendID: "sb-proj1"}
	control.orders = []backendapi.Order{{
		UUID:                    orderUUID,
		Type:                    backendapi.OrderUpdate,
		State:                   backendapi.OrderExecuting,
		MarketplaceResourceUUID: resourceUUID,
		Limits:                  map[string]int64{"cpu": 4},
	}}

	var gotBackendID string
	var gotLimits map[string]int64
	driver := &fakeDriver{}
	p := &OrderProcessor{
		Offering:  offering,
		Control:   control,
		Driver:    recordingLimitsDriver{fakeDriver: driver, backendID: &gotBackendID, limits: &gotLimits},
		RetryOpts: retry.Options{Attempts: 1},
	}

	if err := p.ProcessOffering(context.Background()); err != nil {
		t.Fatalf("ProcessOffering: %v", err)
	}
	if gotBackendID != "sb-proj1" {
		t.Fatalf("got backend id %q, want sb-proj1", gotBackendID)
	}
	if gotLimits["cpu"] != 4000 {
		t.Fatalf("limits not converted via unit_factor: got %v", gotLimits)
	}
	if len(control.done) != 1 {
		t.Fatalf("expected order marked done, got %v", control.done)
	}
}

type recordingLimitsDriver struct {
	*fakeDriver
	backendID *string
	limits    *map[string]int64
}

func (d recordingLimitsDriver) SetResourceLimits(_ context.Context, backendID string, limits map[string]int64) error {
	*d.backendID = backendID
	*d.limits = limits
	return nil
}

// A Create order whose marketplace_resource_uuid never populates within the
// bounded polling window is abandoned silently for this pass: not marked
// erred (it is not terminal), not marked done, left for the next cycle.
func TestOrderProcessorCreateOrderResourceUUIDNeverPopulatesIsAbandonedSilently(t *testing.T) {
	offering := testOffering()
	orderUUID := uuid.New()

	control := newFakeOrdersControl()
	control.orders = []backendapi.Order{{
		UUID:  orderUUID,
		Type:  backendapi.OrderCreate,
		State: backendapi.OrderExecuting,
		// MarketplaceResourceUUID left unset: GetOrder always reports no
		// resource, exhausting the bounded poll.
	}}

	driver := &fakeDriver{}
	p := &OrderProcessor{
		Offering:           offering,
		Control:            control,
		Driver:             driver,
		RetryOpts:          retry.Options{Attempts: 1},
		CreatePollInterval: time.Millisecond,
		CreatePollAttempts: 2,
	}

	if err := p.ProcessOffering(context.Background()); err != nil {
		t.Fatalf("ProcessOffering: %v", err)
	}
	if len(control.erred) != 0 {
		t.Fatalf("expected order not marked erred, got %v", control.erred)
	}
	if len(control.done) != 0 {
		t.Fatalf("expected order not marked done, got %v", control.done)
	}
	if driver.createCalls != 0 {
		t.Fatalf("expected no backend resource creation, got %d calls", driver.createCalls)
	}
}

// OrdersProcessed, when wired, counts each order by its final outcome.
func TestOrderProcessorCountsOrdersProcessedByOutcome(t *testing.T) {
	offering := testOffering()
	resourceUUID := uuid.New()
	orderUUID := uuid.New()

	control := newFakeOrdersControl()
	control.resources[resourceUUID] = &backendapi.MarketplaceResource{UUID: resourceUUID}
	control.orders = []backendapi.Order{{
		UUID:                    orderUUID,
		Type:                    backendapi.OrderCreate,
		State:                   backendapi.OrderExecuting,
		MarketplaceResourceUUID: resourceUUID,
	}}

	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_orders_processed_total"}, []string{"offering", "outcome"})
	driver := &fakeDriver{createdBackendID: "sb-proj1"}
	p := &OrderProcessor{
		Offering:        offering,
		Control:         control,
		Driver:          driver,
		RetryOpts:       retry.Options{Attempts: 1},
		OrdersProcessed: counter,
	}

	if err := p.ProcessOffering(context.Background()); err != nil {
		t.Fatalf("ProcessOffering: %v", err)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues(offering.Name, "done")); got != 1 {
		t.Fatalf("got done count %v, want 1", got)
	}
}

// A failed order is marked erred and not retried past the transient budget.
func TestOrderProcessorPermanentFailureMarksErred(t *testing.T) {
	offering := testOffering()
	resourceUUID := uuid.New()
	orderUUID := uuid.New()

	control := newFakeOrdersControl()
	control.orders = []backendapi.Order{{
		UUID:                    orderUUID,
		Type:                    backendapi.OrderCreate,
		State:                   backendapi.OrderExecuting,
		MarketplaceResourceUUID: resourceUUID,
	}}
	// GetResource will fail because resourceUUID was never registered.

	driver := &fakeDriver{}
	p := &OrderProcessor{Offering: offering, Control: control, Driver: driver, RetryOpts: retry.Options{Attempts: 1}}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.ProcessOffering(ctx); err != nil {
		t.Fatalf("ProcessOffering: %v", err)
	}
	if len(control.erred) != 1 || control.erred[0] != orderUUID {
		t.Fatalf("expected order marked erred, got erred=%v done=%v", control.erred, control.done)
	}
	if len(control.done) != 0 {
		t.Fatalf("expected order not marked done, got %v", control.done)
	}
}
