package processor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wisbric/sitebridge/pkg/backendapi"
	"github.com/wisbric/sitebridge/pkg/controlplane"
	"github.com/wisbric/sitebridge/pkg/retry"
)

type fakeReportsControl struct {
	resources     []backendapi.MarketplaceResource
	offeringUsers []backendapi.OfferingUser
	usages        map[uuid.UUID][]controlplane.ComponentUsage // keyed by resource UUID

	setUsageBatchCalls int
	setUserUsageCalls  int
	erred              []uuid.UUID
}

func (f *fakeReportsControl) ListResources(_ context.Context, _ uuid.UUID, _ []backendapi.ResourceState) ([]backendapi.MarketplaceResource, error) {
	return f.resources, nil
}
func (f *fakeReportsControl) SetResourceErred(_ context.Context, resourceUUID uuid.UUID, _, _ string) error {
	f.erred = append(f.erred, resourceUUID)
	return nil
}
func (f *fakeReportsControl) ListUsages(_ context.Context, resourceUUID uuid.UUID, _ string) ([]controlplane.ComponentUsage, error) {
	return f.usages[resourceUUID], nil
}
func (f *fakeReportsControl) SetUsageBatch(_ context.Context, _ uuid.UUID, _ string, _ map[string]float64) error {
	f.setUsageBatchCalls++
	return nil
}
func (f *fakeReportsControl) SetUserUsage(_ context.Context, _ uuid.UUID, _ string, _ float64) error {
	f.setUserUsageCalls++
	return nil
}
func (f *fakeReportsControl) ListUserUsages(_ context.Context, _ uuid.UUID) ([]controlplane.UserUsage, error) {
	return nil, nil
}
func (f *fakeReportsControl) ListOfferingUsers(_ context.Context, _ controlplane.OfferingUserFilter) ([]backendapi.OfferingUser, error) {
	return f.offeringUsers, nil
}

type fakeReportDriver struct {
	backendapi.Driver
	pulled    *backendapi.BackendResourceInfo
	userUsage map[string]map[string]float64
}

func (f *fakeReportDriver) PullResource(_ context.Context, _ backendapi.MarketplaceResource) (*backendapi.BackendResourceInfo, error) {
	return f.pulled, nil
}
func (f *fakeReportDriver) GetUserUsage(_ context.Context, _ string) (map[string]map[string]float64, error) {
	return f.userUsage, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// S5: a regressed usage total is rejected wholesale; no set_usage call is
// issued and per-user submission is skipped.
func TestReportProcessorRejectsRegressedUsage(t *testing.T) {
	offering := testOffering()
	resource := backendapi.MarketplaceResource{UUID: uuid.New(), BackendID: "sb-1", State: backendapi.ResourceOK}

	control := &fakeReportsControl{
		resources: []backendapi.MarketplaceResource{resource},
		usages: map[uuid.UUID][]controlplane.ComponentUsage{
			resource.UUID: {{UUID: uuid.New(), Component: "cpu", Amount: "150"}},
		},
	}
	driver := &fakeReportDriver{
		pulled: &backendapi.BackendResourceInfo{
			BackendID: "sb-1",
			Usage:     map[string]float64{"cpu": 100, backendapi.TotalUsageKey: 100},
		},
		userUsage: map[string]map[string]float64{"alice": {"cpu": 50}},
	}

	anomalies := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_usage_anomalies_total"}, []string{"offering", "component"})
	submitted := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_usage_submitted_total"}, []string{"offering", "component"})
	p := &ReportProcessor{
		Offering:       offering,
		Control:        control,
		Driver:         driver,
		RetryOpts:      retry.Options{Attempts: 1},
		Clock:          fixedClock(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)),
		UsageAnomalies: anomalies,
		UsageSubmitted: submitted,
	}

	if err := p.ProcessOffering(context.Background()); err != nil {
		t.Fatalf("ProcessOffering: %v", err)
	}
	if control.setUsageBatchCalls != 0 {
		t.Fatalf("expected no set_usage call on a regressed total, got %d", control.setUsageBatchCalls)
	}
	if control.setUserUsageCalls != 0 {
		t.Fatalf("expected per-user submission skipped, got %d calls", control.setUserUsageCalls)
	}
	if len(control.erred) != 1 || control.erred[0] != resource.UUID {
		t.Fatalf("expected the resource marked erred, got %v", control.erred)
	}
	if got := testutil.ToFloat64(anomalies.WithLabelValues(offering.Name, "cpu")); got != 1 {
		t.Fatalf("got anomaly count %v, want 1", got)
	}
	if got := testutil.ToFloat64(submitted.WithLabelValues(offering.Name, "cpu")); got != 0 {
		t.Fatalf("got submitted count %v, want 0 (rejected before submission)", got)
	}
}

// A fresh usage total (no prior record, or one that did not regress) is
// folded in and per-user usage submitted for known usernames.
func TestReportProcessorSubmitsFreshUsage(t *testing.T) {
	offering := testOffering()
	resource := backendapi.MarketplaceResource{UUID: uuid.New(), BackendID: "sb-1", State: backendapi.ResourceOK}
	userUUID := uuid.New()

	control := &fakeReportsControl{
		resources:     []backendapi.MarketplaceResource{resource},
		offeringUsers: []backendapi.OfferingUser{{UUID: uuid.New(), UserUUID: userUUID, Username: "alice", State: backendapi.UserOK}},
		usages: map[uuid.UUID][]controlplane.ComponentUsage{
			// a prior, non-regressed record: submitPerUserUsage needs this
			// record's UUID to attribute per-user usage to the right
			// component-usage record.
			resource.UUID: {{UUID: uuid.New(), Component: "cpu", Amount: "50"}},
		},
	}
	driver := &fakeReportDriver{
		pulled: &backendapi.BackendResourceInfo{
			BackendID: "sb-1",
			Usage:     map[string]float64{"cpu": 100, backendapi.TotalUsageKey: 100},
		},
		userUsage: map[string]map[string]float64{"alice": {"cpu": 50}},
	}

	submitted := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_usage_submitted_total_2"}, []string{"offering", "component"})
	p := &ReportProcessor{
		Offering:       offering,
		Control:        control,
		Driver:         driver,
		RetryOpts:      retry.Options{Attempts: 1},
		Clock:          fixedClock(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)),
		UsageSubmitted: submitted,
	}

	if err := p.ProcessOffering(context.Background()); err != nil {
		t.Fatalf("ProcessOffering: %v", err)
	}
	if control.setUsageBatchCalls != 1 {
		t.Fatalf("expected exactly one set_usage call, got %d", control.setUsageBatchCalls)
	}
	if control.setUserUsageCalls != 1 {
		t.Fatalf("expected exactly one per-user usage submission, got %d", control.setUserUsageCalls)
	}
	if len(control.erred) != 0 {
		t.Fatalf("expected no erred resources, got %v", control.erred)
	}
	if got := testutil.ToFloat64(submitted.WithLabelValues(offering.Name, "cpu")); got != 1 {
		t.Fatalf("got submitted count %v, want 1", got)
	}
}

// Usage reported for a username with no OfferingUser mapping is skipped,
// not submitted and not an error.
func TestReportProcessorSkipsUnmappedUsername(t *testing.T) {
	offering := testOffering()
	resource := backendapi.MarketplaceResource{UUID: uuid.New(), BackendID: "sb-1", State: backendapi.ResourceOK}

	control := &fakeReportsControl{
		resources: []backendapi.MarketplaceResource{resource},
	}
	driver := &fakeReportDriver{
		pulled: &backendapi.BackendResourceInfo{
			BackendID: "sb-1",
			Usage:     map[string]float64{backendapi.TotalUsageKey: 0},
		},
		userUsage: map[string]map[string]float64{"ghost": {"cpu": 10}},
	}

	p := &ReportProcessor{
		Offering:  offering,
		Control:   control,
		Driver:    driver,
		RetryOpts: retry.Options{Attempts: 1},
		Clock:     fixedClock(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)),
	}

	if err := p.ProcessOffering(context.Background()); err != nil {
		t.Fatalf("ProcessOffering: %v", err)
	}
	if control.setUserUsageCalls != 0 {
		t.Fatalf("expected no per-user submission for an unmapped username, got %d", control.setUserUsageCalls)
	}
	if len(control.erred) != 0 {
		t.Fatalf("expected no erred resources, got %v", control.erred)
	}
}
