package processor

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wisbric/sitebridge/pkg/backendapi"
	"github.com/wisbric/sitebridge/pkg/cache"
	"github.com/wisbric/sitebridge/pkg/controlplane"
	"github.com/wisbric/sitebridge/pkg/notify"
	"github.com/wisbric/sitebridge/pkg/retry"
)

// ReportProcessor implements spec.md §4.7: folding backend usage reports
// into the control plane on a periodic cycle, with an anomaly guard
// against regressing totals.
type ReportProcessor struct {
	Offering  backendapi.Offering
	Control   ReportsControlPlane
	Driver    backendapi.Driver
	Logger    *slog.Logger
	Notifier  *notify.Notifier
	RetryOpts retry.Options

	// Clock returns the current time; overridable in tests. Defaults to
	// time.Now.
	Clock func() time.Time

	// UsageSubmitted and UsageAnomalies count, respectively, per-component
	// usage records submitted to the control plane and usage submissions
	// rejected as anomalous, both labeled by offering and component. Nil
	// disables the metric.
	UsageSubmitted *prometheus.CounterVec
	UsageAnomalies *prometheus.CounterVec
}

func (p *ReportProcessor) countUsageSubmitted(component string) {
	if p.UsageSubmitted != nil {
		p.UsageSubmitted.WithLabelValues(p.Offering.Name, component).Inc()
	}
}

func (p *ReportProcessor) countUsageAnomaly(component string) {
	if p.UsageAnomalies != nil {
		p.UsageAnomalies.WithLabelValues(p.Offering.Name, component).Inc()
	}
}

func (p *ReportProcessor) log() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *ReportProcessor) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now()
}

// billingPeriod is the first of the current month in the offering's
// configured timezone, formatted as the control plane expects it
// (spec.md §4.7 closing paragraph).
func (p *ReportProcessor) billingPeriod() string {
	loc := p.Offering.Timezone
	if loc == nil {
		loc = time.UTC
	}
	now := p.now().In(loc)
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	return first.Format("2006-01-02")
}

// ProcessOffering folds usage for every resource in the offering into
// the control plane (spec.md §4.7).
func (p *ReportProcessor) ProcessOffering(ctx context.Context) error {
	resources, err := p.Control.ListResources(ctx, p.Offering.UUID, []backendapi.ResourceState{
		backendapi.ResourceOK, backendapi.ResourceErred,
	})
	if err != nil {
		return err
	}

	period := p.billingPeriod()
	c := &cache.Cache{
		FetchOfferingUsers: func(ctx context.Context) ([]backendapi.OfferingUser, error) {
			return p.Control.ListOfferingUsers(ctx, controlplane.OfferingUserFilter{OfferingUUID: p.Offering.UUID})
		},
	}

	for _, resource := range resources {
		if ctx.Err() != nil {
			p.log().Info("report pass cancelled, skipping remaining resources", "offering", p.Offering.Name)
			return nil
		}
		if resource.BackendID == "" {
			continue
		}
		p.processOneResource(ctx, resource, period, c)
	}
	return nil
}

func (p *ReportProcessor) processOneResource(ctx context.Context, resource backendapi.MarketplaceResource, period string, c *cache.Cache) {
	err := retry.WithBackoff(ctx, p.RetryOpts, func(ctx context.Context) error {
		return p.processResource(ctx, resource, period, c)
	})
	if err == nil {
		return
	}
	message, traceback := captureFailure(err)
	if setErr := p.Control.SetResourceErred(ctx, resource.UUID, message, traceback); setErr != nil {
		p.log().Error("marking resource erred after report failure", "resource", resource.UUID, "error", setErr)
	}
	if p.Notifier != nil {
		p.Notifier.ReconciliationFailure(ctx, p.Offering.Name, "report", resource.UUID.String(), err)
	}
}

// processResource implements spec.md §4.7 steps 1-5 for one resource.
func (p *ReportProcessor) processResource(ctx context.Context, resource backendapi.MarketplaceResource, period string, c *cache.Cache) error {
	info, err := p.Driver.PullResource(ctx, resource)
	if err != nil {
		return err
	}
	if info == nil {
		message, _ := captureFailure(backendapi.NotFound("pull_resource", nil))
		_ = p.Control.SetResourceErred(ctx, resource.UUID, message, "")
		return nil
	}

	total, ok := info.Usage[backendapi.TotalUsageKey]
	if !ok {
		total = 0
	}
	componentUsage := map[string]float64{backendapi.TotalUsageKey: total}
	for component, amount := range info.Usage {
		if component == backendapi.TotalUsageKey {
			continue
		}
		componentUsage[component] = amount
	}
	controlUsage := p.Offering.Mapper().ConvertUsageToControl(componentUsage)

	existing, err := p.Control.ListUsages(ctx, resource.UUID, period)
	if err != nil {
		return err
	}
	byComponent := make(map[string][]controlplane.ComponentUsage, len(existing))
	for _, u := range existing {
		byComponent[u.Component] = append(byComponent[u.Component], u)
	}

	for component, newValue := range controlUsage {
		records := byComponent[component]
		switch len(records) {
		case 0:
			// no prior record for this period: proceed.
		case 1:
			oldValue, parseErr := strconv.ParseFloat(records[0].Amount, 64)
			if parseErr == nil && newValue < oldValue {
				p.countUsageAnomaly(component)
				if p.Notifier != nil {
					p.Notifier.UsageAnomaly(ctx, p.Offering.Name, resource.UUID.String(), component)
				}
				return backendapi.UsageAnomaly("usage_regressed", nil)
			}
		default:
			p.countUsageAnomaly(component)
			if p.Notifier != nil {
				p.Notifier.UsageAnomaly(ctx, p.Offering.Name, resource.UUID.String(), component)
			}
			return backendapi.UsageAnomaly("duplicate_usage_records", nil)
		}
	}

	if err := p.Control.SetUsageBatch(ctx, resource.UUID, period, controlUsage); err != nil {
		return err
	}
	for component := range controlUsage {
		p.countUsageSubmitted(component)
	}

	usageUUIDByComponent := make(map[string]uuid.UUID, len(existing)+1)
	for _, u := range existing {
		usageUUIDByComponent[u.Component] = u.UUID
	}

	return p.submitPerUserUsage(ctx, resource, usageUUIDByComponent, c)
}

// submitPerUserUsage implements spec.md §4.7 step 5: resolve each
// backend-reported username to an OfferingUser via the per-cycle cache,
// then submit per-component user usage against the corresponding
// component-usage record. Missing per-user mappings log and continue.
func (p *ReportProcessor) submitPerUserUsage(ctx context.Context, resource backendapi.MarketplaceResource, usageUUIDByComponent map[string]uuid.UUID, c *cache.Cache) error {
	userUsage, err := p.Driver.GetUserUsage(ctx, resource.BackendID)
	if err != nil {
		return err
	}
	if len(userUsage) == 0 {
		return nil
	}

	offeringUsers, err := c.OfferingUsers(ctx)
	if err != nil {
		return err
	}
	knownUsernames := make(map[string]bool, len(offeringUsers))
	for _, u := range offeringUsers {
		if u.Username != "" {
			knownUsernames[u.Username] = true
		}
	}

	for username, byComponent := range userUsage {
		if !knownUsernames[username] {
			p.log().Warn("usage reported for unmapped username, skipping", "resource", resource.UUID, "username", username)
			continue
		}
		for component, amount := range byComponent {
			usageUUID, ok := usageUUIDByComponent[component]
			if !ok {
				p.log().Warn("per-user usage for component with no control-plane record, skipping",
					"resource", resource.UUID, "username", username, "component", component)
				continue
			}
			if err := p.Control.SetUserUsage(ctx, usageUUID, username, amount); err != nil {
				p.log().Error("submitting per-user usage", "resource", resource.UUID, "username", username, "error", err)
			}
		}
	}
	return nil
}
