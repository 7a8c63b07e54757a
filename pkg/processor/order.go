package processor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wisbric/sitebridge/pkg/backendapi"
	"github.com/wisbric/sitebridge/pkg/controlplane"
	"github.com/wisbric/sitebridge/pkg/notify"
	"github.com/wisbric/sitebridge/pkg/retry"
)

// errResourceUUIDPending signals that a Create order's
// marketplace_resource_uuid never populated within the bounded polling
// window. It is never surfaced as the order's terminal error: spec.md §8
// requires the order be abandoned silently for this pass, not marked
// erred, so the next cycle picks it up and polls again.
var errResourceUUIDPending = errors.New("marketplace_resource_uuid not yet populated")

const (
	defaultCreatePollInterval = 5 * time.Second
	defaultCreatePollAttempts = 4
)

// OrderProcessor implements spec.md §4.5: translating control-plane
// orders into driver calls against one offering.
type OrderProcessor struct {
	Offering  backendapi.Offering
	Control   OrdersControlPlane
	Driver    backendapi.Driver
	Logger    *slog.Logger
	Notifier  *notify.Notifier
	RetryOpts retry.Options

	// CreatePollInterval and CreatePollAttempts bound how long
	// dispatchCreate waits for a Create order's marketplace_resource_uuid
	// to populate. Zero values fall back to the package defaults.
	CreatePollInterval time.Duration
	CreatePollAttempts int

	// OrdersProcessed counts processed orders by outcome (done, erred,
	// skipped), labeled by offering. Nil disables the metric.
	OrdersProcessed *prometheus.CounterVec
}

func (p *OrderProcessor) countOrder(outcome string) {
	if p.OrdersProcessed != nil {
		p.OrdersProcessed.WithLabelValues(p.Offering.Name, outcome).Inc()
	}
}

func (p *OrderProcessor) createPollInterval() time.Duration {
	if p.CreatePollInterval > 0 {
		return p.CreatePollInterval
	}
	return defaultCreatePollInterval
}

func (p *OrderProcessor) createPollAttempts() int {
	if p.CreatePollAttempts > 0 {
		return p.CreatePollAttempts
	}
	return defaultCreatePollAttempts
}

func (p *OrderProcessor) log() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// ProcessOffering fetches pending-provider and executing orders and
// processes each in listing order. Best-effort: if ctx is cancelled
// between orders, in-flight orders complete and the rest are skipped.
func (p *OrderProcessor) ProcessOffering(ctx context.Context) error {
	orders, err := p.Control.ListOrders(ctx, p.Offering.UUID, []backendapi.OrderState{
		backendapi.OrderPendingProvider, backendapi.OrderExecuting,
	})
	if err != nil {
		return err
	}

	for _, order := range orders {
		if ctx.Err() != nil {
			p.log().Info("order pass cancelled, skipping remaining orders", "offering", p.Offering.Name)
			return nil
		}
		p.processOneOrder(ctx, order)
	}
	return nil
}

func (p *OrderProcessor) processOneOrder(ctx context.Context, order backendapi.Order) {
	outcome := outcomeSkip
	err := retry.WithBackoff(ctx, p.RetryOpts, func(ctx context.Context) error {
		o, err := p.processOrder(ctx, order)
		outcome = o
		return err
	})

	switch {
	case err != nil:
		p.countOrder("erred")
		message, traceback := captureFailure(err)
		if setErr := p.Control.SetOrderErred(ctx, order.UUID, message, traceback); setErr != nil {
			p.log().Error("marking order erred", "order", order.UUID, "error", setErr)
		}
		if p.Notifier != nil {
			p.Notifier.ReconciliationFailure(ctx, p.Offering.Name, "orders", order.UUID.String(), err)
		}
	case outcome == outcomeDone:
		p.countOrder("done")
		if setErr := p.Control.SetOrderDone(ctx, order.UUID); setErr != nil {
			p.log().Error("marking order done", "order", order.UUID, "error", setErr)
		}
	default:
		p.countOrder("skipped")
	}
}

type orderOutcome int

const (
	outcomeSkip orderOutcome = iota
	outcomeDone
)

// processOrder implements spec.md §4.5 steps 3-4 for a single order.
func (p *OrderProcessor) processOrder(ctx context.Context, order backendapi.Order) (orderOutcome, error) {
	switch order.State {
	case backendapi.OrderPendingProvider:
		result, err := p.Driver.EvaluatePendingOrder(ctx, order)
		if err != nil {
			return outcomeSkip, err
		}
		switch result {
		case backendapi.EvaluateAccept:
			if err := p.Control.ApproveOrder(ctx, order.UUID); err != nil {
				return outcomeSkip, err
			}
			refreshed, err := p.Control.GetOrder(ctx, order.UUID)
			if err != nil {
				return outcomeSkip, err
			}
			order = *refreshed
		case backendapi.EvaluateReject:
			if err := p.Control.RejectOrder(ctx, order.UUID, "rejected by backend driver"); err != nil {
				return outcomeSkip, err
			}
			return outcomeSkip, nil
		default: // EvaluatePending
			return outcomeSkip, nil
		}
	case backendapi.OrderExecuting:
		// fall through to dispatch
	default:
		p.log().Warn("order in unexpected state, skipping", "order", order.UUID, "state", order.State)
		return outcomeSkip, nil
	}

	switch order.Type {
	case backendapi.OrderCreate:
		if err := p.dispatchCreate(ctx, order); err != nil {
			if errors.Is(err, errResourceUUIDPending) {
				return outcomeSkip, nil
			}
			return outcomeSkip, err
		}
	case backendapi.OrderUpdate:
		if err := p.dispatchUpdate(ctx, order); err != nil {
			return outcomeSkip, err
		}
	case backendapi.OrderTerminate:
		if err := p.dispatchTerminate(ctx, order); err != nil {
			return outcomeSkip, err
		}
	default:
		p.log().Warn("order has unknown type, skipping", "order", order.UUID, "type", order.Type)
		return outcomeSkip, nil
	}
	return outcomeDone, nil
}

func (p *OrderProcessor) dispatchCreate(ctx context.Context, order backendapi.Order) error {
	resourceUUID := order.MarketplaceResourceUUID
	if resourceUUID == uuid.Nil {
		var err error
		resourceUUID, err = p.pollForResourceUUID(ctx, order.UUID)
		if err != nil {
			return err
		}
	}

	resource, err := p.Control.GetResource(ctx, resourceUUID)
	if err != nil {
		return err
	}

	if resource.BackendID != "" {
		if info, err := p.Driver.PullResource(ctx, *resource); err == nil && info != nil {
			// Resource already exists in the backend: idempotent no-op.
			return nil
		}
	}

	uc, err := p.assembleUserContext(ctx, *resource)
	if err != nil {
		return err
	}

	backendID, err := p.Driver.CreateResource(ctx, uc)
	if err != nil {
		return err
	}
	if err := p.Control.SetResourceBackendID(ctx, resource.UUID, backendID); err != nil {
		return err
	}

	if _, err := p.Driver.AddUsersToResource(ctx, backendID, uc.TeamUsernames, backendapi.AddUsersOptions{}); err != nil {
		return err
	}
	return nil
}

func (p *OrderProcessor) dispatchUpdate(ctx context.Context, order backendapi.Order) error {
	resourceUUID := order.MarketplaceResourceUUID
	resource, err := p.Control.GetResource(ctx, resourceUUID)
	if err != nil {
		return err
	}
	backendLimits := p.Offering.Mapper().ConvertLimitsToBackend(order.Limits)
	return p.Driver.SetResourceLimits(ctx, resource.BackendID, backendLimits)
}

func (p *OrderProcessor) dispatchTerminate(ctx context.Context, order backendapi.Order) error {
	resourceUUID := order.MarketplaceResourceUUID
	resource, err := p.Control.GetResource(ctx, resourceUUID)
	if err != nil {
		return err
	}
	return p.Driver.DeleteResource(ctx, *resource)
}

// pollForResourceUUID waits, bounded, for the order to carry a resolved
// marketplace resource uuid (spec.md §4.5 step 4, Create).
func (p *OrderProcessor) pollForResourceUUID(ctx context.Context, orderUUID uuid.UUID) (uuid.UUID, error) {
	for attempt := 0; attempt < p.createPollAttempts(); attempt++ {
		o, err := p.Control.GetOrder(ctx, orderUUID)
		if err != nil {
			return uuid.Nil, err
		}
		if o.HasResource() {
			return o.MarketplaceResourceUUID, nil
		}
		select {
		case <-ctx.Done():
			return uuid.Nil, ctx.Err()
		case <-time.After(p.createPollInterval()):
		}
	}
	return uuid.Nil, errResourceUUIDPending
}

// assembleUserContext builds the UserContext a driver needs to create a
// resource: the team and the offering-user-to-username mapping (spec.md
// §4.5 step 4).
func (p *OrderProcessor) assembleUserContext(ctx context.Context, resource backendapi.MarketplaceResource) (backendapi.UserContext, error) {
	team, err := p.Control.TeamList(ctx, resource.UUID)
	if err != nil {
		return backendapi.UserContext{}, err
	}
	offeringUsers, err := p.Control.ListOfferingUsers(ctx, controlplane.OfferingUserFilter{OfferingUUID: p.Offering.UUID})
	if err != nil {
		return backendapi.UserContext{}, err
	}

	byUser := make(map[uuid.UUID]backendapi.OfferingUser, len(offeringUsers))
	for _, u := range offeringUsers {
		byUser[u.UserUUID] = u
	}

	usernames := make([]string, 0, len(team))
	uc := backendapi.UserContext{Resource: resource, OfferingUsers: byUser}
	for _, t := range team {
		if t.Username != "" {
			usernames = append(usernames, t.Username)
			continue
		}
		if ou, ok := byUser[t.UserUUID]; ok && ou.Username != "" {
			usernames = append(usernames, ou.Username)
		}
	}
	uc.TeamUsernames = usernames
	return uc, nil
}
