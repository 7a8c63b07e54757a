package controlplane

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/wisbric/sitebridge/pkg/backendapi"
)

// ListOrders lists orders for one offering filtered to the given states.
// An empty states slice returns every order regardless of state.
func (c *Client) ListOrders(ctx context.Context, offeringUUID uuid.UUID, states []backendapi.OrderState) ([]backendapi.Order, error) {
	q := map[string]string{"offering_uuid": offeringUUID.String()}
	if len(states) > 0 {
		s := ""
		for i, st := range states {
			if i > 0 {
				s += ","
			}
			s += string(st)
		}
		q["state"] = s
	}
	var out []Order
	if err := c.do(ctx, http.MethodGet, "/api/marketplace-orders/"+query(q), nil, &out); err != nil {
		return nil, err
	}
	orders := make([]backendapi.Order, len(out))
	for i, o := range out {
		orders[i] = o.toDomain()
	}
	return orders, nil
}

// GetOrder retrieves a single order by UUID.
func (c *Client) GetOrder(ctx context.Context, orderUUID uuid.UUID) (*backendapi.Order, error) {
	var o Order
	if err := c.do(ctx, http.MethodGet, "/api/marketplace-orders/"+orderUUID.String()+"/", nil, &o); err != nil {
		return nil, err
	}
	d := o.toDomain()
	return &d, nil
}

// ApproveOrder approves a pending-provider order, advancing it to executing.
func (c *Client) ApproveOrder(ctx context.Context, orderUUID uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/api/marketplace-orders/"+orderUUID.String()+"/approve_by_provider/", nil, nil)
}

// RejectOrder rejects a pending-provider order; terminal.
func (c *Client) RejectOrder(ctx context.Context, orderUUID uuid.UUID, reason string) error {
	body := map[string]string{"reason": reason}
	return c.do(ctx, http.MethodPost, "/api/marketplace-orders/"+orderUUID.String()+"/reject_by_provider/", body, nil)
}

// SetOrderDone transitions an order to the done state.
func (c *Client) SetOrderDone(ctx context.Context, orderUUID uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/api/marketplace-orders/"+orderUUID.String()+"/set_state_done/", nil, nil)
}

// SetOrderErred transitions an order to erred with a message and traceback.
func (c *Client) SetOrderErred(ctx context.Context, orderUUID uuid.UUID, message, traceback string) error {
	body := map[string]string{"error_message": message, "error_traceback": traceback}
	return c.do(ctx, http.MethodPost, "/api/marketplace-orders/"+orderUUID.String()+"/set_state_erred/", body, nil)
}

// Order is the wire representation of backendapi.Order.
type Order struct {
	UUID                    uuid.UUID      `json:"uuid"`
	OfferingUUID            uuid.UUID      `json:"offering_uuid"`
	Type                    string         `json:"type"`
	State                   string         `json:"state"`
	MarketplaceResourceUUID *uuid.UUID     `json:"marketplace_resource_uuid,omitempty"`
	Limits                  map[string]int64 `json:"limits,omitempty"`
	Attributes              map[string]any `json:"attributes,omitempty"`
}

func (o Order) toDomain() backendapi.Order {
	d := backendapi.Order{
		UUID:         o.UUID,
		OfferingUUID: o.OfferingUUID,
		Type:         backendapi.OrderType(o.Type),
		State:        backendapi.OrderState(o.State),
		Limits:       o.Limits,
		Attributes:   o.Attributes,
	}
	if o.MarketplaceResourceUUID != nil {
		d.MarketplaceResourceUUID = *o.MarketplaceResourceUUID
	}
	return d
}
