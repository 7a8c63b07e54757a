// Package restdriver implements backendapi.Client over a generic
// REST+bearer-token backend — the "Waldur-to-Waldur federated REST call"
// protocol spec.md §4.8 names as one of the wire protocols a concrete
// driver may speak. Grounded on the same http.Client-plus-do()-helper
// shape as pkg/controlplane's client, which is itself grounded on the
// teacher's mattermost client.
package restdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/wisbric/sitebridge/pkg/backendapi"
)

// Client is a thin REST client over a peer Waldur-shaped marketplace
// exposed as a local backend: listing, creating, and limiting resources
// on the peer mirror the same endpoint shapes pkg/controlplane already
// speaks against the primary control plane.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ backendapi.Client = (*Client)(nil)

// New builds a restdriver Client.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, httpClient: httpClient}
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return backendapi.Permanent("marshal_request", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return backendapi.Permanent("build_request", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return backendapi.Transient("http_request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return backendapi.NotFound(path, nil)
	case resp.StatusCode == http.StatusConflict:
		return backendapi.AlreadyExists(path, nil)
	case resp.StatusCode >= 500:
		respBody, _ := io.ReadAll(resp.Body)
		return backendapi.Transient(path, fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	case resp.StatusCode >= 400:
		respBody, _ := io.ReadAll(resp.Body)
		return backendapi.Permanent(path, fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return backendapi.Permanent("decode_response", err)
		}
	}
	return nil
}

type peerResource struct {
	BackendID string             `json:"backend_id"`
	Usernames []string           `json:"usernames"`
	Usage     map[string]float64 `json:"usage"`
	Limits    map[string]int64   `json:"limits"`
	ParentID  string             `json:"parent_id,omitempty"`
}

func (c *Client) ListResources(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.do(ctx, http.MethodGet, "/api/peer-resources/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetResource(ctx context.Context, backendID string) (*backendapi.BackendResourceInfo, error) {
	var pr peerResource
	if err := c.do(ctx, http.MethodGet, "/api/peer-resources/"+backendID+"/", nil, &pr); err != nil {
		return nil, err
	}
	return &backendapi.BackendResourceInfo{
		BackendID: pr.BackendID,
		Usernames: pr.Usernames,
		Usage:     pr.Usage,
		Limits:    pr.Limits,
		ParentID:  pr.ParentID,
	}, nil
}

func (c *Client) CreateResource(ctx context.Context, name, description, organization, parentID string) (string, error) {
	body := map[string]string{
		"name": name, "description": description, "organization": organization, "parent_id": parentID,
	}
	var result struct {
		BackendID string `json:"backend_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/peer-resources/", body, &result); err != nil {
		return "", err
	}
	return result.BackendID, nil
}

func (c *Client) DeleteResource(ctx context.Context, backendID string) error {
	return c.do(ctx, http.MethodDelete, "/api/peer-resources/"+backendID+"/", nil, nil)
}

func (c *Client) SetResourceLimits(ctx context.Context, backendID string, limits map[string]int64) error {
	return c.do(ctx, http.MethodPost, "/api/peer-resources/"+backendID+"/set_limits/", limits, nil)
}

func (c *Client) GetResourceLimits(ctx context.Context, backendID string) (map[string]int64, error) {
	var out map[string]int64
	if err := c.do(ctx, http.MethodGet, "/api/peer-resources/"+backendID+"/limits/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetResourceUserLimits(ctx context.Context, backendID string) (map[string]map[string]int64, error) {
	var out map[string]map[string]int64
	if err := c.do(ctx, http.MethodGet, "/api/peer-resources/"+backendID+"/user_limits/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SetResourceUserLimits(ctx context.Context, backendID, username string, limits map[string]int64) error {
	body := map[string]any{"username": username, "limits": limits}
	return c.do(ctx, http.MethodPost, "/api/peer-resources/"+backendID+"/set_user_limits/", body, nil)
}

func (c *Client) GetAssociation(ctx context.Context, username, backendID string) (*backendapi.Association, error) {
	var out backendapi.Association
	if err := c.do(ctx, http.MethodGet, "/api/peer-resources/"+backendID+"/associations/"+username+"/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateAssociation(ctx context.Context, username, backendID string, isDefault bool) error {
	body := map[string]any{"username": username, "default": isDefault}
	return c.do(ctx, http.MethodPost, "/api/peer-resources/"+backendID+"/associations/", body, nil)
}

func (c *Client) DeleteAssociation(ctx context.Context, username, backendID string) error {
	return c.do(ctx, http.MethodDelete, "/api/peer-resources/"+backendID+"/associations/"+username+"/", nil, nil)
}

func (c *Client) GetUsageReport(ctx context.Context, backendIDs []string) (map[string]map[string]float64, error) {
	body := map[string][]string{"backend_ids": backendIDs}
	var out map[string]map[string]float64
	if err := c.do(ctx, http.MethodPost, "/api/peer-resources/usage_report/", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetUserUsage(ctx context.Context, backendID string) (map[string]map[string]float64, error) {
	var out map[string]map[string]float64
	if err := c.do(ctx, http.MethodGet, "/api/peer-resources/"+backendID+"/user_usage/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListResourceUsers(ctx context.Context, backendID string) ([]string, error) {
	var out []string
	if err := c.do(ctx, http.MethodGet, "/api/peer-resources/"+backendID+"/users/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
