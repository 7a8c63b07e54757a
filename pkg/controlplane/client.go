// Package controlplane implements a typed REST client over the
// marketplace control-plane surface the core consumes (spec.md §6). The
// HTTP plumbing is grounded on the teacher's mattermost client: a thin
// http.Client wrapper with a single do() helper, bearer auth, JSON
// marshal/unmarshal, and non-2xx responses mapped to errors.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/wisbric/sitebridge/pkg/backendapi"
)

// OAuth2Config selects client-credentials auth instead of a static bearer
// token, for offerings whose control plane requires it.
type OAuth2Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Client is a typed wrapper over the control-plane REST surface of
// spec.md §6: orders, resources, offering users, component usages,
// service/course accounts, and offering details.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	userAgent  string
}

// NewClient builds a Client authenticating with a static bearer token.
func NewClient(baseURL, token, userAgent string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
		userAgent:  userAgent,
	}
}

// NewOAuth2Client builds a Client authenticating via OAuth2 client
// credentials; the returned http.Client attaches a fresh access token to
// every request automatically.
func NewOAuth2Client(ctx context.Context, baseURL string, cfg OAuth2Config, userAgent string) *Client {
	ccfg := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: ccfg.Client(ctx),
		userAgent:  userAgent,
	}
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
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return backendapi.Transient("http_request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return backendapi.NotFound(path, nil)
	}
	if resp.StatusCode == http.StatusConflict {
		return backendapi.AlreadyExists(path, nil)
	}
	if resp.StatusCode >= 500 {
		respBody, _ := io.ReadAll(resp.Body)
		return backendapi.Transient(path, fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}
	if resp.StatusCode >= 400 {
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

func query(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	q := url.Values{}
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	encoded := q.Encode()
	if encoded == "" {
		return ""
	}
	return "?" + encoded
}
