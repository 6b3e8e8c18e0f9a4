// Package hostapi is a thin client for the hosting control plane used
// by the provision workflow. Every call authenticates with a bearer
// token; any non-2xx response fails with ErrRemote carrying the body.
package hostapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrRemote indicates a non-2xx control-plane response.
var ErrRemote = errors.New("remote api error")

type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type Server struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	IPAddress string `json:"ip_address"`
}

type Site struct {
	ID         int64  `json:"id"`
	ServerID   int64  `json:"server_id"`
	Name       string `json:"name"`
	Repository string `json:"repository"`
	Status     string `json:"status"`
}

type CreateSiteRequest struct {
	Domain      string `json:"domain"`
	ProjectType string `json:"project_type"`
	Directory   string `json:"directory"`
}

type InstallRepositoryRequest struct {
	Provider   string `json:"provider"`
	Repository string `json:"repository"`
	Branch     string `json:"branch"`
}

func (c *Client) ListServers(ctx context.Context) ([]Server, error) {
	var out struct {
		Servers []Server `json:"servers"`
	}
	if err := c.do(ctx, http.MethodGet, "/servers", nil, &out); err != nil {
		return nil, err
	}
	return out.Servers, nil
}

func (c *Client) ListSites(ctx context.Context, serverID int64) ([]Site, error) {
	var out struct {
		Sites []Site `json:"sites"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/servers/%d/sites", serverID), nil, &out); err != nil {
		return nil, err
	}
	return out.Sites, nil
}

func (c *Client) GetSite(ctx context.Context, serverID, siteID int64) (*Site, error) {
	var out struct {
		Site Site `json:"site"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/servers/%d/sites/%d", serverID, siteID), nil, &out); err != nil {
		return nil, err
	}
	return &out.Site, nil
}

func (c *Client) CreateSite(ctx context.Context, serverID int64, req CreateSiteRequest) (*Site, error) {
	var out struct {
		Site Site `json:"site"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/servers/%d/sites", serverID), req, &out); err != nil {
		return nil, err
	}
	return &out.Site, nil
}

func (c *Client) InstallRepository(ctx context.Context, serverID, siteID int64, req InstallRepositoryRequest) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/servers/%d/sites/%d/git", serverID, siteID), req, nil)
}

func (c *Client) GetDeployScript(ctx context.Context, serverID, siteID int64) (string, error) {
	var out struct {
		Content string `json:"content"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/servers/%d/sites/%d/deployment/script", serverID, siteID), nil, &out); err != nil {
		return "", err
	}
	return out.Content, nil
}

func (c *Client) UpdateDeployScript(ctx context.Context, serverID, siteID int64, content string) error {
	payload := map[string]string{"content": content}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/servers/%d/sites/%d/deployment/script", serverID, siteID), payload, nil)
}

func (c *Client) Deploy(ctx context.Context, serverID, siteID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/servers/%d/sites/%d/deployment/deploy", serverID, siteID), nil, nil)
}

func (c *Client) RequestCertificate(ctx context.Context, serverID, siteID int64, domain string) error {
	payload := map[string]any{"type": "letsencrypt", "domains": []string{domain}}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/servers/%d/sites/%d/certificates", serverID, siteID), payload, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s %s: %s: %s", ErrRemote, method, path, resp.Status, strings.TrimSpace(string(detail)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
