package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/crowdmap/crowdsync/internal/errs"
	"github.com/crowdmap/crowdsync/internal/schema"
)

// HostedDomain is the domain hosted deployment websites live under.
const HostedDomain = "ushahidi.io"

// SearchDeployments queries the public directory of hosted deployments.
// Only deployments that are live are returned. The results are not cached;
// the caller saves the one the user picks.
func (c *Client) SearchDeployments(ctx context.Context, query string) ([]*schema.Deployment, error) {
	target := c.searchURL + "?" + url.Values{"q": {query}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := send(c.httpClient, c.logger, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search deployments: %w", err)
	}

	root := gjson.ParseBytes(body)
	if root.IsObject() {
		root = root.Get("results")
	}
	if !root.IsArray() {
		return nil, errs.Invalid("deployments", "search response is not a list")
	}

	var found []*schema.Deployment
	for _, item := range root.Array() {
		if item.Get("status").String() != "deployed" {
			continue
		}
		sub := item.Get("subdomain").String()
		found = append(found, &schema.Deployment{
			Name:    item.Get("deployment_name").String(),
			Tier:    item.Get("tier").String(),
			Status:  item.Get("status").String(),
			Domain:  sub + "." + HostedDomain,
			Website: "https://" + sub + "." + HostedDomain,
			API:     "https://" + sub + "." + item.Get("domain").String(),
		})
	}
	c.logger.Debug("searched deployments", "query", query, "found", len(found))
	return found, nil
}

type siteConfig struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Description string `json:"description"`
}

// UpdateDeployment writes the name, email and description of d to the
// deployment's site config and caches d.
func (c *Client) UpdateDeployment(ctx context.Context, d *schema.Deployment) error {
	body := siteConfig{Name: d.Name, Email: d.Email, Description: d.Description}
	if _, err := c.Put(ctx, d, "config/site", body); err != nil {
		return fmt.Errorf("failed to update site config: %w", err)
	}
	return c.repo.SaveDeployment(ctx, d)
}
