package remote

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/crowdmap/crowdsync/internal/schema"
)

// fetchPage GETs a listing and records its total under countColumn when
// countColumn is not empty.
func (c *Client) fetchPage(ctx context.Context, d *schema.Deployment, path string, params url.Values, countColumn string) (page, error) {
	body, err := c.Get(ctx, d, path, params)
	if err != nil {
		return page{}, fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	pg, err := decodePage(path, body)
	if err != nil {
		return page{}, err
	}
	if countColumn != "" {
		if err := c.repo.SaveDeploymentCount(ctx, d, countColumn, pg.total); err != nil {
			return page{}, err
		}
	}
	return pg, nil
}

func pageParams(limit, offset int) url.Values {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
	return params
}

// Users fetches every user of d and caches them.
func (c *Client) Users(ctx context.Context, d *schema.Deployment) ([]*schema.User, error) {
	pg, err := c.fetchPage(ctx, d, "users", nil, "users_count")
	if err != nil {
		return nil, err
	}
	d.UsersCount = pg.total

	scope := c.repo.For(d)
	users := make([]*schema.User, 0, len(pg.results))
	for _, item := range pg.results {
		u := decodeUser(d, item)
		if err := scope.SaveUser(ctx, u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	c.logger.Debug("fetched users", "deployment", d.ID, "count", len(users))
	return users, nil
}

// Posts fetches one page of posts admitted by filter and caches them with
// their values. A nil filter fetches every status.
func (c *Client) Posts(ctx context.Context, d *schema.Deployment, filter *schema.Filter, limit, offset int) ([]*schema.Post, error) {
	params := pageParams(limit, offset)
	if statuses := filter.Statuses(); len(statuses) > 0 {
		params.Set("status", strings.Join(statuses, ","))
	} else {
		params.Set("status", "all")
	}
	if forms := filter.FormIDs(); len(forms) > 0 {
		params.Set("form", schema.JoinIDs(forms))
	}
	if text := filter.Search(); text != "" {
		params.Set("q", text)
	}

	pg, err := c.fetchPage(ctx, d, "posts", params, "posts_count")
	if err != nil {
		return nil, err
	}
	d.PostsCount = pg.total

	scope := c.repo.For(d)
	posts := make([]*schema.Post, 0, len(pg.results))
	for _, item := range pg.results {
		p, err := decodePost(d, item)
		if err != nil {
			return nil, err
		}
		if err := scope.ReplacePost(ctx, p); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	c.logger.Debug("fetched posts", "deployment", d.ID, "count", len(posts), "total", pg.total)
	return posts, nil
}

// Forms fetches every form of d and caches them.
func (c *Client) Forms(ctx context.Context, d *schema.Deployment) ([]*schema.Form, error) {
	pg, err := c.fetchPage(ctx, d, "forms", nil, "forms_count")
	if err != nil {
		return nil, err
	}
	d.FormsCount = pg.total

	scope := c.repo.For(d)
	forms := make([]*schema.Form, 0, len(pg.results))
	for _, item := range pg.results {
		f := decodeForm(d, item)
		if err := scope.SaveForm(ctx, f); err != nil {
			return nil, err
		}
		forms = append(forms, f)
	}
	return forms, nil
}

// Stages fetches every form stage of d and caches them.
func (c *Client) Stages(ctx context.Context, d *schema.Deployment) ([]*schema.Stage, error) {
	pg, err := c.fetchPage(ctx, d, "forms/stages", nil, "")
	if err != nil {
		return nil, err
	}

	scope := c.repo.For(d)
	stages := make([]*schema.Stage, 0, len(pg.results))
	for _, item := range pg.results {
		s := decodeStage(d, item)
		if err := scope.SaveStage(ctx, s); err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, nil
}

// Attributes fetches every form attribute of d and caches them.
func (c *Client) Attributes(ctx context.Context, d *schema.Deployment) ([]*schema.Attribute, error) {
	pg, err := c.fetchPage(ctx, d, "forms/attributes", nil, "")
	if err != nil {
		return nil, err
	}

	scope := c.repo.For(d)
	attributes := make([]*schema.Attribute, 0, len(pg.results))
	for _, item := range pg.results {
		a := decodeAttribute(d, item)
		if err := scope.SaveAttribute(ctx, a); err != nil {
			return nil, err
		}
		attributes = append(attributes, a)
	}
	return attributes, nil
}

// Images fetches one page of media, newest first, and caches it.
func (c *Client) Images(ctx context.Context, d *schema.Deployment, limit, offset int) ([]*schema.Image, error) {
	params := pageParams(limit, offset)
	params.Set("order", "desc")

	pg, err := c.fetchPage(ctx, d, "media", params, "images_count")
	if err != nil {
		return nil, err
	}
	d.ImagesCount = pg.total

	scope := c.repo.For(d)
	images := make([]*schema.Image, 0, len(pg.results))
	for _, item := range pg.results {
		img := decodeImage(d, item)
		if err := scope.SaveImage(ctx, img); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

// Collections fetches every collection of d and caches them.
func (c *Client) Collections(ctx context.Context, d *schema.Deployment) ([]*schema.Collection, error) {
	pg, err := c.fetchPage(ctx, d, "collections", nil, "collections_count")
	if err != nil {
		return nil, err
	}
	d.CollectionsCount = pg.total

	scope := c.repo.For(d)
	collections := make([]*schema.Collection, 0, len(pg.results))
	for _, item := range pg.results {
		col := decodeCollection(d, item)
		if err := scope.SaveCollection(ctx, col); err != nil {
			return nil, err
		}
		collections = append(collections, col)
	}
	return collections, nil
}

// Deployment fetches the site and map config of d, applies it to d and
// saves d.
func (c *Client) Deployment(ctx context.Context, d *schema.Deployment) (*schema.Deployment, error) {
	body, err := c.Get(ctx, d, "config", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch config: %w", err)
	}
	cfg, err := decodeSiteConfig(body)
	if err != nil {
		return nil, err
	}
	d.ApplySiteConfig(cfg)
	if err := c.repo.SaveDeployment(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}
