package remote

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/crowdmap/crowdsync/internal/schema"
)

// CreatePost submits p and caches the post the deployment created. The
// returned post carries the server id; p is left untouched.
func (c *Client) CreatePost(ctx context.Context, d *schema.Deployment, p *schema.Post) (*schema.Post, error) {
	body, err := newPostBody(p)
	if err != nil {
		return nil, err
	}
	body.Source = c.source
	if p.UserID > 0 {
		body.User = &ref{ID: p.UserID}
	}
	if p.FormID > 0 {
		body.Form = &ref{ID: p.FormID}
	}

	resp, err := c.Post(ctx, d, "posts", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create post %q: %w", p.Title, err)
	}
	created, err := c.cacheSubmitted(ctx, d, p, resp)
	if err != nil {
		return nil, err
	}
	c.logger.Info("created post", "deployment", d.ID, "post", created.ID)
	return created, nil
}

// UpdatePost submits the title, content and values of p.
func (c *Client) UpdatePost(ctx context.Context, d *schema.Deployment, p *schema.Post) (*schema.Post, error) {
	body, err := newPostBody(p)
	if err != nil {
		return nil, err
	}

	resp, err := c.Put(ctx, d, fmt.Sprintf("posts/%d", p.ID), body)
	if err != nil {
		return nil, fmt.Errorf("failed to update post %d: %w", p.ID, err)
	}
	updated, err := c.cacheSubmitted(ctx, d, p, resp)
	if err != nil {
		return nil, err
	}
	c.logger.Info("updated post", "deployment", d.ID, "post", updated.ID)
	return updated, nil
}

// CreatePostWithMedia resolves every pending media and address value of p
// before submitting it.
func (c *Client) CreatePostWithMedia(ctx context.Context, d *schema.Deployment, p *schema.Post) (*schema.Post, error) {
	if err := c.ResolveMedia(ctx, d, p); err != nil {
		return nil, err
	}
	return c.CreatePost(ctx, d, p)
}

// UpdatePostWithMedia is UpdatePost after ResolveMedia.
func (c *Client) UpdatePostWithMedia(ctx context.Context, d *schema.Deployment, p *schema.Post) (*schema.Post, error) {
	if err := c.ResolveMedia(ctx, d, p); err != nil {
		return nil, err
	}
	return c.UpdatePost(ctx, d, p)
}

// DeletePost deletes p remotely and from the cache.
func (c *Client) DeletePost(ctx context.Context, d *schema.Deployment, p *schema.Post) error {
	if err := c.Delete(ctx, d, fmt.Sprintf("posts/%d", p.ID)); err != nil {
		return fmt.Errorf("failed to delete post %d: %w", p.ID, err)
	}
	return c.repo.For(d).RemovePost(ctx, p)
}

// cacheSubmitted decodes the post echoed by a submit, keeps the
// presentation fields of the submitted values and caches it.
func (c *Client) cacheSubmitted(ctx context.Context, d *schema.Deployment, submitted *schema.Post, resp []byte) (*schema.Post, error) {
	post, err := decodePost(d, gjson.ParseBytes(resp))
	if err != nil {
		return nil, err
	}
	for _, v := range post.Values {
		for _, local := range submitted.Values {
			if local.Key != v.Key {
				continue
			}
			v.Input = local.Input
			v.Type = local.Type
			v.Label = local.Label
			v.Cardinality = local.Cardinality
			v.Priority = local.Priority
			v.ImageURL = local.ImageURL
			break
		}
	}
	post.SortValues()
	if post.ImageID == 0 {
		post.ImageID = submitted.ImageID
		post.ImageURL = submitted.ImageURL
	}

	if err := c.repo.For(d).ReplacePost(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

// AddPostToCollection adds a post to a collection. Membership is not cached.
func (c *Client) AddPostToCollection(ctx context.Context, d *schema.Deployment, collectionID, postID int64) error {
	if _, err := c.Post(ctx, d, fmt.Sprintf("collections/%d/posts", collectionID), ref{ID: postID}); err != nil {
		return fmt.Errorf("failed to add post %d to collection %d: %w", postID, collectionID, err)
	}
	return nil
}

// RemovePostFromCollection removes a post from a collection.
func (c *Client) RemovePostFromCollection(ctx context.Context, d *schema.Deployment, collectionID, postID int64) error {
	if err := c.Delete(ctx, d, fmt.Sprintf("collections/%d/posts/%d", collectionID, postID)); err != nil {
		return fmt.Errorf("failed to remove post %d from collection %d: %w", postID, collectionID, err)
	}
	return nil
}
