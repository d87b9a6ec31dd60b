package sync

import (
	"context"

	"github.com/crowdmap/crowdsync/internal/schema"
)

// FetchOptions selects between cache and network for one read.
type FetchOptions struct {
	// Cache reads the store first and only goes to the network on a miss.
	Cache bool

	// Offline reads the store only. Implies Cache.
	Offline bool

	// Limit and Offset page the read. Zero Limit reads everything.
	Limit  int
	Offset int
}

// satisfied reports whether n cached rows count as a cache hit: a full
// page when paging, any row otherwise.
func (o FetchOptions) satisfied(n int) bool {
	if o.Limit > 0 {
		return n >= o.Limit
	}
	return n > 0
}

// rarely returns the options used for entities that seldom change: cache
// first and unpaged, keeping the offline flag.
func (o FetchOptions) rarely() FetchOptions {
	return FetchOptions{Cache: true, Offline: o.Offline}
}

// PushResult counts the outcome of a PushPending run.
type PushResult struct {
	Pushed int `json:"pushed" yaml:"pushed"`
	Failed int `json:"failed" yaml:"failed"`
}

// Gateway is the remote side of the orchestrator. *remote.Client
// implements it; every fetch writes through to the store before returning.
type Gateway interface {
	Deployment(ctx context.Context, d *schema.Deployment) (*schema.Deployment, error)
	Users(ctx context.Context, d *schema.Deployment) ([]*schema.User, error)
	Posts(ctx context.Context, d *schema.Deployment, filter *schema.Filter, limit, offset int) ([]*schema.Post, error)
	Forms(ctx context.Context, d *schema.Deployment) ([]*schema.Form, error)
	Stages(ctx context.Context, d *schema.Deployment) ([]*schema.Stage, error)
	Attributes(ctx context.Context, d *schema.Deployment) ([]*schema.Attribute, error)
	Images(ctx context.Context, d *schema.Deployment, limit, offset int) ([]*schema.Image, error)
	Collections(ctx context.Context, d *schema.Deployment) ([]*schema.Collection, error)

	CreatePostWithMedia(ctx context.Context, d *schema.Deployment, p *schema.Post) (*schema.Post, error)
	UpdatePostWithMedia(ctx context.Context, d *schema.Deployment, p *schema.Post) (*schema.Post, error)
	AddPostToCollection(ctx context.Context, d *schema.Deployment, collectionID, postID int64) error
	RemovePostFromCollection(ctx context.Context, d *schema.Deployment, collectionID, postID int64) error
}

// Sessions forgets the login of a removed deployment.
type Sessions interface {
	Logout(ctx context.Context, d *schema.Deployment) error
}

// Syncer keeps the local cache authoritative and serves the joined views.
//
// Every operation publishes an events.Event describing its outcome.
// Errors from the store or the gateway are returned, never swallowed.
type Syncer interface {
	// Deployment returns the deployment with its site config. A cached
	// deployment that never fetched its site config is refreshed unless
	// offline.
	Deployment(ctx context.Context, d *schema.Deployment, opts FetchOptions) (*schema.Deployment, error)

	Users(ctx context.Context, d *schema.Deployment, opts FetchOptions) ([]*schema.User, error)
	Posts(ctx context.Context, d *schema.Deployment, filter *schema.Filter, opts FetchOptions) ([]*schema.Post, error)
	Forms(ctx context.Context, d *schema.Deployment, opts FetchOptions) ([]*schema.Form, error)
	Stages(ctx context.Context, d *schema.Deployment, opts FetchOptions) ([]*schema.Stage, error)
	Attributes(ctx context.Context, d *schema.Deployment, opts FetchOptions) ([]*schema.Attribute, error)
	Images(ctx context.Context, d *schema.Deployment, opts FetchOptions) ([]*schema.Image, error)
	Collections(ctx context.Context, d *schema.Deployment, opts FetchOptions) ([]*schema.Collection, error)

	// PostsWithValues returns the filtered page of posts with values,
	// author, form and thumbnail attached. Forms, users and attributes are
	// always read cache first.
	PostsWithValues(ctx context.Context, d *schema.Deployment, filter *schema.Filter, opts FetchOptions) ([]*schema.Post, error)

	// FormsWithAttributes returns every form with its stages and
	// attributes attached.
	FormsWithAttributes(ctx context.Context, d *schema.Deployment, opts FetchOptions) ([]*schema.Form, error)

	// FormWithAttributes returns one joined form, or errs.ErrNotFound.
	FormWithAttributes(ctx context.Context, d *schema.Deployment, formID int64, opts FetchOptions) (*schema.Form, error)

	// AddPostToCollection and RemovePostFromCollection change membership
	// remotely. Membership is never cached.
	AddPostToCollection(ctx context.Context, d *schema.Deployment, collectionID, postID int64) error
	RemovePostFromCollection(ctx context.Context, d *schema.Deployment, collectionID, postID int64) error

	// SavePendingPost stores p for a later push. A post without an id gets
	// a negative local id below every cached post id.
	SavePendingPost(ctx context.Context, d *schema.Deployment, p *schema.Post) error

	// ImportDraft stores an outbox draft as a pending post of its
	// deployment.
	ImportDraft(ctx context.Context, draft *schema.DraftFile) (*schema.Post, error)

	// PushPending submits every pending post of d. Failed posts stay
	// pending; their errors are joined into the returned error.
	PushPending(ctx context.Context, d *schema.Deployment) (PushResult, error)

	// RemoveDeployment removes d, everything cached for it and its login.
	RemoveDeployment(ctx context.Context, d *schema.Deployment) error
}
