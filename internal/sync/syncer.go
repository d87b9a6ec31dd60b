package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/crowdmap/crowdsync/internal/events"
	"github.com/crowdmap/crowdsync/internal/repo"
	"github.com/crowdmap/crowdsync/internal/schema"
)

// Config holds optional collaborators of a Syncer.
type Config struct {
	// Logger for sync activity (default: discard)
	Logger *slog.Logger

	// Publisher receives an event per operation (default: events.Discard)
	Publisher events.Publisher

	// Clock stamps pending posts (default: time.Now)
	Clock func() time.Time
}

// syncer implements the Syncer interface.
type syncer struct {
	repo      *repo.Repository
	gateway   Gateway
	sessions  Sessions
	logger    *slog.Logger
	publisher events.Publisher
	now       func() time.Time

	// pendingMu serializes local id assignment.
	pendingMu gosync.Mutex
}

// New creates a Syncer over the cache r and the remote gateway gw.
// sessions may be nil when logins are not persisted.
func New(r *repo.Repository, gw Gateway, sessions Sessions, config *Config) Syncer {
	if config == nil {
		config = &Config{}
	}
	s := &syncer{
		repo:      r,
		gateway:   gw,
		sessions:  sessions,
		logger:    config.Logger,
		publisher: config.Publisher,
		now:       config.Clock,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.publisher == nil {
		s.publisher = events.Discard
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// failed publishes err for entity and returns it unchanged.
func (s *syncer) failed(d *schema.Deployment, entity string, err error) error {
	s.publisher.Publish(events.Event{
		Kind:       events.KindFailed,
		Deployment: d.ID,
		Entity:     entity,
		Error:      err.Error(),
	})
	return err
}

// source describes one cacheable collection.
type source[T any] struct {
	entity string
	local  func(ctx context.Context) ([]*T, error)
	live   func(ctx context.Context) ([]*T, error)
	// reload reads the rows of a live fetch back from the store; nil
	// rereads local.
	reload func(ctx context.Context, fetched []*T) ([]*T, error)
}

// load runs the cache-or-network decision for one collection.
func load[T any](ctx context.Context, s *syncer, d *schema.Deployment, opts FetchOptions, src source[T]) ([]*T, error) {
	if opts.Cache || opts.Offline {
		items, err := src.local(ctx)
		if err != nil {
			return nil, s.failed(d, src.entity, fmt.Errorf("failed to read cached %s: %w", src.entity, err))
		}
		if opts.Offline || opts.satisfied(len(items)) {
			s.logger.Debug("cache hit", "deployment", d.ID, "entity", src.entity, "count", len(items))
			s.publisher.Publish(events.Event{
				Kind: events.KindFetched, Deployment: d.ID, Entity: src.entity,
				Source: events.SourceCache, Count: len(items),
			})
			return items, nil
		}
		s.logger.Debug("cache miss", "deployment", d.ID, "entity", src.entity, "count", len(items))
	}

	fetched, err := src.live(ctx)
	if err != nil {
		return nil, s.failed(d, src.entity, fmt.Errorf("failed to fetch %s: %w", src.entity, err))
	}

	var items []*T
	if src.reload != nil {
		items, err = src.reload(ctx, fetched)
	} else {
		items, err = src.local(ctx)
	}
	if err != nil {
		return nil, s.failed(d, src.entity, fmt.Errorf("failed to reread %s: %w", src.entity, err))
	}

	s.publisher.Publish(events.Event{
		Kind: events.KindFetched, Deployment: d.ID, Entity: src.entity,
		Source: events.SourceNetwork, Count: len(items),
	})
	return items, nil
}

// Deployment implements Syncer.Deployment.
func (s *syncer) Deployment(ctx context.Context, d *schema.Deployment, opts FetchOptions) (*schema.Deployment, error) {
	if opts.Cache || opts.Offline {
		cached, err := s.repo.Deployment(ctx, d.ID)
		if err != nil {
			return nil, s.failed(d, "deployment", fmt.Errorf("failed to read deployment %d: %w", d.ID, err))
		}
		if opts.Offline || cached.HasSiteConfig() {
			s.publisher.Publish(events.Event{
				Kind: events.KindFetched, Deployment: d.ID, Entity: "deployment",
				Source: events.SourceCache, Count: 1,
			})
			return cached, nil
		}
	}

	if _, err := s.gateway.Deployment(ctx, d); err != nil {
		return nil, s.failed(d, "deployment", fmt.Errorf("failed to fetch deployment %d: %w", d.ID, err))
	}
	fresh, err := s.repo.Deployment(ctx, d.ID)
	if err != nil {
		return nil, s.failed(d, "deployment", fmt.Errorf("failed to reread deployment %d: %w", d.ID, err))
	}
	s.publisher.Publish(events.Event{
		Kind: events.KindFetched, Deployment: d.ID, Entity: "deployment",
		Source: events.SourceNetwork, Count: 1,
	})
	return fresh, nil
}

// Users implements Syncer.Users.
func (s *syncer) Users(ctx context.Context, d *schema.Deployment, opts FetchOptions) ([]*schema.User, error) {
	scope := s.repo.For(d)
	return load(ctx, s, d, opts, source[schema.User]{
		entity: "users",
		local:  scope.Users,
		live:   func(ctx context.Context) ([]*schema.User, error) { return s.gateway.Users(ctx, d) },
	})
}

// Posts implements Syncer.Posts.
func (s *syncer) Posts(ctx context.Context, d *schema.Deployment, filter *schema.Filter, opts FetchOptions) ([]*schema.Post, error) {
	scope := s.repo.For(d)
	return load(ctx, s, d, opts, source[schema.Post]{
		entity: "posts",
		local: func(ctx context.Context) ([]*schema.Post, error) {
			return scope.Posts(ctx, filter, opts.Limit, opts.Offset)
		},
		live: func(ctx context.Context) ([]*schema.Post, error) {
			return s.gateway.Posts(ctx, d, filter, opts.Limit, opts.Offset)
		},
		// A remote page need not be the same page of the cache.
		reload: func(ctx context.Context, fetched []*schema.Post) ([]*schema.Post, error) {
			ids := make([]int64, len(fetched))
			for i, p := range fetched {
				ids[i] = p.ID
			}
			return scope.PostsByID(ctx, ids)
		},
	})
}

// Forms implements Syncer.Forms.
func (s *syncer) Forms(ctx context.Context, d *schema.Deployment, opts FetchOptions) ([]*schema.Form, error) {
	scope := s.repo.For(d)
	return load(ctx, s, d, opts, source[schema.Form]{
		entity: "forms",
		local:  scope.Forms,
		live:   func(ctx context.Context) ([]*schema.Form, error) { return s.gateway.Forms(ctx, d) },
	})
}

// Stages implements Syncer.Stages.
func (s *syncer) Stages(ctx context.Context, d *schema.Deployment, opts FetchOptions) ([]*schema.Stage, error) {
	scope := s.repo.For(d)
	return load(ctx, s, d, opts, source[schema.Stage]{
		entity: "stages",
		local:  scope.Stages,
		live:   func(ctx context.Context) ([]*schema.Stage, error) { return s.gateway.Stages(ctx, d) },
	})
}

// Attributes implements Syncer.Attributes.
func (s *syncer) Attributes(ctx context.Context, d *schema.Deployment, opts FetchOptions) ([]*schema.Attribute, error) {
	scope := s.repo.For(d)
	return load(ctx, s, d, opts, source[schema.Attribute]{
		entity: "attributes",
		local:  scope.Attributes,
		live:   func(ctx context.Context) ([]*schema.Attribute, error) { return s.gateway.Attributes(ctx, d) },
	})
}

// Images implements Syncer.Images.
func (s *syncer) Images(ctx context.Context, d *schema.Deployment, opts FetchOptions) ([]*schema.Image, error) {
	scope := s.repo.For(d)
	return load(ctx, s, d, opts, source[schema.Image]{
		entity: "images",
		local: func(ctx context.Context) ([]*schema.Image, error) {
			return scope.Images(ctx, opts.Limit, opts.Offset)
		},
		live: func(ctx context.Context) ([]*schema.Image, error) {
			return s.gateway.Images(ctx, d, opts.Limit, opts.Offset)
		},
		reload: func(ctx context.Context, fetched []*schema.Image) ([]*schema.Image, error) {
			ids := make([]int64, len(fetched))
			for i, img := range fetched {
				ids[i] = img.ID
			}
			return scope.ImagesByID(ctx, ids)
		},
	})
}

// Collections implements Syncer.Collections.
func (s *syncer) Collections(ctx context.Context, d *schema.Deployment, opts FetchOptions) ([]*schema.Collection, error) {
	scope := s.repo.For(d)
	return load(ctx, s, d, opts, source[schema.Collection]{
		entity: "collections",
		local:  scope.Collections,
		live:   func(ctx context.Context) ([]*schema.Collection, error) { return s.gateway.Collections(ctx, d) },
	})
}

// AddPostToCollection implements Syncer.AddPostToCollection.
func (s *syncer) AddPostToCollection(ctx context.Context, d *schema.Deployment, collectionID, postID int64) error {
	if err := s.gateway.AddPostToCollection(ctx, d, collectionID, postID); err != nil {
		return s.failed(d, "collections", err)
	}
	return nil
}

// RemovePostFromCollection implements Syncer.RemovePostFromCollection.
func (s *syncer) RemovePostFromCollection(ctx context.Context, d *schema.Deployment, collectionID, postID int64) error {
	if err := s.gateway.RemovePostFromCollection(ctx, d, collectionID, postID); err != nil {
		return s.failed(d, "collections", err)
	}
	return nil
}

// RemoveDeployment implements Syncer.RemoveDeployment.
func (s *syncer) RemoveDeployment(ctx context.Context, d *schema.Deployment) error {
	if err := s.repo.RemoveDeployment(ctx, d); err != nil {
		return s.failed(d, "deployment", fmt.Errorf("failed to remove deployment %d: %w", d.ID, err))
	}
	if s.sessions != nil {
		if err := s.sessions.Logout(ctx, d); err != nil {
			return s.failed(d, "deployment", fmt.Errorf("failed to forget login of deployment %d: %w", d.ID, err))
		}
	}
	s.logger.Info("removed deployment", "deployment", d.ID, "name", d.Name)
	s.publisher.Publish(events.Event{Kind: events.KindDeploymentRemoved, Deployment: d.ID, ID: d.ID})
	return nil
}
