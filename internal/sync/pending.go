package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/crowdmap/crowdsync/internal/errs"
	"github.com/crowdmap/crowdsync/internal/events"
	"github.com/crowdmap/crowdsync/internal/schema"
)

// SavePendingPost implements Syncer.SavePendingPost.
func (s *syncer) SavePendingPost(ctx context.Context, d *schema.Deployment, p *schema.Post) error {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	scope := s.repo.For(d)
	if p.ID == 0 {
		lowest, err := scope.LowestPostID(ctx)
		if err != nil {
			return s.failed(d, "posts", fmt.Errorf("failed to find lowest post id: %w", err))
		}
		p.ID = min(lowest, 0) - 1
	}

	now := s.now().UTC()
	if p.Created.IsZero() {
		p.Created = now
	}
	p.Updated = now
	if p.Status == "" {
		p.Status = schema.StatusDraft
	}
	p.Pending = true

	// Attach input kinds from the cache so media and locations encode
	// correctly when pushed.
	if attrs, err := scope.Attributes(ctx); err == nil {
		for _, v := range p.Values {
			if v.Input == "" {
				v.LoadAttribute(attrs)
			}
		}
		p.SortValues()
	} else {
		s.logger.Warn("failed to read cached attributes", "deployment", d.ID, "error", err)
	}

	if err := scope.SavePost(ctx, p); err != nil {
		return s.failed(d, "posts", err)
	}

	s.logger.Info("saved pending post", "deployment", d.ID, "post", p.ID, "title", p.Title)
	s.publisher.Publish(events.Event{Kind: events.KindPostSaved, Deployment: d.ID, Entity: "posts", ID: p.ID})
	return nil
}

// ImportDraft implements Syncer.ImportDraft.
func (s *syncer) ImportDraft(ctx context.Context, draft *schema.DraftFile) (*schema.Post, error) {
	if err := draft.Validate(); err != nil {
		return nil, errs.Invalid("draft", "%s: %v", draft.ID, err)
	}
	d, err := s.repo.Deployment(ctx, draft.Deployment)
	if err != nil {
		return nil, fmt.Errorf("failed to find deployment of draft %s: %w", draft.ID, err)
	}

	p := draft.ToPost(0)
	if err := s.SavePendingPost(ctx, d, p); err != nil {
		return nil, err
	}
	s.publisher.Publish(events.Event{Kind: events.KindDraftImported, Deployment: d.ID, Entity: "posts", ID: p.ID})
	return p, nil
}

// PushPending implements Syncer.PushPending.
//
// Posts with a local id are created; pending edits of server posts are
// updated. Individual failures are logged and do not stop the push.
func (s *syncer) PushPending(ctx context.Context, d *schema.Deployment) (PushResult, error) {
	var result PushResult

	scope := s.repo.For(d)
	pending, err := scope.PendingPosts(ctx)
	if err != nil {
		return result, s.failed(d, "posts", fmt.Errorf("failed to read pending posts: %w", err))
	}
	if len(pending) == 0 {
		return result, nil
	}

	attrs, err := s.Attributes(ctx, d, FetchOptions{Cache: true})
	if err != nil {
		return result, err
	}

	var failures []error
	for _, p := range pending {
		for _, v := range p.Values {
			if v.Input == "" {
				v.LoadAttribute(attrs)
			}
		}
		p.SortValues()

		if err := s.push(ctx, d, p); err != nil {
			s.logger.Warn("failed to push pending post", "deployment", d.ID, "post", p.ID, "error", err)
			s.failed(d, "posts", err)
			failures = append(failures, fmt.Errorf("post %d: %w", p.ID, err))
			result.Failed++
			continue
		}
		result.Pushed++
	}

	s.logger.Info("pushed pending posts", "deployment", d.ID, "pushed", result.Pushed, "failed", result.Failed)
	return result, errors.Join(failures...)
}

func (s *syncer) push(ctx context.Context, d *schema.Deployment, p *schema.Post) error {
	if p.ID > 0 {
		updated, err := s.gateway.UpdatePostWithMedia(ctx, d, p)
		if err != nil {
			return err
		}
		s.publisher.Publish(events.Event{Kind: events.KindPushed, Deployment: d.ID, Entity: "posts", ID: updated.ID})
		return nil
	}

	created, err := s.gateway.CreatePostWithMedia(ctx, d, p)
	if err != nil {
		return err
	}
	// The server copy is cached under its own id.
	if err := s.repo.For(d).RemovePost(ctx, p); err != nil {
		return fmt.Errorf("failed to remove local copy of post %d: %w", p.ID, err)
	}
	s.publisher.Publish(events.Event{Kind: events.KindPushed, Deployment: d.ID, Entity: "posts", ID: created.ID})
	return nil
}
