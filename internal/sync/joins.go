package sync

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/crowdmap/crowdsync/internal/errs"
	"github.com/crowdmap/crowdsync/internal/events"
	"github.com/crowdmap/crowdsync/internal/schema"
)

// PostsWithValues implements Syncer.PostsWithValues.
func (s *syncer) PostsWithValues(ctx context.Context, d *schema.Deployment, filter *schema.Filter, opts FetchOptions) ([]*schema.Post, error) {
	var (
		posts      []*schema.Post
		images     []*schema.Image
		forms      []*schema.Form
		users      []*schema.User
		attributes []*schema.Attribute
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		posts, err = s.Posts(gctx, d, filter, opts)
		return err
	})
	g.Go(func() (err error) {
		images, err = s.Images(gctx, d, opts)
		return err
	})
	g.Go(func() (err error) {
		forms, err = s.Forms(gctx, d, opts.rarely())
		return err
	})
	g.Go(func() (err error) {
		users, err = s.Users(gctx, d, opts.rarely())
		return err
	})
	g.Go(func() (err error) {
		attributes, err = s.Attributes(gctx, d, opts.rarely())
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to join posts of deployment %d: %w", d.ID, err)
	}

	for _, p := range posts {
		for _, v := range p.Values {
			v.LoadAttribute(attributes)
		}
	}
	images, err := s.referencedImages(ctx, d, posts, images)
	if err != nil {
		return nil, s.failed(d, "posts", err)
	}

	scope := s.repo.For(d)
	for _, p := range posts {
		p.LoadUser(users)
		p.LoadForm(forms)

		thumbnail := ""
		for _, v := range p.Values {
			if v.Input != schema.InputUpload {
				continue
			}
			v.LoadImage(images)
			if thumbnail == "" && v.Image != nil {
				thumbnail = v.Value
			}
		}
		p.SortValues()
		if thumbnail != "" {
			p.LoadImage(images, thumbnail)
		}

		if err := scope.SavePost(ctx, p); err != nil {
			return nil, s.failed(d, "posts", err)
		}
	}

	s.logger.Debug("joined posts", "deployment", d.ID, "posts", len(posts), "images", len(images))
	return posts, nil
}

// referencedImages adds cached images referenced by upload values but
// missing from the fetched page. Attributes must already be attached.
func (s *syncer) referencedImages(ctx context.Context, d *schema.Deployment, posts []*schema.Post, images []*schema.Image) ([]*schema.Image, error) {
	have := make(map[int64]bool, len(images))
	for _, img := range images {
		have[img.ID] = true
	}

	var missing []int64
	for _, p := range posts {
		for _, v := range p.Values {
			if v.Input != schema.InputUpload {
				continue
			}
			id, err := strconv.ParseInt(v.Value, 10, 64)
			if err != nil || have[id] {
				continue
			}
			have[id] = true
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return images, nil
	}

	extra, err := s.repo.For(d).ImagesByID(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("failed to read referenced images: %w", err)
	}
	return append(images, extra...), nil
}

// FormsWithAttributes implements Syncer.FormsWithAttributes.
func (s *syncer) FormsWithAttributes(ctx context.Context, d *schema.Deployment, opts FetchOptions) ([]*schema.Form, error) {
	var (
		forms      []*schema.Form
		stages     []*schema.Stage
		attributes []*schema.Attribute
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		forms, err = s.Forms(gctx, d, opts)
		return err
	})
	g.Go(func() (err error) {
		stages, err = s.Stages(gctx, d, opts)
		return err
	})
	g.Go(func() (err error) {
		attributes, err = s.Attributes(gctx, d, opts)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to join forms of deployment %d: %w", d.ID, err)
	}

	if err := s.backfillFormIDs(ctx, d, stages, attributes); err != nil {
		return nil, s.failed(d, "attributes", err)
	}

	for _, st := range stages {
		st.LoadAttributes(attributes)
	}
	for _, f := range forms {
		f.LoadStages(stages)
		f.LoadAttributes(attributes)
	}

	s.publisher.Publish(events.Event{Kind: events.KindFetched, Deployment: d.ID, Entity: "forms_with_attributes", Count: len(forms)})
	return forms, nil
}

// backfillFormIDs sets the form id of attributes that only know their
// stage and persists it, so cache reads need no stage lookup.
func (s *syncer) backfillFormIDs(ctx context.Context, d *schema.Deployment, stages []*schema.Stage, attributes []*schema.Attribute) error {
	formOf := make(map[int64]int64, len(stages))
	for _, st := range stages {
		formOf[st.ID] = st.FormID
	}

	scope := s.repo.For(d)
	filled := 0
	for _, a := range attributes {
		if a.FormID != 0 {
			continue
		}
		formID, ok := formOf[a.FormStageID]
		if !ok || formID == 0 {
			continue
		}
		a.FormID = formID
		if err := scope.SaveAttribute(ctx, a); err != nil {
			return fmt.Errorf("failed to save form id of attribute %d: %w", a.ID, err)
		}
		filled++
	}
	if filled > 0 {
		s.logger.Debug("backfilled attribute form ids", "deployment", d.ID, "count", filled)
	}
	return nil
}

// FormWithAttributes implements Syncer.FormWithAttributes.
func (s *syncer) FormWithAttributes(ctx context.Context, d *schema.Deployment, formID int64, opts FetchOptions) (*schema.Form, error) {
	forms, err := s.FormsWithAttributes(ctx, d, opts)
	if err != nil {
		return nil, err
	}
	for _, f := range forms {
		if f.ID == formID {
			return f, nil
		}
	}
	return nil, fmt.Errorf("form %d of deployment %d: %w", formID, d.ID, errs.ErrNotFound)
}
