package repo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/crowdmap/crowdsync/internal/schema"
	"github.com/crowdmap/crowdsync/internal/store"
)

// Scope is the set of entity operations for one deployment. Every save
// stamps the deployment id onto the entity.
type Scope struct {
	store      *store.Store
	logger     *slog.Logger
	deployment *schema.Deployment
}

// Deployment returns the owning deployment.
func (s *Scope) Deployment() *schema.Deployment {
	return s.deployment
}

func (s *Scope) owned(conds ...store.Condition) []store.Condition {
	return append([]store.Condition{store.Equals("deployment_id", s.deployment.ID)}, conds...)
}

func (s *Scope) query(order []store.Order, conds ...store.Condition) store.Query {
	return store.Query{Where: s.owned(conds...), OrderBy: order}
}

func (s *Scope) remove(ctx context.Context, t *schema.Table, conds ...store.Condition) error {
	if _, err := s.store.Remove(ctx, t, s.owned(conds...)...); err != nil {
		return fmt.Errorf("failed to remove %s of deployment %d: %w", t.Name, s.deployment.ID, err)
	}
	return nil
}

// Users

func (s *Scope) Users(ctx context.Context) ([]*schema.User, error) {
	return list[schema.User](ctx, s.store, s.query(nil))
}

func (s *Scope) User(ctx context.Context, id int64) (*schema.User, error) {
	return first[schema.User](ctx, s.store, s.query(nil, store.Equals("id", id)))
}

func (s *Scope) SaveUser(ctx context.Context, u *schema.User) error {
	u.DeploymentID = s.deployment.ID
	return save(ctx, s.store, u)
}

func (s *Scope) RemoveUsers(ctx context.Context) error {
	return s.remove(ctx, schema.UsersTable)
}

// Forms, stages and attributes

func (s *Scope) Forms(ctx context.Context) ([]*schema.Form, error) {
	return list[schema.Form](ctx, s.store, s.query([]store.Order{store.Asc("name")}))
}

func (s *Scope) Form(ctx context.Context, id int64) (*schema.Form, error) {
	return first[schema.Form](ctx, s.store, s.query(nil, store.Equals("id", id)))
}

func (s *Scope) SaveForm(ctx context.Context, f *schema.Form) error {
	f.DeploymentID = s.deployment.ID
	return save(ctx, s.store, f)
}

func (s *Scope) RemoveForms(ctx context.Context) error {
	return s.remove(ctx, schema.FormsTable)
}

// Stages returns the deployment's stages ordered by priority.
func (s *Scope) Stages(ctx context.Context) ([]*schema.Stage, error) {
	return list[schema.Stage](ctx, s.store, s.query([]store.Order{store.Asc("priority")}))
}

// FormStages returns one form's stages ordered by priority.
func (s *Scope) FormStages(ctx context.Context, formID int64) ([]*schema.Stage, error) {
	return list[schema.Stage](ctx, s.store, s.query([]store.Order{store.Asc("priority")}, store.Equals("form_id", formID)))
}

func (s *Scope) SaveStage(ctx context.Context, st *schema.Stage) error {
	st.DeploymentID = s.deployment.ID
	return save(ctx, s.store, st)
}

func (s *Scope) RemoveStages(ctx context.Context) error {
	return s.remove(ctx, schema.StagesTable)
}

// Attributes returns the deployment's attributes ordered by priority.
func (s *Scope) Attributes(ctx context.Context) ([]*schema.Attribute, error) {
	return list[schema.Attribute](ctx, s.store, s.query([]store.Order{store.Asc("priority")}))
}

// FormAttributes returns one form's attributes ordered by priority.
func (s *Scope) FormAttributes(ctx context.Context, formID int64) ([]*schema.Attribute, error) {
	return list[schema.Attribute](ctx, s.store, s.query([]store.Order{store.Asc("priority")}, store.Equals("form_id", formID)))
}

func (s *Scope) SaveAttribute(ctx context.Context, a *schema.Attribute) error {
	a.DeploymentID = s.deployment.ID
	return save(ctx, s.store, a)
}

func (s *Scope) RemoveAttributes(ctx context.Context) error {
	return s.remove(ctx, schema.AttributesTable)
}

// Posts and values

// Posts returns the page of posts admitted by filter, newest first, with
// their values attached in cardinality order. A nil filter admits every
// status and form, and so does a filter with every status switched off.
// Zero limit returns every post.
func (s *Scope) Posts(ctx context.Context, filter *schema.Filter, limit, offset int) ([]*schema.Post, error) {
	var conds []store.Condition
	if statuses := filter.Statuses(); len(statuses) > 0 {
		conds = append(conds, store.In("status", statuses...))
	}
	if forms := filter.FormIDs(); len(forms) > 0 {
		conds = append(conds, store.In("form_id", forms...))
	}
	if text := filter.Search(); text != "" {
		conds = append(conds, store.Contains("title", text))
	}

	q := s.query([]store.Order{store.Desc("created")}, conds...)
	q.Limit = limit
	q.Offset = offset

	posts, err := list[schema.Post](ctx, s.store, q)
	if err != nil {
		return nil, err
	}
	if err := s.attachValues(ctx, posts); err != nil {
		return nil, err
	}

	s.logger.Debug("read cached posts", "deployment", s.deployment.ID, "count", len(posts))
	return posts, nil
}

// Post returns one post with its values.
func (s *Scope) Post(ctx context.Context, id int64) (*schema.Post, error) {
	p, err := first[schema.Post](ctx, s.store, s.query(nil, store.Equals("id", id)))
	if err != nil {
		return nil, err
	}
	if err := s.attachValues(ctx, []*schema.Post{p}); err != nil {
		return nil, err
	}
	return p, nil
}

// PostsByID returns the cached posts among ids, newest first.
func (s *Scope) PostsByID(ctx context.Context, ids []int64) ([]*schema.Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	posts, err := list[schema.Post](ctx, s.store, s.query([]store.Order{store.Desc("created")}, store.In("id", ids...)))
	if err != nil {
		return nil, err
	}
	if err := s.attachValues(ctx, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// PendingPosts returns posts created offline and not yet submitted.
func (s *Scope) PendingPosts(ctx context.Context) ([]*schema.Post, error) {
	posts, err := list[schema.Post](ctx, s.store, s.query([]store.Order{store.Desc("created")}, store.Equals("pending", true)))
	if err != nil {
		return nil, err
	}
	if err := s.attachValues(ctx, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// LowestPostID returns the smallest cached post id, or 0. Offline-created
// posts take ids below it so they never collide with server ids.
func (s *Scope) LowestPostID(ctx context.Context) (int64, error) {
	return s.store.Min(ctx, schema.PostsTable, "id", s.owned()...)
}

func (s *Scope) attachValues(ctx context.Context, posts []*schema.Post) error {
	if len(posts) == 0 {
		return nil
	}
	ids := make([]int64, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	values, err := list[schema.Value](ctx, s.store, s.query([]store.Order{store.Asc("cardinality")}, store.In("post_id", ids...)))
	if err != nil {
		return err
	}
	for _, p := range posts {
		p.LoadValues(values)
	}
	return nil
}

// SavePost upserts the post row and every attached value.
func (s *Scope) SavePost(ctx context.Context, p *schema.Post) error {
	p.DeploymentID = s.deployment.ID
	if err := save(ctx, s.store, p); err != nil {
		return fmt.Errorf("failed to save post %d: %w", p.ID, err)
	}
	for _, v := range p.Values {
		v.PostID = p.ID
		if err := s.SaveValue(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// ReplacePost saves p as the complete server copy: cached values whose keys
// p no longer carries are removed.
func (s *Scope) ReplacePost(ctx context.Context, p *schema.Post) error {
	if err := s.SavePost(ctx, p); err != nil {
		return err
	}
	keys := make([]string, len(p.Values))
	for i, v := range p.Values {
		keys[i] = v.Key
	}
	if err := s.remove(ctx, schema.ValuesTable, store.Equals("post_id", p.ID), store.NotIn("key", keys...)); err != nil {
		return fmt.Errorf("failed to drop stale values of post %d: %w", p.ID, err)
	}
	return nil
}

// RemovePost removes a post and its values.
func (s *Scope) RemovePost(ctx context.Context, p *schema.Post) error {
	if err := s.RemoveValues(ctx, p.ID); err != nil {
		return err
	}
	return s.remove(ctx, schema.PostsTable, store.Equals("id", p.ID))
}

func (s *Scope) RemovePosts(ctx context.Context) error {
	if err := s.remove(ctx, schema.ValuesTable); err != nil {
		return err
	}
	return s.remove(ctx, schema.PostsTable)
}

// Values returns one post's values ordered by cardinality.
func (s *Scope) Values(ctx context.Context, postID int64) ([]*schema.Value, error) {
	return list[schema.Value](ctx, s.store, s.query([]store.Order{store.Asc("cardinality")}, store.Equals("post_id", postID)))
}

func (s *Scope) SaveValue(ctx context.Context, v *schema.Value) error {
	v.DeploymentID = s.deployment.ID
	if err := save(ctx, s.store, v); err != nil {
		return fmt.Errorf("failed to save value %s of post %d: %w", v.Key, v.PostID, err)
	}
	return nil
}

func (s *Scope) RemoveValues(ctx context.Context, postID int64) error {
	return s.remove(ctx, schema.ValuesTable, store.Equals("post_id", postID))
}

// Images

// Images returns a page of images, newest first. Zero limit returns all.
func (s *Scope) Images(ctx context.Context, limit, offset int) ([]*schema.Image, error) {
	q := s.query([]store.Order{store.Desc("created")})
	q.Limit = limit
	q.Offset = offset
	return list[schema.Image](ctx, s.store, q)
}

func (s *Scope) Image(ctx context.Context, id int64) (*schema.Image, error) {
	return first[schema.Image](ctx, s.store, s.query(nil, store.Equals("id", id)))
}

// ImagesByID returns the cached images among ids.
func (s *Scope) ImagesByID(ctx context.Context, ids []int64) ([]*schema.Image, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return list[schema.Image](ctx, s.store, s.query(nil, store.In("id", ids...)))
}

func (s *Scope) SaveImage(ctx context.Context, img *schema.Image) error {
	img.DeploymentID = s.deployment.ID
	return save(ctx, s.store, img)
}

func (s *Scope) RemoveImages(ctx context.Context) error {
	return s.remove(ctx, schema.ImagesTable)
}

// Collections

func (s *Scope) Collections(ctx context.Context) ([]*schema.Collection, error) {
	return list[schema.Collection](ctx, s.store, s.query([]store.Order{store.Asc("name")}))
}

func (s *Scope) SaveCollection(ctx context.Context, c *schema.Collection) error {
	c.DeploymentID = s.deployment.ID
	return save(ctx, s.store, c)
}

func (s *Scope) RemoveCollections(ctx context.Context) error {
	return s.remove(ctx, schema.CollectionsTable)
}

// Filter

// Filter returns the deployment's saved filter, or errs.ErrNotFound.
func (s *Scope) Filter(ctx context.Context) (*schema.Filter, error) {
	return first[schema.Filter](ctx, s.store, s.query(nil))
}

func (s *Scope) SaveFilter(ctx context.Context, f *schema.Filter) error {
	f.DeploymentID = s.deployment.ID
	return save(ctx, s.store, f)
}
