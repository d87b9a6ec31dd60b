package remote

import (
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/crowdmap/crowdsync/internal/errs"
	"github.com/crowdmap/crowdsync/internal/schema"
)

// page is one {results, total_count} envelope.
type page struct {
	results []gjson.Result
	total   int64
}

func decodePage(what string, body []byte) (page, error) {
	if !gjson.ValidBytes(body) {
		return page{}, errs.Invalid(what, "response is not JSON")
	}
	root := gjson.ParseBytes(body)
	results := root.Get("results")
	if !results.IsArray() {
		return page{}, errs.Invalid(what, "response has no results array")
	}
	p := page{results: results.Array()}
	if total := root.Get("total_count"); total.Exists() {
		p.total = total.Int()
	} else {
		p.total = int64(len(p.results))
	}
	return p, nil
}

func permissions(item gjson.Result) schema.Permissions {
	var privileges []string
	for _, p := range item.Get("allowed_privileges").Array() {
		privileges = append(privileges, p.String())
	}
	return schema.PermissionsFrom(privileges)
}

// timestamp reads RFC 3339 text or unix seconds.
func timestamp(r gjson.Result) time.Time {
	switch r.Type {
	case gjson.Number:
		return time.Unix(r.Int(), 0).UTC()
	case gjson.String:
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-0700", time.DateTime} {
			if t, err := time.Parse(layout, r.Str); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

// rawJSON keeps nested structures as text, empty for absent or null.
func rawJSON(r gjson.Result) string {
	if !r.Exists() || r.Type == gjson.Null {
		return ""
	}
	return r.Raw
}

// escapeURL percent-encodes characters that are not valid in a URL while
// leaving an already valid one intact.
func escapeURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.String()
}

func decodeUser(d *schema.Deployment, item gjson.Result) *schema.User {
	u := &schema.User{
		ID:           item.Get("id").Int(),
		DeploymentID: d.ID,
		Email:        item.Get("email").String(),
		Name:         item.Get("realname").String(),
		Role:         item.Get("role").String(),
		Created:      timestamp(item.Get("created")),
		Updated:      timestamp(item.Get("updated")),
	}
	if gravatar := item.Get("gravatar").String(); gravatar != "" {
		u.Gravatar = gravatar
		u.Image = schema.GravatarURL(gravatar)
	}
	return u
}

func decodeForm(d *schema.Deployment, item gjson.Result) *schema.Form {
	f := &schema.Form{
		ID:                item.Get("id").Int(),
		DeploymentID:      d.ID,
		Type:              item.Get("type").String(),
		Name:              item.Get("name").String(),
		Description:       item.Get("description").String(),
		Color:             item.Get("color").String(),
		EveryoneCanCreate: item.Get("everyone_can_create").Bool(),
		Created:           timestamp(item.Get("created")),
		Updated:           timestamp(item.Get("updated")),
		Permissions:       permissions(item),
	}
	for _, role := range item.Get("can_create").Array() {
		f.CanCreateRoles = append(f.CanCreateRoles, role.String())
	}
	return f
}

func decodeStage(d *schema.Deployment, item gjson.Result) *schema.Stage {
	return &schema.Stage{
		ID:           item.Get("id").Int(),
		DeploymentID: d.ID,
		FormID:       item.Get("form_id").Int(),
		Label:        item.Get("label").String(),
		Description:  item.Get("description").String(),
		Priority:     item.Get("priority").Int(),
		Type:         item.Get("type").String(),
		Icon:         item.Get("icon").String(),
		Required:     item.Get("required").Bool(),
		Permissions:  permissions(item),
	}
}

// decodeAttribute leaves FormID zero when the payload omits it; the join
// resolves it through the stage.
func decodeAttribute(d *schema.Deployment, item gjson.Result) *schema.Attribute {
	return &schema.Attribute{
		ID:           item.Get("id").Int(),
		DeploymentID: d.ID,
		FormID:       item.Get("form_id").Int(),
		FormStageID:  item.Get("form_stage_id").Int(),
		Key:          item.Get("key").String(),
		Label:        item.Get("label").String(),
		Instructions: item.Get("instructions").String(),
		Input:        item.Get("input").String(),
		Type:         item.Get("type").String(),
		Required:     item.Get("required").Bool(),
		Priority:     item.Get("priority").Int(),
		Options:      rawJSON(item.Get("options")),
		Cardinality:  item.Get("cardinality").Int(),
		Permissions:  permissions(item),
	}
}

func decodeImage(d *schema.Deployment, item gjson.Result) *schema.Image {
	return &schema.Image{
		ID:           item.Get("id").Int(),
		DeploymentID: d.ID,
		URL:          escapeURL(item.Get("original_file_url").String()),
		Mime:         item.Get("mime").String(),
		Caption:      item.Get("caption").String(),
		Width:        item.Get("original_width").Int(),
		Height:       item.Get("original_height").Int(),
		Filesize:     item.Get("original_file_size").Int(),
		Created:      timestamp(item.Get("created")),
		Updated:      timestamp(item.Get("updated")),
		Permissions:  permissions(item),
	}
}

func decodeCollection(d *schema.Deployment, item gjson.Result) *schema.Collection {
	return &schema.Collection{
		ID:           item.Get("id").Int(),
		DeploymentID: d.ID,
		Name:         item.Get("name").String(),
		Description:  item.Get("description").String(),
		View:         item.Get("view").String(),
		Options:      rawJSON(item.Get("options")),
		Featured:     item.Get("featured").Bool(),
		Created:      timestamp(item.Get("created")),
		Updated:      timestamp(item.Get("updated")),
		Permissions:  permissions(item),
	}
}

// decodePost maps a post record and splits its values map into Value rows.
func decodePost(d *schema.Deployment, item gjson.Result) (*schema.Post, error) {
	p := &schema.Post{
		ID:           item.Get("id").Int(),
		DeploymentID: d.ID,
		FormID:       item.Get("form.id").Int(),
		UserID:       item.Get("user.id").Int(),
		Slug:         item.Get("slug").String(),
		Title:        item.Get("title").String(),
		Description:  item.Get("content").String(),
		Color:        item.Get("color").String(),
		Status:       item.Get("status").String(),
		Created:      timestamp(item.Get("created")),
		Updated:      timestamp(item.Get("updated")),
		Posted:       timestamp(item.Get("post_date")),
		Permissions:  permissions(item),
	}
	if p.ID == 0 {
		return nil, errs.Invalid("post", "record has no id")
	}
	if d.Website != "" {
		p.URL = schema.PostURL(d.Website, p.ID)
	}

	values, err := decodeValues(p, item.Get("values"))
	if err != nil {
		return nil, err
	}
	p.Values = values
	return p, nil
}

// decodeSiteConfig reads the map and site entries of /config into a
// deployment carrying only the config fields.
func decodeSiteConfig(body []byte) (*schema.Deployment, error) {
	pg, err := decodePage("config", body)
	if err != nil {
		return nil, err
	}
	cfg := &schema.Deployment{}
	for _, result := range pg.results {
		switch result.Get("id").String() {
		case "map":
			view := result.Get("default_view")
			if !view.Exists() {
				continue
			}
			cfg.MapZoom = view.Get("zoom").Int()
			cfg.MapStyle = view.Get("baselayer").String()
			if lat := view.Get("lat"); lat.Exists() {
				v := lat.Float()
				cfg.MapLatitude = &v
			}
			if lon := view.Get("lon"); lon.Exists() {
				v := lon.Float()
				cfg.MapLongitude = &v
			}
		case "site":
			cfg.Name = result.Get("name").String()
			cfg.Email = result.Get("email").String()
			cfg.Description = result.Get("description").String()
			cfg.Image = escapeURL(result.Get("image_header").String())
			cfg.Permissions = permissions(result)
		}
	}
	return cfg, nil
}
