package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Post statuses as served by the API. "draft" is shown to users as
// "in review".
const (
	StatusPublished = "published"
	StatusArchived  = "archived"
	StatusDraft     = "draft"
)

// Value input kinds with special wire handling.
const (
	InputNumber   = "number"
	InputUpload   = "upload"
	InputVideo    = "video"
	InputLocation = "location"
)

// localFilePrefix marks a value that still points at a device file.
const localFilePrefix = "file:"

var PostsTable = &Table{
	Name: "posts",
	Columns: columns([]Column{
		{Name: "id", Type: Integer, Key: true},
		{Name: "deployment_id", Type: Integer, Key: true},
		{Name: "form_id", Type: Integer},
		{Name: "user_id", Type: Integer},
		{Name: "url", Type: Text},
		{Name: "slug", Type: Text},
		{Name: "title", Type: Text},
		{Name: "description", Type: Text},
		{Name: "color", Type: Text},
		{Name: "status", Type: Text},
		{Name: "latitude", Type: Double},
		{Name: "longitude", Type: Double},
		{Name: "image_id", Type: Integer},
		{Name: "image_url", Type: Text},
		{Name: "pending", Type: Boolean},
		{Name: "created", Type: Text},
		{Name: "updated", Type: Text},
		{Name: "posted", Type: Text},
	}, permissionColumns, savedColumn),
}

var ValuesTable = &Table{
	Name: "post_values",
	Columns: columns([]Column{
		{Name: "deployment_id", Type: Integer, Key: true},
		{Name: "post_id", Type: Integer, Key: true},
		{Name: "key", Type: Text, Key: true},
		{Name: "value", Type: Text},
		{Name: "input", Type: Text},
		{Name: "type", Type: Text},
		{Name: "label", Type: Text},
		{Name: "cardinality", Type: Integer},
		{Name: "priority", Type: Integer},
		{Name: "image_url", Type: Text},
	}, savedColumn),
}

// Post is a report. User, Form and Values are populated by joins.
type Post struct {
	ID           int64    `json:"id" yaml:"id"`
	DeploymentID int64    `json:"deployment_id" yaml:"deployment_id"`
	FormID       int64    `json:"form_id,omitempty" yaml:"form_id,omitempty"`
	UserID       int64    `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	URL          string   `json:"url,omitempty" yaml:"url,omitempty"`
	Slug         string   `json:"slug,omitempty" yaml:"slug,omitempty"`
	Title        string   `json:"title" yaml:"title"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Color        string   `json:"color,omitempty" yaml:"color,omitempty"`
	Status       string   `json:"status" yaml:"status"`
	Latitude     *float64 `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty" yaml:"longitude,omitempty"`
	ImageID      int64    `json:"image_id,omitempty" yaml:"image_id,omitempty"`
	ImageURL     string   `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	// Pending posts were created offline and have not been submitted yet.
	Pending     bool      `json:"pending" yaml:"pending"`
	Created     time.Time `json:"created,omitempty" yaml:"created,omitempty"`
	Updated     time.Time `json:"updated,omitempty" yaml:"updated,omitempty"`
	Posted      time.Time `json:"posted,omitempty" yaml:"posted,omitempty"`
	Permissions `yaml:",inline"`
	Saved       time.Time `json:"saved,omitempty" yaml:"saved,omitempty"`

	User   *User    `json:"user,omitempty" yaml:"user,omitempty"`
	Form   *Form    `json:"form,omitempty" yaml:"form,omitempty"`
	Values []*Value `json:"values,omitempty" yaml:"values,omitempty"`
}

func (p *Post) Table() *Table { return PostsTable }

func (p *Post) Row() Row {
	r := Row{
		"id":            p.ID,
		"deployment_id": p.DeploymentID,
		"form_id":       nullInt(p.FormID),
		"user_id":       nullInt(p.UserID),
		"url":           p.URL,
		"slug":          p.Slug,
		"title":         p.Title,
		"description":   p.Description,
		"color":         p.Color,
		"status":        p.Status,
		"latitude":      nullFloat(p.Latitude),
		"longitude":     nullFloat(p.Longitude),
		"image_id":      nullInt(p.ImageID),
		"image_url":     p.ImageURL,
		"pending":       p.Pending,
		"created":       FormatTime(p.Created),
		"updated":       FormatTime(p.Updated),
		"posted":        FormatTime(p.Posted),
		"saved":         FormatTime(p.Saved),
	}
	p.Permissions.put(r)
	return r
}

func (p *Post) Scan(r Row) {
	p.ID = r.Int("id")
	p.DeploymentID = r.Int("deployment_id")
	p.FormID = r.Int("form_id")
	p.UserID = r.Int("user_id")
	p.URL = r.String("url")
	p.Slug = r.String("slug")
	p.Title = r.String("title")
	p.Description = r.String("description")
	p.Color = r.String("color")
	p.Status = r.String("status")
	p.Latitude = r.FloatPtr("latitude")
	p.Longitude = r.FloatPtr("longitude")
	p.ImageID = r.Int("image_id")
	p.ImageURL = r.String("image_url")
	p.Pending = r.Bool("pending")
	p.Created = r.Time("created")
	p.Updated = r.Time("updated")
	p.Posted = r.Time("posted")
	p.Permissions.scan(r)
	p.Saved = r.Time("saved")
}

// PostURL is the public web address of a post on a deployment's website.
func PostURL(website string, id int64) string {
	return fmt.Sprintf("%s/posts/%d", website, id)
}

// LoadUser attaches the post's author when present in users.
func (p *Post) LoadUser(users []*User) {
	for _, u := range users {
		if u.ID == p.UserID {
			p.User = u
			return
		}
	}
}

// LoadForm attaches the post's form when present in forms.
func (p *Post) LoadForm(forms []*Form) {
	for _, f := range forms {
		if f.ID == p.FormID {
			p.Form = f
			return
		}
	}
}

// LoadValues attaches the post's values ordered by cardinality.
func (p *Post) LoadValues(values []*Value) {
	p.Values = nil
	for _, v := range values {
		if v.PostID == p.ID {
			p.Values = append(p.Values, v)
		}
	}
	p.SortValues()
}

// SortValues restores cardinality order after values were edited.
func (p *Post) SortValues() {
	sort.SliceStable(p.Values, func(i, j int) bool {
		return p.Values[i].Cardinality < p.Values[j].Cardinality
	})
}

// LoadImage sets the post thumbnail to the image whose id is imageID.
func (p *Post) LoadImage(images []*Image, imageID string) {
	id, err := strconv.ParseInt(imageID, 10, 64)
	if err != nil {
		return
	}
	for _, img := range images {
		if img.ID == id {
			p.ImageID = img.ID
			p.ImageURL = img.URL
			return
		}
	}
}

// SetLocation sets the post coordinates.
func (p *Post) SetLocation(lat, lon float64) {
	p.Latitude = &lat
	p.Longitude = &lon
}

// HasPendingMedia reports whether any value still references a device file.
func (p *Post) HasPendingMedia() bool {
	for _, v := range p.Values {
		if v.IsLocalFile() {
			return true
		}
	}
	return false
}

// Value is one field answer of a post.
type Value struct {
	DeploymentID int64     `json:"deployment_id" yaml:"deployment_id"`
	PostID       int64     `json:"post_id" yaml:"post_id"`
	Key          string    `json:"key" yaml:"key"`
	Value        string    `json:"value" yaml:"value"`
	Input        string    `json:"input,omitempty" yaml:"input,omitempty"`
	Type         string    `json:"type,omitempty" yaml:"type,omitempty"`
	Label        string    `json:"label,omitempty" yaml:"label,omitempty"`
	Cardinality  int64     `json:"cardinality" yaml:"cardinality"`
	Priority     int64     `json:"priority" yaml:"priority"`
	ImageURL     string    `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	Saved        time.Time `json:"saved,omitempty" yaml:"saved,omitempty"`

	Attribute *Attribute `json:"-" yaml:"-"`
	Image     *Image     `json:"-" yaml:"-"`
}

func (v *Value) Table() *Table { return ValuesTable }

func (v *Value) Row() Row {
	return Row{
		"deployment_id": v.DeploymentID,
		"post_id":       v.PostID,
		"key":           v.Key,
		"value":         v.Value,
		"input":         v.Input,
		"type":          v.Type,
		"label":         v.Label,
		"cardinality":   v.Cardinality,
		"priority":      v.Priority,
		"image_url":     v.ImageURL,
		"saved":         FormatTime(v.Saved),
	}
}

func (v *Value) Scan(r Row) {
	v.DeploymentID = r.Int("deployment_id")
	v.PostID = r.Int("post_id")
	v.Key = r.String("key")
	v.Value = r.String("value")
	v.Input = r.String("input")
	v.Type = r.String("type")
	v.Label = r.String("label")
	v.Cardinality = r.Int("cardinality")
	v.Priority = r.Int("priority")
	v.ImageURL = r.String("image_url")
	v.Saved = r.Time("saved")
}

// LoadAttribute attaches the attribute with the value's key and copies its
// presentation fields onto the value.
func (v *Value) LoadAttribute(attributes []*Attribute) {
	for _, a := range attributes {
		if a.Key == v.Key {
			v.Attribute = a
			v.Input = a.Input
			v.Type = a.Type
			v.Label = a.Label
			v.Cardinality = a.Cardinality
			v.Priority = a.Priority
			return
		}
	}
}

// LoadImage attaches the image referenced by an upload value.
func (v *Value) LoadImage(images []*Image) {
	id, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return
	}
	for _, img := range images {
		if img.ID == id {
			v.Image = img
			v.ImageURL = img.URL
			return
		}
	}
}

// IsLocalFile reports whether an upload or video value still points at a
// device file that has to be uploaded before the post can be submitted.
func (v *Value) IsLocalFile() bool {
	if v.Input != InputUpload && v.Input != InputVideo {
		return false
	}
	return strings.Contains(v.Value, localFilePrefix)
}

// LocalPath is the device path of a local file value.
func (v *Value) LocalPath() string {
	i := strings.Index(v.Value, localFilePrefix)
	if i < 0 {
		return v.Value
	}
	return strings.TrimPrefix(v.Value[i+len(localFilePrefix):], "//")
}

// Coordinates parses a "lat,lon" location value.
func (v *Value) Coordinates() (lat, lon float64, ok bool) {
	return ParseCoordinates(v.Value)
}

// NeedsGeocoding reports whether a location value holds a free text address
// rather than coordinates.
func (v *Value) NeedsGeocoding() bool {
	if v.Input != InputLocation || strings.TrimSpace(v.Value) == "" {
		return false
	}
	_, _, ok := v.Coordinates()
	return !ok
}

// ParseCoordinates parses "lat,lon".
func ParseCoordinates(s string) (lat, lon float64, ok bool) {
	latText, lonText, found := strings.Cut(s, ",")
	if !found {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latText), 64)
	if err != nil {
		return 0, 0, false
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(lonText), 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

// FormatCoordinates renders coordinates the way location values are stored.
func FormatCoordinates(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64)
}
