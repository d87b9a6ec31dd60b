package schema

import "time"

var ImagesTable = &Table{
	Name: "images",
	Columns: columns([]Column{
		{Name: "id", Type: Integer, Key: true},
		{Name: "deployment_id", Type: Integer, Key: true},
		{Name: "url", Type: Text},
		{Name: "mime", Type: Text},
		{Name: "caption", Type: Text},
		{Name: "width", Type: Integer},
		{Name: "height", Type: Integer},
		{Name: "filesize", Type: Integer},
		{Name: "created", Type: Text},
		{Name: "updated", Type: Text},
	}, permissionColumns, savedColumn),
}

var CollectionsTable = &Table{
	Name: "collections",
	Columns: columns([]Column{
		{Name: "id", Type: Integer, Key: true},
		{Name: "deployment_id", Type: Integer, Key: true},
		{Name: "name", Type: Text},
		{Name: "description", Type: Text},
		{Name: "view", Type: Text},
		{Name: "options", Type: Text},
		{Name: "featured", Type: Boolean},
		{Name: "created", Type: Text},
		{Name: "updated", Type: Text},
	}, permissionColumns, savedColumn),
}

// Image is an uploaded media item.
type Image struct {
	ID           int64     `json:"id" yaml:"id"`
	DeploymentID int64     `json:"deployment_id" yaml:"deployment_id"`
	URL          string    `json:"url" yaml:"url"`
	Mime         string    `json:"mime,omitempty" yaml:"mime,omitempty"`
	Caption      string    `json:"caption,omitempty" yaml:"caption,omitempty"`
	Width        int64     `json:"width,omitempty" yaml:"width,omitempty"`
	Height       int64     `json:"height,omitempty" yaml:"height,omitempty"`
	Filesize     int64     `json:"filesize,omitempty" yaml:"filesize,omitempty"`
	Created      time.Time `json:"created,omitempty" yaml:"created,omitempty"`
	Updated      time.Time `json:"updated,omitempty" yaml:"updated,omitempty"`
	Permissions  `yaml:",inline"`
	Saved        time.Time `json:"saved,omitempty" yaml:"saved,omitempty"`
}

func (i *Image) Table() *Table { return ImagesTable }

func (i *Image) Row() Row {
	r := Row{
		"id":            i.ID,
		"deployment_id": i.DeploymentID,
		"url":           i.URL,
		"mime":          i.Mime,
		"caption":       i.Caption,
		"width":         i.Width,
		"height":        i.Height,
		"filesize":      i.Filesize,
		"created":       FormatTime(i.Created),
		"updated":       FormatTime(i.Updated),
		"saved":         FormatTime(i.Saved),
	}
	i.Permissions.put(r)
	return r
}

func (i *Image) Scan(r Row) {
	i.ID = r.Int("id")
	i.DeploymentID = r.Int("deployment_id")
	i.URL = r.String("url")
	i.Mime = r.String("mime")
	i.Caption = r.String("caption")
	i.Width = r.Int("width")
	i.Height = r.Int("height")
	i.Filesize = r.Int("filesize")
	i.Created = r.Time("created")
	i.Updated = r.Time("updated")
	i.Permissions.scan(r)
	i.Saved = r.Time("saved")
}

// Collection is a named set of posts.
type Collection struct {
	ID           int64  `json:"id" yaml:"id"`
	DeploymentID int64  `json:"deployment_id" yaml:"deployment_id"`
	Name         string `json:"name" yaml:"name"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`
	View         string `json:"view,omitempty" yaml:"view,omitempty"`
	// Options is the raw JSON view options.
	Options     string    `json:"options,omitempty" yaml:"options,omitempty"`
	Featured    bool      `json:"featured" yaml:"featured"`
	Created     time.Time `json:"created,omitempty" yaml:"created,omitempty"`
	Updated     time.Time `json:"updated,omitempty" yaml:"updated,omitempty"`
	Permissions `yaml:",inline"`
	Saved       time.Time `json:"saved,omitempty" yaml:"saved,omitempty"`
}

func (c *Collection) Table() *Table { return CollectionsTable }

func (c *Collection) Row() Row {
	r := Row{
		"id":            c.ID,
		"deployment_id": c.DeploymentID,
		"name":          c.Name,
		"description":   c.Description,
		"view":          c.View,
		"options":       c.Options,
		"featured":      c.Featured,
		"created":       FormatTime(c.Created),
		"updated":       FormatTime(c.Updated),
		"saved":         FormatTime(c.Saved),
	}
	c.Permissions.put(r)
	return r
}

func (c *Collection) Scan(r Row) {
	c.ID = r.Int("id")
	c.DeploymentID = r.Int("deployment_id")
	c.Name = r.String("name")
	c.Description = r.String("description")
	c.View = r.String("view")
	c.Options = r.String("options")
	c.Featured = r.Bool("featured")
	c.Created = r.Time("created")
	c.Updated = r.Time("updated")
	c.Permissions.scan(r)
	c.Saved = r.Time("saved")
}
