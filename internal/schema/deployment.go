package schema

import "time"

// DeploymentsTable holds every deployment the user has added. It is the only
// table whose key is assigned locally.
var DeploymentsTable = &Table{
	Name: "deployments",
	Columns: columns([]Column{
		{Name: "id", Type: Integer, Key: true},
		{Name: "name", Type: Text},
		{Name: "description", Type: Text},
		{Name: "email", Type: Text},
		{Name: "image", Type: Text},
		{Name: "domain", Type: Text},
		{Name: "website", Type: Text},
		{Name: "api", Type: Text},
		{Name: "tier", Type: Text},
		{Name: "status", Type: Text},
		{Name: "users_count", Type: Integer},
		{Name: "posts_count", Type: Integer},
		{Name: "images_count", Type: Integer},
		{Name: "collections_count", Type: Integer},
		{Name: "forms_count", Type: Integer},
		{Name: "map_zoom", Type: Integer},
		{Name: "map_style", Type: Text},
		{Name: "map_latitude", Type: Double},
		{Name: "map_longitude", Type: Double},
		{Name: "access_token", Type: Text},
		{Name: "refresh_token", Type: Text},
	}, permissionColumns, savedColumn),
}

// Deployment is a remote instance of the platform.
type Deployment struct {
	ID          int64  `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Email       string `json:"email,omitempty" yaml:"email,omitempty"`
	Image       string `json:"image,omitempty" yaml:"image,omitempty"`
	Domain      string `json:"domain,omitempty" yaml:"domain,omitempty"`
	Website     string `json:"website,omitempty" yaml:"website,omitempty"`
	API         string `json:"api" yaml:"api"`
	Tier        string `json:"tier,omitempty" yaml:"tier,omitempty"`
	Status      string `json:"status,omitempty" yaml:"status,omitempty"`

	UsersCount       int64 `json:"users_count" yaml:"users_count"`
	PostsCount       int64 `json:"posts_count" yaml:"posts_count"`
	ImagesCount      int64 `json:"images_count" yaml:"images_count"`
	CollectionsCount int64 `json:"collections_count" yaml:"collections_count"`
	FormsCount       int64 `json:"forms_count" yaml:"forms_count"`

	MapZoom      int64    `json:"map_zoom,omitempty" yaml:"map_zoom,omitempty"`
	MapStyle     string   `json:"map_style,omitempty" yaml:"map_style,omitempty"`
	MapLatitude  *float64 `json:"map_latitude,omitempty" yaml:"map_latitude,omitempty"`
	MapLongitude *float64 `json:"map_longitude,omitempty" yaml:"map_longitude,omitempty"`

	AccessToken  string `json:"-" yaml:"-"`
	RefreshToken string `json:"-" yaml:"-"`

	Permissions `yaml:",inline"`
	Saved       time.Time `json:"saved,omitempty" yaml:"saved,omitempty"`
}

func (d *Deployment) Table() *Table { return DeploymentsTable }

func (d *Deployment) Row() Row {
	r := Row{
		"id":                nullInt(d.ID),
		"name":              d.Name,
		"description":       d.Description,
		"email":             d.Email,
		"image":             d.Image,
		"domain":            d.Domain,
		"website":           d.Website,
		"api":               d.API,
		"tier":              d.Tier,
		"status":            d.Status,
		"users_count":       d.UsersCount,
		"posts_count":       d.PostsCount,
		"images_count":      d.ImagesCount,
		"collections_count": d.CollectionsCount,
		"forms_count":       d.FormsCount,
		"map_zoom":          d.MapZoom,
		"map_style":         d.MapStyle,
		"map_latitude":      nullFloat(d.MapLatitude),
		"map_longitude":     nullFloat(d.MapLongitude),
		"access_token":      d.AccessToken,
		"refresh_token":     d.RefreshToken,
		"saved":             FormatTime(d.Saved),
	}
	d.Permissions.put(r)
	return r
}

func (d *Deployment) Scan(r Row) {
	d.ID = r.Int("id")
	d.Name = r.String("name")
	d.Description = r.String("description")
	d.Email = r.String("email")
	d.Image = r.String("image")
	d.Domain = r.String("domain")
	d.Website = r.String("website")
	d.API = r.String("api")
	d.Tier = r.String("tier")
	d.Status = r.String("status")
	d.UsersCount = r.Int("users_count")
	d.PostsCount = r.Int("posts_count")
	d.ImagesCount = r.Int("images_count")
	d.CollectionsCount = r.Int("collections_count")
	d.FormsCount = r.Int("forms_count")
	d.MapZoom = r.Int("map_zoom")
	d.MapStyle = r.String("map_style")
	d.MapLatitude = r.FloatPtr("map_latitude")
	d.MapLongitude = r.FloatPtr("map_longitude")
	d.AccessToken = r.String("access_token")
	d.RefreshToken = r.String("refresh_token")
	d.Permissions.scan(r)
	d.Saved = r.Time("saved")
}

// LoginKey identifies the deployment in the credential store.
func (d *Deployment) LoginKey() string {
	if d.Website != "" {
		return d.Website
	}
	return d.API
}

// HasSiteConfig reports whether the site config has been fetched at least
// once. A cached deployment without it is refreshed from the network.
func (d *Deployment) HasSiteConfig() bool {
	return d.Image != "" && d.Description != ""
}

// ApplySiteConfig copies the fields served by the config endpoint, leaving
// local identity, urls and tokens untouched.
func (d *Deployment) ApplySiteConfig(src *Deployment) {
	d.Name = src.Name
	d.Email = src.Email
	d.Description = src.Description
	d.Image = src.Image
	d.MapZoom = src.MapZoom
	d.MapStyle = src.MapStyle
	d.MapLatitude = src.MapLatitude
	d.MapLongitude = src.MapLongitude
	d.Permissions = src.Permissions
}
