package schema

import (
	"fmt"
	"time"
)

var UsersTable = &Table{
	Name: "users",
	Columns: columns([]Column{
		{Name: "id", Type: Integer, Key: true},
		{Name: "deployment_id", Type: Integer, Key: true},
		{Name: "email", Type: Text},
		{Name: "name", Type: Text},
		{Name: "role", Type: Text},
		{Name: "gravatar", Type: Text},
		{Name: "image", Type: Text},
		{Name: "created", Type: Text},
		{Name: "updated", Type: Text},
	}, savedColumn),
}

// User is a member of a deployment.
type User struct {
	ID           int64     `json:"id" yaml:"id"`
	DeploymentID int64     `json:"deployment_id" yaml:"deployment_id"`
	Email        string    `json:"email,omitempty" yaml:"email,omitempty"`
	Name         string    `json:"name,omitempty" yaml:"name,omitempty"`
	Role         string    `json:"role,omitempty" yaml:"role,omitempty"`
	Gravatar     string    `json:"gravatar,omitempty" yaml:"gravatar,omitempty"`
	Image        string    `json:"image,omitempty" yaml:"image,omitempty"`
	Created      time.Time `json:"created,omitempty" yaml:"created,omitempty"`
	Updated      time.Time `json:"updated,omitempty" yaml:"updated,omitempty"`
	Saved        time.Time `json:"saved,omitempty" yaml:"saved,omitempty"`
}

func (u *User) Table() *Table { return UsersTable }

func (u *User) Row() Row {
	return Row{
		"id":            u.ID,
		"deployment_id": u.DeploymentID,
		"email":         u.Email,
		"name":          u.Name,
		"role":          u.Role,
		"gravatar":      u.Gravatar,
		"image":         u.Image,
		"created":       FormatTime(u.Created),
		"updated":       FormatTime(u.Updated),
		"saved":         FormatTime(u.Saved),
	}
}

func (u *User) Scan(r Row) {
	u.ID = r.Int("id")
	u.DeploymentID = r.Int("deployment_id")
	u.Email = r.String("email")
	u.Name = r.String("name")
	u.Role = r.String("role")
	u.Gravatar = r.String("gravatar")
	u.Image = r.String("image")
	u.Created = r.Time("created")
	u.Updated = r.Time("updated")
	u.Saved = r.Time("saved")
}

// GravatarURL is the 32px avatar for a gravatar hash.
func GravatarURL(hash string) string {
	return fmt.Sprintf("https://www.gravatar.com/avatar/%s.jpg?s=32", hash)
}
