package schema

import (
	"slices"
	"sort"
	"strings"
	"time"
)

var FormsTable = &Table{
	Name: "forms",
	Columns: columns([]Column{
		{Name: "id", Type: Integer, Key: true},
		{Name: "deployment_id", Type: Integer, Key: true},
		{Name: "type", Type: Text},
		{Name: "name", Type: Text},
		{Name: "description", Type: Text},
		{Name: "color", Type: Text},
		{Name: "everyone_can_create", Type: Boolean},
		{Name: "can_create_roles", Type: Text},
		{Name: "created", Type: Text},
		{Name: "updated", Type: Text},
	}, permissionColumns, savedColumn),
}

var StagesTable = &Table{
	Name: "stages",
	Columns: columns([]Column{
		{Name: "id", Type: Integer, Key: true},
		{Name: "deployment_id", Type: Integer, Key: true},
		{Name: "form_id", Type: Integer},
		{Name: "label", Type: Text},
		{Name: "description", Type: Text},
		{Name: "priority", Type: Integer},
		{Name: "type", Type: Text},
		{Name: "icon", Type: Text},
		{Name: "required", Type: Boolean},
	}, permissionColumns, savedColumn),
}

var AttributesTable = &Table{
	Name: "attributes",
	Columns: columns([]Column{
		{Name: "id", Type: Integer, Key: true},
		{Name: "deployment_id", Type: Integer, Key: true},
		{Name: "form_id", Type: Integer},
		{Name: "form_stage_id", Type: Integer},
		{Name: "key", Type: Text},
		{Name: "label", Type: Text},
		{Name: "instructions", Type: Text},
		{Name: "input", Type: Text},
		{Name: "type", Type: Text},
		{Name: "required", Type: Boolean},
		{Name: "priority", Type: Integer},
		{Name: "options", Type: Text},
		{Name: "cardinality", Type: Integer},
	}, permissionColumns, savedColumn),
}

// Form is a survey template. Stages and Attributes are populated by joins
// and are not stored with the form.
type Form struct {
	ID                int64     `json:"id" yaml:"id"`
	DeploymentID      int64     `json:"deployment_id" yaml:"deployment_id"`
	Type              string    `json:"type,omitempty" yaml:"type,omitempty"`
	Name              string    `json:"name" yaml:"name"`
	Description       string    `json:"description,omitempty" yaml:"description,omitempty"`
	Color             string    `json:"color,omitempty" yaml:"color,omitempty"`
	EveryoneCanCreate bool      `json:"everyone_can_create" yaml:"everyone_can_create"`
	CanCreateRoles    []string  `json:"can_create_roles,omitempty" yaml:"can_create_roles,omitempty"`
	Created           time.Time `json:"created,omitempty" yaml:"created,omitempty"`
	Updated           time.Time `json:"updated,omitempty" yaml:"updated,omitempty"`
	Permissions       `yaml:",inline"`
	Saved             time.Time `json:"saved,omitempty" yaml:"saved,omitempty"`

	Stages     []*Stage     `json:"stages,omitempty" yaml:"stages,omitempty"`
	Attributes []*Attribute `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

func (f *Form) Table() *Table { return FormsTable }

func (f *Form) Row() Row {
	r := Row{
		"id":                  f.ID,
		"deployment_id":       f.DeploymentID,
		"type":                f.Type,
		"name":                f.Name,
		"description":         f.Description,
		"color":               f.Color,
		"everyone_can_create": f.EveryoneCanCreate,
		"can_create_roles":    strings.Join(f.CanCreateRoles, ","),
		"created":             FormatTime(f.Created),
		"updated":             FormatTime(f.Updated),
		"saved":               FormatTime(f.Saved),
	}
	f.Permissions.put(r)
	return r
}

func (f *Form) Scan(r Row) {
	f.ID = r.Int("id")
	f.DeploymentID = r.Int("deployment_id")
	f.Type = r.String("type")
	f.Name = r.String("name")
	f.Description = r.String("description")
	f.Color = r.String("color")
	f.EveryoneCanCreate = r.Bool("everyone_can_create")
	f.CanCreateRoles = nil
	if roles := r.String("can_create_roles"); roles != "" {
		f.CanCreateRoles = strings.Split(roles, ",")
	}
	f.Created = r.Time("created")
	f.Updated = r.Time("updated")
	f.Permissions.scan(r)
	f.Saved = r.Time("saved")
}

// CanSubmit reports whether a user with the given role may submit posts
// against this form. An empty role is an anonymous client login.
func (f *Form) CanSubmit(role string) bool {
	if f.EveryoneCanCreate {
		return true
	}
	return role != "" && slices.Contains(f.CanCreateRoles, role)
}

// LoadStages attaches the form's stages ordered by priority.
func (f *Form) LoadStages(stages []*Stage) {
	f.Stages = nil
	for _, s := range stages {
		if s.FormID == f.ID {
			f.Stages = append(f.Stages, s)
		}
	}
	sort.SliceStable(f.Stages, func(i, j int) bool {
		return f.Stages[i].Priority < f.Stages[j].Priority
	})
}

// LoadAttributes attaches the form's attributes ordered by priority.
func (f *Form) LoadAttributes(attributes []*Attribute) {
	f.Attributes = nil
	for _, a := range attributes {
		if a.FormID == f.ID {
			f.Attributes = append(f.Attributes, a)
		}
	}
	sortByPriority(f.Attributes)
}

// Stage is an ordered section of a form.
type Stage struct {
	ID           int64  `json:"id" yaml:"id"`
	DeploymentID int64  `json:"deployment_id" yaml:"deployment_id"`
	FormID       int64  `json:"form_id" yaml:"form_id"`
	Label        string `json:"label" yaml:"label"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`
	Priority     int64  `json:"priority" yaml:"priority"`
	Type         string `json:"type,omitempty" yaml:"type,omitempty"`
	Icon         string `json:"icon,omitempty" yaml:"icon,omitempty"`
	Required     bool   `json:"required" yaml:"required"`
	Permissions  `yaml:",inline"`
	Saved        time.Time `json:"saved,omitempty" yaml:"saved,omitempty"`

	Attributes []*Attribute `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

func (s *Stage) Table() *Table { return StagesTable }

func (s *Stage) Row() Row {
	r := Row{
		"id":            s.ID,
		"deployment_id": s.DeploymentID,
		"form_id":       nullInt(s.FormID),
		"label":         s.Label,
		"description":   s.Description,
		"priority":      s.Priority,
		"type":          s.Type,
		"icon":          s.Icon,
		"required":      s.Required,
		"saved":         FormatTime(s.Saved),
	}
	s.Permissions.put(r)
	return r
}

func (s *Stage) Scan(r Row) {
	s.ID = r.Int("id")
	s.DeploymentID = r.Int("deployment_id")
	s.FormID = r.Int("form_id")
	s.Label = r.String("label")
	s.Description = r.String("description")
	s.Priority = r.Int("priority")
	s.Type = r.String("type")
	s.Icon = r.String("icon")
	s.Required = r.Bool("required")
	s.Permissions.scan(r)
	s.Saved = r.Time("saved")
}

// LoadAttributes attaches the stage's attributes ordered by priority.
func (s *Stage) LoadAttributes(attributes []*Attribute) {
	s.Attributes = nil
	for _, a := range attributes {
		if a.FormStageID == s.ID {
			s.Attributes = append(s.Attributes, a)
		}
	}
	sortByPriority(s.Attributes)
}

// Attribute is a field definition. Key links it to post values.
type Attribute struct {
	ID           int64  `json:"id" yaml:"id"`
	DeploymentID int64  `json:"deployment_id" yaml:"deployment_id"`
	FormID       int64  `json:"form_id" yaml:"form_id"`
	FormStageID  int64  `json:"form_stage_id" yaml:"form_stage_id"`
	Key          string `json:"key" yaml:"key"`
	Label        string `json:"label" yaml:"label"`
	Instructions string `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	Input        string `json:"input" yaml:"input"`
	Type         string `json:"type" yaml:"type"`
	Required     bool   `json:"required" yaml:"required"`
	Priority     int64  `json:"priority" yaml:"priority"`
	// Options is the raw JSON the deployment sent for select-style inputs.
	Options     string `json:"options,omitempty" yaml:"options,omitempty"`
	Cardinality int64  `json:"cardinality" yaml:"cardinality"`
	Permissions `yaml:",inline"`
	Saved       time.Time `json:"saved,omitempty" yaml:"saved,omitempty"`
}

func (a *Attribute) Table() *Table { return AttributesTable }

func (a *Attribute) Row() Row {
	r := Row{
		"id":            a.ID,
		"deployment_id": a.DeploymentID,
		"form_id":       nullInt(a.FormID),
		"form_stage_id": nullInt(a.FormStageID),
		"key":           a.Key,
		"label":         a.Label,
		"instructions":  a.Instructions,
		"input":         a.Input,
		"type":          a.Type,
		"required":      a.Required,
		"priority":      a.Priority,
		"options":       a.Options,
		"cardinality":   a.Cardinality,
		"saved":         FormatTime(a.Saved),
	}
	a.Permissions.put(r)
	return r
}

func (a *Attribute) Scan(r Row) {
	a.ID = r.Int("id")
	a.DeploymentID = r.Int("deployment_id")
	a.FormID = r.Int("form_id")
	a.FormStageID = r.Int("form_stage_id")
	a.Key = r.String("key")
	a.Label = r.String("label")
	a.Instructions = r.String("instructions")
	a.Input = r.String("input")
	a.Type = r.String("type")
	a.Required = r.Bool("required")
	a.Priority = r.Int("priority")
	a.Options = r.String("options")
	a.Cardinality = r.Int("cardinality")
	a.Permissions.scan(r)
	a.Saved = r.Time("saved")
}

func sortByPriority(attrs []*Attribute) {
	sort.SliceStable(attrs, func(i, j int) bool {
		return attrs[i].Priority < attrs[j].Priority
	})
}
