package schema

import (
	"strings"
	"time"
)

// FiltersTable keeps one saved post filter per deployment.
var FiltersTable = &Table{
	Name: "filters",
	Columns: columns([]Column{
		{Name: "deployment_id", Type: Integer, Key: true},
		{Name: "show_published", Type: Boolean},
		{Name: "show_archived", Type: Boolean},
		{Name: "show_inreview", Type: Boolean},
		{Name: "show_forms", Type: Text},
		{Name: "search_text", Type: Text},
	}, savedColumn),
}

// Filter narrows the posts listing. A nil *Filter means "everything".
type Filter struct {
	DeploymentID  int64     `json:"deployment_id" yaml:"deployment_id"`
	ShowPublished bool      `json:"show_published" yaml:"show_published"`
	ShowArchived  bool      `json:"show_archived" yaml:"show_archived"`
	ShowInReview  bool      `json:"show_inreview" yaml:"show_inreview"`
	ShowForms     string    `json:"show_forms,omitempty" yaml:"show_forms,omitempty"`
	SearchText    string    `json:"search_text,omitempty" yaml:"search_text,omitempty"`
	Saved         time.Time `json:"saved,omitempty" yaml:"saved,omitempty"`
}

func (f *Filter) Table() *Table { return FiltersTable }

func (f *Filter) Row() Row {
	return Row{
		"deployment_id":  f.DeploymentID,
		"show_published": f.ShowPublished,
		"show_archived":  f.ShowArchived,
		"show_inreview":  f.ShowInReview,
		"show_forms":     f.ShowForms,
		"search_text":    f.SearchText,
		"saved":          FormatTime(f.Saved),
	}
}

func (f *Filter) Scan(r Row) {
	f.DeploymentID = r.Int("deployment_id")
	f.ShowPublished = r.Bool("show_published")
	f.ShowArchived = r.Bool("show_archived")
	f.ShowInReview = r.Bool("show_inreview")
	f.ShowForms = r.String("show_forms")
	f.SearchText = r.String("search_text")
	f.Saved = r.Time("saved")
}

// Statuses lists the post statuses the filter admits. A nil filter admits
// all of them.
func (f *Filter) Statuses() []string {
	if f == nil {
		return []string{StatusPublished, StatusArchived, StatusDraft}
	}
	var statuses []string
	if f.ShowPublished {
		statuses = append(statuses, StatusPublished)
	}
	if f.ShowArchived {
		statuses = append(statuses, StatusArchived)
	}
	if f.ShowInReview {
		statuses = append(statuses, StatusDraft)
	}
	return statuses
}

// FormIDs lists the forms the filter is restricted to, nil for all forms.
func (f *Filter) FormIDs() []int64 {
	if f == nil || strings.TrimSpace(f.ShowForms) == "" {
		return nil
	}
	return SplitIDs(f.ShowForms)
}

// Search returns the trimmed title search text.
func (f *Filter) Search() string {
	if f == nil {
		return ""
	}
	return strings.TrimSpace(f.SearchText)
}
