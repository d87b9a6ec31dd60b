package schema

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DraftFile is a post composed by a UI and queued in the outbox directory as
// {id}.json. The sync daemon imports drafts as pending posts.
type DraftFile struct {
	ID          string            `json:"id"`
	Deployment  int64             `json:"deployment_id"`
	FormID      int64             `json:"form_id,omitempty"`
	UserID      int64             `json:"user_id,omitempty"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Values      map[string]string `json:"values,omitempty"` // attribute key -> value
	CreatedAt   time.Time         `json:"created_at"`
}

// NewDraft returns a draft with a fresh id and creation time.
func NewDraft(deploymentID int64, title string) *DraftFile {
	return &DraftFile{
		ID:         uuid.NewString(),
		Deployment: deploymentID,
		Title:      title,
		Values:     map[string]string{},
		CreatedAt:  time.Now().UTC(),
	}
}

// Validate checks if the DraftFile has valid field values.
func (d *DraftFile) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("id is required")
	}
	if _, err := uuid.Parse(d.ID); err != nil {
		return fmt.Errorf("id must be a uuid (got %q)", d.ID)
	}
	if d.Deployment <= 0 {
		return fmt.Errorf("deployment_id is required")
	}
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if len(d.Title) > 255 {
		return fmt.Errorf("title must be 255 characters or less (got %d)", len(d.Title))
	}
	if d.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// Filename returns the canonical filename for this draft: {id}.json
func (d *DraftFile) Filename() string {
	return fmt.Sprintf("%s.json", d.ID)
}

// ToPost converts the draft into a pending post stored under localID.
// Values are ordered by key; the real order is restored once attributes
// are attached.
func (d *DraftFile) ToPost(localID int64) *Post {
	post := &Post{
		ID:           localID,
		DeploymentID: d.Deployment,
		FormID:       d.FormID,
		UserID:       d.UserID,
		Title:        d.Title,
		Description:  d.Description,
		Status:       StatusDraft,
		Pending:      true,
		Created:      d.CreatedAt,
		Updated:      d.CreatedAt,
	}

	keys := make([]string, 0, len(d.Values))
	for k := range d.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		post.Values = append(post.Values, &Value{
			DeploymentID: d.Deployment,
			PostID:       localID,
			Key:          k,
			Value:        d.Values[k],
		})
	}
	return post
}

// ReadDraftFile reads and parses a draft JSON file from the given path.
func ReadDraftFile(path string) (*DraftFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read draft file %s: %w", path, err)
	}

	var draft DraftFile
	if err := json.Unmarshal(data, &draft); err != nil {
		return nil, fmt.Errorf("failed to parse draft file %s: %w", path, err)
	}

	if err := draft.Validate(); err != nil {
		return nil, fmt.Errorf("invalid draft file %s: %w", path, err)
	}

	return &draft, nil
}

// WriteDraftFile writes a DraftFile to outboxDir/{id}.json.
// The file is written under a temporary name and renamed so watchers never
// observe a partial document.
func WriteDraftFile(outboxDir string, draft *DraftFile) error {
	if err := draft.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid draft: %w", err)
	}

	if err := os.MkdirAll(outboxDir, 0755); err != nil {
		return fmt.Errorf("failed to create outbox directory: %w", err)
	}

	data, err := json.MarshalIndent(draft, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal draft %s: %w", draft.ID, err)
	}

	path := filepath.Join(outboxDir, draft.Filename())
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write draft file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename draft file %s: %w", path, err)
	}

	return nil
}

// ReadAllDraftFiles reads every draft in outboxDir. Invalid files are
// skipped with a warning.
func ReadAllDraftFiles(outboxDir string, logger *slog.Logger) ([]*DraftFile, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(outboxDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*DraftFile{}, nil
		}
		return nil, fmt.Errorf("failed to read outbox directory: %w", err)
	}

	var drafts []*DraftFile
	for _, entry := range entries {
		if entry.IsDir() || !IsDraftFilename(entry.Name()) {
			continue
		}

		path := filepath.Join(outboxDir, entry.Name())
		draft, err := ReadDraftFile(path)
		if err != nil {
			logger.Warn("skipping invalid draft file", "file", entry.Name(), "error", err)
			continue
		}
		drafts = append(drafts, draft)
	}

	return drafts, nil
}

// IsDraftFilename reports whether name looks like a finished draft file.
func IsDraftFilename(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasPrefix(name, ".")
}
