package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDraftFile_Validate(t *testing.T) {
	now := time.Now()
	id := "5f0c8a8e-6b1e-4c52-9d7a-0d8a3b5e2f10"

	tests := []struct {
		name    string
		draft   DraftFile
		wantErr bool
		errMsg  string
	}{
		{
			name:  "valid draft",
			draft: DraftFile{ID: id, Deployment: 1, Title: "Flooded road", CreatedAt: now},
		},
		{
			name:    "missing id",
			draft:   DraftFile{Deployment: 1, Title: "Flooded road", CreatedAt: now},
			wantErr: true,
			errMsg:  "id is required",
		},
		{
			name:    "id not a uuid",
			draft:   DraftFile{ID: "draft-1", Deployment: 1, Title: "Flooded road", CreatedAt: now},
			wantErr: true,
			errMsg:  "id must be a uuid",
		},
		{
			name:    "missing deployment",
			draft:   DraftFile{ID: id, Title: "Flooded road", CreatedAt: now},
			wantErr: true,
			errMsg:  "deployment_id is required",
		},
		{
			name:    "blank title",
			draft:   DraftFile{ID: id, Deployment: 1, Title: "   ", CreatedAt: now},
			wantErr: true,
			errMsg:  "title is required",
		},
		{
			name:    "title too long",
			draft:   DraftFile{ID: id, Deployment: 1, Title: strings.Repeat("x", 256), CreatedAt: now},
			wantErr: true,
			errMsg:  "title must be 255 characters or less",
		},
		{
			name:    "missing created_at",
			draft:   DraftFile{ID: id, Deployment: 1, Title: "Flooded road"},
			wantErr: true,
			errMsg:  "created_at is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.draft.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want containing %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestWriteReadDraftFile(t *testing.T) {
	dir := t.TempDir()
	draft := NewDraft(3, "Bridge out")
	draft.FormID = 2
	draft.Values["location"] = "-1.28,36.82"

	if err := WriteDraftFile(dir, draft); err != nil {
		t.Fatalf("WriteDraftFile() failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, draft.Filename()+".tmp")); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind: %v", err)
	}

	got, err := ReadDraftFile(filepath.Join(dir, draft.Filename()))
	if err != nil {
		t.Fatalf("ReadDraftFile() failed: %v", err)
	}
	if got.ID != draft.ID || got.Title != "Bridge out" || got.Values["location"] != "-1.28,36.82" {
		t.Errorf("ReadDraftFile() = %+v, want %+v", got, draft)
	}
}

func TestReadAllDraftFiles_SkipsInvalid(t *testing.T) {
	dir := t.TempDir()

	if err := WriteDraftFile(dir, NewDraft(1, "first")); err != nil {
		t.Fatalf("WriteDraftFile() failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatal(err)
	}

	drafts, err := ReadAllDraftFiles(dir, nil)
	if err != nil {
		t.Fatalf("ReadAllDraftFiles() failed: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("got %d drafts, want 1", len(drafts))
	}
}

func TestReadAllDraftFiles_MissingDir(t *testing.T) {
	drafts, err := ReadAllDraftFiles(filepath.Join(t.TempDir(), "missing"), nil)
	if err != nil {
		t.Fatalf("ReadAllDraftFiles() failed: %v", err)
	}
	if len(drafts) != 0 {
		t.Errorf("got %d drafts, want 0", len(drafts))
	}
}

func TestDraftFile_ToPost(t *testing.T) {
	draft := NewDraft(4, "Clinic closed")
	draft.Values["b"] = "2"
	draft.Values["a"] = "1"

	post := draft.ToPost(-3)
	if post.ID != -3 || post.DeploymentID != 4 {
		t.Errorf("post identity = (%d, %d), want (-3, 4)", post.ID, post.DeploymentID)
	}
	if !post.Pending {
		t.Error("draft post should be pending")
	}
	if len(post.Values) != 2 || post.Values[0].Key != "a" || post.Values[0].PostID != -3 {
		t.Errorf("values = %+v", post.Values)
	}
}
