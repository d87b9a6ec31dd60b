package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"github.com/crowdmap/crowdsync/internal/schema"
)

func newPostFlagsCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("title", "", "")
	cmd.Flags().String("description", "", "")
	cmd.Flags().String("status", "", "")
	cmd.Flags().Int64("form", 0, "")
	cmd.Flags().StringArray("value", nil, "")
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	return cmd
}

func TestPostFromFlags(t *testing.T) {
	cmd := newPostFlagsCmd(t,
		"--title", "Flooded road",
		"--form", "3",
		"--value", "location=-1.28,36.82",
		"--value", "photo=file:/tmp/road.jpg",
		"--value", "location=Nairobi",
	)

	p, err := postFromFlags(cmd)
	if err != nil {
		t.Fatalf("postFromFlags: %v", err)
	}
	want := &schema.Post{
		Title:  "Flooded road",
		FormID: 3,
		Values: []*schema.Value{
			{Key: "location", Value: "Nairobi"},
			{Key: "photo", Value: "file:/tmp/road.jpg"},
		},
	}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("post mismatch (-want +got):\n%s", diff)
	}
}

func TestPostFromFlags_RejectsBarePair(t *testing.T) {
	for _, pair := range []string{"location", "=x"} {
		cmd := newPostFlagsCmd(t, "--value", pair)
		if _, err := postFromFlags(cmd); err == nil {
			t.Errorf("postFromFlags(%q) succeeded, want error", pair)
		}
	}
}

func TestFilterFromFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    *schema.Filter
		wantErr bool
	}{
		{
			name: "no status shows everything",
			args: []string{"--search", "bridge"},
			want: &schema.Filter{ShowPublished: true, ShowArchived: true, ShowInReview: true, SearchText: "bridge"},
		},
		{
			name: "draft means in review",
			args: []string{"--status", "published,draft", "--form", "2,5"},
			want: &schema.Filter{ShowPublished: true, ShowInReview: true, ShowForms: "2,5"},
		},
		{
			name: "all",
			args: []string{"--status", "all"},
			want: &schema.Filter{ShowPublished: true, ShowArchived: true, ShowInReview: true},
		},
		{
			name:    "unknown status",
			args:    []string{"--status", "deleted"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "test"}
			cmd.Flags().StringSlice("status", nil, "")
			cmd.Flags().Int64Slice("form", nil, "")
			cmd.Flags().String("search", "", "")
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("ParseFlags: %v", err)
			}

			got, err := filterFromFlags(cmd)
			if (err != nil) != tt.wantErr {
				t.Fatalf("filterFromFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("filter mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
