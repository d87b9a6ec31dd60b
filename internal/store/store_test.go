package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/crowdmap/crowdsync/internal/errs"
	"github.com/crowdmap/crowdsync/internal/schema"
)

// testDBPath returns a temporary path for test databases
func testDBPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "cache.db")
}

// setupTestStore opens a bootstrapped store that is closed with the test.
func setupTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	st, err := Open(testDBPath(t), opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() failed: %v", err)
	}
	return st
}

func savePost(t *testing.T, st *Store, p *schema.Post) {
	t.Helper()
	if _, err := st.Save(context.Background(), schema.PostsTable, p.Row()); err != nil {
		t.Fatalf("Save(post %d) failed: %v", p.ID, err)
	}
}

func TestOpen_Success(t *testing.T) {
	path := testDBPath(t)
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer st.Close()

	if st.Path() != path {
		t.Errorf("Path() = %q, want %q", st.Path(), path)
	}
}

func TestClose_Twice(t *testing.T) {
	st, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("first Close() failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

func TestBootstrap_CreatesAllTables(t *testing.T) {
	st := setupTestStore(t)

	for _, tbl := range schema.Tables() {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := st.conn.QueryRow(query, tbl.Name).Scan(&count); err != nil {
			t.Fatalf("Failed to query table %s: %v", tbl.Name, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", tbl.Name)
		}
	}
}

func TestCreateTable_Idempotent(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if err := st.CreateTables(ctx, schema.Tables()...); err != nil {
		t.Errorf("second CreateTables() failed: %v", err)
	}
	if err := st.Bootstrap(ctx); err != nil {
		t.Errorf("second Bootstrap() failed: %v", err)
	}
}

func TestTestSchema_DetectsChangedTable(t *testing.T) {
	st, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	// A cache written by an older release, before posts gained columns.
	if _, err := st.conn.Exec(`CREATE TABLE posts (id INTEGER, deployment_id INTEGER, title TEXT, PRIMARY KEY (id, deployment_id))`); err != nil {
		t.Fatal(err)
	}

	err = st.Bootstrap(ctx)
	if !errors.Is(err, errs.ErrSchema) {
		t.Fatalf("Bootstrap() error = %v, want ErrSchema", err)
	}
	var se *errs.SchemaError
	if !errors.As(err, &se) || se.Table != "posts" {
		t.Errorf("SchemaError table = %v, want posts", se)
	}

	if err := st.Reset(ctx); err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}
	if err := st.Bootstrap(ctx); err != nil {
		t.Errorf("Bootstrap() after Reset() failed: %v", err)
	}
}

func TestSave_UpsertByKey(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	savePost(t, st, &schema.Post{ID: 1, DeploymentID: 1, Title: "first", Status: schema.StatusDraft})
	savePost(t, st, &schema.Post{ID: 1, DeploymentID: 1, Title: "second", Status: schema.StatusPublished})
	savePost(t, st, &schema.Post{ID: 1, DeploymentID: 2, Title: "other deployment"})

	count, err := st.Count(ctx, schema.PostsTable)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Count() = %d, want 2", count)
	}

	row, err := st.SelectFirst(ctx, schema.PostsTable, Where(Equals("deployment_id", 1), Equals("id", 1)))
	if err != nil {
		t.Fatalf("SelectFirst() failed: %v", err)
	}
	if row.String("title") != "second" || row.String("status") != schema.StatusPublished {
		t.Errorf("row = %v, want updated title and status", row)
	}
}

func TestSave_Idempotent(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	v := &schema.Value{DeploymentID: 1, PostID: 5, Key: "title", Value: "x"}
	for i := 0; i < 3; i++ {
		if _, err := st.Save(ctx, schema.ValuesTable, v.Row()); err != nil {
			t.Fatalf("Save() #%d failed: %v", i, err)
		}
	}

	count, err := st.Count(ctx, schema.ValuesTable, Equals("post_id", 5))
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}

func TestSave_AssignsDeploymentID(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	first := (&schema.Deployment{Name: "one", API: "https://one.example"}).Row()
	id1, err := st.Save(ctx, schema.DeploymentsTable, first)
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	id2, err := st.Save(ctx, schema.DeploymentsTable, (&schema.Deployment{Name: "two"}).Row())
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	if id1 <= 0 || id2 <= id1 {
		t.Errorf("assigned ids = %d, %d, want increasing positive ids", id1, id2)
	}
	if first.Int("id") != id1 {
		t.Errorf("row id = %d, want %d written back", first.Int("id"), id1)
	}
}

func TestSave_StampsSaved(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	st := setupTestStore(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	savePost(t, st, &schema.Post{ID: 1, DeploymentID: 1})

	row, err := st.SelectFirst(ctx, schema.PostsTable, Query{})
	if err != nil {
		t.Fatalf("SelectFirst() failed: %v", err)
	}
	if !row.Time("saved").Equal(now) {
		t.Errorf("saved = %v, want %v", row.Time("saved"), now)
	}
}

func TestSelect_TypedValues(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	lat := 12.5
	savePost(t, st, &schema.Post{ID: 3, DeploymentID: 1, Latitude: &lat, Pending: true, Permissions: schema.Permissions{CanRead: true}})

	row, err := st.SelectFirst(ctx, schema.PostsTable, Query{})
	if err != nil {
		t.Fatalf("SelectFirst() failed: %v", err)
	}
	if got, ok := row["id"].(int64); !ok || got != 3 {
		t.Errorf("id = %#v, want int64(3)", row["id"])
	}
	if got, ok := row["latitude"].(float64); !ok || got != 12.5 {
		t.Errorf("latitude = %#v, want 12.5", row["latitude"])
	}
	if got, ok := row["pending"].(bool); !ok || !got {
		t.Errorf("pending = %#v, want true", row["pending"])
	}
	if got, ok := row["can_delete"].(bool); !ok || got {
		t.Errorf("can_delete = %#v, want false", row["can_delete"])
	}
	if row["longitude"] != nil {
		t.Errorf("longitude = %#v, want nil", row["longitude"])
	}

	var raw string
	if err := st.conn.QueryRow(`SELECT pending FROM posts`).Scan(&raw); err != nil {
		t.Fatal(err)
	}
	if raw != "true" {
		t.Errorf("stored boolean = %q, want 'true'", raw)
	}
}

func TestSelect_ConditionsOrderAndPaging(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	titles := []string{"flood north", "fire", "flood south", "road", "flood east"}
	for i, title := range titles {
		savePost(t, st, &schema.Post{
			ID:           int64(i + 1),
			DeploymentID: 1,
			FormID:       int64(i%2 + 1),
			Title:        title,
			Status:       schema.StatusPublished,
			Created:      base.Add(time.Duration(i) * time.Hour),
		})
	}

	ids := func(rows []schema.Row) []int64 {
		var out []int64
		for _, r := range rows {
			out = append(out, r.Int("id"))
		}
		return out
	}

	tests := []struct {
		name string
		q    Query
		want []int64
	}{
		{"like newest first", Query{Where: []Condition{Like("title", "%flood%")}, OrderBy: []Order{Desc("created")}}, []int64{5, 3, 1}},
		{"in forms", Query{Where: []Condition{In("form_id", int64(2))}, OrderBy: []Order{Asc("id")}}, []int64{2, 4}},
		{"limit offset", Query{OrderBy: []Order{Desc("created")}, Limit: 2, Offset: 1}, []int64{4, 3}},
		{"offset only", Query{OrderBy: []Order{Asc("id")}, Offset: 3}, []int64{4, 5}},
		{"empty in", Query{Where: []Condition{In[int64]("id")}}, nil},
		{"multi key order", Query{OrderBy: []Order{Asc("form_id"), Desc("id")}}, []int64{5, 3, 1, 4, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := st.Select(ctx, schema.PostsTable, tt.q)
			if err != nil {
				t.Fatalf("Select() failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, ids(rows)); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSelect_ContainsMatchesLiterally(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	titles := []string{"100% flooded", "1000 flooded", "a_b road", "axb road", `back\slash`, "backslash"}
	for i, title := range titles {
		savePost(t, st, &schema.Post{ID: int64(i + 1), DeploymentID: 1, Title: title, Status: schema.StatusPublished})
	}

	tests := []struct {
		text string
		want []int64
	}{
		{"100%", []int64{1}},
		{"a_b", []int64{3}},
		{`k\s`, []int64{5}},
		{"road", []int64{3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			rows, err := st.Select(ctx, schema.PostsTable, Query{
				Where:   []Condition{Contains("title", tt.text)},
				OrderBy: []Order{Asc("id")},
			})
			if err != nil {
				t.Fatalf("Select() failed: %v", err)
			}
			var got []int64
			for _, r := range rows {
				got = append(got, r.Int("id"))
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRemove_NotIn(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		v := &schema.Value{DeploymentID: 1, PostID: 1, Key: key, Value: key}
		if _, err := st.Save(ctx, schema.ValuesTable, v.Row()); err != nil {
			t.Fatalf("Save(value %s) failed: %v", key, err)
		}
	}

	n, err := st.Remove(ctx, schema.ValuesTable, Equals("post_id", int64(1)), NotIn("key", "a", "c"))
	if err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Remove() removed %d rows, want 1", n)
	}

	if n, err := st.Remove(ctx, schema.ValuesTable, NotIn[string]("key")); err != nil || n != 2 {
		t.Errorf("Remove(empty NotIn) = %d, %v; want 2 rows removed", n, err)
	}
}

func TestSelect_BooleanCondition(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	savePost(t, st, &schema.Post{ID: -1, DeploymentID: 1, Pending: true})
	savePost(t, st, &schema.Post{ID: 2, DeploymentID: 1})

	rows, err := st.Select(ctx, schema.PostsTable, Where(Equals("pending", true)))
	if err != nil {
		t.Fatalf("Select() failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Int("id") != -1 {
		t.Errorf("pending rows = %v, want only post -1", rows)
	}
}

func TestSelectFirst_NotFound(t *testing.T) {
	st := setupTestStore(t)

	_, err := st.SelectFirst(context.Background(), schema.UsersTable, Where(Equals("id", 99)))
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("SelectFirst() error = %v, want ErrNotFound", err)
	}
}

func TestSelect_UnknownColumn(t *testing.T) {
	st := setupTestStore(t)

	_, err := st.Select(context.Background(), schema.UsersTable, Where(Equals("id; DROP TABLE users", 1)))
	if !errors.Is(err, errs.ErrValidation) {
		t.Errorf("Select() error = %v, want ErrValidation", err)
	}
	_, err = st.Select(context.Background(), schema.UsersTable, Query{OrderBy: []Order{Asc("nope")}})
	if !errors.Is(err, errs.ErrValidation) {
		t.Errorf("Select() order error = %v, want ErrValidation", err)
	}
}

func TestStorageError_CarriesStatement(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if _, err := st.conn.Exec(`DROP TABLE images`); err != nil {
		t.Fatal(err)
	}

	_, err := st.Save(ctx, schema.ImagesTable, (&schema.Image{ID: 1, DeploymentID: 1}).Row())
	var se *errs.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("Save() error = %v, want StorageError", err)
	}
	if !strings.HasPrefix(se.Statement, "INSERT INTO images") {
		t.Errorf("Statement = %q, want INSERT INTO images...", se.Statement)
	}
}

func TestRemove(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	savePost(t, st, &schema.Post{ID: 1, DeploymentID: 1})
	savePost(t, st, &schema.Post{ID: 2, DeploymentID: 1})

	n, err := st.Remove(ctx, schema.PostsTable, Equals("deployment_id", 1), Equals("id", 1))
	if err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Remove() = %d, want 1", n)
	}

	n, err = st.Remove(ctx, schema.PostsTable, Equals("id", 1))
	if err != nil {
		t.Fatalf("second Remove() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("second Remove() = %d, want 0", n)
	}
}

func TestRemoveDeploymentCascade(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	var ids []int64
	for _, name := range []string{"keep", "drop"} {
		id, err := st.Save(ctx, schema.DeploymentsTable, (&schema.Deployment{Name: name}).Row())
		if err != nil {
			t.Fatalf("Save(deployment) failed: %v", err)
		}
		ids = append(ids, id)
	}

	for _, id := range ids {
		rows := []schema.Model{
			&schema.User{ID: 1, DeploymentID: id},
			&schema.Form{ID: 1, DeploymentID: id},
			&schema.Stage{ID: 1, DeploymentID: id},
			&schema.Attribute{ID: 1, DeploymentID: id},
			&schema.Post{ID: 1, DeploymentID: id},
			&schema.Value{PostID: 1, DeploymentID: id, Key: "k"},
			&schema.Image{ID: 1, DeploymentID: id},
			&schema.Collection{ID: 1, DeploymentID: id},
			&schema.Filter{DeploymentID: id},
		}
		for _, m := range rows {
			if _, err := st.Save(ctx, m.Table(), m.Row()); err != nil {
				t.Fatalf("Save(%s) failed: %v", m.Table().Name, err)
			}
		}
	}

	if err := st.RemoveDeploymentCascade(ctx, ids[1]); err != nil {
		t.Fatalf("RemoveDeploymentCascade() failed: %v", err)
	}

	for _, tbl := range schema.Owned() {
		gone, err := st.Count(ctx, tbl, Equals("deployment_id", ids[1]))
		if err != nil {
			t.Fatalf("Count(%s) failed: %v", tbl.Name, err)
		}
		kept, err := st.Count(ctx, tbl, Equals("deployment_id", ids[0]))
		if err != nil {
			t.Fatalf("Count(%s) failed: %v", tbl.Name, err)
		}
		if gone != 0 || kept != 1 {
			t.Errorf("%s: removed deployment has %d rows, kept deployment has %d", tbl.Name, gone, kept)
		}
	}

	if _, err := st.SelectFirst(ctx, schema.DeploymentsTable, Where(Equals("id", ids[1]))); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("deployment row still present: %v", err)
	}
}

func TestMin(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	lowest, err := st.Min(ctx, schema.PostsTable, "id")
	if err != nil {
		t.Fatalf("Min() on empty table failed: %v", err)
	}
	if lowest != 0 {
		t.Errorf("Min() on empty table = %d, want 0", lowest)
	}

	savePost(t, st, &schema.Post{ID: 4, DeploymentID: 1})
	savePost(t, st, &schema.Post{ID: -2, DeploymentID: 1})

	lowest, err = st.Min(ctx, schema.PostsTable, "id")
	if err != nil {
		t.Fatalf("Min() failed: %v", err)
	}
	if lowest != -2 {
		t.Errorf("Min() = %d, want -2", lowest)
	}
}

func TestSave_ConcurrentSameKey(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := &schema.Attribute{ID: 1, DeploymentID: 1, Key: "k", Label: fmt.Sprintf("writer %d", i)}
			if _, err := st.Save(ctx, schema.AttributesTable, a.Row()); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent Save() failed: %v", err)
	}

	count, err := st.Count(ctx, schema.AttributesTable)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}

func TestSelectStatement(t *testing.T) {
	stmt, args, err := selectStatement(schema.FiltersTable, Query{
		Where:   []Condition{Equals("deployment_id", 3), Equals("show_archived", false), Like("search_text", "%x%")},
		OrderBy: []Order{Desc("saved")},
		Limit:   10,
		Offset:  20,
	})
	if err != nil {
		t.Fatalf("selectStatement() failed: %v", err)
	}

	want := "SELECT deployment_id, show_published, show_archived, show_inreview, show_forms, search_text, saved FROM filters" +
		" WHERE deployment_id = ? AND show_archived = ? AND search_text LIKE ? ESCAPE '\\' ORDER BY saved DESC LIMIT ? OFFSET ?"
	if stmt != want {
		t.Errorf("statement =\n%s\nwant\n%s", stmt, want)
	}
	if diff := cmp.Diff([]any{int64(3), "false", "%x%", 10, 20}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateStatement(t *testing.T) {
	got := createStatement(schema.ValuesTable)
	if !strings.HasPrefix(got, "CREATE TABLE IF NOT EXISTS post_values (deployment_id INTEGER, post_id INTEGER, key TEXT, value TEXT") {
		t.Errorf("createStatement() = %s", got)
	}
	if !strings.HasSuffix(got, "PRIMARY KEY (deployment_id, post_id, key))") {
		t.Errorf("createStatement() missing composite key: %s", got)
	}
}
