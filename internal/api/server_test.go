package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"shelfkeeper/internal/api"
	"shelfkeeper/internal/catalog"
	"shelfkeeper/internal/config"
	"shelfkeeper/internal/db"
	"shelfkeeper/internal/library"
	"shelfkeeper/internal/ops"
)

type testAPI struct {
	srv    *httptest.Server
	store  *catalog.Store
	cfg    *config.Config
	client *http.Client
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		LibraryDir: filepath.Join(dir, "library"),
		SourcesDir: filepath.Join(dir, "sources"),
		DBPath:     filepath.Join(dir, "shelfkeeper.db"),
		Workers:    config.Workers{ScanWalkers: 2, HashWorkers: 2, ChecksumWorkers: 2},
	}
	for _, d := range []string{cfg.LibraryDir, cfg.SourcesDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.RunMigrations(database); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	runner := library.NewRunner(database, cfg, nil)
	mgr := ops.NewManager(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := httptest.NewServer(api.New("", ctx, runner, mgr, nil, "test").Handler())
	t.Cleanup(srv.Close)

	return &testAPI{
		srv:    srv,
		store:  runner.Store(),
		cfg:    cfg,
		client: srv.Client(),
	}
}

func (ta *testAPI) get(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := ta.client.Get(ta.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	decodeBody(t, resp, out)
	return resp
}

func (ta *testAPI) post(t *testing.T, path string, body any, out any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := ta.client.Post(ta.srv.URL+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	decodeBody(t, resp, out)
	return resp
}

func (ta *testAPI) do(t *testing.T, method, path string, body any, out any) *http.Response {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(buf)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ta.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("build %s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := ta.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	decodeBody(t, resp, out)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if out == nil {
		return
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// writeBook drops an audio file under the library tree.
func (ta *testAPI) writeBook(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(ta.cfg.LibraryDir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
	return path
}

// waitTerminal polls the snapshot endpoint until the operation reaches a
// terminal state.
func (ta *testAPI) waitTerminal(t *testing.T, id string) ops.Snapshot {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var snap ops.Snapshot
		resp := ta.get(t, "/api/operations/"+id, &snap)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("poll %s: status %d", id, resp.StatusCode)
		}
		if snap.State.Terminal() {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("operation %s did not finish", id)
	return ops.Snapshot{}
}

func TestStatusEmptyLibrary(t *testing.T) {
	ta := newTestAPI(t)

	var status struct {
		Version          string         `json:"version"`
		BookCount        int            `json:"book_count"`
		ActiveOperations []ops.Snapshot `json:"active_operations"`
		Schedule         map[string]any `json:"schedule"`
	}
	resp := ta.get(t, "/api/status", &status)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d, want 200", resp.StatusCode)
	}
	if status.Version != "test" {
		t.Errorf("version = %q", status.Version)
	}
	if status.BookCount != 0 {
		t.Errorf("book_count = %d, want 0", status.BookCount)
	}
	if status.ActiveOperations == nil {
		t.Error("active_operations should be [] not null")
	}
	if paused, _ := status.Schedule["paused"].(bool); !paused {
		t.Error("schedule should report paused with no scheduler wired")
	}
}

func TestRescanOperationLifecycle(t *testing.T) {
	ta := newTestAPI(t)
	ta.writeBook(t, "Ann Leckie/Ancillary Justice.m4b", "aaa")
	ta.writeBook(t, "Ann Leckie/Ancillary Sword.m4b", "bbbb")
	ta.writeBook(t, "notes.txt", "not audio")

	var start struct {
		Success     bool   `json:"success"`
		OperationID string `json:"operation_id"`
	}
	resp := ta.post(t, "/api/operations", map[string]any{"type": "rescan"}, &start)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start status = %d, want 202", resp.StatusCode)
	}
	if !start.Success || start.OperationID == "" {
		t.Fatalf("start response = %+v", start)
	}

	snap := ta.waitTerminal(t, start.OperationID)
	if snap.State != ops.StateCompleted {
		t.Fatalf("state = %s, error = %q", snap.State, snap.Error)
	}
	if snap.Progress != 100 {
		t.Errorf("terminal progress = %d, want 100", snap.Progress)
	}

	var books struct {
		Items []*catalog.Audiobook `json:"items"`
		Total int                  `json:"total"`
	}
	ta.get(t, "/api/books", &books)
	if books.Total != 2 {
		t.Fatalf("total books = %d, want 2", books.Total)
	}
	for _, b := range books.Items {
		if b.Author != "Ann Leckie" {
			t.Errorf("author = %q, want directory name", b.Author)
		}
	}
}

func TestStartUnknownTypeRejected(t *testing.T) {
	ta := newTestAPI(t)

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	resp := ta.post(t, "/api/operations", map[string]any{"type": "defrag"}, &body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body.Error.Code != "INVALID_OPERATION" {
		t.Errorf("error code = %q", body.Error.Code)
	}
}

func TestStartDuplicateDeletionTypeRejected(t *testing.T) {
	ta := newTestAPI(t)

	resp := ta.post(t, "/api/operations", map[string]any{"type": "duplicate-deletion"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetUnknownOperation(t *testing.T) {
	ta := newTestAPI(t)

	resp := ta.get(t, "/api/operations/no-such-id", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	resp = ta.do(t, http.MethodDelete, "/api/operations/no-such-id", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cancel status = %d, want 404", resp.StatusCode)
	}
}

func TestChecksumGenerationRequiresValidTree(t *testing.T) {
	ta := newTestAPI(t)

	resp := ta.post(t, "/api/operations",
		map[string]any{"type": "checksum-generation", "options": map[string]any{"tree": "attic"}}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	var start struct {
		OperationID string `json:"operation_id"`
	}
	resp = ta.post(t, "/api/operations",
		map[string]any{"type": "checksum-generation", "options": map[string]any{"tree": "library"}}, &start)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	snap := ta.waitTerminal(t, start.OperationID)
	if snap.State != ops.StateCompleted {
		t.Fatalf("state = %s, error = %q", snap.State, snap.Error)
	}
}

func TestCloudSyncWithoutEndpointRejected(t *testing.T) {
	ta := newTestAPI(t)

	resp := ta.post(t, "/api/operations", map[string]any{"type": "cloud-sync"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestBooksCRUD(t *testing.T) {
	ta := newTestAPI(t)
	path := ta.writeBook(t, "Solo Author/Lonely Book.m4b", "content")
	book := &catalog.Audiobook{Title: "Lonely Book", Author: "Solo Author", Path: path, SizeBytes: 7}
	if err := ta.store.Insert(context.Background(), book); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var got catalog.Audiobook
	resp := ta.get(t, fmt.Sprintf("/api/books/%d", book.ID), &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	if got.Title != "Lonely Book" {
		t.Errorf("title = %q", got.Title)
	}

	newNarrator := "Adjoa Andoh"
	resp = ta.do(t, http.MethodPatch, fmt.Sprintf("/api/books/%d", book.ID),
		map[string]any{"narrator": newNarrator}, &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d", resp.StatusCode)
	}
	if got.Narrator != newNarrator {
		t.Errorf("narrator = %q, want %q", got.Narrator, newNarrator)
	}
	if got.Title != "Lonely Book" {
		t.Errorf("patch clobbered title: %q", got.Title)
	}

	resp = ta.do(t, http.MethodDelete,
		fmt.Sprintf("/api/books/%d?delete_file=true", book.ID), nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should be gone after delete_file=true")
	}
	resp = ta.get(t, fmt.Sprintf("/api/books/%d", book.ID), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete = %d, want 404", resp.StatusCode)
	}
}

func TestFindDuplicatesByTitle(t *testing.T) {
	ta := newTestAPI(t)
	ta.writeBook(t, "A/The Hobbit.m4b", "first copy")
	ta.writeBook(t, "B/the hobbit.mp3", "second, larger copy")
	ta.writeBook(t, "C/Unrelated.m4b", "unique")

	var start struct {
		OperationID string `json:"operation_id"`
	}
	ta.post(t, "/api/operations", map[string]any{"type": "rescan"}, &start)
	ta.waitTerminal(t, start.OperationID)

	var found struct {
		Groups []struct {
			Key     string `json:"identity_key"`
			Members []struct {
				Path   string `json:"path"`
				Keeper bool   `json:"is_keeper"`
			} `json:"members"`
		} `json:"groups"`
		TotalDuplicateFiles int `json:"total_duplicate_files"`
		UniqueCount         int `json:"unique_count"`
	}
	resp := ta.get(t, "/api/duplicates?mode=title", &found)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("find status = %d", resp.StatusCode)
	}
	if len(found.Groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(found.Groups))
	}
	if found.TotalDuplicateFiles != 1 {
		t.Errorf("total_duplicate_files = %d, want 1", found.TotalDuplicateFiles)
	}
	keepers := 0
	for _, m := range found.Groups[0].Members {
		if m.Keeper {
			keepers++
		}
	}
	if keepers != 1 {
		t.Errorf("keepers in group = %d, want exactly 1", keepers)
	}
}

func TestFindDuplicatesBadMode(t *testing.T) {
	ta := newTestAPI(t)

	resp := ta.get(t, "/api/duplicates?mode=vibes", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp = ta.get(t, "/api/duplicates?mode=checksum&tree=attic", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("checksum bad tree status = %d, want 400", resp.StatusCode)
	}
}

func TestRemoveDuplicatesInline(t *testing.T) {
	ta := newTestAPI(t)
	keepPath := ta.writeBook(t, "A/Dune.m4b", "keeper copy")
	dupePath := ta.writeBook(t, "B/Dune.m4b", "duplicate copy")

	var start struct {
		OperationID string `json:"operation_id"`
	}
	ta.post(t, "/api/operations", map[string]any{"type": "rescan"}, &start)
	ta.waitTerminal(t, start.OperationID)

	dupe, err := ta.store.GetByPath(context.Background(), dupePath)
	if err != nil {
		t.Fatalf("lookup duplicate: %v", err)
	}

	var removed struct {
		OperationID string `json:"operation_id"`
		State       string `json:"state"`
		Result      struct {
			Deleted        int   `json:"deleted_count"`
			Skipped        int   `json:"skipped_not_found"`
			ReclaimedBytes int64 `json:"reclaimed_bytes"`
		} `json:"result"`
	}
	resp := ta.post(t, "/api/duplicates/remove",
		map[string]any{"mode": "books", "ids": []int64{dupe.ID}, "delete_files": true}, &removed)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remove status = %d", resp.StatusCode)
	}
	if removed.State != string(ops.StateCompleted) {
		t.Fatalf("state = %s", removed.State)
	}
	if removed.Result.Deleted != 1 {
		t.Errorf("deleted_count = %d, want 1", removed.Result.Deleted)
	}
	if _, err := os.Stat(dupePath); !os.IsNotExist(err) {
		t.Error("duplicate file should be deleted")
	}
	if _, err := os.Stat(keepPath); err != nil {
		t.Errorf("keeper file should survive: %v", err)
	}

	// The removal ran as an operation and is visible in history.
	snap := ta.waitTerminal(t, removed.OperationID)
	if snap.Type != ops.TypeDuplicateDeletion {
		t.Errorf("operation type = %s", snap.Type)
	}
}

func TestRemoveDuplicatesBadRequest(t *testing.T) {
	ta := newTestAPI(t)

	resp := ta.post(t, "/api/duplicates/remove", map[string]any{"mode": "books"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty batch status = %d, want 400", resp.StatusCode)
	}
	resp = ta.post(t, "/api/duplicates/remove",
		map[string]any{"mode": "paths", "paths": []string{"/x"}, "tree": "attic"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad tree status = %d, want 400", resp.StatusCode)
	}
}
