//go:build cgo && otterbrix

// These tests require libotterbrix in lib/.
// Run: go test -tags otterbrix ./bridge/

package bridge

import (
	"errors"
	"testing"
)

func openLibrary(t *testing.T) (Native, Handle) {
	t.Helper()
	if !Available() {
		t.Skip("libotterbrix not available")
	}

	lib, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := ConfigAt(t.TempDir())
	cfg.Level = LogWarn
	h, err := lib.Create(cfg, "testdatabase", "testcollection")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	t.Cleanup(func() {
		if err := lib.Destroy(h); err != nil {
			t.Errorf("Destroy failed: %v", err)
		}
	})
	return lib, h
}

func TestLibraryExecuteSQL(t *testing.T) {
	lib, h := openLibrary(t)

	cur, err := lib.ExecuteSQL(h, "INSERT INTO testdatabase.testcollection (_id, name, count) VALUES ('000000000000000000000001', 'Name 1', 1);")
	if err != nil {
		t.Fatalf("ExecuteSQL failed: %v", err)
	}
	if !lib.CursorIsSuccess(cur) {
		code, msg := lib.CursorError(cur)
		t.Fatalf("insert failed: %s %s", code, msg)
	}
	lib.ReleaseCursor(cur)

	cur, err = lib.ExecuteSQL(h, "SELECT * FROM testdatabase.testcollection;")
	if err != nil {
		t.Fatalf("ExecuteSQL failed: %v", err)
	}
	defer lib.ReleaseCursor(cur)

	if lib.CursorSize(cur) != 1 {
		t.Fatalf("Expected 1 document, got %d", lib.CursorSize(cur))
	}
	if !lib.CursorHasNext(cur) {
		t.Fatal("Expected HasNext before iteration")
	}

	doc := lib.CursorNext(cur)
	if doc == 0 {
		t.Fatal("CursorNext returned null document")
	}
	defer lib.ReleaseDocument(doc)

	if got := lib.DocumentString(doc, ByKey("/name")); got != "Name 1" {
		t.Errorf("Expected 'Name 1', got %q", got)
	}
	if !lib.DocumentIs(doc, KindLong, ByKey("/count")) {
		t.Error("Expected /count to be a long")
	}
	if lib.CursorHasNext(cur) {
		t.Error("Expected iteration to be exhausted")
	}
}

func TestLibraryParseError(t *testing.T) {
	lib, h := openLibrary(t)

	cur, err := lib.ExecuteSQL(h, "SELEC broken")
	if err != nil {
		t.Fatalf("ExecuteSQL failed: %v", err)
	}
	defer lib.ReleaseCursor(cur)

	if !lib.CursorIsError(cur) {
		t.Fatal("Expected error cursor")
	}
	code, msg := lib.CursorError(cur)
	if code != CodeSQLParseError {
		t.Errorf("Expected sql parse error, got %s (%s)", code, msg)
	}
}

func TestLibraryCreateDatabaseTwice(t *testing.T) {
	lib, h := openLibrary(t)

	cur, err := lib.CreateDatabase(h, "other")
	if err != nil {
		t.Fatalf("CreateDatabase failed: %v", err)
	}
	lib.ReleaseCursor(cur)

	cur, err = lib.CreateDatabase(h, "other")
	if err != nil {
		t.Fatalf("CreateDatabase failed: %v", err)
	}
	defer lib.ReleaseCursor(cur)

	code, msg := lib.CursorError(cur)
	if !errors.Is(NewError(code, msg), ErrDatabaseAlreadyExists) {
		t.Errorf("Expected database already exists, got %s", code)
	}
}
