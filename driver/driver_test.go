package driver

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/duckstax/otterbrix-go/bridge"
	"github.com/duckstax/otterbrix-go/bridge/bridgetest"
	"github.com/duckstax/otterbrix-go/engine"
)

func openDB(t *testing.T) (*sql.DB, *bridgetest.Fake) {
	t.Helper()
	fake := bridgetest.New()

	c, err := NewConnector("otterbrix://"+t.TempDir()+"?database=testdatabase&collection=testcollection",
		engine.WithNative(fake))
	if err != nil {
		t.Fatalf("NewConnector failed: %v", err)
	}
	db := sql.OpenDB(c)
	t.Cleanup(func() { _ = db.Close() })
	return db, fake
}

func TestDriverRegistered(t *testing.T) {
	found := false
	for _, name := range sql.Drivers() {
		if name == DriverName {
			found = true
		}
	}
	if !found {
		t.Errorf("Driver %q not registered", DriverName)
	}
}

func TestQuery(t *testing.T) {
	db, fake := openDB(t)

	fake.Script("SELECT name, count, ok FROM testdatabase.testcollection WHERE count > 0;", bridgetest.Result{Docs: []any{
		map[string]any{"name": "Name 1", "count": int64(1), "ok": true},
		map[string]any{"name": "Name 2", "count": uint64(2)},
	}})

	rows, err := db.QueryContext(context.Background(),
		"SELECT name, count, ok FROM testdatabase.testcollection WHERE count > ?;", 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		t.Fatalf("Columns failed: %v", err)
	}
	if diff := cmp.Diff([]string{"name", "count", "ok"}, cols); diff != "" {
		t.Errorf("Columns mismatch (-want +got):\n%s", diff)
	}

	type row struct {
		Name  string
		Count int64
		OK    sql.NullBool
	}
	var got []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.Name, &r.Count, &r.OK); err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		got = append(got, r)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("Rows error: %v", err)
	}

	want := []row{
		{"Name 1", 1, sql.NullBool{Bool: true, Valid: true}},
		{"Name 2", 2, sql.NullBool{}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Rows mismatch (-want +got):\n%s", diff)
	}
}

func TestExec(t *testing.T) {
	db, fake := openDB(t)

	fake.Script("INSERT INTO testdatabase.testcollection (_id, name) VALUES ('1', 'a'), ('2', 'b');",
		bridgetest.Result{Docs: []any{map[string]any{}, map[string]any{}}})

	res, err := db.Exec("INSERT INTO testdatabase.testcollection (_id, name) VALUES (?, ?), (?, ?);", "1", "a", "2", "b")
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 2 {
		t.Errorf("RowsAffected = %d, %v", n, err)
	}
	if _, err := res.LastInsertId(); !errors.Is(err, ErrNoLastInsertID) {
		t.Errorf("Expected ErrNoLastInsertID, got %v", err)
	}
}

func TestExecNativeError(t *testing.T) {
	db, fake := openDB(t)

	fake.Script("DROP TABLE missing.c;", bridgetest.Result{Code: bridge.CodeCollectionNotExists, Message: "missing.c"})

	_, err := db.Exec("DROP TABLE missing.c;")
	if !errors.Is(err, bridge.ErrCollectionNotExists) {
		t.Errorf("Expected ErrCollectionNotExists, got %v", err)
	}
}

func TestQueryStar(t *testing.T) {
	db, fake := openDB(t)

	if _, err := db.Query("SELECT * FROM testdatabase.testcollection;"); !errors.Is(err, ErrStarProjection) {
		t.Errorf("Expected ErrStarProjection, got %v", err)
	}
	if len(fake.Queries()) != 0 {
		t.Errorf("Rejected query reached the engine: %v", fake.Queries())
	}
}

func TestTransactionsUnsupported(t *testing.T) {
	db, _ := openDB(t)

	if _, err := db.Begin(); !errors.Is(err, ErrTxUnsupported) {
		t.Errorf("Expected ErrTxUnsupported, got %v", err)
	}
}

func TestPreparedStatement(t *testing.T) {
	db, fake := openDB(t)

	stmt, err := db.Prepare("SELECT name FROM testdatabase.testcollection WHERE _id = ?;")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	defer stmt.Close()

	fake.Script("SELECT name FROM testdatabase.testcollection WHERE _id = 'x';",
		bridgetest.Result{Docs: []any{map[string]any{"name": "found"}}})

	var name string
	if err := stmt.QueryRow("x").Scan(&name); err != nil {
		t.Fatalf("QueryRow failed: %v", err)
	}
	if name != "found" {
		t.Errorf("Expected 'found', got %q", name)
	}
}

func TestCloseReleasesEngine(t *testing.T) {
	db, fake := openDB(t)

	if err := db.Ping(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	rows, err := db.Query("SELECT a FROM db.c;")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	rows.Close()

	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if engines, cursors, documents := fake.Live(); engines+cursors+documents != 0 {
		t.Errorf("Expected nothing live after Close, got %d/%d/%d", engines, cursors, documents)
	}
}
