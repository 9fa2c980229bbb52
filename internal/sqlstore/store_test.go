package sqlstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/strata/internal/schema"
	"github.com/roach88/strata/query"
	"github.com/roach88/strata/record"
	"github.com/roach88/strata/storage"
)

func noonUTC(t *testing.T) time.Time {
	t.Helper()
	return time.Date(1997, 12, 14, 12, 0, 0, 0, time.UTC)
}

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testID(t *testing.T, n int) record.ID {
	t.Helper()
	gen := record.NewFixedGenerator(fmt.Sprintf("00000000-0000-0000-0000-%012d", n))
	return gen.NewID("Person")
}

func insertChange(id record.ID, props map[string]any) record.Change {
	d := record.NewData(id)
	for k, v := range props {
		d.Properties[k] = v
	}
	return record.Change{Op: record.OpInsert, ID: id, Data: d}
}

func mustSave(t *testing.T, s *Store, changes ...record.Change) {
	t.Helper()
	cs := make(record.ChangeSet)
	for _, ch := range changes {
		cs.Add(ch)
	}
	if err := s.Save(context.Background(), cs); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	s2.Close()
}

func TestSave_RoundTripAllValueTypes(t *testing.T) {
	s := openTestStore(t)
	id := testID(t, 1)
	boss := testID(t, 2)
	born := noonUTC(t)

	mustSave(t, s, insertChange(boss, map[string]any{"name": "Leland"}))

	d := record.NewData(id)
	d.Properties["name"] = "Monk"
	d.Properties["age"] = int64(41)
	d.Properties["height"] = 1.78
	d.Properties["active"] = true
	d.Properties["born"] = born
	d.ToOne["manager"] = boss
	d.ToMany["friends"] = []record.ID{boss}
	mustSave(t, s, record.Change{Op: record.OpInsert, ID: id, Data: d})

	got, err := s.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("version = %d", got.Version)
	}
	if got.Properties["name"] != "Monk" {
		t.Errorf("name = %v", got.Properties["name"])
	}
	if got.Properties["age"] != int64(41) {
		t.Errorf("age = %v (%T), want int64", got.Properties["age"], got.Properties["age"])
	}
	if got.Properties["height"] != 1.78 {
		t.Errorf("height = %v", got.Properties["height"])
	}
	if got.Properties["active"] != true {
		t.Errorf("active = %v", got.Properties["active"])
	}
	gotBorn, ok := got.Properties["born"].(time.Time)
	if !ok || !gotBorn.Equal(born) {
		t.Errorf("born = %v", got.Properties["born"])
	}
	if got.ToOne["manager"] != boss {
		t.Errorf("manager = %v", got.ToOne["manager"])
	}
	if len(got.ToMany["friends"]) != 1 || got.ToMany["friends"][0] != boss {
		t.Errorf("friends = %v", got.ToMany["friends"])
	}
}

func TestSave_UpdateAndConflict(t *testing.T) {
	s := openTestStore(t)
	id := testID(t, 1)
	mustSave(t, s, insertChange(id, map[string]any{"name": "Monk"}))

	d, _ := s.Load(context.Background(), id)
	d.Properties["name"] = "Adrian"
	mustSave(t, s, record.Change{Op: record.OpUpdate, ID: id, BaseVersion: d.Version, Data: d})

	// Stale base version loses.
	cs := make(record.ChangeSet)
	cs.Add(record.Change{Op: record.OpUpdate, ID: id, BaseVersion: 1, Data: d})
	if err := s.Save(context.Background(), cs); !storage.IsConflict(err) {
		t.Errorf("err = %v, want ConflictError", err)
	}

	got, _ := s.Load(context.Background(), id)
	if got.Version != 2 || got.Properties["name"] != "Adrian" {
		t.Errorf("after conflict: version=%d name=%v", got.Version, got.Properties["name"])
	}
}

func TestSave_DeleteRemovesRecord(t *testing.T) {
	s := openTestStore(t)
	id := testID(t, 1)
	mustSave(t, s, insertChange(id, map[string]any{"name": "Monk"}))
	mustSave(t, s, record.Change{Op: record.OpDelete, ID: id, BaseVersion: 1})

	if _, err := s.Load(context.Background(), id); err != storage.ErrNoRecord {
		t.Errorf("Load() = %v, want ErrNoRecord", err)
	}
}

func TestSave_AtomicRollback(t *testing.T) {
	s := openTestStore(t)
	a, b := testID(t, 1), testID(t, 2)
	mustSave(t, s, insertChange(a, map[string]any{"name": "Monk"}))

	cs := make(record.ChangeSet)
	cs.Add(insertChange(b, map[string]any{"name": "Trudy"}))
	cs.Add(insertChange(a, map[string]any{"name": "Dup"})) // conflicts
	if err := s.Save(context.Background(), cs); err == nil {
		t.Fatal("expected conflict")
	}

	if _, err := s.Load(context.Background(), b); err != storage.ErrNoRecord {
		t.Errorf("partial write: %v record landed despite rollback", b)
	}
}

func TestSave_UniqueConstraintSurvivesReopen(t *testing.T) {
	set, err := schema.CompileString(`
entity: Person: {
	fields: {name: {type: "string", required: true}}
	unique: [["name"]]
}
`)
	if err != nil {
		t.Fatalf("schema failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path, WithSchema(set))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	mustSave(t, s1, insertChange(testID(t, 1), map[string]any{"name": "Monk"}))
	s1.Close()

	s2, err := Open(path, WithSchema(set))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	cs := make(record.ChangeSet)
	cs.Add(insertChange(testID(t, 2), map[string]any{"name": "Monk"}))
	if err := s2.Save(context.Background(), cs); !storage.IsValidation(err) {
		t.Errorf("err = %v, want ValidationError across restart", err)
	}
}

func TestResolve_CompiledAndFallbackAgree(t *testing.T) {
	s := openTestStore(t)
	mustSave(t, s,
		insertChange(testID(t, 1), map[string]any{"name": "Monk", "age": int64(41)}),
		insertChange(testID(t, 2), map[string]any{"name": "Trudy", "age": int64(38)}),
		insertChange(testID(t, 3), map[string]any{"name": "Leland", "age": int64(55)}),
	)

	structural := query.New("Person").Where(query.Gt("age", 40))
	viaSQL, err := s.Resolve(context.Background(), structural)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	viaExpr, err := s.Resolve(context.Background(), query.New("Person").Where(query.MustExpr("age > 40")))
	if err != nil {
		t.Fatalf("Resolve() with expr failed: %v", err)
	}

	if len(viaSQL) != 2 || len(viaExpr) != 2 {
		t.Fatalf("got %d via SQL, %d via expr; want 2 and 2", len(viaSQL), len(viaExpr))
	}
}

func TestResolve_RelatedToOne(t *testing.T) {
	s := openTestStore(t)
	boss := testID(t, 9)
	mustSave(t, s, insertChange(boss, map[string]any{"name": "Leland"}))

	d := record.NewData(testID(t, 1))
	d.Properties["name"] = "Monk"
	d.ToOne["manager"] = boss
	mustSave(t, s, record.Change{Op: record.OpInsert, ID: d.ID, Data: d})

	rows, err := s.Resolve(context.Background(), query.New("Person").Where(query.Related("manager", boss)))
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Properties["name"] != "Monk" {
		t.Errorf("rows = %v", rows)
	}
}

func TestResolve_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	mustSave(t, s1, insertChange(testID(t, 1), map[string]any{"name": "Monk"}))
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	rows, err := s2.Resolve(context.Background(), query.New("Person"))
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("got %d rows after reopen, want 1", len(rows))
	}
}
