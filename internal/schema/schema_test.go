package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/roach88/strata/record"
)

const personCUE = `
entity: Person: {
	fields: {
		name: {type: "string", required: true}
		age:  {type: "int"}
	}
	unique: [["name"]]
	relationships: {
		manager: {target: "Person"}
		reports: {target: "Person", toMany: true}
	}
}
`

func personID(t *testing.T) record.ID {
	t.Helper()
	return record.NewFixedGenerator("00000000-0000-0000-0000-000000000001").NewID("Person")
}

func TestCompileString_FullEntity(t *testing.T) {
	set, err := CompileString(personCUE)
	if err != nil {
		t.Fatalf("CompileString() failed: %v", err)
	}

	ent, ok := set["Person"]
	if !ok {
		t.Fatal("Person entity missing")
	}
	if !ent.Fields["name"].Required || ent.Fields["name"].Type != TypeString {
		t.Errorf("name field = %+v", ent.Fields["name"])
	}
	if ent.Fields["age"].Type != TypeInt {
		t.Errorf("age field = %+v", ent.Fields["age"])
	}
	if len(ent.Unique) != 1 || ent.Unique[0][0] != "name" {
		t.Errorf("unique = %v", ent.Unique)
	}
	if ent.Relationships["manager"].Target != "Person" || ent.Relationships["manager"].ToMany {
		t.Errorf("manager = %+v", ent.Relationships["manager"])
	}
	if !ent.Relationships["reports"].ToMany {
		t.Errorf("reports = %+v", ent.Relationships["reports"])
	}
}

func TestCompileString_Errors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"no entity", `foo: 1`, `no "entity"`},
		{"missing type", `entity: P: {fields: {a: {required: true}}}`, "type is required"},
		{"bad type", `entity: P: {fields: {a: {type: "decimal"}}}`, "unknown type"},
		{"unique undeclared", `entity: P: {fields: {a: {type: "int"}}, unique: [["b"]]}`, "undeclared field"},
		{"missing target", `entity: P: {relationships: {r: {toMany: true}}}`, "target is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CompileString(tc.src)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestValidate_Violations(t *testing.T) {
	set, err := CompileString(personCUE)
	if err != nil {
		t.Fatalf("CompileString() failed: %v", err)
	}

	d := record.NewData(personID(t))
	d.Properties["age"] = "old" // wrong type, and name missing
	d.Properties["height"] = 180

	violations := set.Validate(d)
	if len(violations) != 3 {
		t.Fatalf("violations = %v, want 3", violations)
	}
}

func TestValidate_RelationshipTargets(t *testing.T) {
	set, err := CompileString(personCUE)
	if err != nil {
		t.Fatalf("CompileString() failed: %v", err)
	}

	dogID := record.NewFixedGenerator("00000000-0000-0000-0000-000000000009").NewID("Dog")
	d := record.NewData(personID(t))
	d.Properties["name"] = "Monk"
	d.ToOne["manager"] = dogID

	violations := set.Validate(d)
	if len(violations) != 1 || !strings.Contains(violations[0], "targets Person") {
		t.Errorf("violations = %v", violations)
	}
}

func TestValidate_UnknownEntityIsOpen(t *testing.T) {
	set, err := CompileString(personCUE)
	if err != nil {
		t.Fatalf("CompileString() failed: %v", err)
	}

	other := record.NewFixedGenerator("00000000-0000-0000-0000-000000000002").NewID("Case")
	d := record.NewData(other)
	d.Properties["anything"] = true

	if v := set.Validate(d); len(v) != 0 {
		t.Errorf("undeclared entity should validate, got %v", v)
	}
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "person.cue"), []byte(personCUE), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "case.cue"), []byte(`
entity: Case: {
	fields: {title: {type: "string", required: true}}
}
`), 0o644); err != nil {
		t.Fatal(err)
	}

	set, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if _, ok := set["Person"]; !ok {
		t.Error("Person missing")
	}
	if _, ok := set["Case"]; !ok {
		t.Error("Case missing")
	}
}

func TestLoad_EmptyDir(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("expected error for directory without .cue files")
	}
}
