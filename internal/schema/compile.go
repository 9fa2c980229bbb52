package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/token"
)

// CompileError reports a problem in a CUE entity definition, with the CUE
// source position when available.
type CompileError struct {
	Entity  string
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	loc := ""
	if e.Pos.IsValid() {
		loc = fmt.Sprintf("%s:%d:%d: ", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column())
	}
	if e.Field != "" {
		return fmt.Sprintf("%sentity %s, field %s: %s", loc, e.Entity, e.Field, e.Message)
	}
	return fmt.Sprintf("%sentity %s: %s", loc, e.Entity, e.Message)
}

// Compile parses the "entity" struct of a CUE value into a Set.
// Uses the CUE SDK's Go API directly (not a CLI subprocess).
func Compile(v cue.Value) (Set, error) {
	if err := v.Err(); err != nil {
		return nil, err
	}

	root := v.LookupPath(cue.ParsePath("entity"))
	if !root.Exists() {
		return nil, fmt.Errorf(`schema: no "entity" declarations found`)
	}

	set := make(Set)
	iter, err := root.Fields()
	if err != nil {
		return nil, err
	}
	for iter.Next() {
		name := iter.Selector().Unquoted()
		ent, err := compileEntity(name, iter.Value())
		if err != nil {
			return nil, err
		}
		set[name] = ent
	}
	return set, nil
}

func compileEntity(name string, v cue.Value) (Entity, error) {
	ent := Entity{
		Name:          name,
		Fields:        make(map[string]Field),
		Relationships: make(map[string]Relationship),
	}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if fieldsVal.Exists() {
		iter, err := fieldsVal.Fields()
		if err != nil {
			return Entity{}, err
		}
		for iter.Next() {
			fname := iter.Selector().Unquoted()
			f, err := compileField(name, fname, iter.Value())
			if err != nil {
				return Entity{}, err
			}
			ent.Fields[fname] = f
		}
	}

	relsVal := v.LookupPath(cue.ParsePath("relationships"))
	if relsVal.Exists() {
		iter, err := relsVal.Fields()
		if err != nil {
			return Entity{}, err
		}
		for iter.Next() {
			rname := iter.Selector().Unquoted()
			rel, err := compileRelationship(name, rname, iter.Value())
			if err != nil {
				return Entity{}, err
			}
			ent.Relationships[rname] = rel
		}
	}

	uniqueVal := v.LookupPath(cue.ParsePath("unique"))
	if uniqueVal.Exists() {
		var sets [][]string
		if err := uniqueVal.Decode(&sets); err != nil {
			return Entity{}, &CompileError{Entity: name, Field: "unique", Message: err.Error(), Pos: uniqueVal.Pos()}
		}
		for _, fields := range sets {
			for _, f := range fields {
				if _, ok := ent.Fields[f]; !ok {
					return Entity{}, &CompileError{
						Entity:  name,
						Field:   f,
						Message: "unique set references undeclared field",
						Pos:     uniqueVal.Pos(),
					}
				}
			}
		}
		ent.Unique = sets
	}
	return ent, nil
}

func compileField(entity, name string, v cue.Value) (Field, error) {
	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return Field{}, &CompileError{Entity: entity, Field: name, Message: "type is required", Pos: v.Pos()}
	}
	typ, err := typeVal.String()
	if err != nil {
		return Field{}, &CompileError{Entity: entity, Field: name, Message: err.Error(), Pos: typeVal.Pos()}
	}
	switch FieldType(typ) {
	case TypeString, TypeInt, TypeFloat, TypeBool, TypeTime:
	default:
		return Field{}, &CompileError{
			Entity:  entity,
			Field:   name,
			Message: fmt.Sprintf("unknown type %q: want string, int, float, bool or time", typ),
			Pos:     typeVal.Pos(),
		}
	}

	f := Field{Type: FieldType(typ)}
	reqVal := v.LookupPath(cue.ParsePath("required"))
	if reqVal.Exists() {
		req, err := reqVal.Bool()
		if err != nil {
			return Field{}, &CompileError{Entity: entity, Field: name, Message: err.Error(), Pos: reqVal.Pos()}
		}
		f.Required = req
	}
	return f, nil
}

func compileRelationship(entity, name string, v cue.Value) (Relationship, error) {
	targetVal := v.LookupPath(cue.ParsePath("target"))
	if !targetVal.Exists() {
		return Relationship{}, &CompileError{Entity: entity, Field: name, Message: "target is required", Pos: v.Pos()}
	}
	target, err := targetVal.String()
	if err != nil {
		return Relationship{}, &CompileError{Entity: entity, Field: name, Message: err.Error(), Pos: targetVal.Pos()}
	}

	rel := Relationship{Target: target}
	manyVal := v.LookupPath(cue.ParsePath("toMany"))
	if manyVal.Exists() {
		many, err := manyVal.Bool()
		if err != nil {
			return Relationship{}, &CompileError{Entity: entity, Field: name, Message: err.Error(), Pos: manyVal.Pos()}
		}
		rel.ToMany = many
	}
	return rel, nil
}

// CompileString compiles CUE source text into a Set.
func CompileString(src string) (Set, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	return Compile(v)
}

// Load compiles every *.cue file under dir (sorted, non-recursive) into
// one Set. Files are concatenated into a single CUE build so definitions
// may be split across files.
func Load(dir string) (Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".cue") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("schema: no .cue files in %s", dir)
	}
	sort.Strings(files)

	var src strings.Builder
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("schema: read %s: %w", f, err)
		}
		src.Write(data)
		src.WriteByte('\n')
	}
	return CompileString(src.String())
}
