// Package schema compiles entity definitions from CUE and validates
// record data against them.
//
// A schema is optional: a store without one enforces only version
// conflicts. With one, saves additionally check property types, required
// fields, relationship targets and unique property sets. Schema migration
// is out of scope; definitions describe the current shape only.
//
// Definitions are written in CUE:
//
//	entity: Person: {
//		fields: {
//			name: {type: "string", required: true}
//			age:  {type: "int"}
//		}
//		unique: [["name"]]
//		relationships: {
//			manager: {target: "Person"}
//			reports: {target: "Person", toMany: true}
//		}
//	}
package schema

import (
	"fmt"
	"time"

	"github.com/roach88/strata/record"
)

// FieldType names a property type.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeBool   FieldType = "bool"
	TypeTime   FieldType = "time"
)

// Field describes one property of an entity.
type Field struct {
	Type     FieldType
	Required bool
}

// Relationship describes a link to another entity.
type Relationship struct {
	Target string
	ToMany bool
}

// Entity is the compiled definition of one entity.
type Entity struct {
	Name          string
	Fields        map[string]Field
	Relationships map[string]Relationship
	// Unique lists property sets that must be unique store-wide.
	Unique [][]string
}

// Set is a compiled schema: entity name → definition.
type Set map[string]Entity

// Validate checks one record against the schema. A nil receiver or an
// unknown entity validates vacuously (open-world: undeclared entities are
// allowed). Returns human-readable violations, empty when valid.
func (s Set) Validate(d record.Data) []string {
	if s == nil {
		return nil
	}
	ent, ok := s[d.ID.Entity]
	if !ok {
		return nil
	}

	var violations []string
	for name, f := range ent.Fields {
		v, present := d.Properties[name]
		if !present || v == nil {
			if f.Required {
				violations = append(violations, fmt.Sprintf("required field %q is missing", name))
			}
			continue
		}
		if !typeMatches(f.Type, v) {
			violations = append(violations, fmt.Sprintf("field %q: %T is not %s", name, v, f.Type))
		}
	}
	for name := range d.Properties {
		if _, declared := ent.Fields[name]; !declared {
			violations = append(violations, fmt.Sprintf("undeclared field %q", name))
		}
	}
	for name, id := range d.ToOne {
		rel, declared := ent.Relationships[name]
		switch {
		case !declared:
			violations = append(violations, fmt.Sprintf("undeclared relationship %q", name))
		case rel.ToMany:
			violations = append(violations, fmt.Sprintf("relationship %q is to-many", name))
		case id.Entity != rel.Target:
			violations = append(violations, fmt.Sprintf("relationship %q targets %s, got %s", name, rel.Target, id.Entity))
		}
	}
	for name, ids := range d.ToMany {
		rel, declared := ent.Relationships[name]
		switch {
		case !declared:
			violations = append(violations, fmt.Sprintf("undeclared relationship %q", name))
		case !rel.ToMany:
			violations = append(violations, fmt.Sprintf("relationship %q is to-one", name))
		default:
			for _, id := range ids {
				if id.Entity != rel.Target {
					violations = append(violations, fmt.Sprintf("relationship %q targets %s, got %s", name, rel.Target, id.Entity))
				}
			}
		}
	}
	return violations
}

// UniqueSets returns the unique property sets declared for entity, nil
// when none.
func (s Set) UniqueSets(entity string) [][]string {
	if s == nil {
		return nil
	}
	return s[entity].Unique
}

func typeMatches(t FieldType, v any) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeInt:
		switch v.(type) {
		case int, int32, int64:
			return true
		}
		return false
	case TypeFloat:
		switch v.(type) {
		case float32, float64, int, int64:
			return true
		}
		return false
	case TypeBool:
		_, ok := v.(bool)
		return ok
	case TypeTime:
		_, ok := v.(time.Time)
		return ok
	default:
		return false
	}
}
