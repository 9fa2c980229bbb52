package record

import (
	"maps"
	"slices"
)

// Data is the durable state of one record at one version.
//
// Properties hold scalar values (string, int64, float64, bool, time.Time,
// nil). ToOne and ToMany hold relationships to other records by ID.
//
// Version is the optimistic-concurrency counter owned by the store:
// 0 means never persisted; the store bumps it by one per committed save.
// A save whose base version no longer matches the stored version fails
// with a conflict rather than overwriting the newer write.
type Data struct {
	ID      ID
	Version int64

	Properties map[string]any
	ToOne      map[string]ID
	ToMany     map[string][]ID
}

// NewData returns an empty Data for id with allocated maps.
func NewData(id ID) Data {
	return Data{
		ID:         id,
		Properties: make(map[string]any),
		ToOne:      make(map[string]ID),
		ToMany:     make(map[string][]ID),
	}
}

// Clone returns a deep copy. Contexts clone on every boundary crossing so
// that no two contexts ever alias the same mutable maps.
func (d Data) Clone() Data {
	c := d
	c.Properties = maps.Clone(d.Properties)
	c.ToOne = maps.Clone(d.ToOne)
	if d.ToMany != nil {
		c.ToMany = make(map[string][]ID, len(d.ToMany))
		for k, v := range d.ToMany {
			c.ToMany[k] = slices.Clone(v)
		}
	}
	return c
}

// Get returns the named property value, or nil when absent.
func (d Data) Get(name string) any {
	if d.Properties == nil {
		return nil
	}
	return d.Properties[name]
}
