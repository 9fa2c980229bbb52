package sqlstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/strata/record"
	"github.com/roach88/strata/storage"
)

// Property values are stored as a JSON object. Two wrinkles keep the
// round trip lossless:
//
//   - integers: decoded with json.Number and restored as int64, so a
//     stored int64 never comes back as float64
//   - time.Time: encoded as {"$time": "<RFC3339Nano>"}, since JSON has no
//     native timestamp

const timeKey = "$time"

func marshalData(d record.Data) (props, toOne, toMany string, err error) {
	enc := make(map[string]any, len(d.Properties))
	for k, v := range d.Properties {
		if t, ok := v.(time.Time); ok {
			enc[k] = map[string]any{timeKey: t.UTC().Format(time.RFC3339Nano)}
			continue
		}
		enc[k] = v
	}
	props, err = marshalJSON(enc)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal properties: %w", err)
	}

	one := make(map[string]string, len(d.ToOne))
	for rel, id := range d.ToOne {
		one[rel] = id.String()
	}
	toOne, err = marshalJSON(one)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal to_one: %w", err)
	}

	many := make(map[string][]string, len(d.ToMany))
	for rel, ids := range d.ToMany {
		ss := make([]string, len(ids))
		for i, id := range ids {
			ss[i] = id.String()
		}
		many[rel] = ss
	}
	toMany, err = marshalJSON(many)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal to_many: %w", err)
	}
	return props, toOne, toMany, nil
}

func unmarshalData(id record.ID, version int64, props, toOne, toMany string) (record.Data, error) {
	d := record.NewData(id)
	d.Version = version

	dec := json.NewDecoder(strings.NewReader(props))
	dec.UseNumber()
	raw := make(map[string]any)
	if err := dec.Decode(&raw); err != nil {
		return record.Data{}, &storage.StoreError{Op: "load", Err: fmt.Errorf("properties of %s: %w", id, err)}
	}
	for k, v := range raw {
		pv, err := decodeProperty(v)
		if err != nil {
			return record.Data{}, &storage.StoreError{Op: "load", Err: fmt.Errorf("property %q of %s: %w", k, id, err)}
		}
		d.Properties[k] = pv
	}

	one := make(map[string]string)
	if err := json.Unmarshal([]byte(toOne), &one); err != nil {
		return record.Data{}, &storage.StoreError{Op: "load", Err: fmt.Errorf("to_one of %s: %w", id, err)}
	}
	for rel, raw := range one {
		rid, err := record.ParseID(raw)
		if err != nil {
			return record.Data{}, &storage.StoreError{Op: "load", Err: err}
		}
		d.ToOne[rel] = rid
	}

	many := make(map[string][]string)
	if err := json.Unmarshal([]byte(toMany), &many); err != nil {
		return record.Data{}, &storage.StoreError{Op: "load", Err: fmt.Errorf("to_many of %s: %w", id, err)}
	}
	for rel, raws := range many {
		ids := make([]record.ID, len(raws))
		for i, raw := range raws {
			rid, err := record.ParseID(raw)
			if err != nil {
				return record.Data{}, &storage.StoreError{Op: "load", Err: err}
			}
			ids[i] = rid
		}
		d.ToMany[rel] = ids
	}
	return d, nil
}

func decodeProperty(v any) (any, error) {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		return val.Float64()
	case map[string]any:
		raw, ok := val[timeKey]
		if !ok || len(val) != 1 {
			return nil, fmt.Errorf("unexpected object value %v", val)
		}
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("malformed %s value %v", timeKey, raw)
		}
		return time.Parse(time.RFC3339Nano, s)
	default:
		return v, nil
	}
}

func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
