package record

import (
	"strings"
	"testing"
)

func TestCanonicalKey_Deterministic(t *testing.T) {
	props := map[string]any{"name": "Monk", "age": int64(41)}

	a, err := CanonicalKey("Person", props, []string{"name", "age"})
	if err != nil {
		t.Fatalf("CanonicalKey() failed: %v", err)
	}
	b, err := CanonicalKey("Person", props, []string{"age", "name"})
	if err != nil {
		t.Fatalf("CanonicalKey() failed: %v", err)
	}
	if a != b {
		t.Errorf("field order changed key:\n%s\n%s", a, b)
	}

	want := `{"entity":"Person","age":41,"name":"Monk"}`
	if a != want {
		t.Errorf("key = %s, want %s", a, want)
	}
}

func TestCanonicalKey_NFCNormalization(t *testing.T) {
	// "é" composed (U+00E9) vs decomposed (U+0065 U+0301) must collide.
	composed := map[string]any{"name": "café"}
	decomposed := map[string]any{"name": "café"}

	a, err := CanonicalKey("Shop", composed, []string{"name"})
	if err != nil {
		t.Fatalf("CanonicalKey() failed: %v", err)
	}
	b, err := CanonicalKey("Shop", decomposed, []string{"name"})
	if err != nil {
		t.Fatalf("CanonicalKey() failed: %v", err)
	}
	if a != b {
		t.Errorf("NFC forms produced distinct keys:\n%s\n%s", a, b)
	}
}

func TestCanonicalKey_NoHTMLEscaping(t *testing.T) {
	key, err := CanonicalKey("Doc", map[string]any{"title": "<a&b>"}, []string{"title"})
	if err != nil {
		t.Fatalf("CanonicalKey() failed: %v", err)
	}
	if strings.Contains(key, `<`) || strings.Contains(key, `&`) {
		t.Errorf("HTML characters escaped: %s", key)
	}
}

func TestCanonicalKey_RejectsFloats(t *testing.T) {
	_, err := CanonicalKey("Point", map[string]any{"x": 1.5}, []string{"x"})
	if err == nil {
		t.Error("expected error for float unique-key field")
	}
}

func TestCanonicalKey_MissingFieldIsNull(t *testing.T) {
	key, err := CanonicalKey("Person", map[string]any{}, []string{"name"})
	if err != nil {
		t.Fatalf("CanonicalKey() failed: %v", err)
	}
	if key != `{"entity":"Person","name":null}` {
		t.Errorf("key = %s", key)
	}
}
