package record

import "testing"

func TestParseID_RoundTrip(t *testing.T) {
	id := UUIDv7Generator{}.NewID("Person")

	parsed, err := ParseID(id.String())
	if err != nil {
		t.Fatalf("ParseID() failed: %v", err)
	}
	if parsed != id {
		t.Errorf("round trip mismatch: got %v, want %v", parsed, id)
	}
}

func TestParseID_Invalid(t *testing.T) {
	for _, s := range []string{"", "Person", "/550e8400-e29b-41d4-a716-446655440000", "Person/not-a-uuid"} {
		if _, err := ParseID(s); err == nil {
			t.Errorf("ParseID(%q) = nil error, want failure", s)
		}
	}
}

func TestUUIDv7Generator_SortableAndUnique(t *testing.T) {
	gen := UUIDv7Generator{}
	a := gen.NewID("Person")
	b := gen.NewID("Person")

	if a == b {
		t.Fatal("two generated IDs are equal")
	}
	// UUIDv7 embeds a timestamp: later allocations never sort before
	// earlier ones at millisecond granularity.
	if b.UUID.String() < a.UUID.String() {
		t.Errorf("ids not time-sortable: %s before %s", b, a)
	}
}

func TestFixedGenerator_ReturnsInOrder(t *testing.T) {
	gen := NewFixedGenerator(
		"00000000-0000-0000-0000-000000000001",
		"00000000-0000-0000-0000-000000000002",
	)

	a := gen.NewID("Person")
	b := gen.NewID("Person")
	if a.UUID.String() != "00000000-0000-0000-0000-000000000001" {
		t.Errorf("first id = %s", a.UUID)
	}
	if b.UUID.String() != "00000000-0000-0000-0000-000000000002" {
		t.Errorf("second id = %s", b.UUID)
	}
}

func TestFixedGenerator_PanicsWhenExhausted(t *testing.T) {
	gen := NewFixedGenerator("00000000-0000-0000-0000-000000000001")
	gen.NewID("Person")

	defer func() {
		if recover() == nil {
			t.Error("expected panic after exhaustion")
		}
	}()
	gen.NewID("Person")
}
