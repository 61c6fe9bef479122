package types

import "testing"

func TestValueAccessorsMatchKind(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		kind Kind
	}{
		{"null", Null(), KindNull},
		{"bool", Bool(true), KindBool},
		{"int", Int64(42), KindInt64},
		{"float", Float64(3.5), KindFloat64},
		{"string", String("hello"), KindString},
		{"bytes", Bytes([]byte{1, 2, 3}), KindBytes},
		{"array", Array([]Value{Int64(1), Int64(2)}), KindArray},
		{"object", Object(map[string]Value{"a": Int64(1)}), KindObject},
	}
	for _, c := range cases {
		if c.v.Kind() != c.kind {
			t.Errorf("%s: got kind %v, want %v", c.name, c.v.Kind(), c.kind)
		}
	}
}

func TestValueEqual(t *testing.T) {
	a := Object(map[string]Value{"x": Int64(1), "y": String("z")})
	b := Object(map[string]Value{"y": String("z"), "x": Int64(1)})
	if !a.Equal(b) {
		t.Fatalf("objects with the same keys in different insertion order should compare equal")
	}

	c := Object(map[string]Value{"x": Int64(2), "y": String("z")})
	if a.Equal(c) {
		t.Fatalf("objects with a differing value should not compare equal")
	}

	if Int64(1).Equal(Float64(1)) {
		t.Fatalf("Int64 and Float64 must never compare equal even for the same numeric value")
	}
}

func TestValueBytesAreCopied(t *testing.T) {
	raw := []byte{1, 2, 3}
	v := Bytes(raw)
	raw[0] = 0xFF

	got, ok := v.AsBytes()
	if !ok {
		t.Fatalf("expected AsBytes to report KindBytes")
	}
	if got[0] != 1 {
		t.Fatalf("mutating the caller's slice after Bytes() must not affect the stored value")
	}
}

func TestSortedObjectKeysDeterministic(t *testing.T) {
	obj := Object(map[string]Value{"b": Int64(2), "a": Int64(1), "c": Int64(3)})
	keys := obj.SortedObjectKeys()
	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("got %d keys, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}
