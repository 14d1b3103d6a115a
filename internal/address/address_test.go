package address

import "testing"

func TestDerive_Deterministic(t *testing.T) {
	if Round(7) != Round(7) {
		t.Error("same round id should derive the same address")
	}
	if Participant("alice") != Participant("alice") {
		t.Error("same owner should derive the same address")
	}
}

func TestDerive_DistinctInputs(t *testing.T) {
	seen := map[Address]string{}
	add := func(name string, a Address) {
		if prev, ok := seen[a]; ok {
			t.Fatalf("collision between %s and %s", prev, name)
		}
		seen[a] = name
	}

	add("config", Config())
	for i := uint64(0); i < 100; i++ {
		add("round", Round(i))
	}
	add("alice", Participant("alice"))
	add("bob", Participant("bob"))
}

func TestDerive_FieldBoundaries(t *testing.T) {
	a := Derive("ns", []byte("ab"), []byte("c"))
	b := Derive("ns", []byte("a"), []byte("bc"))
	if a == b {
		t.Error("length prefixing should separate field boundaries")
	}
	if Derive("round", []byte("x")) == Derive("player", []byte("x")) {
		t.Error("namespaces should separate identical keys")
	}
}

func TestAddress_String(t *testing.T) {
	s := Config().String()
	if len(s) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(s))
	}
}
