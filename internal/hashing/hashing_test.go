package hashing

import "testing"

func TestComputeNoteHashDeterministic(t *testing.T) {
	a := ComputeNoteHash("Hello", "World", "t1,t2", []byte{1, 2, 3}, false)
	b := ComputeNoteHash("Hello", "World", "t1,t2", []byte{1, 2, 3}, false)
	if a != b {
		t.Fatalf("expected identical hashes, got %q and %q", a, b)
	}
}

func TestComputeNoteHashSensitiveToEachField(t *testing.T) {
	base := ComputeNoteHash("Hello", "World", "t1", []byte("abc"), false)

	cases := []string{
		ComputeNoteHash("Goodbye", "World", "t1", []byte("abc"), false),
		ComputeNoteHash("Hello", "Earth", "t1", []byte("abc"), false),
		ComputeNoteHash("Hello", "World", "t2", []byte("abc"), false),
		ComputeNoteHash("Hello", "World", "t1", []byte("xyz"), false),
		ComputeNoteHash("Hello", "World", "t1", []byte("abc"), true),
		ComputeNoteHash("Hello", "World", "t1", nil, false),
	}

	for i, c := range cases {
		if c == base {
			t.Fatalf("case %d: expected hash to differ from base, both were %q", i, c)
		}
	}
}

func TestComputeNoteHashChangesWhenTombstoned(t *testing.T) {
	// Deleting a note changes its hash even if content is untouched,
	// which is what lets a tombstoned note diverge from its pre-delete hash.
	before := ComputeNoteHash("A", "B", "", nil, false)
	after := ComputeNoteHash("A", "B", "", nil, true)
	if before == after {
		t.Fatalf("expected tombstone to change the content hash")
	}
}
