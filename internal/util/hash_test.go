package util

import "testing"

func TestContentHash(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := ContentHash([]byte("abc")); got != want {
		t.Errorf("ContentHash() = %s, want %s", got, want)
	}

	if ContentHash([]byte("a")) == ContentHash([]byte("b")) {
		t.Errorf("different payloads produced the same hash")
	}
}
