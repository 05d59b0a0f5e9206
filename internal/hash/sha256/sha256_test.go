// Package sha256 includes tests for the SHA-256 hasher adapter.
package sha256

import "testing"

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("<html>product page</html>"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if len(got) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(got))
	}
	again, err := h.Hash([]byte("<html>product page</html>"))
	if err != nil {
		t.Fatalf("Hash() repeat error = %v", err)
	}
	if again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
	other, err := h.Hash([]byte("<html>other page</html>"))
	if err != nil {
		t.Fatalf("Hash() other error = %v", err)
	}
	if other == got {
		t.Fatal("expected different bodies to hash differently")
	}
}

// TestHasherEmptyInput pins the well-known digest of the empty string.
func TestHasherEmptyInput(t *testing.T) {
	t.Parallel()

	got, err := New().Hash(nil)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
