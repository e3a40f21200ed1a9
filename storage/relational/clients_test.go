package relational

import "testing"

func TestHashAPIKeyIsDeterministicAndDistinct(t *testing.T) {
	h1 := HashAPIKey("secret-key-1")
	h2 := HashAPIKey("secret-key-1")
	h3 := HashAPIKey("secret-key-2")

	if h1 != h2 {
		t.Fatal("hashing the same key twice must produce the same hash")
	}
	if h1 == h3 {
		t.Fatal("hashing different keys must produce different hashes")
	}
	if len(h1) != 64 {
		t.Fatalf("expected a 64-char hex sha256 digest, got length %d", len(h1))
	}
}
