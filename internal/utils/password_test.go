package utils

import "testing"

func TestHashPasswordSaltsPerCall(t *testing.T) {
	h1, err := HashPassword("s3cret", 4)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := HashPassword("s3cret", 4)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Error("two hashes of the same plaintext are identical")
	}
	if !VerifyPassword(h1, "s3cret") || !VerifyPassword(h2, "s3cret") {
		t.Error("hash does not verify against its own plaintext")
	}
	if VerifyPassword(h1, "wrong") {
		t.Error("wrong password verified")
	}
	if h1 == "s3cret" || h2 == "s3cret" {
		t.Error("plaintext leaked into hash")
	}
}

func TestBurnPasswordCheck(t *testing.T) {
	// Must never panic or verify, whatever the input.
	BurnPasswordCheck("")
	BurnPasswordCheck("anything at all")
}
