package transcript

import (
	"crypto/sha256"
	"testing"
)

func TestDigest_DifferentLabelsDiffer(t *testing.T) {
	a := New("zrc-invite-v1").AppendBytes(1, []byte("payload")).Digest()
	b := New("zrc-ticket-v1").AppendBytes(1, []byte("payload")).Digest()
	if a == b {
		t.Fatalf("digests for different labels must not collide")
	}
}

func TestDigest_Deterministic(t *testing.T) {
	build := func() [32]byte {
		return New("zrc-test-v1").AppendU64(1, 42).AppendString(2, "hello").AppendBytes(3, []byte{1, 2, 3}).Digest()
	}
	if build() != build() {
		t.Fatalf("transcript digest must be deterministic for identical inputs")
	}
}

func TestDigest_FieldBoundariesNotAmbiguous(t *testing.T) {
	// "ab" + "c" must not collide with "a" + "bc" under the same tags -
	// length prefixing should prevent this.
	d1 := New("zrc-test-v1").AppendString(1, "ab").AppendString(2, "c").Digest()
	d2 := New("zrc-test-v1").AppendString(1, "a").AppendString(2, "bc").Digest()
	if d1 == d2 {
		t.Fatalf("length-prefixed fields must not be confusable across a boundary shift")
	}
}

func TestDigest_TagDistinguishesSameValue(t *testing.T) {
	d1 := New("zrc-test-v1").AppendU64(1, 42).Digest()
	d2 := New("zrc-test-v1").AppendU64(2, 42).Digest()
	if d1 == d2 {
		t.Fatalf("differing tags over the same value must produce different digests")
	}
}

func TestDigest_OrderMatters(t *testing.T) {
	d1 := New("zrc-test-v1").AppendU64(1, 1).AppendU64(2, 2).Digest()
	d2 := New("zrc-test-v1").AppendU64(2, 2).AppendU64(1, 1).Digest()
	if d1 == d2 {
		t.Fatalf("field order must affect the digest")
	}
}

func TestBytes_MatchesDigestInput(t *testing.T) {
	b := New("zrc-test-v1").AppendU64(1, 7)
	if len(b.Bytes()) == 0 {
		t.Fatalf("expected non-empty transcript bytes")
	}
	if sha256.Sum256(b.Bytes()) != b.Digest() {
		t.Fatalf("Digest() must equal SHA-256 of Bytes()")
	}
}
