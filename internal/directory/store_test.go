package directory

import (
	"testing"
	"time"

	"github.com/zrcore/zrc/internal/crypto"
)

func TestStore_PutGetRoundTrip(t *testing.T) {
	kp, _ := crypto.GenerateSigningKeypair()
	r, err := Sign(kp.PrivateKey, kp.PublicKey, []byte("ep"), time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	s := NewStore()
	if err := s.Put(r, time.Now()); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok := s.Get(r.SubjectID, time.Now())
	if !ok {
		t.Fatal("expected record to be found")
	}
	if string(got.EndpointsEncoded) != "ep" {
		t.Errorf("EndpointsEncoded = %q, want %q", got.EndpointsEncoded, "ep")
	}
}

func TestStore_PutRejectsExpiredRecord(t *testing.T) {
	kp, _ := crypto.GenerateSigningKeypair()
	r, err := Sign(kp.PrivateKey, kp.PublicKey, nil, time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	s := NewStore()
	if err := s.Put(r, time.Now().Add(2*time.Minute)); err != ErrRecordExpired {
		t.Fatalf("Put() error = %v, want ErrRecordExpired", err)
	}
}

func TestStore_GetMissingReturnsNotOK(t *testing.T) {
	s := NewStore()
	var id [32]byte
	if _, ok := s.Get(id, time.Now()); ok {
		t.Fatal("expected missing subject to return ok=false")
	}
}

func TestStore_Batch_PartitionsFoundAndNotFound(t *testing.T) {
	kp, _ := crypto.GenerateSigningKeypair()
	r, err := Sign(kp.PrivateKey, kp.PublicKey, nil, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	s := NewStore()
	s.Put(r, time.Now())

	var missing [32]byte
	missing[0] = 0xEE
	found, notFound := s.Batch([][32]byte{r.SubjectID, missing}, time.Now())
	if len(found) != 1 || found[0].SubjectID != r.SubjectID {
		t.Errorf("found = %+v, want one record matching subject", found)
	}
	if len(notFound) != 1 || notFound[0] != missing {
		t.Errorf("notFound = %+v, want [missing]", notFound)
	}
}

func TestStore_Sweep_RemovesExpired(t *testing.T) {
	kp, _ := crypto.GenerateSigningKeypair()
	r, err := Sign(kp.PrivateKey, kp.PublicKey, nil, time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	s := NewStore()
	s.Put(r, time.Now())

	removed := s.Sweep(time.Now().Add(2 * time.Minute))
	if removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after sweep", s.Len())
	}
}
