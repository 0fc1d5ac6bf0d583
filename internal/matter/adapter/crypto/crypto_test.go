package crypto

import "testing"

func TestRandomBytesLength(t *testing.T) {
	c := New()
	b, err := c.RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	if len(b) != 32 {
		t.Fatalf("got %d bytes, want 32", len(b))
	}
}

func TestRandomBytesAreNotConstant(t *testing.T) {
	c := New()
	a, err := c.RandomBytes(16)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	b, err := c.RandomBytes(16)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	allZero := true
	for _, v := range a {
		if v != 0 {
			allZero = false
		}
	}
	if allZero {
		t.Fatal("got all-zero random bytes, want entropy")
	}
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
		}
	}
	if same {
		t.Fatal("two independent RandomBytes calls produced identical output")
	}
}

func TestDeriveKeyIsDeterministicForSameInputs(t *testing.T) {
	c := New()
	salt := []byte("fixed-salt-value")
	k1, err := c.DeriveKey(20202021, salt, 1000, 32)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	k2, err := c.DeriveKey(20202021, salt, 1000, 32)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if len(k1) != 32 {
		t.Fatalf("got key length %d, want 32", len(k1))
	}
	for i := range k1 {
		if k1[i] != k2[i] {
			t.Fatal("DeriveKey produced different output for identical inputs")
		}
	}
}

func TestDeriveKeyDiffersForDifferentPasscodes(t *testing.T) {
	c := New()
	salt := []byte("fixed-salt-value")
	k1, err := c.DeriveKey(11111111, salt, 1000, 32)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	k2, err := c.DeriveKey(22222222, salt, 1000, 32)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	same := true
	for i := range k1 {
		if k1[i] != k2[i] {
			same = false
		}
	}
	if same {
		t.Fatal("DeriveKey produced identical output for different passcodes")
	}
}

func TestDeriveKeyDiffersForDifferentSalts(t *testing.T) {
	c := New()
	k1, err := c.DeriveKey(20202021, []byte("salt-one"), 1000, 32)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	k2, err := c.DeriveKey(20202021, []byte("salt-two"), 1000, 32)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	same := true
	for i := range k1 {
		if k1[i] != k2[i] {
			same = false
		}
	}
	if same {
		t.Fatal("DeriveKey produced identical output for different salts")
	}
}
