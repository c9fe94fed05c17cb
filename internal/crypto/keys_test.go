package crypto

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	pub := PublicKeyBytes(priv)
	msg := []byte("consensus content hash")

	sig := Sign(priv, msg)
	if err := Verify(pub, msg, sig); err != nil {
		t.Fatalf("Verify rejected a valid signature: %v", err)
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	priv, _ := GenerateKeyPair()
	pub := PublicKeyBytes(priv)
	sig := Sign(priv, []byte("original"))

	if err := Verify(pub, []byte("tampered"), sig); err == nil {
		t.Fatalf("Verify accepted a signature over a different message")
	}
}

func TestDIDKeyRoundTripFormat(t *testing.T) {
	priv, _ := GenerateKeyPair()
	pub := PublicKeyBytes(priv)

	did, err := DIDKey(pub)
	if err != nil {
		t.Fatalf("DIDKey: %v", err)
	}
	if len(did) < len("did:key:") || did[:8] != "did:key:" {
		t.Fatalf("DIDKey produced an unexpected prefix: %s", did)
	}
}

func TestDIDKeyRejectsWrongLength(t *testing.T) {
	if _, err := DIDKey([]byte{1, 2, 3}); err == nil {
		t.Fatalf("DIDKey accepted a short public key")
	}
}
