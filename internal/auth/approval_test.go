package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"
)

func TestDecisionSentinelGranted(t *testing.T) {
	d := Decision{Granted: true}
	if got := d.Sentinel(); got != SentinelApprovalGranted {
		t.Fatalf("expected %q, got %q", SentinelApprovalGranted, got)
	}
}

func TestDecisionSentinelDeniedIncludesReason(t *testing.T) {
	d := Decision{Granted: false, Reason: "unknown device"}
	want := SentinelApprovalDenied + " unknown device"
	if got := d.Sentinel(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestTokenIssuerIssueAndVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	issuer := NewTokenIssuer(priv, pub)

	token, err := issuer.Issue("device-42", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	deviceID, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if deviceID != "device-42" {
		t.Fatalf("expected device-42, got %q", deviceID)
	}
}

func TestTokenIssuerRejectsExpiredToken(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	issuer := NewTokenIssuer(priv, pub)

	token, err := issuer.Issue("device-42", -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := issuer.Verify(token); err == nil {
		t.Fatal("expected expired token to fail verification")
	}
}

func TestChallengeDeviceTokenGrantsForValidToken(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	issuer := NewTokenIssuer(priv, pub)
	challenger := NewDeviceTokenChallenger(issuer, time.Hour)

	token, err := issuer.Issue("device-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	decision := challenger.ChallengeDeviceToken(token)
	if !decision.Granted {
		t.Fatalf("expected grant, got denial: %s", decision.Reason)
	}
}

func TestChallengeDeviceTokenDeniesGarbage(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	issuer := NewTokenIssuer(priv, pub)
	challenger := NewDeviceTokenChallenger(issuer, time.Hour)

	decision := challenger.ChallengeDeviceToken("not-a-jwt")
	if decision.Granted {
		t.Fatal("expected denial for malformed token")
	}
}

func TestChallengePasskeyRejectsWrongMode(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	challenger := NewDeviceTokenChallenger(NewTokenIssuer(priv, pub), time.Hour)
	decision := challenger.ChallengePasskey(nil, nil, nil, nil)
	if decision.Granted {
		t.Fatal("expected denial: challenger is configured for device-token mode")
	}
}

func TestChallengePasskeyGrantsForAllowListedKey(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	rawKey := make([]byte, 64)
	key.X.FillBytes(rawKey[:32])
	key.Y.FillBytes(rawKey[32:])

	challenger := NewPasskeyChallenger([][]byte{rawKey})

	challenge, err := GenerateChallenge()
	if err != nil {
		t.Fatalf("GenerateChallenge: %v", err)
	}
	clientData, err := json.Marshal(struct {
		Challenge string `json:"challenge"`
		Type      string `json:"type"`
	}{
		Challenge: base64.RawURLEncoding.EncodeToString(challenge),
		Type:      "webauthn.get",
	})
	if err != nil {
		t.Fatalf("marshal clientData: %v", err)
	}
	authenticatorData := []byte("authenticator-data-stub")
	cdHash := sha256.Sum256(clientData)
	signedData := append(append([]byte{}, authenticatorData...), cdHash[:]...)
	digest := sha256.Sum256(signedData)
	signature, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	decision := challenger.ChallengePasskey(challenge, authenticatorData, clientData, signature)
	if !decision.Granted {
		t.Fatalf("expected grant, got denial: %s", decision.Reason)
	}
}
