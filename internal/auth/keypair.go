package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
)

const signingKeyFileName = "host_signing_key"

// EnsureSigningKeyPair loads or generates the Ed25519 keypair a host signs
// device JWTs with, adapted from an EnsureKeyPair helper (which managed an
// X25519 ECDH key for its own app-layer message encryption — a concern this
// spec doesn't need, since transport security is DTLS/WSS per
// internal/transport; here the same load-or-generate-and-persist shape
// instead seeds TokenIssuer's signing key).
func EnsureSigningKeyPair(dir string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	keyPath := filepath.Join(dir, signingKeyFileName)

	if data, err := os.ReadFile(keyPath); err == nil && len(data) > 0 {
		privBytes, err := base64.StdEncoding.DecodeString(string(data))
		if err != nil {
			return nil, nil, fmt.Errorf("decode existing signing key: %w", err)
		}
		priv := ed25519.PrivateKey(privBytes)
		pub, ok := priv.Public().(ed25519.PublicKey)
		if !ok {
			return nil, nil, fmt.Errorf("malformed signing key in %s", keyPath)
		}
		return pub, priv, nil
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("generate signing key: %w", err)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, nil, fmt.Errorf("create dir: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(priv)
	if err := os.WriteFile(keyPath, []byte(encoded), 0600); err != nil {
		return nil, nil, fmt.Errorf("write signing key: %w", err)
	}

	return pub, priv, nil
}
