package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel text the host sends raw (not wire-enveloped) over the relay data
// transport on approval resolution, per spec.md §6.3: the client's reconciler never parses
// these (it transitions Connecting → Approved strictly on Hello receipt,
// per §4.6), but cmd/beachclient scans for them to print the
// "Disconnected before approval." banner on denial.
const (
	SentinelApprovalGranted = "beach:status:approval_granted"
	SentinelApprovalDenied  = "beach:status:approval_denied"
)

// Mode selects which credential a connecting client is challenged for.
type Mode int

const (
	// ModePasskey challenges the client with a WebAuthn assertion against
	// an allow-listed P-256 public key.
	ModePasskey Mode = iota
	// ModeDeviceToken accepts a pre-shared, host-issued JWT instead of an
	// interactive passkey ceremony (e.g. for unattended/CI connections).
	ModeDeviceToken
)

// DeviceClaims is the payload of a device JWT: an approval good for one
// device identity until ExpiresAt, issued by the host out of band.
type DeviceClaims struct {
	jwt.RegisteredClaims
	DeviceID string `json:"device_id"`
}

// TokenIssuer signs and verifies device JWTs with a host-held Ed25519 key,
// generalizing a device-code exchange (which hit an external
// HTTP auth server) into a self-contained host-side issuer, since this
// spec's host is itself the authority — there is no separate relay.
type TokenIssuer struct {
	signingKey ed25519.PrivateKey
	verifyKey  ed25519.PublicKey
}

// NewTokenIssuer builds a TokenIssuer from an Ed25519 keypair, typically
// loaded once at host startup via EnsureSigningKeyPair (see keypair.go).
func NewTokenIssuer(priv ed25519.PrivateKey, pub ed25519.PublicKey) *TokenIssuer {
	return &TokenIssuer{signingKey: priv, verifyKey: pub}
}

// Issue mints a device JWT valid for ttl, identifying deviceID.
func (i *TokenIssuer) Issue(deviceID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := DeviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		DeviceID: deviceID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(i.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign device token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a device JWT, returning its device ID.
func (i *TokenIssuer) Verify(tokenString string) (deviceID string, err error) {
	claims := &DeviceClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.verifyKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse device token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("device token invalid")
	}
	return claims.DeviceID, nil
}

// Decision is the outcome of challenging a connecting client, feeding the
// sentinel the host writes before proceeding to (or refusing) Hello.
type Decision struct {
	Granted bool
	Reason  string // populated when !Granted
}

// Sentinel renders the out-of-band text line matching d, per spec.md §6.3.
func (d Decision) Sentinel() string {
	if d.Granted {
		return SentinelApprovalGranted
	}
	return fmt.Sprintf("%s %s", SentinelApprovalDenied, d.Reason)
}

// Challenger gates a new transport connection before ClientReconciler's
// Hello, implementing spec.md §4.13: a passkey assertion against an
// allow-listed key, or a pre-shared device JWT, depending on Mode.
type Challenger struct {
	mode        Mode
	allowedKeys [][]byte // raw P-256 points (X||Y), passkey mode
	issuer      *TokenIssuer
	cache       *AuthCache
	tokenTTL    time.Duration
}

// NewPasskeyChallenger builds a Challenger that verifies WebAuthn
// assertions against allowedKeys.
func NewPasskeyChallenger(allowedKeys [][]byte) *Challenger {
	return &Challenger{mode: ModePasskey, allowedKeys: allowedKeys, cache: NewAuthCache()}
}

// NewDeviceTokenChallenger builds a Challenger that verifies pre-shared
// device JWTs minted by issuer.
func NewDeviceTokenChallenger(issuer *TokenIssuer, tokenTTL time.Duration) *Challenger {
	return &Challenger{mode: ModeDeviceToken, issuer: issuer, tokenTTL: tokenTTL, cache: NewAuthCache()}
}

// ChallengePasskey verifies a WebAuthn assertion against every allow-listed
// key, returning the first successful Decision.
func (c *Challenger) ChallengePasskey(challenge, authenticatorData, clientDataJSON, signature []byte) Decision {
	if c.mode != ModePasskey {
		return Decision{Granted: false, Reason: "host is configured for device-token approval"}
	}
	for _, key := range c.allowedKeys {
		if err := VerifyPasskeyAssertion(key, challenge, authenticatorData, clientDataJSON, signature); err == nil {
			return Decision{Granted: true}
		}
	}
	return Decision{Granted: false, Reason: "no allow-listed passkey matched"}
}

// ChallengeDeviceToken verifies a pre-shared device JWT.
func (c *Challenger) ChallengeDeviceToken(token string) Decision {
	if c.mode != ModeDeviceToken {
		return Decision{Granted: false, Reason: "host is configured for passkey approval"}
	}
	deviceID, err := c.issuer.Verify(token)
	if err != nil {
		return Decision{Granted: false, Reason: err.Error()}
	}
	c.cache.Put(token, []byte(deviceID))
	return Decision{Granted: true}
}
