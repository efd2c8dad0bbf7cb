package auth

import (
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"
)

// enrollee is the single-user WebAuthn identity a host registers passkeys
// against. Unlike a multi-tenant relay web service with a
// user/credential store), a beach host has exactly one owner — so this
// wraps a fixed display name instead of looking a user up by session.
type enrollee struct {
	id          string
	name        string
	displayName string
	credentials []webauthn.Credential
}

func (e *enrollee) WebAuthnID() []byte                         { return []byte(e.id) }
func (e *enrollee) WebAuthnName() string                       { return e.name }
func (e *enrollee) WebAuthnDisplayName() string                { return e.displayName }
func (e *enrollee) WebAuthnCredentials() []webauthn.Credential { return e.credentials }

// Enroller runs the WebAuthn registration ceremony a host owner completes
// once to add their authenticator's public key to the host's allow list.
// No beachhost command calls it; serving the ceremony to a browser is left
// to the caller. Grounded on a relay passkey registration-begin/
// finish pair, collapsed here into plain functions since this host has no
// standing HTTP API to hang handlers off.
type Enroller struct {
	wa       *webauthn.WebAuthn
	sessions map[string]*webauthn.SessionData
}

// NewEnroller constructs an Enroller for a relying party identified by
// rpID (typically "localhost" for a loopback enrollment flow) and the
// origins the browser-side ceremony will run from.
func NewEnroller(rpID, rpDisplayName string, origins []string) (*Enroller, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: rpDisplayName,
		RPID:          rpID,
		RPOrigins:     origins,
	})
	if err != nil {
		return nil, fmt.Errorf("init webauthn: %w", err)
	}
	return &Enroller{wa: wa, sessions: make(map[string]*webauthn.SessionData)}, nil
}

// BeginEnrollment starts a registration ceremony for deviceID, returning
// the CredentialCreation options to hand to the browser.
func (e *Enroller) BeginEnrollment(deviceID, label string) (*protocol.CredentialCreation, error) {
	user := &enrollee{id: deviceID, name: label, displayName: label}
	options, session, err := e.wa.BeginRegistration(user,
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementDiscouraged),
	)
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}
	e.sessions[deviceID] = session
	return options, nil
}

// FinishEnrollment completes a registration ceremony, returning the raw
// 64-byte P-256 public key (X||Y) to add to NewPasskeyChallenger's
// allow list.
func (e *Enroller) FinishEnrollment(deviceID, label string, response *protocol.ParsedCredentialCreationData) ([]byte, error) {
	session, ok := e.sessions[deviceID]
	if !ok {
		return nil, errors.New("no enrollment session for device")
	}
	delete(e.sessions, deviceID)

	user := &enrollee{id: deviceID, name: label, displayName: label}
	credential, err := e.wa.CreateCredential(user, *session, response)
	if err != nil {
		return nil, fmt.Errorf("finish registration: %w", err)
	}

	rawKey, err := extractRawP256Key(credential.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("extract public key: %w", err)
	}
	return rawKey, nil
}

// extractRawP256Key extracts the raw 64-byte P-256 public key (X||Y) from
// a COSE-encoded credential public key, matching the format
// VerifyPasskeyAssertion expects.
func extractRawP256Key(coseKey []byte) ([]byte, error) {
	parsed, err := webauthncose.ParsePublicKey(coseKey)
	if err != nil {
		return nil, err
	}
	ec2, ok := parsed.(webauthncose.EC2PublicKeyData)
	if !ok {
		return nil, errors.New("not an EC2 (P-256) key")
	}
	if len(ec2.XCoord) != 32 || len(ec2.YCoord) != 32 {
		return nil, errors.New("unexpected coordinate length")
	}
	raw := make([]byte, 64)
	copy(raw[:32], ec2.XCoord)
	copy(raw[32:], ec2.YCoord)
	return raw, nil
}
