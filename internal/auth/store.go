package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DeviceToken is the client-side cached credential: the device JWT a host's
// TokenIssuer granted after one interactive approval, replayed on
// subsequent reconnects (ChallengeDeviceToken) so the user isn't asked to
// re-approve every session.
type DeviceToken struct {
	DeviceID  string `yaml:"device_id"`
	Token     string `yaml:"token"`
	ExpiresAt int64  `yaml:"expires_at"`
}

type TokenStore struct {
	Dir string
}

func NewTokenStore(dir string) *TokenStore {
	return &TokenStore{Dir: dir}
}

func (s *TokenStore) tokenPath() string {
	return filepath.Join(s.Dir, "device_token.yaml")
}

func (s *TokenStore) Save(token *DeviceToken) error {
	data, err := yaml.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := os.WriteFile(s.tokenPath(), data, 0600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

func (s *TokenStore) Load() (*DeviceToken, error) {
	data, err := os.ReadFile(s.tokenPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read token: %w", err)
	}

	var token DeviceToken
	if err := yaml.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return &token, nil
}

func (s *TokenStore) Delete() error {
	err := os.Remove(s.tokenPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

func (s *TokenStore) IsValid(token *DeviceToken) bool {
	if token == nil {
		return false
	}
	if token.ExpiresAt == 0 {
		return true
	}
	return time.Now().Unix() < token.ExpiresAt
}
