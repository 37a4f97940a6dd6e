// Package credential loads the Google service-account identity used to
// authenticate against the FCM token endpoint.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrInvalid signals a service-account document that is missing required
// fields or cannot be parsed.
var ErrInvalid = errors.New("credential: invalid service account")

// ServiceAccount is the parsed service-account identity. Immutable after Load.
type ServiceAccount struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	ClientID     string `json:"client_id"`
	AuthURI      string `json:"auth_uri"`
	TokenURI     string `json:"token_uri"`
}

// Load reads and validates a service-account JSON file. It is called once,
// when the owning pusher is constructed.
func Load(path string) (ServiceAccount, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ServiceAccount{}, fmt.Errorf("read service account file: %w", err)
	}

	var account ServiceAccount
	if err := json.Unmarshal(raw, &account); err != nil {
		return ServiceAccount{}, fmt.Errorf("%w: parse json: %v", ErrInvalid, err)
	}

	required := []struct {
		key   string
		value string
	}{
		{"project_id", account.ProjectID},
		{"private_key_id", account.PrivateKeyID},
		{"private_key", account.PrivateKey},
		{"client_email", account.ClientEmail},
		{"token_uri", account.TokenURI},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return ServiceAccount{}, fmt.Errorf("%w: missing %s", ErrInvalid, field.key)
		}
	}

	return account, nil
}
