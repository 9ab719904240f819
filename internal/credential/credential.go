// Package credential decodes service account keys and manages the temporary
// key file the storage client authenticates with.
package credential

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrMalformed is returned when the credential payload is not valid base64
// encoded JSON describing a service account.
var ErrMalformed = errors.New("credential: malformed service account key")

// ServiceCredential is a decoded service account key. Raw holds the decoded
// JSON exactly as supplied and is what gets written to disk.
type ServiceCredential struct {
	Type        string `json:"type"`
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`

	Raw []byte `json:"-"`
}

// Decode base64-decodes payload and parses the JSON inside it. Whitespace,
// such as the line wrapping added by `base64`, is ignored.
func Decode(payload string) (*ServiceCredential, error) {
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, payload)

	raw, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %w", ErrMalformed, err)
	}

	var c ServiceCredential
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %w", ErrMalformed, err)
	}
	if c.ClientEmail == "" {
		return nil, fmt.Errorf("%w: client_email is missing", ErrMalformed)
	}
	c.Raw = raw
	return &c, nil
}
