package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTokenURI is used when the credential file names no token endpoint.
const DefaultTokenURI = "https://oauth2.googleapis.com/token"

// expiryLayoutNoZone is the naive UTC timestamp some writers emit.
const expiryLayoutNoZone = "2006-01-02T15:04:05.999999999"

// Credential is a Google "authorized user" credential file.
type Credential struct {
	Token        string
	RefreshToken string
	TokenURI     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Expiry       time.Time

	path string
	// raw keeps every key of the file so that unknown keys survive a rewrite.
	raw map[string]json.RawMessage
}

// Path returns the file the credential was loaded from.
func (c *Credential) Path() string {
	return c.path
}

// LoadCredentialFile reads and decodes the credential file at path.
func LoadCredentialFile(path string) (*Credential, error) {
	if path == "" {
		return nil, &CredentialLoadError{Path: path, Reason: "no credential file configured"}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &CredentialLoadError{Path: path, Reason: "cannot read file", Err: err}
	}

	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &CredentialLoadError{Path: path, Reason: "file is not a JSON object", Err: err}
	}

	cred := &Credential{path: path, raw: raw}

	fields := []struct {
		key string
		dst *string
	}{
		{"token", &cred.Token},
		{"refresh_token", &cred.RefreshToken},
		{"token_uri", &cred.TokenURI},
		{"client_id", &cred.ClientID},
		{"client_secret", &cred.ClientSecret},
	}
	for _, f := range fields {
		if err := decodeOptionalString(raw, f.key, f.dst); err != nil {
			return nil, &CredentialLoadError{Path: path, Reason: "invalid " + f.key, Err: err}
		}
	}

	if cred.TokenURI == "" {
		cred.TokenURI = DefaultTokenURI
	}

	scopes, err := decodeScopes(raw["scopes"])
	if err != nil {
		return nil, &CredentialLoadError{Path: path, Reason: "invalid scopes", Err: err}
	}
	cred.Scopes = scopes

	var expiry string
	if err := decodeOptionalString(raw, "expiry", &expiry); err != nil {
		return nil, &CredentialLoadError{Path: path, Reason: "invalid expiry", Err: err}
	}
	if expiry != "" {
		t, err := parseExpiry(expiry)
		if err != nil {
			return nil, &CredentialLoadError{Path: path, Reason: "invalid expiry", Err: err}
		}
		cred.Expiry = t
	}

	return cred, nil
}

// MissingRefreshKeys names the client keys a token refresh needs but the
// file lacks.
func (c *Credential) MissingRefreshKeys() []string {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	return missing
}

func decodeOptionalString(raw map[string]json.RawMessage, key string, dst *string) error {
	v, ok := raw[key]
	if !ok || string(v) == "null" {
		return nil
	}
	return json.Unmarshal(v, dst)
}

// decodeScopes accepts a JSON list or a space-separated string.
func decodeScopes(v json.RawMessage) ([]string, error) {
	if len(v) == 0 || string(v) == "null" {
		return nil, nil
	}

	var list []string
	if err := json.Unmarshal(v, &list); err == nil {
		return list, nil
	}

	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, errors.New("scopes must be a list or a string")
	}
	return strings.Fields(s), nil
}

func parseExpiry(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(expiryLayoutNoZone, strings.TrimSuffix(s, "Z"), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
	}
	return t, nil
}

// Save writes the credential back to its file atomically. Keys the
// credential does not model are preserved.
func (c *Credential) Save() error {
	out := make(map[string]any, len(c.raw)+6)
	for k, v := range c.raw {
		out[k] = v
	}

	out["token"] = c.Token
	out["refresh_token"] = c.RefreshToken
	out["token_uri"] = c.TokenURI
	out["client_id"] = c.ClientID
	out["client_secret"] = c.ClientSecret
	if len(c.Scopes) > 0 {
		out["scopes"] = c.Scopes
	}
	if c.Expiry.IsZero() {
		delete(out, "expiry")
	} else {
		out["expiry"] = c.Expiry.UTC().Format(time.RFC3339Nano)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}

	if err := writeFileAtomic(c.path, data, 0o600); err != nil {
		return err
	}

	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err == nil {
		c.raw = raw
	}
	return nil
}

// writeFileAtomic replaces path with data via a temp file in the same
// directory.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}

	tmpName = ""
	return nil
}
