package identity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCredentialFile(t *testing.T, dir string, content map[string]any) string {
	t.Helper()

	data, err := json.Marshal(content)
	require.NoError(t, err)

	path := filepath.Join(dir, "token.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func authorizedUser(overrides map[string]any) map[string]any {
	content := map[string]any{
		"token":         "ya29.current",
		"refresh_token": "1//refresh",
		"token_uri":     "https://oauth2.googleapis.com/token",
		"client_id":     "client.apps.googleusercontent.com",
		"client_secret": "shh",
		"scopes":        []string{"https://www.googleapis.com/auth/admin.directory.user.readonly"},
		"expiry":        "2030-01-01T00:00:00Z",
	}
	for k, v := range overrides {
		if v == nil {
			delete(content, k)
			continue
		}
		content[k] = v
	}
	return content
}

func TestLoadCredentialFile(t *testing.T) {
	t.Run("complete file", func(t *testing.T) {
		path := writeCredentialFile(t, t.TempDir(), authorizedUser(nil))

		cred, err := LoadCredentialFile(path)
		require.NoError(t, err)

		assert.Equal(t, "ya29.current", cred.Token)
		assert.Equal(t, "1//refresh", cred.RefreshToken)
		assert.Equal(t, "client.apps.googleusercontent.com", cred.ClientID)
		assert.Equal(t, "shh", cred.ClientSecret)
		assert.Equal(t, []string{"https://www.googleapis.com/auth/admin.directory.user.readonly"}, cred.Scopes)
		assert.Equal(t, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), cred.Expiry)
		assert.Equal(t, path, cred.Path())
	})

	t.Run("defaults and alternate encodings", func(t *testing.T) {
		path := writeCredentialFile(t, t.TempDir(), authorizedUser(map[string]any{
			"token_uri": nil,
			"scopes":    "scope-a scope-b",
			"expiry":    "2024-05-01T10:00:00.123456",
		}))

		cred, err := LoadCredentialFile(path)
		require.NoError(t, err)

		assert.Equal(t, DefaultTokenURI, cred.TokenURI)
		assert.Equal(t, []string{"scope-a", "scope-b"}, cred.Scopes)
		assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC), cred.Expiry)
	})

	t.Run("no access token or expiry", func(t *testing.T) {
		path := writeCredentialFile(t, t.TempDir(), authorizedUser(map[string]any{"token": nil, "expiry": nil}))

		cred, err := LoadCredentialFile(path)
		require.NoError(t, err)
		assert.Empty(t, cred.Token)
		assert.True(t, cred.Expiry.IsZero())
	})

	t.Run("access token only", func(t *testing.T) {
		path := writeCredentialFile(t, t.TempDir(), map[string]any{
			"token":  "abc",
			"expiry": "2030-01-01T00:00:00Z",
		})

		cred, err := LoadCredentialFile(path)
		require.NoError(t, err)
		assert.Equal(t, "abc", cred.Token)
		assert.Empty(t, cred.RefreshToken)
		assert.Equal(t, DefaultTokenURI, cred.TokenURI)
		assert.Equal(t, []string{"client_id", "client_secret"}, cred.MissingRefreshKeys())
	})

	failures := []struct {
		name    string
		setup   func(t *testing.T, dir string) string
		wantMsg string
	}{
		{
			name:    "no path",
			setup:   func(*testing.T, string) string { return "" },
			wantMsg: "no credential file configured",
		},
		{
			name:    "missing file",
			setup:   func(_ *testing.T, dir string) string { return filepath.Join(dir, "absent.json") },
			wantMsg: "cannot read file",
		},
		{
			name: "corrupt file",
			setup: func(t *testing.T, dir string) string {
				path := filepath.Join(dir, "token.json")
				require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
				return path
			},
			wantMsg: "not a JSON object",
		},
		{
			name: "bad expiry",
			setup: func(t *testing.T, dir string) string {
				return writeCredentialFile(t, dir, authorizedUser(map[string]any{"expiry": "tomorrow"}))
			},
			wantMsg: "invalid expiry",
		},
		{
			name: "bad scopes",
			setup: func(t *testing.T, dir string) string {
				return writeCredentialFile(t, dir, authorizedUser(map[string]any{"scopes": 42}))
			},
			wantMsg: "invalid scopes",
		},
	}

	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.setup(t, t.TempDir())

			_, err := LoadCredentialFile(path)

			var loadErr *CredentialLoadError
			require.ErrorAs(t, err, &loadErr)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.True(t, IsFatal(err))
		})
	}
}

func TestCredential_Save(t *testing.T) {
	dir := t.TempDir()
	path := writeCredentialFile(t, dir, authorizedUser(map[string]any{
		"universe_domain": "googleapis.com",
		"account":         "",
		"custom":          map[string]any{"nested": true},
	}))

	cred, err := LoadCredentialFile(path)
	require.NoError(t, err)

	cred.Token = "ya29.new"
	cred.Expiry = time.Date(2031, 2, 3, 4, 5, 6, 0, time.FixedZone("EST", -5*3600))
	require.NoError(t, cred.Save())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var saved map[string]any
	require.NoError(t, json.Unmarshal(data, &saved))

	assert.Equal(t, "ya29.new", saved["token"])
	assert.Equal(t, "1//refresh", saved["refresh_token"])
	assert.Equal(t, "2031-02-03T09:05:06Z", saved["expiry"])
	assert.Equal(t, "googleapis.com", saved["universe_domain"])
	assert.Equal(t, "", saved["account"])
	assert.Equal(t, map[string]any{"nested": true}, saved["custom"])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reloaded, err := LoadCredentialFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ya29.new", reloaded.Token)
	assert.True(t, reloaded.Expiry.Equal(cred.Expiry))
}

func TestCredential_SaveFailureKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	path := writeCredentialFile(t, dir, authorizedUser(nil))

	cred, err := LoadCredentialFile(path)
	require.NoError(t, err)

	cred.path = filepath.Join(dir, "missing-dir", "token.json")
	cred.Token = "ya29.lost"
	assert.Error(t, cred.Save())

	original, err := LoadCredentialFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ya29.current", original.Token)
}

func TestClassify(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		cred *Credential
		want CredentialState
	}{
		{"nil", nil, StateUnloaded},
		{"token not expired", &Credential{Token: "t", RefreshToken: "r", Expiry: now.Add(time.Hour)}, StateValid},
		{"token without expiry", &Credential{Token: "t", RefreshToken: "r"}, StateValid},
		{"expired with refresh token", &Credential{Token: "t", RefreshToken: "r", Expiry: now.Add(-time.Hour)}, StateExpiredRefreshable},
		{"expires within skew", &Credential{Token: "t", RefreshToken: "r", Expiry: now.Add(5 * time.Second)}, StateExpiredRefreshable},
		{"expired no access token", &Credential{RefreshToken: "r", Expiry: now.Add(-time.Minute)}, StateExpiredRefreshable},
		{"expired without refresh token", &Credential{Token: "t", Expiry: now.Add(-time.Hour)}, StateExpiredUnrefreshable},
		{"no token no expiry with refresh token", &Credential{RefreshToken: "r"}, StateExpiredUnrefreshable},
		{"no token future expiry", &Credential{RefreshToken: "r", Expiry: now.Add(time.Hour)}, StateExpiredUnrefreshable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.cred, now))
		})
	}
}

func TestCredentialState_String(t *testing.T) {
	assert.Equal(t, "valid", StateValid.String())
	assert.Equal(t, "expired_refreshable", StateExpiredRefreshable.String())
	assert.Equal(t, "expired_unrefreshable", StateExpiredUnrefreshable.String())
	assert.Equal(t, "unknown", CredentialState(42).String())
}
