package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveConnectBaseURL(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		insecure bool
		want     string
		wantErr  bool
	}{
		{"loopback host:port", "127.0.0.1:1700", false, "http://127.0.0.1:1700", false},
		{"localhost", "localhost:1700", false, "http://localhost:1700", false},
		{"remote host:port", "images.example.com:443", false, "https://images.example.com:443", false},
		{"https url", "https://images.example.com/some/path", false, "https://images.example.com", false},
		{"http loopback url", "http://127.0.0.1:1700", false, "http://127.0.0.1:1700", false},
		{"http remote refused", "http://images.example.com", false, "", true},
		{"http remote allowed", "http://images.example.com", true, "http://images.example.com", false},
		{"bad scheme", "ftp://images.example.com", false, "", true},
		{"missing host", "https://", false, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveConnectBaseURL(tt.target, tt.insecure)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsLoopbackHost(t *testing.T) {
	assert.True(t, isLoopbackHost("localhost"))
	assert.True(t, isLoopbackHost("LOCALHOST"))
	assert.True(t, isLoopbackHost("127.0.0.1"))
	assert.True(t, isLoopbackHost("::1"))
	assert.False(t, isLoopbackHost(""))
	assert.False(t, isLoopbackHost("10.0.0.1"))
	assert.False(t, isLoopbackHost("example.com"))
}

func TestResolveTokenForTarget(t *testing.T) {
	t.Setenv(envToken, "")

	token, err := resolveTokenForTarget("https://images.example.com", " flag-token ")
	require.NoError(t, err)
	assert.Equal(t, "flag-token", token)

	_, err = resolveTokenForTarget("https://images.example.com", "")
	assert.Error(t, err)

	t.Setenv(envToken, "env-token")
	token, err = resolveTokenForTarget("https://images.example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "env-token", token)

	t.Setenv(envToken, "")
	stored := ensureAuthToken()
	token, err = resolveTokenForTarget("http://127.0.0.1:1700", "")
	require.NoError(t, err)
	assert.Equal(t, stored, token)
}

func TestResolveAPIConnection(t *testing.T) {
	t.Setenv(envServer, "")
	t.Setenv(envToken, "")
	removeActivePort()

	_, _, err := resolveAPIConnection("", "", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")

	saveActivePort(1777)
	defer removeActivePort()

	baseURL, _, err := resolveAPIConnection("", "tok", false)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:1777", baseURL)

	t.Setenv(envServer, "images.example.com:8443")
	baseURL, token, err := resolveAPIConnection("", "tok", false)
	require.NoError(t, err)
	assert.Equal(t, "https://images.example.com:8443", baseURL)
	assert.Equal(t, "tok", token)
}

func TestActivePortLifecycle(t *testing.T) {
	removeActivePort()
	assert.Equal(t, 0, readActivePort())

	saveActivePort(1733)
	assert.Equal(t, 1733, readActivePort())

	removeActivePort()
	assert.Equal(t, 0, readActivePort())
	// Removing twice is fine
	removeActivePort()
}

func TestFindAvailablePort(t *testing.T) {
	requireTCPListener(t)
	port, ln := findAvailablePort(defaultPort)
	require.NotNil(t, ln)
	defer func() { _ = ln.Close() }()

	next, ln2 := findAvailablePort(port)
	require.NotNil(t, ln2)
	defer func() { _ = ln2.Close() }()
	assert.Greater(t, next, port)
}

func TestReadRefsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.txt")
	content := "# export from Odoo\n42:8690000000017\n\n  43  \n# trailing\n44:\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tokens, err := readRefsFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"42:8690000000017", "43", "44:"}, tokens)

	_, err = readRefsFromFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestEnsureAuthToken(t *testing.T) {
	_ = os.Remove(tokenFile())

	assert.Empty(t, readAuthToken())
	first := ensureAuthToken()
	require.NotEmpty(t, first)
	assert.Equal(t, first, ensureAuthToken())
	assert.Equal(t, first, readAuthToken())

	info, err := os.Stat(tokenFile())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestInstanceLock(t *testing.T) {
	ok, err := AcquireLock()
	require.NoError(t, err)
	require.True(t, ok)

	// Re-acquiring from the holder succeeds
	ok, err = AcquireLock()
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, ReleaseLock())
	require.NoError(t, ReleaseLock())

	ok, err = AcquireLock()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, ReleaseLock())
}
