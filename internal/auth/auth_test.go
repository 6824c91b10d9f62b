package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeDB(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad_MissingFileIsUnauthenticatedOpen(t *testing.T) {
	a, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	require.Nil(t, a)

	account, ok := a.Authenticate("any-key", "1.2.3.4")
	require.True(t, ok)
	require.NotNil(t, account)
}

func TestAuthenticate_UnknownKeyDenied(t *testing.T) {
	path := writeDB(t, `{"keys":{"k1":{"userid":"alice"}}}`)
	a, err := Load(path)
	require.NoError(t, err)

	_, ok := a.Authenticate("k2", "1.2.3.4")
	require.False(t, ok)
}

func TestAuthenticate_NoAllowListPermitsAnyAddress(t *testing.T) {
	path := writeDB(t, `{"keys":{"k1":{"userid":"alice","email":"a@example.com"}}}`)
	a, err := Load(path)
	require.NoError(t, err)

	account, ok := a.Authenticate("k1", "203.0.113.9")
	require.True(t, ok)
	require.Equal(t, "alice", account.UserID)
	require.Equal(t, "a@example.com", account.Email)
}

func TestAuthenticate_AllowListRestrictsByCIDR(t *testing.T) {
	path := writeDB(t, `{"keys":{"k1":{"userid":"alice","allow":["10.0.0.0/24"]}}}`)
	a, err := Load(path)
	require.NoError(t, err)

	_, ok := a.Authenticate("k1", "10.0.0.42")
	require.True(t, ok)

	_, ok = a.Authenticate("k1", "10.0.1.1")
	require.False(t, ok)
}

func TestAuthenticate_AllowListAcceptsBareIP(t *testing.T) {
	path := writeDB(t, `{"keys":{"k1":{"userid":"alice","allow":["192.168.1.5"]}}}`)
	a, err := Load(path)
	require.NoError(t, err)

	_, ok := a.Authenticate("k1", "192.168.1.5")
	require.True(t, ok)

	_, ok = a.Authenticate("k1", "192.168.1.6")
	require.False(t, ok)
}

func TestLoad_RejectsMalformedAllowEntry(t *testing.T) {
	path := writeDB(t, `{"keys":{"k1":{"userid":"alice","allow":["not-an-ip"]}}}`)
	_, err := Load(path)
	require.Error(t, err)
}
