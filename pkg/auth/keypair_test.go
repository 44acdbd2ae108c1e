package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/youmark/pkcs8"

	"github.com/ajitpratap0/airbridge/pkg/errors"
)

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestParsePrivateKeyUnencrypted(t *testing.T) {
	key := generateKey(t)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	parsed, err := ParsePrivateKey(data, "")
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))
}

func TestLoadPrivateKeyEncrypted(t *testing.T) {
	key := generateKey(t)
	der, err := pkcs8.MarshalPrivateKey(key, []byte("s3cret"), nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "rsa_key.p8")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: der}), 0o600))

	parsed, err := LoadPrivateKey(path, "s3cret")
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))

	_, err = LoadPrivateKey(path, "")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))

	_, err = LoadPrivateKey(path, "wrong")
	require.Error(t, err)
}

func TestParsePrivateKeyRejectsGarbage(t *testing.T) {
	_, err := ParsePrivateKey([]byte("not a key"), "")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))

	_, err = LoadPrivateKey(filepath.Join(t.TempDir(), "missing.p8"), "")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
