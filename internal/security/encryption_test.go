package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastConfig keeps key derivation cheap in tests
func fastConfig() *EncryptionConfig {
	cfg := DefaultEncryptionConfig()
	cfg.SCryptN = 1024
	return cfg
}

func TestEncryptDecrypt(t *testing.T) {
	tests := []struct {
		name       string
		plaintext  []byte
		passphrase []byte
		wantErr    bool
	}{
		{"round trip", []byte(`{"pulse_consent":"{}"}`), []byte("secret"), false},
		{"empty plaintext", nil, []byte("secret"), true},
		{"empty passphrase", []byte("data"), nil, true},
		{"large", make([]byte, 64*1024), []byte("secret"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := Encrypt(tt.plaintext, tt.passphrase, fastConfig())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEqual(t, tt.plaintext, payload.Ciphertext)

			out, err := Decrypt(payload, tt.passphrase, fastConfig())
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, out)
		})
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	payload, err := Encrypt([]byte("visitor"), []byte("secret"), fastConfig())
	require.NoError(t, err)

	t.Run("wrong passphrase", func(t *testing.T) {
		_, err := Decrypt(payload, []byte("other"), fastConfig())
		assert.Error(t, err)
	})

	t.Run("modified ciphertext", func(t *testing.T) {
		tampered := *payload
		tampered.Ciphertext = append([]byte(nil), payload.Ciphertext...)
		tampered.Ciphertext[0] ^= 0xFF
		_, err := Decrypt(&tampered, []byte("secret"), fastConfig())
		assert.ErrorContains(t, err, "integrity")
	})

	t.Run("unknown version", func(t *testing.T) {
		tampered := *payload
		tampered.Version = 2
		_, err := Decrypt(&tampered, []byte("secret"), fastConfig())
		assert.Error(t, err)
	})
}

func TestEncryptUsesFreshSalt(t *testing.T) {
	a, err := Encrypt([]byte("same"), []byte("secret"), fastConfig())
	require.NoError(t, err)
	b, err := Encrypt([]byte("same"), []byte("secret"), fastConfig())
	require.NoError(t, err)

	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Nonce, b.Nonce)
}

func TestValidateEncryptionConfig(t *testing.T) {
	assert.NoError(t, ValidateEncryptionConfig(DefaultEncryptionConfig()))
	assert.Error(t, ValidateEncryptionConfig(nil))

	bad := DefaultEncryptionConfig()
	bad.SCryptN = 1000
	assert.Error(t, ValidateEncryptionConfig(bad))

	bad = DefaultEncryptionConfig()
	bad.NonceSize = 16
	assert.Error(t, ValidateEncryptionConfig(bad))
}
