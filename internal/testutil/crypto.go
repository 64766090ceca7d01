package testutil

import (
	"testing"

	"github.com/vdavid/werkbank/internal/crypto"
)

// TestEncryptionKeyBase64 is the key 0x00..0x1f, used by tests and the dev server.
const TestEncryptionKeyBase64 = "AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8="

// GetTestEncryptor returns an encryptor with a fixed key.
func GetTestEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()

	encryptor, err := crypto.NewEncryptor(TestEncryptionKeyBase64)
	if err != nil {
		t.Fatalf("Failed to create encryptor: %v", err)
	}
	return encryptor
}

// EncryptForTest encrypts a password with the test key and fails the test on error.
func EncryptForTest(t *testing.T, password string) []byte {
	t.Helper()

	sealed, err := GetTestEncryptor(t).Encrypt(password)
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	return sealed
}
