package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	encryptionKeyLen = 32
	encryptionIVLen  = 16
)

// SecurityMaterial is the persisted security configuration. The key and IV
// are a matched pair with the encrypted user storage file: losing either
// orphans the other.
type SecurityMaterial struct {
	EncryptionKey string `yaml:"encryption_key"`
	EncryptionIV  string `yaml:"encryption_iv"`
}

// LoadEncryptionMaterial reads the security file and returns the decoded
// key and IV. Missing material is generated and written back, so the first
// run seeds the file.
func LoadEncryptionMaterial(path string) ([]byte, []byte, error) {
	material := SecurityMaterial{}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &material); err != nil {
			return nil, nil, fmt.Errorf("parse security file %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, nil, fmt.Errorf("read security file %s: %w", path, err)
	}

	key, err := decodeOrGenerate(material.EncryptionKey, encryptionKeyLen)
	if err != nil {
		return nil, nil, fmt.Errorf("encryption key: %w", err)
	}
	iv, err := decodeOrGenerate(material.EncryptionIV, encryptionIVLen)
	if err != nil {
		return nil, nil, fmt.Errorf("encryption iv: %w", err)
	}

	generated := base64.StdEncoding.EncodeToString(key) != material.EncryptionKey ||
		base64.StdEncoding.EncodeToString(iv) != material.EncryptionIV
	if generated {
		material.EncryptionKey = base64.StdEncoding.EncodeToString(key)
		material.EncryptionIV = base64.StdEncoding.EncodeToString(iv)
		if err := writeSecurityMaterial(path, material); err != nil {
			return nil, nil, err
		}
	}
	return key, iv, nil
}

func decodeOrGenerate(encoded string, length int) ([]byte, error) {
	if encoded != "" {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode base64: %w", err)
		}
		if len(decoded) != length {
			return nil, fmt.Errorf("expected %d bytes, got %d", length, len(decoded))
		}
		return decoded, nil
	}
	generated := make([]byte, length)
	if _, err := rand.Read(generated); err != nil {
		return nil, fmt.Errorf("generate random bytes: %w", err)
	}
	return generated, nil
}

func writeSecurityMaterial(path string, material SecurityMaterial) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create security file directory: %w", err)
	}
	encoded, err := yaml.Marshal(material)
	if err != nil {
		return fmt.Errorf("encode security material: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return fmt.Errorf("write security file %s: %w", path, err)
	}
	return nil
}
