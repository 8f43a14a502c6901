package cryptox

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
)

// LoadOrGenerateKeyFile returns the key material stored at path, generating
// and saving a random key first if the file does not exist.
func LoadOrGenerateKeyFile(path string) ([]byte, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		raw, err := RandomBytes(KeySize)
		if err != nil {
			return nil, err
		}
		material := base64.RawURLEncoding.EncodeToString(raw)

		if err := os.WriteFile(path, []byte(material), 0600); err != nil {
			return nil, err
		}
		return []byte(material), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return []byte(strings.TrimSpace(string(data))), nil
}
