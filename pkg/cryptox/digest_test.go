package cryptox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRandomBytes(t *testing.T) {
	a, err := RandomBytes(KeySize)
	require.NoError(t, err)
	require.Len(t, a, KeySize)

	b, err := RandomBytes(KeySize)
	require.NoError(t, err)
	require.NotEqual(t, a, b, "random bytes should be unique")
}

func TestRandomBytes_InvalidSize(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"zero size", 0},
		{"negative size", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := RandomBytes(tt.size)
			require.Error(t, err)
			require.Nil(t, buf)
		})
	}
}

func TestDigest(t *testing.T) {
	d1a := Digest([]byte(`{"title":"milk"}`))
	d1b := Digest([]byte(`{"title":"milk"}`))
	d2 := Digest([]byte(`{"title":"eggs"}`))

	// Digest should be deterministic
	require.Equal(t, d1a, d1b, "digest should be deterministic")

	// Different payloads should have different digests
	require.NotEqual(t, d1a, d2, "different payloads should have different digests")

	// Digest should be base64url encoded SHA-256 (43 chars)
	require.Len(t, d1a, 43, "SHA-256 base64url should be 43 chars")
}
