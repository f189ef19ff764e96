package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestNewSecretBox_EmptySecret(t *testing.T) {
	_, err := NewSecretBox("")
	if !errors.Is(err, ErrMasterSecretMissing) {
		t.Fatalf("expected ErrMasterSecretMissing, got %v", err)
	}
}

func TestSecretBox_RoundTrip(t *testing.T) {
	sb, err := NewSecretBox("test-master-secret")
	if err != nil {
		t.Fatalf("NewSecretBox: %v", err)
	}

	plaintexts := []string{
		"organization.a1b2c3d4",
		"hunter2",
		"",
		strings.Repeat("x", 4096),
		"unicode ‣ ünïcode ‣ 日本語",
	}

	for _, pt := range plaintexts {
		blob, err := sb.Encrypt(pt)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", pt, err)
		}

		got, err := sb.Decrypt(blob)
		if err != nil {
			t.Fatalf("Decrypt after Encrypt(%q): %v", pt, err)
		}
		if got != pt {
			t.Errorf("round trip mismatch: got %q, want %q", got, pt)
		}
	}
}

func TestSecretBox_EncryptIsNonDeterministic(t *testing.T) {
	sb, _ := NewSecretBox("test-master-secret")

	a, err := sb.Encrypt("same plaintext")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := sb.Encrypt("same plaintext")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if a == b {
		t.Error("two encryptions of the same plaintext produced identical blobs")
	}
}

func TestSecretBox_BlobLayout(t *testing.T) {
	sb, _ := NewSecretBox("test-master-secret")

	blob, err := sb.Encrypt("short")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		t.Fatalf("blob is not valid base64: %v", err)
	}

	want := saltLength + ivLength + tagLength + len("short")
	if len(raw) != want {
		t.Errorf("blob length = %d, want %d (salt+iv+tag+ciphertext)", len(raw), want)
	}
}

func TestSecretBox_Decrypt_MalformedBlob(t *testing.T) {
	sb, _ := NewSecretBox("test-master-secret")

	cases := []struct {
		name string
		blob string
	}{
		{"not base64", "!!!not-base64!!!"},
		{"empty", ""},
		{"too short", base64.StdEncoding.EncodeToString(make([]byte, saltLength+ivLength))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := sb.Decrypt(tc.blob)
			if !errors.Is(err, ErrBlobMalformed) {
				t.Errorf("expected ErrBlobMalformed, got %v", err)
			}
		})
	}
}

func TestSecretBox_Decrypt_TamperedCiphertext(t *testing.T) {
	sb, _ := NewSecretBox("test-master-secret")

	blob, err := sb.Encrypt("credential material")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	raw, _ := base64.StdEncoding.DecodeString(blob)

	// Flip one bit in each region; all must fail authentication.
	offsets := map[string]int{
		"salt":       0,
		"iv":         saltLength,
		"tag":        saltLength + ivLength,
		"ciphertext": saltLength + ivLength + tagLength,
	}

	for name, off := range offsets {
		t.Run(name, func(t *testing.T) {
			tampered := make([]byte, len(raw))
			copy(tampered, raw)
			tampered[off] ^= 0x01

			_, err := sb.Decrypt(base64.StdEncoding.EncodeToString(tampered))
			if !errors.Is(err, ErrAuthenticationFailed) {
				t.Errorf("expected ErrAuthenticationFailed, got %v", err)
			}
		})
	}
}

func TestSecretBox_Decrypt_WrongMasterSecret(t *testing.T) {
	sb1, _ := NewSecretBox("secret-one")
	sb2, _ := NewSecretBox("secret-two")

	blob, err := sb1.Encrypt("credential material")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := sb2.Decrypt(blob); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("expected ErrAuthenticationFailed, got %v", err)
	}
}
