package webhook

import (
	"encoding/hex"
	"strings"
	"testing"
)

func TestVerifyHMACSignature(t *testing.T) {
	secret := "test-secret-key"
	body := []byte(`{"archive_path":"/drop/bike.zip"}`)

	signed := Sign(body, secret)
	plain := strings.TrimPrefix(signed, "sha256=")

	tests := []struct {
		name      string
		body      []byte
		signature string
		secret    string
		wantErr   bool
	}{
		{name: "valid signature - plain hex", body: body, signature: plain, secret: secret},
		{name: "valid signature - sha256 prefix", body: body, signature: signed, secret: secret},
		{
			name:      "invalid signature - wrong signature",
			body:      body,
			signature: strings.Repeat("0", 64),
			secret:    secret,
			wantErr:   true,
		},
		{
			name:      "invalid signature - tampered body",
			body:      []byte(`{"archive_path":"/etc/passwd"}`),
			signature: signed,
			secret:    secret,
			wantErr:   true,
		},
		{name: "invalid signature - wrong secret", body: body, signature: signed, secret: "wrong-secret", wantErr: true},
		{name: "invalid signature - empty signature", body: body, signature: "", secret: secret, wantErr: true},
		{name: "invalid signature - empty secret", body: body, signature: signed, secret: "", wantErr: true},
		{name: "invalid signature - malformed hex", body: body, signature: "not-valid-hex", secret: secret, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifyHMACSignature(tt.body, tt.signature, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("verifyHMACSignature() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && err.Error() != "webhook verification failed" {
				t.Errorf("error should be generic, got: %v", err)
			}
		})
	}
}

func TestParseSignature(t *testing.T) {
	const want = "3a8f7b2c1d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0c1d2e3f4a5b6c7d8e9f0a"

	for _, sig := range []string{"sha256=" + want, want} {
		got, err := parseSignature(sig)
		if err != nil {
			t.Fatalf("parseSignature(%q) error = %v", sig, err)
		}
		if hex.EncodeToString(got) != want {
			t.Errorf("parseSignature(%q) = %x, want %s", sig, got, want)
		}
	}

	if _, err := parseSignature("not-valid-hex"); err == nil {
		t.Error("expected error for invalid hex")
	}
}

func TestSign(t *testing.T) {
	body := []byte("test payload")

	sig := Sign(body, "test-secret")
	if !strings.HasPrefix(sig, "sha256=") || len(sig) != len("sha256=")+64 {
		t.Errorf("unexpected signature format %q", sig)
	}
	if sig != Sign(body, "test-secret") {
		t.Error("signature should be deterministic")
	}
	if sig == Sign([]byte("different"), "test-secret") {
		t.Error("different body should produce different signature")
	}
}

func TestParseMaxBodySize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "", want: DefaultMaxBodySize},
		{in: "2048", want: 2048},
		{in: "64KiB", want: 64 << 10},
		{in: "64KB", want: 64000},
		{in: " 1mib ", want: 1 << 20},
		{in: "2 GiB", want: 2 << 30},
		{in: "0", wantErr: true},
		{in: "-5KB", wantErr: true},
		{in: "lots", wantErr: true},
		{in: "2PB", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseMaxBodySize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseMaxBodySize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseMaxBodySize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
