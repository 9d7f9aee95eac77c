package webhook

import (
	"strings"
	"testing"
)

func TestComputeHMAC(t *testing.T) {
	got := ComputeHMAC([]byte("The quick brown fox jumps over the lazy dog"), "key")
	want := "sha256=f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8"
	if got != want {
		t.Errorf("ComputeHMAC() = %v, want %v", got, want)
	}

	for _, payload := range []string{"", `{"event":"rules.updated"}`} {
		sig := ComputeHMAC([]byte(payload), "s3cret")
		if hexPart := strings.TrimPrefix(sig, "sha256="); len(hexPart) != 64 {
			t.Errorf("ComputeHMAC(%q) hex part length = %v, want 64", payload, len(hexPart))
		}
	}
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"event":"post.blocked"}`)
	valid := ComputeHMAC(payload, "my-secret")

	tests := []struct {
		name      string
		signature string
		secret    string
		want      bool
	}{
		{"valid signature", valid, "my-secret", true},
		{"wrong secret", valid, "other-secret", false},
		{"invalid signature", "sha256=invalid", "my-secret", false},
		{"empty signature", "", "my-secret", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(payload, tt.signature, tt.secret); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerateSecret(t *testing.T) {
	secret1, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}
	if !strings.HasPrefix(secret1, "whsec_") {
		t.Errorf("GenerateSecret() secret does not have 'whsec_' prefix: %v", secret1)
	}
	// 32 random bytes, unpadded base64
	if len(secret1) != len("whsec_")+43 {
		t.Errorf("GenerateSecret() secret length = %d", len(secret1))
	}

	secret2, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}
	if secret1 == secret2 {
		t.Errorf("GenerateSecret() generated identical secrets, should be random")
	}
}
