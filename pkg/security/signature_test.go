// pkg/security/signature_test.go
package security

import "testing"

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"gateway_ref":"gw-1","status":"SUCCESS"}`)
	secret := "test-secret"

	tests := []struct {
		name      string
		signature string
		secret    string
		wantErr   bool
	}{
		{"valid sha256", SignSHA256(body, secret), secret, false},
		{"valid sha512", SignSHA512(body, secret), secret, false},
		{"wrong secret", SignSHA256(body, "other"), secret, true},
		{"empty signature", "", secret, true},
		{"garbage", "deadbeef", secret, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(body, tt.signature, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Fatalf("VerifySignature() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifySignatureTamperedBody(t *testing.T) {
	secret := "test-secret"
	sig := SignSHA256([]byte(`{"amount":100}`), secret)
	if err := VerifySignature([]byte(`{"amount":900}`), sig, secret); err == nil {
		t.Fatal("tampered body accepted")
	}
}
