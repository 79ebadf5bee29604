package opsauth

import "testing"

func TestIssueAndValidateRoundTrip(t *testing.T) {
	m, err := NewGenerated("skylink-server", "s3cret")
	if err != nil {
		t.Fatalf("NewGenerated: %v", err)
	}

	token, err := m.IssueToken()
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "operator" {
		t.Fatalf("Subject = %q, want operator", claims.Subject)
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	m, _ := NewGenerated("skylink-server", "s3cret")
	if _, err := m.ValidateToken("not-a-jwt"); err != ErrTokenInvalid {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestValidateTokenRejectsForeignSigner(t *testing.T) {
	a, _ := NewGenerated("skylink-server", "s3cret")
	b, _ := NewGenerated("skylink-server", "s3cret")

	token, _ := a.IssueToken()
	if _, err := b.ValidateToken(token); err != ErrTokenInvalid {
		t.Fatalf("err = %v, want ErrTokenInvalid for a token signed by a different key", err)
	}
}

func TestCheckCredential(t *testing.T) {
	m, _ := NewGenerated("skylink-server", "s3cret")
	if err := m.CheckCredential("s3cret"); err != nil {
		t.Fatalf("CheckCredential(correct): %v", err)
	}
	if err := m.CheckCredential("wrong"); err != ErrInvalidCredentials {
		t.Fatalf("CheckCredential(wrong) = %v, want ErrInvalidCredentials", err)
	}
}
