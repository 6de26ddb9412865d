package utils

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	SetJWTSecret("test-secret")

	stationID := int64(3)
	token, _, err := GenerateToken(42, "EMP-001", "SM", &stationID, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if claims.UserID != 42 {
		t.Errorf("user id = %d, want 42", claims.UserID)
	}
	if claims.EmployeeID != "EMP-001" {
		t.Errorf("employee id = %q, want EMP-001", claims.EmployeeID)
	}
	if claims.Role != "SM" {
		t.Errorf("role = %q, want SM", claims.Role)
	}
	if claims.StationID == nil || *claims.StationID != 3 {
		t.Errorf("station id = %v, want 3", claims.StationID)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	SetJWTSecret("test-secret")

	token, _, err := GenerateToken(1, "EMP-002", "Admin", nil, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := ParseToken(token); err == nil {
		t.Fatal("expected error for expired token, got nil")
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	SetJWTSecret("test-secret")
	token, _, err := GenerateToken(1, "EMP-003", "AM", nil, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	SetJWTSecret("another-secret")
	defer SetJWTSecret("test-secret")

	if _, err := ParseToken(token); err == nil {
		t.Fatal("expected error for token signed with a different secret, got nil")
	}
}
