package auth

import (
	"errors"
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	service := NewService("test-secret")
	service.RegisterAPICredentials("key-1", "secret-1", "admin", "read")

	token, err := service.GenerateToken(Credentials{APIKey: "key-1", APISecret: "secret-1"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if token.Token == "" {
		t.Fatal("empty token")
	}
	if time.Until(token.Expiration) > 24*time.Hour {
		t.Fatalf("expiration too far out: %v", token.Expiration)
	}

	claims, err := service.ValidateToken(token.Token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.ClientID != "key-1" {
		t.Fatalf("ClientID=%q", claims.ClientID)
	}
	if len(claims.Permissions) != 2 || claims.Permissions[0] != "admin" {
		t.Fatalf("Permissions=%v", claims.Permissions)
	}
}

func TestGenerateTokenInvalidCredentials(t *testing.T) {
	service := NewService("test-secret")
	service.RegisterAPICredentials("key-1", "secret-1")

	tests := []struct {
		name  string
		creds Credentials
	}{
		{"unknown key", Credentials{APIKey: "nope", APISecret: "secret-1"}},
		{"wrong secret", Credentials{APIKey: "key-1", APISecret: "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := service.GenerateToken(tt.creds); !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("err=%v, expected ErrInvalidCredentials", err)
			}
		})
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	issuer := NewService("secret-a")
	issuer.RegisterAPICredentials("key-1", "secret-1")
	token, err := issuer.GenerateToken(Credentials{APIKey: "key-1", APISecret: "secret-1"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	verifier := NewService("secret-b")
	if _, err := verifier.ValidateToken(token.Token); err == nil {
		t.Fatal("token signed with a different secret validated")
	}
}

func TestDefaultPermissionIsRead(t *testing.T) {
	service := NewService("test-secret")
	service.RegisterAPICredentials("key-1", "secret-1")

	token, err := service.GenerateToken(Credentials{APIKey: "key-1", APISecret: "secret-1"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := service.ValidateToken(token.Token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(claims.Permissions) != 1 || claims.Permissions[0] != "read" {
		t.Fatalf("Permissions=%v, expected [read]", claims.Permissions)
	}
}
