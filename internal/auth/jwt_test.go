package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/truespace/backend/internal/models"
)

func testUser() *models.User {
	return &models.User{ID: uuid.New(), Name: "Ada", Email: "ada@example.com", Role: models.RoleMember}
}

func TestJWT_GenerateValidate(t *testing.T) {
	svc := NewJWTService("secret", 7*24*time.Hour)
	user := testUser()

	token, err := svc.Generate(user)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	claims, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.UserID != user.ID || claims.Name != "Ada" || claims.Email != user.Email || claims.Role != "member" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("expected jti")
	}
	lifetime := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if lifetime != 7*24*time.Hour {
		t.Fatalf("expected 7 day lifetime, got %s", lifetime)
	}
}

func TestJWT_Expired(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)
	issued := time.Now().Add(-2 * time.Hour)
	svc.now = func() time.Time { return issued }
	token, err := svc.Generate(testUser())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	svc.now = time.Now

	if _, err := svc.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWT_WrongSecret(t *testing.T) {
	token, err := NewJWTService("a", time.Hour).Generate(testUser())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := NewJWTService("b", time.Hour).Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWT_RejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{
		UserID: uuid.New(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewJWTService("secret", time.Hour).Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWT_Garbage(t *testing.T) {
	if _, err := NewJWTService("secret", time.Hour).Validate("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
