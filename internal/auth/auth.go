package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// GatewayUser is the subject of tokens issued to the chat gateway itself
// rather than on behalf of one member.
const GatewayUser int64 = 0

const DefaultTokenTTL = 24 * time.Hour

// AuthService issues and verifies tokens. The chat gateway proves itself with
// a shared secret (stored as a bcrypt hash) and then acts on behalf of chat
// members, one token per member id.
type AuthService struct {
	jwtSecret   []byte
	gatewayHash []byte
	ttl         time.Duration
}

// NewAuthService creates a new auth service
func NewAuthService(jwtSecret, gatewaySecretHash string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &AuthService{
		jwtSecret:   []byte(jwtSecret),
		gatewayHash: []byte(gatewaySecretHash),
		ttl:         ttl,
	}
}

// HashSecret produces the value to configure as the gateway secret hash
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret cannot be empty")
	}
	if len(secret) > 72 {
		return "", fmt.Errorf("secret too long (max 72 bytes)")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// IssueToken verifies the gateway secret and generates a JWT for userID.
// userID GatewayUser yields a gateway token.
func (s *AuthService) IssueToken(gatewaySecret string, userID int64) (string, error) {
	if userID < 0 {
		return "", fmt.Errorf("user id must not be negative")
	}
	if len(s.gatewayHash) == 0 {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(s.gatewayHash, []byte(gatewaySecret)); err != nil {
		return "", ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(s.ttl).Unix(),
	})
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// GetUserFromToken extracts user ID from JWT
func (s *AuthService) GetUserFromToken(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, ErrInvalidToken
	}
	if _, ok := claims["exp"]; !ok {
		return 0, ErrInvalidToken
	}
	userID, ok := claims["user_id"].(float64)
	if !ok || userID < 0 {
		return 0, ErrInvalidToken
	}
	return int64(userID), nil
}
