package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCost = 12
	issuer     = "slips"
	scopeClaim = "scope"
	// OperatorScope is the only scope the operator API accepts.
	OperatorScope = "operator"
)

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidCredentials = errors.New("invalid operator credentials")
	ErrLoginDisabled      = errors.New("operator login is not configured")
)

// AuthService issues and validates operator bearer tokens.
type AuthService struct {
	JWTSecret   string
	TokenExpiry time.Duration
	// KeyHash is the bcrypt hash of the operator API key; empty disables key login.
	KeyHash string
	now     func() time.Time
}

func NewAuthService(secret string, expiry time.Duration, keyHash string) *AuthService {
	return &AuthService{
		JWTSecret:   secret,
		TokenExpiry: expiry,
		KeyHash:     keyHash,
		now:         time.Now,
	}
}

func (a *AuthService) HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Login exchanges the operator API key for a token issued to operator.
func (a *AuthService) Login(operator, key string) (string, error) {
	if a.KeyHash == "" {
		return "", ErrLoginDisabled
	}
	if operator == "" {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.KeyHash), []byte(key)); err != nil {
		return "", ErrInvalidCredentials
	}
	return a.GenerateToken(operator)
}

func (a *AuthService) GenerateToken(operator string) (string, error) {
	if operator == "" {
		return "", errors.New("operator name is required")
	}
	now := a.now()
	claims := jwt.MapClaims{
		"sub":      operator,
		"iss":      issuer,
		scopeClaim: OperatorScope,
		"exp":      now.Add(a.TokenExpiry).Unix(),
		"iat":      now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.JWTSecret))
}

// ValidateToken returns the operator a token was issued to.
func (a *AuthService) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.JWTSecret), nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(a.now))
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if scope, _ := claims[scopeClaim].(string); scope != OperatorScope {
		return "", ErrInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("invalid token: 'sub' claim missing or not a string")
	}
	return sub, nil
}
