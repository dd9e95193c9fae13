package identity

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the token claims understood by the service
type Claims struct {
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// JWTProvider validates HS256 bearer tokens
type JWTProvider struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTProvider creates a provider for tokens signed with secret
func NewJWTProvider(secret, issuer string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Issue signs a token for actor. Meant for tooling and tests; end-user
// tokens come from the session provider.
func (p *JWTProvider) Issue(actor Actor, ttl time.Duration) (string, error) {
	now := p.now()
	claims := Claims{
		EmployeeID: actor.ID,
		Name:       actor.Name,
		Role:       actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse validates a token string and returns its actor
func (p *JWTProvider) Parse(tokenString string) (*Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.now),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	id := claims.EmployeeID
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return nil, fmt.Errorf("%w: missing employee id", ErrInvalidToken)
	}

	return &Actor{ID: id, Name: claims.Name, Role: claims.Role}, nil
}

// Authenticate reads the bearer token of the request
func (p *JWTProvider) Authenticate(r *http.Request) (*Actor, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, ErrNoActor
	}

	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("%w: expected bearer authorization", ErrInvalidToken)
	}
	return p.Parse(strings.TrimSpace(tokenString))
}
