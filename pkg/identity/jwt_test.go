package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestJWTProvider_IssueAndParse(t *testing.T) {
	p := NewJWTProvider(testSecret, "acesso")

	token, err := p.Issue(Actor{ID: "ana", Name: "Ana", Role: "Atendimento"}, time.Hour)
	require.NoError(t, err)

	actor, err := p.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, &Actor{ID: "ana", Name: "Ana", Role: "Atendimento"}, actor)
}

func TestJWTProvider_Rejects(t *testing.T) {
	p := NewJWTProvider(testSecret, "acesso")

	t.Run("expired", func(t *testing.T) {
		past := NewJWTProvider(testSecret, "acesso")
		past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, err := past.Issue(Actor{ID: "ana"}, time.Hour)
		require.NoError(t, err)

		_, err = p.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWTProvider("ffffffffffffffffffffffffffffffff", "acesso")
		token, err := other.Issue(Actor{ID: "ana"}, time.Hour)
		require.NoError(t, err)

		_, err = p.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewJWTProvider(testSecret, "someone-else")
		token, err := other.Issue(Actor{ID: "ana"}, time.Hour)
		require.NoError(t, err)

		_, err = p.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{EmployeeID: "ana"})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = p.Parse(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing employee id", func(t *testing.T) {
		token, err := p.Issue(Actor{Name: "Nobody"}, time.Hour)
		require.NoError(t, err)

		_, err = p.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestJWTProvider_Authenticate(t *testing.T) {
	p := NewJWTProvider(testSecret, "acesso")
	token, err := p.Issue(Actor{ID: "ana", Name: "Ana", Role: "Atendimento"}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/", nil)
	_, err = p.Authenticate(req)
	assert.ErrorIs(t, err, ErrNoActor)

	req.Header.Set("Authorization", "Basic abc")
	_, err = p.Authenticate(req)
	assert.ErrorIs(t, err, ErrInvalidToken)

	req.Header.Set("Authorization", "Bearer "+token)
	actor, err := p.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "ana", actor.ID)
}

func TestMiddleware(t *testing.T) {
	p := NewJWTProvider(testSecret, "acesso")
	token, err := p.Issue(Actor{ID: "ana", Name: "Ana", Role: "Atendimento"}, time.Hour)
	require.NoError(t, err)

	var seen *Actor
	handler := Middleware(p, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ActorFromContext(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		wantID string
	}{
		{"valid token", "Bearer " + token, "ana"},
		{"no token", "", ""},
		{"garbage token", "Bearer not-a-token", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			if tt.wantID == "" {
				assert.Nil(t, seen)
				return
			}
			require.NotNil(t, seen)
			assert.Equal(t, tt.wantID, seen.ID)
		})
	}
}
