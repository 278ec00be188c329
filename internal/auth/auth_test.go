package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("secret")
	tok, err := v.Sign(Principal{UserID: "u1", IsAdmin: true}, time.Hour)
	require.NoError(t, err)

	p, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "u1", IsAdmin: true}, p)
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("secret")

	other, err := NewVerifier("other").Sign(Principal{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(other)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	expired, err := v.Sign(Principal{UserID: "u1"}, -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"admin": true}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.Verify(noUser)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := NewVerifier("secret")

	r := gin.New()
	r.GET("/me", Middleware(v), func(c *gin.Context) {
		p, _ := FromGin(c)
		c.JSON(http.StatusOK, p)
	})
	r.GET("/admin", Middleware(v), RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	do := func(path, token string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	user, _ := v.Sign(Principal{UserID: "u1"}, time.Hour)
	admin, _ := v.Sign(Principal{UserID: "a1", IsAdmin: true}, time.Hour)

	assert.Equal(t, http.StatusUnauthorized, do("/me", ""))
	assert.Equal(t, http.StatusUnauthorized, do("/me", "garbage"))
	assert.Equal(t, http.StatusOK, do("/me", user))
	assert.Equal(t, http.StatusForbidden, do("/admin", user))
	assert.Equal(t, http.StatusNoContent, do("/admin", admin))
}
