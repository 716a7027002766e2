package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	claims map[string]interface{}
}

func (t *fakeToken) Claims(v interface{}) error {
	m, ok := v.(*map[string]interface{})
	if !ok {
		return errors.New("bad target")
	}
	*m = t.claims
	return nil
}

type fakeVerifier struct {
	sub string
	err error
}

func (f *fakeVerifier) Verify(ctx context.Context, raw string) (Token, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fakeToken{claims: map[string]interface{}{"sub": f.sub}}, nil
}

func TestAuthMiddleware_SetsSubject(t *testing.T) {
	r := gin.New()
	r.Use(AuthMiddleware(&fakeVerifier{sub: "user-9"}))
	r.GET("/who", func(c *gin.Context) {
		c.JSON(200, gin.H{"sub": Subject(c)})
	})

	req := httptest.NewRequest("GET", "/who", nil)
	req.Header.Set("Authorization", "Bearer sometoken")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "user-9")
}

func TestAuthMiddleware_RejectsMissingAndInvalid(t *testing.T) {
	r := gin.New()
	r.Use(AuthMiddleware(&fakeVerifier{err: errors.New("bad token")}))
	r.GET("/who", func(c *gin.Context) { c.JSON(200, gin.H{}) })

	// missing header
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/who", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// malformed header
	req := httptest.NewRequest("GET", "/who", nil)
	req.Header.Set("Authorization", "NotBearer")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// verifier rejects
	req = httptest.NewRequest("GET", "/who", nil)
	req.Header.Set("Authorization", "Bearer broken")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubject_AnonymousIsEmpty(t *testing.T) {
	r := gin.New()
	r.GET("/who", func(c *gin.Context) {
		require.Empty(t, Subject(c))
		c.Status(http.StatusOK)
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/who", nil))
	require.Equal(t, http.StatusOK, w.Code)
}
