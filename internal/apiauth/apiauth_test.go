package apiauth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

func TestTokenIssuer_IssueAndVerifyRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	token, err := issuer.Issue("user-1", now)
	require.NoError(t, err)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
}

func TestTokenIssuer_RejectsExpiredToken(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", -time.Minute)
	token, err := issuer.Issue("user-1", time.Now())
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	require.Error(t, err)
}

func TestTokenIssuer_RejectsTokenSignedWithDifferentSecret(t *testing.T) {
	issuer := NewTokenIssuer("secret-a", time.Hour)
	other := NewTokenIssuer("secret-b", time.Hour)
	token, err := issuer.Issue("user-1", time.Now())
	require.NoError(t, err)

	_, err = other.Verify(token)
	require.Error(t, err)
}

func TestMiddleware_RejectsMissingBearerToken(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	r := gin.New()
	r.Use(Middleware(issuer))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_SetsUserIDFromValidToken(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	token, err := issuer.Issue("user-42", time.Now())
	require.NoError(t, err)

	r := gin.New()
	r.Use(Middleware(issuer))
	var seenUserID string
	r.GET("/x", func(c *gin.Context) { seenUserID = c.GetString("user_id"); c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "user-42", seenUserID)
}

func TestTOTPGate_ValidatesCurrentCode(t *testing.T) {
	secret := "JBSWY3DPEHPK3PXP"
	gate := NewTOTPGate(map[string]string{"user-1": secret})

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	require.True(t, gate.Validate("user-1", code))
	require.False(t, gate.Validate("user-1", "000000"))
	require.False(t, gate.Validate("unknown-user", code))
}
