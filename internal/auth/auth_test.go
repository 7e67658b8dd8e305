package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "club-portal"
)

func TestIssueAndParse(t *testing.T) {
	token, exp, err := Issue("12345", RoleStudent, "Kim", "kim@school.test", testIssuer, testKey, time.Minute)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 5*time.Second)

	claims, err := Parse(token, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "12345", claims.Subject)
	assert.Equal(t, RoleStudent, claims.Role)
	assert.Equal(t, "kim@school.test", claims.Email)

	_, err = Parse(token, "other-key", testIssuer)
	assert.Error(t, err)
	_, err = Parse(token, testKey, "someone-else")
	assert.Error(t, err)

	expired, _, err := Issue("12345", RoleStudent, "", "", testIssuer, testKey, -time.Minute)
	require.NoError(t, err)
	_, err = Parse(expired, testKey, testIssuer)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", Bearer(testKey, testIssuer), RequireRole(RoleAdmin), func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, claims.Subject)
	})

	call := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, call("").Code)
	assert.Equal(t, http.StatusUnauthorized, call("Bearer nonsense").Code)

	student, _, err := Issue("12345", RoleStudent, "", "", testIssuer, testKey, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, call("Bearer "+student).Code)

	admin, _, err := Issue("coach", RoleAdmin, "", "", testIssuer, testKey, time.Minute)
	require.NoError(t, err)
	w := call("Bearer " + admin)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "coach", w.Body.String())
}
