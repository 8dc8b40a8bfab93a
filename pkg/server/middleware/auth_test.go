package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newProtectedEngine(a *Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(a.Require())
	r.GET("/v1/devices", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"subject": c.GetString(SubjectKey)})
	})
	return r
}

func TestRequireBearerToken(t *testing.T) {
	a := NewAuthenticator(testSecret, "orchestrator", zerolog.Nop())
	r := newProtectedEngine(a)

	valid, _, err := a.GenerateToken("ops", time.Hour)
	require.NoError(t, err)

	otherIssuer, _, err := NewAuthenticator(testSecret, "someone-else", zerolog.Nop()).GenerateToken("ops", time.Hour)
	require.NoError(t, err)

	otherSecret, _, err := NewAuthenticator("ffffffffffffffffffffffffffffffff", "orchestrator", zerolog.Nop()).GenerateToken("ops", time.Hour)
	require.NoError(t, err)

	expired, _, err := a.GenerateToken("ops", -time.Minute)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"valid token", "Bearer " + valid, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + otherIssuer, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + otherSecret, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/devices", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				assert.JSONEq(t, `{"subject":"ops"}`, w.Body.String())
			}
		})
	}
}

func TestGenerateTokenExpiry(t *testing.T) {
	a := NewAuthenticator(testSecret, "orchestrator", zerolog.Nop())
	fixed := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	token, expiresAt, err := a.GenerateToken("ops", 12*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, fixed.Add(12*time.Hour), expiresAt)

	subject, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", subject)

	a.now = func() time.Time { return fixed.Add(13 * time.Hour) }
	_, err = a.ValidateToken(token)
	assert.Error(t, err)
}

func TestUnaryServerInterceptor(t *testing.T) {
	a := NewAuthenticator(testSecret, "orchestrator", zerolog.Nop())
	interceptor := a.UnaryServerInterceptor()
	handler := func(context.Context, interface{}) (interface{}, error) { return "ok", nil }

	valid, _, err := a.GenerateToken("ops", time.Hour)
	require.NoError(t, err)

	call := func(method, header string) error {
		ctx := context.Background()
		if header != "" {
			ctx = metadata.NewIncomingContext(ctx, metadata.Pairs("authorization", header))
		}
		_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: method}, handler)
		return err
	}

	assert.NoError(t, call("/orchestrator.v1.Orchestrator/Route", "Bearer "+valid))
	assert.Equal(t, codes.Unauthenticated, status.Code(call("/orchestrator.v1.Orchestrator/Route", "")))
	assert.Equal(t, codes.Unauthenticated, status.Code(call("/orchestrator.v1.Orchestrator/Route", "Bearer nope")))
	assert.NoError(t, call("/grpc.health.v1.Health/Check", ""))
}
