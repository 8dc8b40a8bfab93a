package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// SubjectKey 认证通过后写入 gin.Context 的调用方名称
const SubjectKey = "auth.subject"

// Authenticator 签发并校验运维人员的 Bearer 令牌
type Authenticator struct {
	secret []byte
	issuer string
	logger zerolog.Logger
	now    func() time.Time
}

// NewAuthenticator 创建认证器
func NewAuthenticator(secret, issuer string, logger zerolog.Logger) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		issuer: issuer,
		logger: logger.With().Str("component", "auth").Logger(),
		now:    time.Now,
	}
}

// GenerateToken 为调用方签发 HS256 令牌
func (a *Authenticator) GenerateToken(subject string, ttl time.Duration) (string, time.Time, error) {
	now := a.now()
	expiresAt := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken 校验令牌并返回调用方名称
func (a *Authenticator) ValidateToken(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (interface{}, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// Require 要求请求携带有效的 Bearer 令牌
func (a *Authenticator) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer token is required",
				"code":  "UNAUTHORIZED",
			})
			return
		}

		subject, err := a.ValidateToken(raw)
		if err != nil {
			a.logger.Debug().Err(err).Str("path", c.FullPath()).Msg("Rejected bearer token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid bearer token",
				"code":  "UNAUTHORIZED",
			})
			return
		}

		c.Set(SubjectKey, subject)
		c.Next()
	}
}

// UnaryServerInterceptor gRPC 版本的令牌校验，健康检查不需要令牌
func (a *Authenticator) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 {
			return nil, status.Error(codes.Unauthenticated, "bearer token is required")
		}
		raw, found := strings.CutPrefix(values[0], "Bearer ")
		if !found {
			return nil, status.Error(codes.Unauthenticated, "bearer token is required")
		}
		if _, err := a.ValidateToken(raw); err != nil {
			a.logger.Debug().Err(err).Str("method", info.FullMethod).Msg("Rejected bearer token")
			return nil, status.Error(codes.Unauthenticated, "invalid bearer token")
		}
		return handler(ctx, req)
	}
}
