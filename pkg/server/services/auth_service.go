package services

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"orchestrator-backend/pkg/config"
	"orchestrator-backend/pkg/server/middleware"
	"orchestrator-backend/pkg/types"
	"orchestrator-backend/pkg/utils/secret"
)

// AuthService 用 API 密钥换取访问令牌
type AuthService struct {
	auth   *middleware.Authenticator
	keys   map[string]string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewAuthService 创建认证服务实例
func NewAuthService(auth *middleware.Authenticator, keys []config.APIKey, ttl time.Duration, logger zerolog.Logger) *AuthService {
	hashes := make(map[string]string, len(keys))
	for _, k := range keys {
		hashes[k.Name] = k.Hash
	}
	return &AuthService{
		auth:   auth,
		keys:   hashes,
		ttl:    ttl,
		logger: logger.With().Str("service", "auth").Logger(),
	}
}

func (s *AuthService) RegisterRoutes(r gin.IRouter) {
	r.POST("/auth/token", s.HandleIssueToken)
}

func (s *AuthService) HandleIssueToken(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
		Key  string `json:"key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	hash, ok := s.keys[req.Name]
	if !ok {
		s.unauthorized(c, req.Name)
		return
	}
	valid, err := secret.Verify(req.Key, hash)
	if err != nil {
		s.logger.Error().Err(err).Str("name", req.Name).Msg("Configured API key hash is invalid")
	}
	if !valid {
		s.unauthorized(c, req.Name)
		return
	}

	token, expiresAt, err := s.auth.GenerateToken(req.Name, s.ttl)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}

	s.logger.Info().Str("name", req.Name).Time("expires_at", expiresAt).Msg("Issued access token")
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt.UTC(),
	})
}

func (s *AuthService) unauthorized(c *gin.Context, name string) {
	s.logger.Debug().Str("name", name).Msg("Rejected API key")
	c.JSON(http.StatusUnauthorized, types.ErrorResponse{
		Error: "invalid name or key",
		Code:  "UNAUTHORIZED",
	})
}
