package services

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"orchestrator-backend/pkg/types"
)

// HTTPStatus 领域错误码对应的 HTTP 状态码
// 基础设施错误返回 503，调用方应退避重试
func HTTPStatus(code types.ErrorCode) int {
	switch code {
	case types.CodeValidation:
		return http.StatusBadRequest
	case types.CodeNotFound, types.CodeNoCapableDevice:
		return http.StatusNotFound
	case types.CodeConfirmationRequired:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

// respondError 按错误码写出 {"error", "code"}
func respondError(c *gin.Context, logger zerolog.Logger, err error) {
	code := types.CodeOf(err)
	status := HTTPStatus(code)

	message := types.MessageOf(err)
	if code == types.CodeInternal {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		message = "storage unavailable, retry later"
	}
	_ = c.Error(err)
	c.JSON(status, types.ErrorResponse{Error: message, Code: code})
}

// badRequest 请求体无法解析
func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, types.ErrorResponse{
		Error: "invalid request body: " + err.Error(),
		Code:  types.CodeValidation,
	})
}

// queryInt 读取非负整数查询参数，缺省返回 0
func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, types.NewError(types.CodeValidation, "%s must be a non-negative integer", name)
	}
	return v, nil
}
