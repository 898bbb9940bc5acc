package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"marketplace/marketerrors"
)

// MapErrorToHTTP 依錯誤分類決定 HTTP 狀態碼
// 系統錯誤不回傳內部細節
func MapErrorToHTTP(err error) (int, string) {
	switch marketerrors.KindOf(err) {
	case marketerrors.ErrValidation:
		return http.StatusBadRequest, err.Error()
	case marketerrors.ErrNotFound:
		return http.StatusNotFound, err.Error()
	case marketerrors.ErrConflict:
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func jsonResponse(c *gin.Context, status int, data any, message string) {
	c.JSON(status, gin.H{
		"status":  status,
		"message": message,
		"data":    data,
	})
}

func jsonError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"status":  status,
		"message": message,
	})
}

// handleError 回應業務錯誤，系統錯誤額外記錄 log
func handleError(c *gin.Context, logger *slog.Logger, handler string, err error) {
	status, message := MapErrorToHTTP(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			slog.String("handler", handler),
			slog.Any("error", err),
		)
	} else {
		logger.Debug("Request rejected",
			slog.String("handler", handler),
			slog.Any("error", err),
		)
	}
	jsonError(c, status, message)
}

func handleBindError(c *gin.Context, err error) {
	jsonError(c, http.StatusBadRequest, fmt.Sprintf("invalid request payload: %v", err))
}
