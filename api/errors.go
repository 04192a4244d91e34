package api

import (
	"context"
	"errors"
	"net/http"

	"ytaudio/video"

	"github.com/gin-gonic/gin"
)

// statusFor maps an error kind to the response status used before any
// audio has been written.
func statusFor(err error) int {
	switch {
	case errors.Is(err, video.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, video.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, video.ErrProvider),
		errors.Is(err, video.ErrSourceUnavailable),
		errors.Is(err, video.ErrSourceBroken):
		return http.StatusBadGateway
	case errors.Is(err, video.ErrOverloaded):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
}

func respondMessage(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}
