package server

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/dropline/internal/dispatch"
	"github.com/zulandar/dropline/internal/ledger"
	"github.com/zulandar/dropline/internal/lock"
)

// statusFor maps an operation error to an HTTP status. Dataset errors are
// the caller's fault only while uploading.
func statusFor(err error, uploading bool) int {
	var (
		ce  *dispatch.ConfigurationError
		uce *ledger.UnknownContactError
		dio *ledger.DatasetIOError
	)
	switch {
	case errors.As(err, &ce):
		if ce.MissingBaseURL() {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	case errors.As(err, &uce):
		return http.StatusNotFound
	case errors.Is(err, lock.ErrPassActive):
		return http.StatusConflict
	case errors.As(err, &dio) && uploading:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error, uploading bool) {
	status := statusFor(err, uploading)
	if status >= http.StatusInternalServerError {
		log.Printf("server: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"status": "error", "message": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": msg})
}
