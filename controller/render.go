package controller

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"deepchat/model"
)

var kindStatus = map[model.ErrorKind]int{
	model.KindUnauthenticated:   http.StatusUnauthorized,
	model.KindInvalidInput:      http.StatusBadRequest,
	model.KindInvalidIdentifier: http.StatusBadRequest,
	model.KindNotFound:          http.StatusNotFound,
	model.KindConflict:          http.StatusConflict,
	model.KindAuthenticity:      http.StatusBadRequest,
	model.KindGenerationFailed:  http.StatusBadGateway,
	model.KindPersistenceFailed: http.StatusInternalServerError,
}

func respondData(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

// respondError maps the error's kind onto a status code and emits the
// single error envelope. Untagged errors never leak their text.
func respondError(c *gin.Context, err error) {
	kind := model.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
		kind = model.KindPersistenceFailed
	}

	message := "an unexpected error occurred"
	var appErr *model.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	c.JSON(status, gin.H{
		"success": false,
		"error":   gin.H{"kind": kind, "message": message},
	})
}

func abortUnauthenticated(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   gin.H{"kind": model.KindUnauthenticated, "message": message},
	})
}
