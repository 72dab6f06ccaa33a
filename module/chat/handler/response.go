package handler

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ashik1291/customer-support-live-chat-system/logger"
	"github.com/ashik1291/customer-support-live-chat-system/tools/errs"
)

type errorBody struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

// writeError maps engine error codes onto HTTP statuses. Store failures stay
// opaque to the caller.
func writeError(c *gin.Context, err error) {
	var ce errs.CodeError
	if !stderrors.As(err, &ce) {
		ce = errs.NewCodeError(errs.CodeStore, "internal error")
	}

	status := http.StatusInternalServerError
	switch ce.Code {
	case errs.CodeValidation:
		status = http.StatusBadRequest
	case errs.CodeNotFound:
		status = http.StatusNotFound
	case errs.CodeConflict:
		status = http.StatusConflict
	case errs.CodeGone:
		status = http.StatusGone
	case errs.CodeCapacity:
		status = http.StatusTooManyRequests
	}

	if status == http.StatusInternalServerError {
		logger.Errorf("[http] %s %s failed: %v", c.Request.Method, c.FullPath(), err)
		ce.Detail = ""
	}
	c.JSON(status, errorBody{Code: ce.Code, Msg: ce.Msg, Detail: ce.Detail})
}
