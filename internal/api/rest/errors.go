package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenOBDCore/internal/adapter"
	"github.com/KevinKickass/OpenOBDCore/internal/datalog"
	"github.com/KevinKickass/OpenOBDCore/internal/interfaces"
	"github.com/KevinKickass/OpenOBDCore/internal/scheduler"
	"github.com/KevinKickass/OpenOBDCore/internal/serial"
	"github.com/gin-gonic/gin"
)

// apiError is the body of every failed request: {"error": {...}}.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func errorJSON(code, message string, details any) gin.H {
	return gin.H{"error": apiError{Code: code, Message: message, Details: details}}
}

// httpStatus maps engine errors onto response codes.
func httpStatus(err error) (int, string) {
	switch {
	case errors.Is(err, scheduler.ErrUnknownPid):
		return http.StatusNotFound, "PID_404"
	case errors.Is(err, scheduler.ErrInvalidTransition),
		errors.Is(err, scheduler.ErrNotConnected),
		errors.Is(err, adapter.ErrNotOpen),
		errors.Is(err, datalog.ErrLogRunning):
		return http.StatusConflict, "SESSION_409"
	case errors.Is(err, adapter.ErrReplyTimeout),
		errors.Is(err, adapter.ErrNotReady):
		return http.StatusGatewayTimeout, "ADAPTER_504"
	case errors.Is(err, adapter.ErrPortOpen),
		errors.Is(err, adapter.ErrUnexpectedReply):
		return http.StatusBadGateway, "ADAPTER_502"
	case errors.Is(err, serial.ErrUnsupported):
		return http.StatusNotImplemented, "SERIAL_501"
	case errors.Is(err, scheduler.ErrNoRecorder),
		errors.Is(err, interfaces.ErrHistoryDisabled):
		return http.StatusServiceUnavailable, "FEATURE_503"
	}
	return http.StatusInternalServerError, "INTERNAL_500"
}

func abortWithError(c *gin.Context, message string, err error) {
	status, code := httpStatus(err)
	c.AbortWithStatusJSON(status, errorJSON(code, message, err.Error()))
}
