package web

import (
	"errors"
	"net/http"

	"github.com/camera-control/ccs/internal/dispatch"
	"github.com/camera-control/ccs/internal/tool"
)

// Transport error codes. Command failures use the dispatcher's codes.
const (
	CodeBadRequest  = "BAD_REQUEST"
	CodeUnavailable = "UNAVAILABLE"
	CodeInternal    = "INTERNAL"
)

// StatusFor maps a dispatcher error code to an HTTP status.
func StatusFor(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case tool.ErrUnknownTool.Error(), tool.ErrUnknownMethod.Error():
		return http.StatusNotFound
	case tool.ErrArgument.Error():
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ToAPIError converts an error to an HTTP status and envelope.
func ToAPIError(err error) (int, *Response) {
	if err == nil {
		return http.StatusOK, SuccessResponse(nil)
	}
	var cmdErr *tool.CommandError
	if errors.As(err, &cmdErr) {
		code := tool.Code(err)
		return StatusFor(code), ErrorResponse(code, tool.Message(err), nil)
	}
	return http.StatusInternalServerError, ErrorResponse(CodeInternal, err.Error(), nil)
}

// writeError writes err with the mapped status.
func writeError(w http.ResponseWriter, err error) {
	status, resp := ToAPIError(err)
	writeResponse(w, status, resp)
}

// writeReply writes a dispatcher reply with the mapped status.
func writeReply(w http.ResponseWriter, reply dispatch.Reply) {
	if reply.OK() {
		WriteSuccess(w, reply.Data)
		return
	}
	WriteError(w, StatusFor(reply.Code), reply.Code, reply.Message, nil)
}
