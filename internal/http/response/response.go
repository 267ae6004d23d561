package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-rag/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
		_ = c.Error(err)
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondFromError maps err through apierr.FromError. Internal errors get a generic message; the
// cause still reaches the request log.
func RespondFromError(c *gin.Context, err error, fallbackCode string) {
	ae := apierr.FromError(err, fallbackCode)
	if ae == nil {
		ae = apierr.New(http.StatusInternalServerError, fallbackCode, nil)
	}
	if ae.Status >= http.StatusInternalServerError {
		if ae.Err != nil {
			_ = c.Error(ae.Err)
		}
		c.JSON(ae.Status, ErrorEnvelope{Error: APIError{Message: "internal error", Code: ae.Code}})
		return
	}
	RespondError(c, ae.Status, ae.Code, ae.Err)
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondStatus(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}
