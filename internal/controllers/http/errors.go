package http

import (
	"errors"
	"net/http"

	"order-engine/internal/domain"

	"github.com/gin-gonic/gin"
)

func errorResponse(err error) (int, ErrorResponse) {
	body := ErrorResponse{Error: err.Error()}

	var invalid *domain.CouponInvalidError
	switch {
	case errors.As(err, &invalid):
		body.Code, body.Reason = "coupon-invalid", string(invalid.Reason)
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, domain.ErrCouponExhausted):
		body.Code, body.Reason = "coupon-exhausted", string(domain.ReasonExhausted)
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrNotFound):
		body.Code = "not-found"
		return http.StatusNotFound, body
	case errors.Is(err, domain.ErrInvalidInput):
		body.Code = "invalid-input"
		return http.StatusBadRequest, body
	case errors.Is(err, domain.ErrInvalidTransition):
		body.Code = "invalid-transition"
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrConflict):
		body.Code = "conflict"
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrExternalFailure):
		body.Code = "external-failure"
		return http.StatusBadGateway, body
	}
	body.Code = "internal"
	return http.StatusInternalServerError, body
}

func writeError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid-input"})
}
