package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/coupon"
	"github.com/xenking/promo-engine/internal/domain/product"
	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/internal/domain/redemption"
)

// Machine-readable error codes carried in the error envelope.
const (
	codeNotFound           = "not_found"
	codeInvalidRequest     = "invalid_request"
	codeUnauthorized       = "unauthorized"
	codeCouponMismatch     = "coupon_mismatch"
	codeCouponInactive     = "coupon_inactive"
	codeNotAssigned        = "not_assigned"
	codeSoldOut            = "sold_out"
	codePerCustomerLimit   = "per_customer_limit_reached"
	codeCodeTaken          = "code_taken"
	codeCodeSpaceExhausted = "code_space_exhausted"
	codeInternal           = "internal"
)

// writeError sends the JSON error envelope.
func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Str(code)
	e.FieldStart("error")
	e.Str(message)
	e.ObjEnd()
	writeJSON(w, status, &e)
}

// mapError translates domain errors into HTTP responses: missing entities are
// 404, validation failures 400, lifecycle conflicts 409, code-space
// exhaustion and everything unexpected 500.
func (h *Handler) mapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, coupon.ErrNotFound),
		errors.Is(err, promotion.ErrNotFound),
		errors.Is(err, product.ErrNotFound),
		errors.Is(err, redemption.ErrOrderNotFound):
		h.writeError(w, http.StatusNotFound, codeNotFound, err.Error())

	case errors.Is(err, redemption.ErrUserRequired),
		errors.Is(err, redemption.ErrOrderRequired),
		errors.Is(err, redemption.ErrCouponRequired):
		h.writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())

	case errors.Is(err, redemption.ErrCouponMismatch):
		h.writeError(w, http.StatusConflict, codeCouponMismatch, err.Error())
	case errors.Is(err, redemption.ErrCouponInactive):
		h.writeError(w, http.StatusConflict, codeCouponInactive, err.Error())
	case errors.Is(err, redemption.ErrNotAssigned):
		h.writeError(w, http.StatusConflict, codeNotAssigned, err.Error())
	case errors.Is(err, redemption.ErrUsageLimitReached):
		h.writeError(w, http.StatusConflict, codeSoldOut, err.Error())
	case errors.Is(err, redemption.ErrCustomerLimitReached):
		h.writeError(w, http.StatusConflict, codePerCustomerLimit, err.Error())
	case errors.Is(err, coupon.ErrCodeTaken):
		h.writeError(w, http.StatusConflict, codeCodeTaken, err.Error())

	case errors.Is(err, coupon.ErrCodeSpaceExhausted):
		h.writeError(w, http.StatusInternalServerError, codeCodeSpaceExhausted, err.Error())

	default:
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}
