package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/promo-engine/internal/domain/cart"
	"github.com/xenking/promo-engine/internal/domain/coupon"
)

type evaluateRequest struct {
	Code   string
	UserID string
	Cart   cart.Cart
}

func decodeEvaluateRequest(body []byte) (evaluateRequest, error) {
	var req evaluateRequest
	d := jx.DecodeBytes(body)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			v, err := d.Str()
			req.Code = v
			return err
		case "user_id":
			v, err := d.Str()
			req.UserID = v
			return err
		case "cart":
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "lines" {
					return d.Skip()
				}
				return d.Arr(func(d *jx.Decoder) error {
					var line cart.Line
					if err := d.Obj(func(d *jx.Decoder, key string) error {
						switch key {
						case "product_id":
							v, err := d.Str()
							line.ProductID = v
							return err
						case "quantity":
							v, err := d.Int()
							line.Quantity = v
							return err
						case "unit_price":
							v, err := decStr(d)
							line.UnitPrice = v
							return err
						default:
							return d.Skip()
						}
					}); err != nil {
						return err
					}
					req.Cart.Lines = append(req.Cart.Lines, line)
					return nil
				})
			})
		default:
			return d.Skip()
		}
	})
	return req, err
}

func encodeEligibility(el *coupon.Eligibility) *jx.Encoder {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("eligible")
	e.Bool(el.Eligible)
	e.FieldStart("reasons")
	e.ArrStart()
	for _, reason := range el.Reasons {
		e.Str(reason)
	}
	e.ArrEnd()
	fieldMoney(&e, "estimated_discount", el.EstimatedDiscount)
	fieldMoney(&e, "estimated_shipping_discount", el.EstimatedShippingDiscount)
	if el.GlobalRemaining != nil {
		e.FieldStart("global_remaining")
		e.Int(*el.GlobalRemaining)
	}
	if el.CustomerRemaining != nil {
		e.FieldStart("customer_remaining")
		e.Int(*el.CustomerRemaining)
	}
	e.ObjEnd()
	return &e
}

// evaluate checks a coupon code against a cart without consuming anything.
func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	req, err := decodeEvaluateRequest(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed evaluate request")
		return
	}
	if req.Code == "" {
		h.writeError(w, http.StatusBadRequest, codeInvalidRequest, "code is required")
		return
	}

	el, err := h.evaluator.Evaluate(r.Context(), req.Code, req.Cart, req.UserID)
	if err != nil {
		h.mapError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, encodeEligibility(el))
}

// getCoupon returns the public view of a coupon by its code.
func (h *Handler) getCoupon(w http.ResponseWriter, r *http.Request) {
	cpn, err := h.coupons.FindByCode(r.Context(), coupon.NormalizeCode(r.PathValue("code")))
	if err != nil {
		h.mapError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Str(cpn.Code)
	e.FieldStart("promotion_id")
	e.Str(cpn.PromotionID)
	e.FieldStart("visibility")
	e.Str(string(cpn.Visibility))
	e.FieldStart("active")
	e.Bool(cpn.Active)
	if cpn.StartsAt != nil {
		e.FieldStart("starts_at")
		e.Str(cpn.StartsAt.Format(time.RFC3339))
	}
	if cpn.EndsAt != nil {
		e.FieldStart("ends_at")
		e.Str(cpn.EndsAt.Format(time.RFC3339))
	}
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}
