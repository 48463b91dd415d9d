package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/promo-engine/internal/domain/redemption"
)

func decodeReserveRequest(body []byte) (redemption.ReserveInput, error) {
	var in redemption.ReserveInput
	d := jx.DecodeBytes(body)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "coupon_id":
			v, err := d.Str()
			in.CouponID = v
			return err
		case "user_id":
			v, err := d.Str()
			in.UserID = v
			return err
		case "order_id":
			v, err := d.Str()
			in.OrderID = v
			return err
		case "discount":
			v, err := decStr(d)
			in.Discount = v
			return err
		case "shipping_discount":
			v, err := decStr(d)
			in.ShippingDiscount = v
			return err
		default:
			return d.Skip()
		}
	})
	return in, err
}

// reserve places a capacity hold for an order. Retrying with the same order
// and coupon returns the existing hold.
func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	in, err := decodeReserveRequest(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed reserve request")
		return
	}

	res, err := h.reserver.Reserve(r.Context(), in)
	if err != nil {
		h.mapError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("reservation_id")
	e.Str(res.ID)
	e.FieldStart("coupon_id")
	e.Str(res.CouponID)
	e.FieldStart("order_id")
	e.Str(res.OrderID)
	fieldMoney(&e, "discount", res.Discount)
	fieldMoney(&e, "shipping_discount", res.ShippingDiscount)
	e.FieldStart("expires_at")
	e.Str(res.ExpiresAt.Format(time.RFC3339))
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

func decodeOrderRequest(body []byte) (orderID, reason string, err error) {
	d := jx.DecodeBytes(body)
	err = d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "order_id":
			v, err := d.Str()
			orderID = v
			return err
		case "reason":
			v, err := d.Str()
			reason = v
			return err
		default:
			return d.Skip()
		}
	})
	return orderID, reason, err
}

// redeem finalizes the coupon usage for a paid order.
func (h *Handler) redeem(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	orderID, _, err := decodeOrderRequest(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed redeem request")
		return
	}
	if orderID == "" {
		h.writeError(w, http.StatusBadRequest, codeInvalidRequest, "order_id is required")
		return
	}

	ord, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	if err := h.ledger.Redeem(r.Context(), ord); err != nil {
		h.mapError(w, r, err)
		return
	}

	writeStatusOK(w)
}

// release frees an order's coupon capacity after cancellation or refund.
func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	orderID, reason, err := decodeOrderRequest(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed release request")
		return
	}
	if reason == "" {
		reason = "released"
	}

	if err := h.ledger.Release(r.Context(), orderID, reason); err != nil {
		h.mapError(w, r, err)
		return
	}

	writeStatusOK(w)
}

func writeStatusOK(w http.ResponseWriter) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	e.Str("ok")
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}
