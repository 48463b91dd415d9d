package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/promo-engine/internal/domain/coupon"
)

// maxBatchSize bounds a single code issuance request.
const maxBatchSize = 1000

type issueCodesRequest struct {
	PromotionID    string
	Prefix         string
	Pattern        string
	Count          int
	Visibility     string
	MaxRedemptions int
	PerCustomerMax int
	StartsAt       *time.Time
	EndsAt         *time.Time
}

func decodeIssueCodesRequest(body []byte) (issueCodesRequest, error) {
	req := issueCodesRequest{Count: 1, Visibility: string(coupon.VisibilityPublic)}
	d := jx.DecodeBytes(body)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "promotion_id":
			v, err := d.Str()
			req.PromotionID = v
			return err
		case "prefix":
			v, err := d.Str()
			req.Prefix = v
			return err
		case "pattern":
			v, err := d.Str()
			req.Pattern = v
			return err
		case "count":
			v, err := d.Int()
			req.Count = v
			return err
		case "visibility":
			v, err := d.Str()
			req.Visibility = v
			return err
		case "max_redemptions":
			v, err := d.Int()
			req.MaxRedemptions = v
			return err
		case "per_customer_max":
			v, err := d.Int()
			req.PerCustomerMax = v
			return err
		case "starts_at":
			s, err := d.Str()
			if err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339, s)
			req.StartsAt = &t
			return err
		case "ends_at":
			s, err := d.Str()
			if err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339, s)
			req.EndsAt = &t
			return err
		default:
			return d.Skip()
		}
	})
	return req, err
}

// issueCodes generates and stores a batch of unique coupon codes for a
// promotion.
func (h *Handler) issueCodes(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	req, err := decodeIssueCodesRequest(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed codes request")
		return
	}
	if req.PromotionID == "" {
		h.writeError(w, http.StatusBadRequest, codeInvalidRequest, "promotion_id is required")
		return
	}
	if req.Count < 1 || req.Count > maxBatchSize {
		h.writeError(w, http.StatusBadRequest, codeInvalidRequest, "count must be between 1 and 1000")
		return
	}

	codes := make([]string, 0, req.Count)
	for range req.Count {
		code, err := h.codes.GenerateUnique(r.Context(), req.Prefix, req.Pattern)
		if err != nil {
			h.mapError(w, r, err)
			return
		}

		cpn := coupon.Coupon{
			ID:             uuid.New().String(),
			PromotionID:    req.PromotionID,
			Code:           code,
			Visibility:     coupon.Visibility(req.Visibility),
			Active:         true,
			StartsAt:       req.StartsAt,
			EndsAt:         req.EndsAt,
			MaxRedemptions: req.MaxRedemptions,
			PerCustomerMax: req.PerCustomerMax,
		}
		if err := h.coupons.Create(r.Context(), cpn); err != nil {
			h.mapError(w, r, err)
			return
		}
		codes = append(codes, code)
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("codes")
	e.ArrStart()
	for _, code := range codes {
		e.Str(code)
	}
	e.ArrEnd()
	e.ObjEnd()
	writeJSON(w, http.StatusCreated, &e)
}
