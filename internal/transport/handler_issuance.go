package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/cylinder-portal/internal/issuance"
	"github.com/pitabwire/cylinder-portal/model"
)

func handleRequestList(desk *issuance.Desk) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var statuses []model.RequestStatus
		for _, s := range r.URL.Query()["status"] {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, model.RequestStatus(s))
			}
		}

		var (
			requests []model.CylinderRequest
			err      error
		)
		if len(statuses) == 0 {
			requests, err = desk.Pending(r.Context())
		} else {
			requests, err = desk.Requests(r.Context(), statuses...)
		}
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"data":        requests,
			"total_count": len(requests),
		})
	}
}

func handleIssuanceSelect(desk *issuance.Desk) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			RequestID string `json:"request_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		desc, err := desk.Select(r.Context(), rctx, body.RequestID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, desc)
	}
}

func handleIssuanceForm(desk *issuance.Desk) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		desc, err := desk.Form(r.Context(), rctx)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, desc)
	}
}

func handleIssuanceClear(desk *issuance.Desk) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		desk.Clear(rctx)
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleIssuanceAdjust applies counter deltas. Either or both of full and
// empty may be sent; counters clamp at zero.
func handleIssuanceAdjust(desk *issuance.Desk) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			Full  int `json:"full"`
			Empty int `json:"empty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		var details []model.FieldError
		for field, delta := range map[string]int{"full": body.Full, "empty": body.Empty} {
			if delta > model.MaxCounterAdjust || delta < -model.MaxCounterAdjust {
				details = append(details, model.FieldError{
					Field:   field,
					Code:    "OUT_OF_RANGE",
					Message: fmt.Sprintf("Adjustment must be between -%d and %d", model.MaxCounterAdjust, model.MaxCounterAdjust),
				})
			}
		}
		if len(details) > 0 {
			slices.SortFunc(details, func(a, b model.FieldError) int { return strings.Compare(a.Field, b.Field) })
			WriteValidationError(w, details)
			return
		}

		desc, err := desk.AdjustFull(r.Context(), rctx, body.Full)
		if err == nil && body.Empty != 0 {
			desc, err = desk.AdjustEmpty(r.Context(), rctx, body.Empty)
		}
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, desc)
	}
}

func handleIssuanceAddTag(desk *issuance.Desk) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			Tag string `json:"tag"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		side := model.TagSide(chi.URLParam(r, "side"))
		desc, err := desk.AddTag(r.Context(), rctx, side, body.Tag)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, desc)
	}
}

func handleIssuanceRemoveTag(desk *issuance.Desk) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			WriteError(w, model.NewBadRequestError("tag index must be an integer"))
			return
		}

		side := model.TagSide(chi.URLParam(r, "side"))
		desc, err := desk.RemoveTag(r.Context(), rctx, side, index)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, desc)
	}
}

func handleIssuanceNotes(desk *issuance.Desk) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			Notes string `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		desc, err := desk.SetNotes(r.Context(), rctx, body.Notes)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, desc)
	}
}

// handleIssue confirms the exchange. The idempotency key may come from the
// Idempotency-Key header or the body; the header wins.
func handleIssue(desk *issuance.Desk) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var in issuance.IssueInput
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				WriteError(w, model.NewBadRequestError("invalid JSON body"))
				return
			}
		}
		if key := r.Header.Get("Idempotency-Key"); key != "" {
			in.IdempotencyKey = key
		}

		record, err := desk.Issue(r.Context(), rctx, in)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, record)
	}
}

func handleIssuedList(desk *issuance.Desk) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records := desk.Issued(queryInt(r, "limit", 50))
		WriteJSON(w, http.StatusOK, map[string]any{
			"data":        records,
			"total_count": len(records),
		})
	}
}
