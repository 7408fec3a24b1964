package http

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/artpar/speechquota/app"
	"github.com/artpar/speechquota/domain/plan"
	"github.com/artpar/speechquota/domain/quota"
	"github.com/artpar/speechquota/pkg/jsonapi"
	"github.com/artpar/speechquota/ports"
)

// maxConsumeBody bounds the consume request body.
const maxConsumeBody = 1 << 20

// QuotaHandler serves admission, usage and wait endpoints.
type QuotaHandler struct {
	service *app.QuotaService
	clock   ports.Clock
	logger  zerolog.Logger
}

// NewQuotaHandler creates a quota handler.
func NewQuotaHandler(service *app.QuotaService, clock ports.Clock, logger zerolog.Logger) *QuotaHandler {
	return &QuotaHandler{service: service, clock: clock, logger: logger}
}

// consumeRequest is the body of POST /v1/usage/consume.
// Characters wins over Text when both are given.
type consumeRequest struct {
	Characters *int64 `json:"characters"`
	Text       string `json:"text"`
	Format     string `json:"format"`
}

// Consume admits and charges a synthesis request.
// It blocks for the plan's mandatory wait before answering.
func (h *QuotaHandler) Consume(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var body consumeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxConsumeBody)).Decode(&body); err != nil {
		jsonapi.WriteError(w, jsonapi.ErrBadRequest("Request body must be a JSON object"))
		return
	}

	chars := int64(utf8.RuneCountInString(body.Text))
	if body.Characters != nil {
		chars = *body.Characters
	}

	adm, err := h.service.AdmitAndConsume(r.Context(), app.AdmitRequest{
		AccountID:  accountID,
		Characters: chars,
		Format:     plan.Format(body.Format),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if !adm.Allowed {
		h.writeDenial(w, adm, chars, body.Format)
		return
	}

	jsonapi.WriteResource(w, http.StatusOK, jsonapi.NewResource("admissions", adm.ID).
		Attr("allowed", true).
		Attr("characters", chars).
		Attr("wait_seconds", adm.WaitSeconds).
		Attr("plan_id", adm.PlanID).
		Attr("period_key", adm.PeriodKey).
		Attr("characters_used", adm.Record.CharactersUsed).
		Attr("requests_count", adm.Record.RequestsCount).
		Attr("limit", adm.Limit).
		Attr("remaining", adm.Remaining).
		Attr("next_reset", adm.NextReset.UTC().Format(time.RFC3339)).
		Build())
}

func (h *QuotaHandler) writeDenial(w http.ResponseWriter, adm app.Admission, requested int64, format string) {
	switch adm.Reason {
	case quota.ReasonPeriodLimit:
		retry := math.Ceil(adm.NextReset.Sub(h.clock.Now()).Seconds())
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retry), 10))
		jsonapi.WriteError(w, jsonapi.ErrPeriodLimit(adm.Record.CharactersUsed, adm.Limit, adm.NextReset))
	case quota.ReasonPerRequestLimit:
		var limit int64
		if p, err := h.service.Catalog().Resolve(adm.PlanID); err == nil {
			limit = p.Limits.PerRequestCap
		}
		jsonapi.WriteError(w, jsonapi.ErrPerRequestLimit(requested, limit))
	case quota.ReasonFormatNotAllowed:
		jsonapi.WriteError(w, jsonapi.ErrFormatNotAllowed(format))
	case quota.ReasonWaitCancelled:
		jsonapi.WriteError(w, jsonapi.ErrWaitCancelled())
	default:
		jsonapi.WriteError(w, jsonapi.ErrInternal("admission denied without a reason"))
	}
}

// Summary reports the caller's usage in the current period.
func (h *QuotaHandler) Summary(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	sum, err := h.service.UsageSummary(r.Context(), accountID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	jsonapi.WriteResource(w, http.StatusOK, jsonapi.NewResource("usage_summaries", accountID).
		Attr("plan_id", sum.PlanID).
		Attr("period", string(sum.PeriodKind)).
		Attr("period_key", sum.PeriodKey).
		Attr("used", sum.Used).
		Attr("limit", sum.Limit).
		Attr("remaining", sum.Remaining).
		Attr("requests", sum.Requests).
		Attr("usage_percentage", sum.UsagePercentage).
		Attr("is_near_limit", sum.IsNearLimit).
		Attr("is_over_limit", sum.IsOverLimit).
		Attr("next_reset", sum.NextReset.UTC().Format(time.RFC3339)).
		Build())
}

// WaitSnapshot reports the caller's server-side wait state.
func (h *QuotaHandler) WaitSnapshot(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	snap := h.service.Waits().Snapshot(accountID)
	jsonapi.WriteResource(w, http.StatusOK, jsonapi.NewResource("waits", accountID).
		Attr("is_waiting", snap.IsWaiting).
		Attr("total_wait_seconds", snap.TotalWaitSeconds).
		Attr("remaining_seconds", snap.RemainingSeconds).
		Build())
}

// CancelWait aborts the caller's running wait. It is safe to call when idle.
func (h *QuotaHandler) CancelWait(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	cancelled := h.service.Waits().Cancel(accountID)
	if cancelled {
		h.logger.Info().Str("account_id", accountID).Msg("wait cancelled by client")
	}
	jsonapi.WriteMeta(w, http.StatusOK, jsonapi.Meta{"cancelled": cancelled})
}

// Plans lists the plan catalog.
func (h *QuotaHandler) Plans(w http.ResponseWriter, r *http.Request) {
	catalog := h.service.Catalog()
	defaultID := catalog.Default().ID

	plans := catalog.List()
	resources := make([]jsonapi.Resource, 0, len(plans))
	for _, p := range plans {
		formats := make([]string, 0, len(p.Limits.AudioFormats))
		for _, f := range p.Limits.AudioFormats {
			formats = append(formats, string(f))
		}
		b := jsonapi.NewResource("plans", p.ID).
			Attr("name", p.Name).
			Attr("period", string(p.Limits.PeriodKind)).
			Attr("period_character_cap", p.Limits.PeriodCharacterCap).
			Attr("per_request_cap", p.Limits.PerRequestCap).
			Attr("commercial_use", p.Limits.CommercialUse).
			Attr("wait_seconds", p.Limits.WaitSeconds).
			Attr("audio_formats", formats).
			Attr("priority", string(p.Limits.Priority))
		if p.ID == defaultID {
			b.Meta("default", true)
		}
		resources = append(resources, b.Build())
	}

	jsonapi.WriteCollection(w, http.StatusOK, resources, jsonapi.Meta{"total": len(resources)})
}

func (h *QuotaHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrMissingAccount):
		jsonapi.WriteError(w, jsonapi.ErrMissingAccount(AccountHeader))
	case errors.Is(err, ports.ErrInvalidAmount):
		jsonapi.WriteError(w, jsonapi.ErrValidation("characters", "characters must not be negative"))
	case errors.Is(err, plan.ErrUnknownPlan):
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("account mapped to unknown plan")
		jsonapi.WriteError(w, jsonapi.ErrUnknownPlan("The account's plan is not configured"))
	case errors.Is(err, ports.ErrStorageUnavailable):
		jsonapi.WriteError(w, jsonapi.ErrServiceUnavailable("Usage ledger unavailable; request not charged"))
	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("quota request failed")
		jsonapi.WriteError(w, jsonapi.ErrInternal(""))
	}
}

func requireAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID := r.Header.Get(AccountHeader)
	if accountID == "" {
		jsonapi.WriteError(w, jsonapi.ErrMissingAccount(AccountHeader))
		return "", false
	}
	return accountID, true
}
