package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Veraticus/the-books-must-balance/internal/app"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

func statusOf(code common.ErrorCode) int {
	switch code {
	case common.CodeValidation, common.CodeInvalidFormat:
		return http.StatusBadRequest
	case common.CodePermission:
		return http.StatusForbidden
	case common.CodeNotFound:
		return http.StatusNotFound
	case common.CodeDuplicate:
		return http.StatusConflict
	case common.CodeTimeout:
		return http.StatusGatewayTimeout
	case common.CodeNetwork, common.CodeDatabase:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respond writes the envelope with a status derived from its first error.
func respond[T any](w http.ResponseWriter, resp app.Response[T], success int) {
	status := success
	if !resp.Success && len(resp.Errors) > 0 {
		status = statusOf(resp.Errors[0].Code)
	}
	writeJSON(w, status, resp)
}

// writeError reports a request that failed before reaching the service.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, statusOf(common.CodeOf(err)), app.Response[any]{
		Errors: []app.ErrorDetail{{
			Code:    common.CodeOf(err),
			Message: err.Error(),
			Field:   common.FieldOf(err),
		}},
		Warnings: []string{},
		Metadata: &app.Metadata{RequestID: requestContext(r).RequestID},
	})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return common.NewFieldError("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

type query struct {
	r   *http.Request
	err error
}

func (q *query) str(key string) string {
	return strings.TrimSpace(q.r.URL.Query().Get(key))
}

func (q *query) int(key string) int {
	s := q.str(key)
	if s == "" || q.err != nil {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		q.err = common.NewFieldError(key, "must be an integer")
	}
	return v
}

func (q *query) float(key string) float64 {
	s := q.str(key)
	if s == "" || q.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		q.err = common.NewFieldError(key, "must be a number")
	}
	return v
}

func (q *query) bool(key string) *bool {
	s := q.str(key)
	if s == "" || q.err != nil {
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		q.err = common.NewFieldError(key, "must be true or false")
		return nil
	}
	return &v
}

// time accepts RFC 3339 timestamps or plain dates.
func (q *query) time(key string) *time.Time {
	s := q.str(key)
	if s == "" || q.err != nil {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		q.err = common.NewFieldError(key, "must be RFC 3339 or YYYY-MM-DD")
		return nil
	}
	return &t
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	resp := h.svc.HealthCheck(r.Context())
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (h *handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var account model.BankAccount
	if err := decode(r, &account); err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, h.svc.CreateBankAccount(r.Context(), requestContext(r), account), http.StatusCreated)
}

func (h *handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	filter := model.AccountFilter{
		Currency: strings.ToUpper(q.str("currency")),
		Limit:    q.int("limit"),
		Offset:   q.int("offset"),
	}
	if active := q.bool("active"); active != nil {
		filter.ActiveOnly = *active
	}
	if q.err != nil {
		writeError(w, r, q.err)
		return
	}
	respond(w, h.svc.ListBankAccounts(r.Context(), requestContext(r), filter), http.StatusOK)
}

func (h *handler) getAccount(w http.ResponseWriter, r *http.Request) {
	respond(w, h.svc.GetBankAccount(r.Context(), requestContext(r), chi.URLParam(r, "id")), http.StatusOK)
}

func (h *handler) importStatement(w http.ResponseWriter, r *http.Request) {
	var req app.ImportRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.AccountID = chi.URLParam(r, "id")
	if req.Source == "" {
		req.Source = model.SourceAPI
	}
	respond(w, h.svc.ImportBankStatement(r.Context(), requestContext(r), req), http.StatusCreated)
}

// importOFX takes a raw OFX/QFX body. A file holding several statements
// needs ofx_account to pick one.
func (h *handler) importOFX(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	req := app.ImportRequest{
		AccountID:      chi.URLParam(r, "id"),
		Source:         model.SourceOFX,
		SkipDuplicates: q.bool("skip_duplicates"),
		AutoCategorize: q.bool("auto_categorize"),
	}
	selected := q.str("ofx_account")
	if q.err != nil {
		writeError(w, r, q.err)
		return
	}

	statements, err := h.ofx.Parse(r.Context(), io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, err)
		return
	}

	accounts := make([]string, 0, len(statements))
	for _, s := range statements {
		accounts = append(accounts, s.AccountID)
		if s.AccountID == selected || (selected == "" && len(statements) == 1) {
			req.Data = s.Data
		}
	}
	if req.Data == nil {
		writeError(w, r, common.NewFieldError("ofx_account",
			fmt.Sprintf("select one of the file's accounts: %s", strings.Join(accounts, ", "))))
		return
	}

	respond(w, h.svc.ImportBankStatement(r.Context(), requestContext(r), req), http.StatusCreated)
}

func (h *handler) reconcile(w http.ResponseWriter, r *http.Request) {
	var req app.ReconcileRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, h.svc.PerformReconciliation(r.Context(), requestContext(r), req), http.StatusCreated)
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	filter := model.SessionFilter{
		AccountID: q.str("account_id"),
		Status:    model.SessionStatus(q.str("status")),
		Since:     q.time("since"),
		Until:     q.time("until"),
		Limit:     q.int("limit"),
		Offset:    q.int("offset"),
	}
	if q.err != nil {
		writeError(w, r, q.err)
		return
	}
	respond(w, h.svc.GetReconciliationHistory(r.Context(), requestContext(r), filter), http.StatusOK)
}

func (h *handler) session(w http.ResponseWriter, r *http.Request) {
	respond(w, h.svc.GetReconciliationSession(r.Context(), requestContext(r), chi.URLParam(r, "id")), http.StatusOK)
}

func (h *handler) matchFilter(r *http.Request) (model.MatchFilter, error) {
	q := &query{r: r}
	filter := model.MatchFilter{
		SessionID:     q.str("session_id"),
		RuleID:        q.str("rule_id"),
		Status:        model.MatchStatus(q.str("status")),
		MinConfidence: q.float("min_confidence"),
		Limit:         q.int("limit"),
		Offset:        q.int("offset"),
	}
	return filter, q.err
}

func (h *handler) listMatches(w http.ResponseWriter, r *http.Request) {
	filter, err := h.matchFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, h.svc.GetReconciliationMatches(r.Context(), requestContext(r), filter), http.StatusOK)
}

func (h *handler) sessionMatches(w http.ResponseWriter, r *http.Request) {
	filter, err := h.matchFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter.SessionID = chi.URLParam(r, "id")
	respond(w, h.svc.GetReconciliationMatches(r.Context(), requestContext(r), filter), http.StatusOK)
}

func (h *handler) explain(w http.ResponseWriter, r *http.Request) {
	req := app.ExplainRequest{
		StatementID:   chi.URLParam(r, "id"),
		TransactionID: r.URL.Query().Get("transaction_id"),
	}
	respond(w, h.svc.ExplainMatches(r.Context(), requestContext(r), req), http.StatusOK)
}

func (h *handler) updateMatch(w http.ResponseWriter, r *http.Request) {
	var req app.UpdateMatchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.MatchID = chi.URLParam(r, "id")
	respond(w, h.svc.UpdateMatchStatus(r.Context(), requestContext(r), req), http.StatusOK)
}

func (h *handler) analytics(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	req := app.AnalyticsRequest{
		AccountID: q.str("account_id"),
		Period:    q.str("period"),
	}
	respond(w, h.svc.GetReconciliationAnalytics(r.Context(), requestContext(r), req), http.StatusOK)
}

func (h *handler) createRule(w http.ResponseWriter, r *http.Request) {
	var rule model.ReconciliationRule
	if err := decode(r, &rule); err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, h.svc.CreateReconciliationRule(r.Context(), requestContext(r), rule), http.StatusCreated)
}

func (h *handler) clearCache(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	all := q.bool("all")
	if q.err != nil {
		writeError(w, r, q.err)
		return
	}
	respond(w, h.svc.ClearCaches(r.Context(), requestContext(r), all != nil && *all), http.StatusOK)
}

func (h *handler) cacheStats(w http.ResponseWriter, r *http.Request) {
	respond(w, h.svc.GetCacheStats(r.Context(), requestContext(r)), http.StatusOK)
}

func (h *handler) metrics(w http.ResponseWriter, r *http.Request) {
	respond(w, h.svc.GetPerformanceMetrics(r.Context(), requestContext(r), r.URL.Query().Get("operation")), http.StatusOK)
}

