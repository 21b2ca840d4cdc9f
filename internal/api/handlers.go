package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/onboarding/internal/domain"
	"github.com/ignite/onboarding/internal/pkg/httputil"
	"github.com/ignite/onboarding/internal/pkg/logger"
	"github.com/ignite/onboarding/internal/service/accounts"
	"github.com/ignite/onboarding/internal/service/registration"
)

// Registrar runs registration sagas.
type Registrar interface {
	Register(ctx context.Context, req domain.RegistrationRequest) (*registration.Result, error)
}

// AccountService serves registered accounts.
type AccountService interface {
	Get(ctx context.Context, id int64) (*domain.AccountRecord, error)
	List(ctx context.Context, f accounts.ListFilter) ([]domain.AccountRecord, int, error)
	RecordUpload(ctx context.Context, n accounts.UploadNotification) (*domain.AccountRecord, error)
	RefreshVerification(ctx context.Context, id int64) (*domain.AccountRecord, error)
	VerificationResult(ctx context.Context, id int64) (*domain.VerificationResult, error)
}

// JournalReader reads saga transition history.
type JournalReader interface {
	History(ctx context.Context, attemptID string) ([]registration.JournalEntry, error)
}

// Handlers holds the HTTP handlers for the onboarding API.
type Handlers struct {
	registrar Registrar
	accounts  AccountService
	journal   JournalReader
}

// NewHandlers creates handlers. journal may be nil.
func NewHandlers(registrar Registrar, accounts AccountService, journal JournalReader) *Handlers {
	return &Handlers{registrar: registrar, accounts: accounts, journal: journal}
}

type uploadURL struct {
	ResourceKey string    `json:"resource_key"`
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type registerResponse struct {
	AttemptID            string                `json:"attempt_id"`
	Account              *domain.AccountRecord `json:"account"`
	UploadURLs           map[string]uploadURL  `json:"upload_urls"`
	VerificationThreadID string                `json:"verification_thread_id"`
}

type failureResponse struct {
	Error               string                           `json:"error"`
	AttemptID           string                           `json:"attempt_id,omitempty"`
	FailureStage        registration.Stage               `json:"failure_stage"`
	Cause               string                           `json:"cause"`
	CompensationSummary registration.CompensationSummary `json:"compensation_summary,omitempty"`
	Retryable           bool                             `json:"retryable"`
}

func grantURL(g domain.UploadGrant) uploadURL {
	return uploadURL{ResourceKey: g.ResourceKey, URL: g.SignedURL, ContentType: g.ContentType, ExpiresAt: g.ExpiresAt}
}

// Register runs one registration attempt.
//
//	POST /api/users/register
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegistrationRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	res, err := h.registrar.Register(r.Context(), req)
	if err != nil {
		writeRegistrationError(w, err)
		return
	}

	httputil.Created(w, registerResponse{
		AttemptID: res.AttemptID,
		Account:   res.Account,
		UploadURLs: map[string]uploadURL{
			string(domain.SlotGround): grantURL(res.GroundGrant),
			string(domain.SlotAerial): grantURL(res.AerialGrant),
		},
		VerificationThreadID: res.Thread.ThreadID,
	})
}

// writeRegistrationError maps the failure kind to a status. Upstream and
// internal failures never expose the underlying error text.
func writeRegistrationError(w http.ResponseWriter, err error) {
	var fe *registration.FailureError
	if !errors.As(err, &fe) {
		httputil.InternalError(w, err)
		return
	}

	status, code := http.StatusInternalServerError, "registration_failed"
	switch kind := fe.Kind(); {
	case errors.Is(kind, registration.ErrInvalidRequest):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(kind, registration.ErrDuplicateEmail):
		status, code = http.StatusConflict, "duplicate_email"
	case errors.Is(kind, registration.ErrDuplicateUsername):
		status, code = http.StatusConflict, "duplicate_username"
	case errors.Is(kind, registration.ErrDuplicateAccount):
		status, code = http.StatusConflict, "duplicate_account"
	case errors.Is(kind, registration.ErrRegistrationInProgress):
		status, code = http.StatusConflict, "registration_in_progress"
	case errors.Is(kind, registration.ErrGrantIssuance):
		status, code = http.StatusBadGateway, "upload_grant_failed"
	case errors.Is(kind, registration.ErrThreadCreation):
		status, code = http.StatusBadGateway, "verification_unavailable"
	case errors.Is(kind, registration.ErrPersistence):
		status, code = http.StatusInternalServerError, "persistence_error"
	}

	cause := fe.Reason()
	if status >= 500 && cause != "timeout" && cause != "cancelled" {
		cause = "upstream failure"
		if kind := fe.Kind(); kind != nil {
			cause = kind.Error()
		}
		logger.Error("registration failed", "attempt_id", fe.AttemptID, "error", err)
	}

	httputil.JSON(w, status, failureResponse{
		Error:               code,
		AttemptID:           fe.AttemptID,
		FailureStage:        fe.Stage,
		Cause:               cause,
		CompensationSummary: fe.Compensation,
		Retryable:           fe.Retryable,
	})
}

type listResponse struct {
	Accounts []domain.AccountRecord `json:"accounts"`
	Total    int                    `json:"total"`
	Limit    int                    `json:"limit"`
	Offset   int                    `json:"offset"`
}

// ListAccounts returns a page of accounts.
//
//	GET /api/users?status=&limit=&offset=
func (h *Handlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := accounts.ListFilter{Status: domain.VerificationStatus(q.Get("status"))}
	if f.Status != "" && !f.Status.Valid() {
		httputil.BadRequest(w, "unknown status")
		return
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	list, total, err := h.accounts.List(r.Context(), f)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if list == nil {
		list = []domain.AccountRecord{}
	}
	httputil.OK(w, listResponse{Accounts: list, Total: total, Limit: f.Limit, Offset: f.Offset})
}

// GetAccount returns one account.
//
//	GET /api/users/{id}
func (h *Handlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	acct, err := h.accounts.Get(r.Context(), id)
	if err != nil {
		writeAccountError(w, err)
		return
	}
	httputil.OK(w, acct)
}

// RefreshVerification recomputes the verification status from the thread.
//
//	POST /api/users/{id}/verification/refresh
func (h *Handlers) RefreshVerification(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	acct, err := h.accounts.RefreshVerification(r.Context(), id)
	if err != nil {
		writeAccountError(w, err)
		return
	}
	httputil.OK(w, acct)
}

// VerificationResult returns the analysis output on the account's thread.
//
//	GET /api/users/{id}/verification
func (h *Handlers) VerificationResult(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	res, err := h.accounts.VerificationResult(r.Context(), id)
	if err != nil {
		writeAccountError(w, err)
		return
	}
	httputil.OK(w, res)
}

// UploadComplete records photo keys reported by object storage.
//
//	POST /webhooks/s3-upload-complete
func (h *Handlers) UploadComplete(w http.ResponseWriter, r *http.Request) {
	var n accounts.UploadNotification
	if !httputil.Decode(w, r, &n) {
		return
	}
	acct, err := h.accounts.RecordUpload(r.Context(), n)
	if err != nil {
		writeAccountError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"user_id":          acct.ID,
		"uploads_complete": acct.UploadsComplete(),
	})
}

// RegistrationHistory returns the journal of one registration attempt.
//
//	GET /api/registrations/{attemptID}
func (h *Handlers) RegistrationHistory(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		httputil.NotFound(w, "registration journal not enabled")
		return
	}
	attemptID := chi.URLParam(r, "attemptID")
	entries, err := h.journal.History(r.Context(), attemptID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if len(entries) == 0 {
		httputil.NotFound(w, "unknown registration attempt")
		return
	}
	httputil.OK(w, map[string]interface{}{"attempt_id": attemptID, "transitions": entries})
}

func accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httputil.BadRequest(w, "invalid user id")
		return 0, false
	}
	return id, true
}

func writeAccountError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, accounts.ErrNotFound):
		httputil.NotFound(w, "user not found")
	case errors.Is(err, accounts.ErrInvalidUpload):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, accounts.ErrNoThread):
		httputil.Conflict(w, "user has no verification thread")
	default:
		httputil.InternalError(w, err)
	}
}
