package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/sleepdiary/internal/diary"
	"github.com/hitoshi/sleepdiary/internal/middleware"
	"github.com/hitoshi/sleepdiary/internal/model"
)

// DiaryServiceInterface は日誌ハンドラーが必要とするサービスインターフェース。
type DiaryServiceInterface interface {
	SaveDraft(ctx context.Context, userID int64, date string, payload json.RawMessage) (*diary.DraftResult, error)
	UpdateDraft(ctx context.Context, userID int64, date string, payload json.RawMessage) (*diary.DraftResult, error)
	Finalize(ctx context.Context, entry *model.Entry) error
	GetDraft(ctx context.Context, userID int64, date string) (*model.Draft, error)
	ListEntries(ctx context.Context, userID int64) ([]*model.Entry, error)
}

// EntryHandler は日誌エントリと下書きのHTTPハンドラー。
type EntryHandler struct {
	service   DiaryServiceInterface
	validator *RequestValidator
}

// NewEntryHandler はEntryHandlerを生成する。
func NewEntryHandler(service DiaryServiceInterface, v *RequestValidator) *EntryHandler {
	return &EntryHandler{
		service:   service,
		validator: v,
	}
}

// entryRequest は確定エントリのリクエストボディ。
// 分単位の項目は0から1440（24時間）まで、評価は1から10まで。
type entryRequest struct {
	Date             string `json:"date" validate:"required,datetime=2006-01-02"`
	BedTime          string `json:"bed_time" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	AsleepDelay      *int   `json:"asleep_delay" validate:"required,min=0,max=1440"`
	Wakeups          *int   `json:"wakeups" validate:"omitempty,min=0"`
	TimeAwake        *int   `json:"time_awake" validate:"required,min=0,max=1440"`
	WakeupTime       string `json:"wakeup_time" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	TotalSleep       *int   `json:"total_sleep" validate:"required,min=0,max=1440"`
	TotalBedTime     *int   `json:"total_bed_time" validate:"required,min=0,max=1440"`
	SleepQuality     *int   `json:"sleep_quality" validate:"required,min=1,max=10"`
	DaytimeAlertness *int   `json:"daytime_alertness" validate:"required,min=1,max=10"`
	SleepMgmtMethods string `json:"sleep_mgmt_methods"`
	SleepFactors     string `json:"sleep_factors"`
}

// toModel は検証済みのリクエストをエントリに変換する。
func (req *entryRequest) toModel(userID int64) *model.Entry {
	// datetimeタグで書式は検証済み
	bedTime, _ := time.Parse(time.RFC3339, req.BedTime)
	wakeupTime, _ := time.Parse(time.RFC3339, req.WakeupTime)

	return &model.Entry{
		UserID:           userID,
		Date:             req.Date,
		BedTime:          bedTime,
		AsleepDelay:      *req.AsleepDelay,
		Wakeups:          req.Wakeups,
		TimeAwake:        *req.TimeAwake,
		WakeupTime:       wakeupTime,
		TotalSleep:       *req.TotalSleep,
		TotalBedTime:     *req.TotalBedTime,
		SleepQuality:     *req.SleepQuality,
		DaytimeAlertness: *req.DaytimeAlertness,
		SleepMgmtMethods: req.SleepMgmtMethods,
		SleepFactors:     req.SleepFactors,
	}
}

// draftRequest は下書きリクエストのうち検証対象の項目。
// それ以外の項目は検証せず、ボディ全体を下書きとして保存する。
type draftRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
}

// draftResponse は下書きの保存・更新の応答。
// 競合時はerrorに理由を、rowsまたはentryに既存の記録を入れる。
type draftResponse struct {
	Message string          `json:"message"`
	Error   string          `json:"error,omitempty"`
	Rows    json.RawMessage `json:"rows,omitempty"`
	Entry   *model.Entry    `json:"entry,omitempty"`
}

// draftBodyResponse は下書き取得の応答。
type draftBodyResponse struct {
	Date string          `json:"date"`
	Rows json.RawMessage `json:"rows"`
}

// CreateEntry はエントリを確定する。
// POST /api/entries
func (h *EntryHandler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	ac, ok := h.authContext(w, r)
	if !ok {
		return
	}

	var req entryRequest
	if _, err := decodeJSONBody(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	if err := h.service.Finalize(r.Context(), req.toModel(ac.UserID)); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, messageResponse{Message: diary.MessageEntryAdded})
}

// ListEntries はログインユーザーの確定済みエントリ一覧を返す。
// GET /api/entries
func (h *EntryHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	ac, ok := h.authContext(w, r)
	if !ok {
		return
	}

	entries, err := h.service.ListEntries(r.Context(), ac.UserID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

// SaveDraft は記録の無い日付に下書きを作成する。
// POST /api/entries/draft
func (h *EntryHandler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	h.writeDraft(w, r, h.service.SaveDraft)
}

// UpdateDraft は下書きを作成または置換する。
// PUT /api/entries/draft
func (h *EntryHandler) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	h.writeDraft(w, r, h.service.UpdateDraft)
}

type draftWriter func(ctx context.Context, userID int64, date string, payload json.RawMessage) (*diary.DraftResult, error)

// writeDraft は下書き書き込みの共通処理。
// 競合はエラー応答ではなく201の本文で伝える。
func (h *EntryHandler) writeDraft(w http.ResponseWriter, r *http.Request, write draftWriter) {
	ac, ok := h.authContext(w, r)
	if !ok {
		return
	}

	var req draftRequest
	body, err := decodeJSONBody(w, r, &req)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	var payload bytes.Buffer
	if err := json.Compact(&payload, body); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	result, err := write(r.Context(), ac.UserID, req.Date, payload.Bytes())
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	resp := draftResponse{
		Message: result.Message,
		Rows:    result.Rows,
		Entry:   result.Entry,
	}
	if result.Conflict != nil {
		resp.Error = result.Conflict.Message
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetDraft は指定日付の下書きを返す。
// GET /api/entries/draft/{date}
func (h *EntryHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	ac, ok := h.authContext(w, r)
	if !ok {
		return
	}

	date := chi.URLParam(r, "date")
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		middleware.WriteErrorResponse(w, model.NewValidationError([]model.FieldError{
			{Field: "date", Message: "date must match the format " + model.DateLayout},
		}))
		return
	}

	draft, err := h.service.GetDraft(r.Context(), ac.UserID, date)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, draftBodyResponse{
		Date: draft.Date,
		Rows: draft.Data,
	})
}

// authContext はリクエストの認証情報を取り出す。無ければ401を書き込みfalseを返す。
func (h *EntryHandler) authContext(w http.ResponseWriter, r *http.Request) (*model.AuthContext, bool) {
	ac, err := middleware.AuthFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, model.NewMissingCredentialError())
		return nil, false
	}
	return ac, true
}
