// Package diary は睡眠日誌のエントリと下書きの競合解決を提供する。
//
// (user_id, date) ごとの状態は「記録なし」「下書きのみ」「エントリ確定」の3つで、
// エントリ確定後はその日付の下書き操作を受け付けない。
// 状態の判定はすべてストレージの条件付き書き込みで行う。
package diary

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hitoshi/sleepdiary/internal/metrics"
	"github.com/hitoshi/sleepdiary/internal/model"
	"github.com/hitoshi/sleepdiary/internal/repository"
	"github.com/hitoshi/sleepdiary/internal/security"
)

// 応答メッセージ
const (
	MessageDraftSaved    = "Draft saved."
	MessageDraftEdited   = "Draft edited."
	MessageDraftRejected = "Draft not saved."
	MessageEntryAdded    = "Entry added."
)

// maxWriteAttempts は条件付き書き込みが競合相手の消失で空振りした場合の試行回数。
const maxWriteAttempts = 2

// errRecordVanished は書き込みを妨げたレコードが読み直し時に存在しなかったことを示す。
var errRecordVanished = errors.New("blocking record vanished before it could be read")

// DraftResult は下書きの保存・更新の結果。
// Conflictが非nilの場合は書き込まれておらず、EntryまたはRowsに既存の記録が入る。
type DraftResult struct {
	Message  string
	Rows     json.RawMessage
	Entry    *model.Entry
	Conflict *model.APIError
}

// Service は日誌エントリと下書きのビジネスロジックを提供する。
type Service struct {
	entries   repository.EntryRepository
	drafts    repository.DraftRepository
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector
}

// NewService はServiceを生成する。
func NewService(
	entries repository.EntryRepository,
	drafts repository.DraftRepository,
	sanitizer security.TextSanitizer,
	m metrics.MetricsCollector,
) *Service {
	if m == nil {
		m = metrics.NopCollector{}
	}
	return &Service{
		entries:   entries,
		drafts:    drafts,
		sanitizer: sanitizer,
		metrics:   m,
	}
}

// SaveDraft は記録が無い日付にのみ下書きを作成する。
// 既にエントリがあればそのエントリを、下書きがあればその内容を返して競合とする。
func (s *Service) SaveDraft(ctx context.Context, userID int64, date string, payload json.RawMessage) (*DraftResult, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		draft, err := s.drafts.InsertIfNoRecord(ctx, userID, date, payload)
		if err != nil {
			return nil, s.storageFailure("save", err)
		}
		if draft != nil {
			s.metrics.RecordDraftOperation("save", metrics.DraftResultSaved)
			return &DraftResult{Message: MessageDraftSaved, Rows: draft.Data}, nil
		}

		result, err := s.explainBlockedWrite(ctx, "save", userID, date, true)
		if errors.Is(err, errRecordVanished) {
			slog.Debug("draft write raced with a delete, retrying",
				slog.Int64("user_id", userID),
				slog.String("date", date),
			)
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, s.storageFailure("save", errRecordVanished)
}

// UpdateDraft は下書きを作成または丸ごと置換する。既存の下書きでは拒否しない。
// エントリ確定後の日付は終端状態のため、SaveDraftと同様にエントリを返して競合とする。
func (s *Service) UpdateDraft(ctx context.Context, userID int64, date string, payload json.RawMessage) (*DraftResult, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		draft, err := s.drafts.UpsertIfNoEntry(ctx, userID, date, payload)
		if err != nil {
			return nil, s.storageFailure("update", err)
		}
		if draft != nil {
			s.metrics.RecordDraftOperation("update", metrics.DraftResultEdited)
			return &DraftResult{Message: MessageDraftEdited, Rows: draft.Data}, nil
		}

		result, err := s.explainBlockedWrite(ctx, "update", userID, date, false)
		if errors.Is(err, errRecordVanished) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, s.storageFailure("update", errRecordVanished)
}

// explainBlockedWrite は条件付き書き込みが行を返さなかった理由を読み取る。
// エントリを先に確認するため、エントリと下書きが両方ある場合はエントリの競合となる。
func (s *Service) explainBlockedWrite(ctx context.Context, op string, userID int64, date string, checkDraft bool) (*DraftResult, error) {
	entry, err := s.entries.FindByUserAndDate(ctx, userID, date)
	if err != nil {
		return nil, s.storageFailure(op, err)
	}
	if entry != nil {
		s.metrics.RecordDraftOperation(op, metrics.DraftResultEntryConflict)
		return &DraftResult{
			Message:  MessageDraftRejected,
			Entry:    entry,
			Conflict: model.NewEntryConflictError(date),
		}, nil
	}

	if checkDraft {
		existing, err := s.drafts.FindByUserAndDate(ctx, userID, date)
		if err != nil {
			return nil, s.storageFailure(op, err)
		}
		if existing != nil {
			s.metrics.RecordDraftOperation(op, metrics.DraftResultDraftConflict)
			return &DraftResult{
				Message:  MessageDraftRejected,
				Rows:     existing.Data,
				Conflict: model.NewDraftConflictError(date),
			}, nil
		}
	}

	return nil, errRecordVanished
}

// Finalize はエントリを確定し、同じ日付の下書きを削除する。
// 下書きの削除は後始末であり、失敗してもエントリの確定は取り消さない。
func (s *Service) Finalize(ctx context.Context, entry *model.Entry) error {
	if s.sanitizer != nil {
		entry.SleepMgmtMethods = s.sanitizer.Sanitize(entry.SleepMgmtMethods)
		entry.SleepFactors = s.sanitizer.Sanitize(entry.SleepFactors)
	}

	created, err := s.entries.Create(ctx, entry)
	if err != nil {
		return s.storageFailure("finalize", err)
	}
	if !created {
		s.metrics.RecordDraftOperation("finalize", metrics.DraftResultEntryConflict)
		return model.NewEntryConflictError(entry.Date)
	}
	s.metrics.RecordDraftOperation("finalize", metrics.DraftResultSaved)

	deleted, err := s.drafts.DeleteByUserAndDate(ctx, entry.UserID, entry.Date)
	if err != nil {
		slog.Warn("failed to delete draft after finalize",
			slog.Int64("user_id", entry.UserID),
			slog.String("date", entry.Date),
			slog.String("error", err.Error()),
		)
		return nil
	}

	slog.Info("entry finalized",
		slog.Int64("user_id", entry.UserID),
		slog.Int64("entry_id", entry.ID),
		slog.String("date", entry.Date),
		slog.Bool("draft_deleted", deleted),
	)
	return nil
}

// GetDraft は(user_id, date)の下書きを返す。無ければNotFoundとなる。
func (s *Service) GetDraft(ctx context.Context, userID int64, date string) (*model.Draft, error) {
	draft, err := s.drafts.FindByUserAndDate(ctx, userID, date)
	if err != nil {
		return nil, model.NewStorageError(err)
	}
	if draft == nil {
		return nil, model.NewNotFoundError("Draft not found")
	}
	return draft, nil
}

// ListEntries はユーザーの確定済みエントリを日付順に返す。
func (s *Service) ListEntries(ctx context.Context, userID int64) ([]*model.Entry, error) {
	entries, err := s.entries.ListByUserID(ctx, userID)
	if err != nil {
		return nil, model.NewStorageError(err)
	}
	return entries, nil
}

func (s *Service) storageFailure(op string, err error) error {
	s.metrics.RecordDraftOperation(op, metrics.DraftResultError)
	return model.NewStorageError(err)
}
