package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/sleepdiary/internal/model"
	"github.com/jmoiron/sqlx"
)

// draftRow はdraftsテーブルの1行。
type draftRow struct {
	ID        int64     `db:"draft_id"`
	UserID    int64     `db:"user_id"`
	Date      string    `db:"date"`
	Data      []byte    `db:"data"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r draftRow) toModel() *model.Draft {
	return &model.Draft{
		ID:        r.ID,
		UserID:    r.UserID,
		Date:      r.Date,
		Data:      json.RawMessage(r.Data),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

const draftReturning = `RETURNING draft_id, user_id, to_char(date, 'YYYY-MM-DD') AS date, data, created_at, updated_at`

// PostgresDraftRepo はPostgreSQLを使用した下書きリポジトリ。
type PostgresDraftRepo struct {
	db *sqlx.DB
}

// NewPostgresDraftRepo はPostgresDraftRepoを生成する。
func NewPostgresDraftRepo(db *sqlx.DB) *PostgresDraftRepo {
	return &PostgresDraftRepo{db: db}
}

// InsertIfNoRecord は同じキーにエントリも下書きも無い場合のみ下書きを作成する。
// エントリの有無はNOT EXISTS、下書きの有無はユニーク制約で同一文の中で判定する。
func (r *PostgresDraftRepo) InsertIfNoRecord(ctx context.Context, userID int64, date string, data json.RawMessage) (*model.Draft, error) {
	var row draftRow
	// lib/pqは[]byteをbyteaとして送るため、jsonbには文字列で渡す
	err := r.db.GetContext(ctx, &row,
		`INSERT INTO drafts (user_id, date, data)
		 SELECT $1, $2::date, $3::jsonb
		 WHERE NOT EXISTS (SELECT 1 FROM entries WHERE user_id = $1 AND date = $2::date)
		 ON CONFLICT (user_id, date) DO NOTHING
		 `+draftReturning,
		userID, date, string(data),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert draft: %w", err)
	}
	return row.toModel(), nil
}

// UpsertIfNoEntry は同じキーにエントリが無い場合のみ下書きを作成または丸ごと置換する。
func (r *PostgresDraftRepo) UpsertIfNoEntry(ctx context.Context, userID int64, date string, data json.RawMessage) (*model.Draft, error) {
	var row draftRow
	err := r.db.GetContext(ctx, &row,
		`INSERT INTO drafts (user_id, date, data)
		 SELECT $1, $2::date, $3::jsonb
		 WHERE NOT EXISTS (SELECT 1 FROM entries WHERE user_id = $1 AND date = $2::date)
		 ON CONFLICT (user_id, date) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
		 `+draftReturning,
		userID, date, string(data),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert draft: %w", err)
	}
	return row.toModel(), nil
}

// FindByUserAndDate は(user_id, date)の下書きを取得する。見つからない場合はnilを返す。
func (r *PostgresDraftRepo) FindByUserAndDate(ctx context.Context, userID int64, date string) (*model.Draft, error) {
	var row draftRow
	err := r.db.GetContext(ctx, &row,
		`SELECT draft_id, user_id, to_char(date, 'YYYY-MM-DD') AS date, data, created_at, updated_at
		 FROM drafts
		 WHERE user_id = $1 AND date = $2::date`,
		userID, date,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find draft: %w", err)
	}
	return row.toModel(), nil
}

// DeleteByUserAndDate は(user_id, date)の下書きを削除する。
func (r *PostgresDraftRepo) DeleteByUserAndDate(ctx context.Context, userID int64, date string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM drafts WHERE user_id = $1 AND date = $2::date`,
		userID, date,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete draft: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ DraftRepository = (*PostgresDraftRepo)(nil)
