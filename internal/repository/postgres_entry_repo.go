package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/sleepdiary/internal/model"
	"github.com/jmoiron/sqlx"
)

// entryRow はentriesテーブルの1行。dateはYYYY-MM-DD文字列として取得する。
type entryRow struct {
	ID               int64          `db:"entry_id"`
	UserID           int64          `db:"user_id"`
	Date             string         `db:"date"`
	BedTime          time.Time      `db:"bed_time"`
	AsleepDelay      int            `db:"asleep_delay"`
	Wakeups          sql.NullInt64  `db:"wakeups"`
	TimeAwake        int            `db:"time_awake"`
	WakeupTime       time.Time      `db:"wakeup_time"`
	TotalSleep       int            `db:"total_sleep"`
	TotalBedTime     int            `db:"total_bed_time"`
	SleepQuality     int            `db:"sleep_quality"`
	DaytimeAlertness int            `db:"daytime_alertness"`
	SleepMgmtMethods sql.NullString `db:"sleep_mgmt_methods"`
	SleepFactors     sql.NullString `db:"sleep_factors"`
	CreatedAt        time.Time      `db:"created_at"`
}

func (r entryRow) toModel() *model.Entry {
	e := &model.Entry{
		ID:               r.ID,
		UserID:           r.UserID,
		Date:             r.Date,
		BedTime:          r.BedTime,
		AsleepDelay:      r.AsleepDelay,
		TimeAwake:        r.TimeAwake,
		WakeupTime:       r.WakeupTime,
		TotalSleep:       r.TotalSleep,
		TotalBedTime:     r.TotalBedTime,
		SleepQuality:     r.SleepQuality,
		DaytimeAlertness: r.DaytimeAlertness,
		SleepMgmtMethods: r.SleepMgmtMethods.String,
		SleepFactors:     r.SleepFactors.String,
		CreatedAt:        r.CreatedAt,
	}
	if r.Wakeups.Valid {
		w := int(r.Wakeups.Int64)
		e.Wakeups = &w
	}
	return e
}

const selectEntryColumns = `SELECT entry_id, user_id, to_char(date, 'YYYY-MM-DD') AS date,
	bed_time, asleep_delay, wakeups, time_awake, wakeup_time, total_sleep, total_bed_time,
	sleep_quality, daytime_alertness, sleep_mgmt_methods, sleep_factors, created_at
	FROM entries`

// PostgresEntryRepo はPostgreSQLを使用したエントリリポジトリ。
type PostgresEntryRepo struct {
	db *sqlx.DB
}

// NewPostgresEntryRepo はPostgresEntryRepoを生成する。
func NewPostgresEntryRepo(db *sqlx.DB) *PostgresEntryRepo {
	return &PostgresEntryRepo{db: db}
}

// Create はエントリを作成する。(user_id, date)のユニーク制約に当たった場合は
// ON CONFLICT DO NOTHINGにより行が返らず、created=falseとなる。
func (r *PostgresEntryRepo) Create(ctx context.Context, entry *model.Entry) (bool, error) {
	var wakeups sql.NullInt64
	if entry.Wakeups != nil {
		wakeups = sql.NullInt64{Int64: int64(*entry.Wakeups), Valid: true}
	}

	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO entries (user_id, date, bed_time, asleep_delay, wakeups, time_awake, wakeup_time,
			total_sleep, total_bed_time, sleep_quality, daytime_alertness, sleep_mgmt_methods, sleep_factors)
		 VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (user_id, date) DO NOTHING
		 RETURNING entry_id, created_at`,
		entry.UserID, entry.Date, entry.BedTime, entry.AsleepDelay, wakeups, entry.TimeAwake,
		entry.WakeupTime, entry.TotalSleep, entry.TotalBedTime, entry.SleepQuality,
		entry.DaytimeAlertness, nullString(entry.SleepMgmtMethods), nullString(entry.SleepFactors),
	).Scan(&entry.ID, &entry.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert entry: %w", err)
	}
	return true, nil
}

// FindByUserAndDate は(user_id, date)のエントリを取得する。見つからない場合はnilを返す。
func (r *PostgresEntryRepo) FindByUserAndDate(ctx context.Context, userID int64, date string) (*model.Entry, error) {
	var row entryRow
	err := r.db.GetContext(ctx, &row, selectEntryColumns+` WHERE user_id = $1 AND date = $2::date`, userID, date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find entry: %w", err)
	}
	return row.toModel(), nil
}

// ListByUserID はユーザーのエントリを日付の昇順で返す。
func (r *PostgresEntryRepo) ListByUserID(ctx context.Context, userID int64) ([]*model.Entry, error) {
	var rows []entryRow
	if err := r.db.SelectContext(ctx, &rows, selectEntryColumns+` WHERE user_id = $1 ORDER BY date ASC`, userID); err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	entries := make([]*model.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.toModel())
	}
	return entries, nil
}

// nullString は空文字列をNULLとして扱う。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ EntryRepository = (*PostgresEntryRepo)(nil)
