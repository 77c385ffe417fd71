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

// userRow はusersテーブルの1行。
type userRow struct {
	ID            int64     `db:"user_id"`
	FirstName     string    `db:"first_name"`
	LastName      string    `db:"last_name"`
	Email         string    `db:"email"`
	ReminderEmail string    `db:"reminder_email"`
	PhoneNumber   string    `db:"phone_number"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r userRow) toModel() *model.User {
	return &model.User{
		ID:            r.ID,
		FirstName:     r.FirstName,
		LastName:      r.LastName,
		Email:         r.Email,
		ReminderEmail: r.ReminderEmail,
		PhoneNumber:   r.PhoneNumber,
		CreatedAt:     r.CreatedAt,
	}
}

const selectUserColumns = `SELECT user_id, first_name, last_name, email, reminder_email, phone_number, created_at FROM users`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sqlx.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sqlx.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	var row userRow
	err := r.db.GetContext(ctx, &row, selectUserColumns+` WHERE user_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return row.toModel(), nil
}

// FindByEmail はemailでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var row userRow
	err := r.db.GetContext(ctx, &row, selectUserColumns+` WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return row.toModel(), nil
}

// CreateIfAbsent はemailのユニーク制約を使ってユーザーを冪等に作成する。
// 同時に初回ログインした場合もどちらか一方のINSERTのみが成功し、
// もう一方は既存行を読み直して同じIDを返す。
func (r *PostgresUserRepo) CreateIfAbsent(ctx context.Context, user *model.User) (int64, bool, error) {
	var id int64
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO users (first_name, last_name, email, reminder_email, phone_number)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (email) DO NOTHING
		 RETURNING user_id`,
		user.FirstName, user.LastName, user.Email, user.ReminderEmail, user.PhoneNumber,
	).Scan(&id)

	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("failed to insert user: %w", err)
	}

	// 競合: 既存ユーザーを返す
	existing, err := r.FindByEmail(ctx, user.Email)
	if err != nil {
		return 0, false, err
	}
	if existing == nil {
		return 0, false, fmt.Errorf("user with email %q vanished after conflict", user.Email)
	}
	return existing.ID, false, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
