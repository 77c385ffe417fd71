package repository

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var draftColumns = []string{"draft_id", "user_id", "date", "data", "created_at", "updated_at"}

func TestPostgresDraftRepo_InsertIfNoRecord_Inserted(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresDraftRepo(db)

	data := json.RawMessage(`{"bed_time":"22:00"}`)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`ON CONFLICT (user_id, date) DO NOTHING`)).
		WithArgs(int64(1), "2025-05-08", string(data)).
		WillReturnRows(sqlmock.NewRows(draftColumns).
			AddRow(int64(5), int64(1), "2025-05-08", []byte(data), now, now))

	draft, err := repo.InsertIfNoRecord(context.Background(), 1, "2025-05-08", data)
	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.Equal(t, int64(5), draft.ID)
	assert.Equal(t, "2025-05-08", draft.Date)
	assert.JSONEq(t, string(data), string(draft.Data))
}

func TestPostgresDraftRepo_InsertIfNoRecord_Blocked(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresDraftRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE NOT EXISTS (SELECT 1 FROM entries`)).
		WillReturnRows(sqlmock.NewRows(draftColumns))

	draft, err := repo.InsertIfNoRecord(context.Background(), 1, "2025-05-08", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Nil(t, draft)
}

func TestPostgresDraftRepo_InsertIfNoRecord_Error(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresDraftRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO drafts`)).
		WillReturnError(errors.New("invalid input syntax for type json"))

	_, err := repo.InsertIfNoRecord(context.Background(), 1, "2025-05-08", json.RawMessage(`{`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert draft")
}

func TestPostgresDraftRepo_UpsertIfNoEntry_Replaced(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresDraftRepo(db)

	data := json.RawMessage(`{"sleep_quality":6}`)
	created := time.Now().Add(-time.Hour)
	updated := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`DO UPDATE SET data = EXCLUDED.data, updated_at = now()`)).
		WithArgs(int64(1), "2025-05-08", string(data)).
		WillReturnRows(sqlmock.NewRows(draftColumns).
			AddRow(int64(5), int64(1), "2025-05-08", []byte(data), created, updated))

	draft, err := repo.UpsertIfNoEntry(context.Background(), 1, "2025-05-08", data)
	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.JSONEq(t, string(data), string(draft.Data))
	assert.True(t, draft.UpdatedAt.After(draft.CreatedAt))
}

func TestPostgresDraftRepo_UpsertIfNoEntry_BlockedByEntry(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresDraftRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO drafts`)).
		WillReturnRows(sqlmock.NewRows(draftColumns))

	draft, err := repo.UpsertIfNoEntry(context.Background(), 1, "2025-05-08", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Nil(t, draft)
}

func TestPostgresDraftRepo_FindByUserAndDate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresDraftRepo(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM drafts`)).
		WithArgs(int64(1), "2025-05-08").
		WillReturnRows(sqlmock.NewRows(draftColumns).
			AddRow(int64(5), int64(1), "2025-05-08", []byte(`{"a":1}`), now, now))

	draft, err := repo.FindByUserAndDate(context.Background(), 1, "2025-05-08")
	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.JSONEq(t, `{"a":1}`, string(draft.Data))
}

func TestPostgresDraftRepo_FindByUserAndDate_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresDraftRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM drafts`)).
		WillReturnRows(sqlmock.NewRows(draftColumns))

	draft, err := repo.FindByUserAndDate(context.Background(), 1, "2025-05-08")
	require.NoError(t, err)
	assert.Nil(t, draft)
}

func TestPostgresDraftRepo_DeleteByUserAndDate(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"削除あり", 1, true},
		{"削除対象なし", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewPostgresDraftRepo(db)

			mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM drafts WHERE user_id = $1 AND date = $2::date`)).
				WithArgs(int64(1), "2025-05-08").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			deleted, err := repo.DeleteByUserAndDate(context.Background(), 1, "2025-05-08")
			require.NoError(t, err)
			assert.Equal(t, tt.want, deleted)
		})
	}
}

func TestPostgresDraftRepo_DeleteByUserAndDate_Error(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresDraftRepo(db)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM drafts`)).
		WillReturnError(errors.New("timeout"))

	_, err := repo.DeleteByUserAndDate(context.Background(), 1, "2025-05-08")
	require.Error(t, err)
}
