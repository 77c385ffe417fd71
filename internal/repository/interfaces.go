// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"encoding/json"

	"github.com/hitoshi/sleepdiary/internal/model"
)

// UserRepository はローカルユーザーの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByEmail はemailでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateIfAbsent はemailが未登録の場合のみユーザーを作成する。
	// 既に存在する場合は既存ユーザーのIDを返し、createdはfalseとなる。
	// 既存ユーザーの項目は一切更新しない。
	CreateIfAbsent(ctx context.Context, user *model.User) (id int64, created bool, err error)
}

// EntryRepository は確定済み日記エントリの永続化インターフェース。
type EntryRepository interface {
	// Create はエントリを作成する。同じ(user_id, date)のエントリが既にある場合は
	// 何も書き込まずcreated=falseを返す。成功時はentry.IDとentry.CreatedAtを設定する。
	Create(ctx context.Context, entry *model.Entry) (created bool, err error)

	// FindByUserAndDate は(user_id, date)のエントリを取得する。見つからない場合はnilを返す。
	FindByUserAndDate(ctx context.Context, userID int64, date string) (*model.Entry, error)

	// ListByUserID はユーザーのエントリを日付の昇順で返す。
	ListByUserID(ctx context.Context, userID int64) ([]*model.Entry, error)
}

// DraftRepository は下書きの永続化インターフェース。
// 書き込みはすべて単一の条件付きINSERTで行い、読み取り後の書き込みはしない。
type DraftRepository interface {
	// InsertIfNoRecord は同じキーにエントリも下書きも無い場合のみ下書きを作成する。
	// 書き込まれなかった場合はnilを返す。
	InsertIfNoRecord(ctx context.Context, userID int64, date string, data json.RawMessage) (*model.Draft, error)

	// UpsertIfNoEntry は同じキーにエントリが無い場合のみ下書きを作成または置換する。
	// エントリが存在して書き込まれなかった場合はnilを返す。
	UpsertIfNoEntry(ctx context.Context, userID int64, date string, data json.RawMessage) (*model.Draft, error)

	// FindByUserAndDate は(user_id, date)の下書きを取得する。見つからない場合はnilを返す。
	FindByUserAndDate(ctx context.Context, userID int64, date string) (*model.Draft, error)

	// DeleteByUserAndDate は(user_id, date)の下書きを削除する。
	// 削除対象が無い場合もエラーにしない。
	DeleteByUserAndDate(ctx context.Context, userID int64, date string) (deleted bool, err error)
}
