package model

import "time"

// User はローカルに同期されたユーザーを表す。
// Kubiosで初回ログインしたときにのみ作成され、以降のログインでは更新しない。
type User struct {
	ID            int64     `json:"user_id"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	Email         string    `json:"email"`
	ReminderEmail string    `json:"reminder_email"`
	PhoneNumber   string    `json:"phone_number"`
	CreatedAt     time.Time `json:"created_at"`
}

// Profile はKubiosの /user/self から取得したプロフィール。
type Profile struct {
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Email      string `json:"email"`
}

// IdentityToken はKubiosのログインリダイレクトから取り出したトークン一式。
// 永続化せず、セッショントークン内にのみ保持する。
type IdentityToken struct {
	IDToken     string
	AccessToken string
	ExpiresIn   time.Duration
}

// AuthContext は認証済みリクエストの呼び出し元を表す。
// セッション認証ミドルウェアのみが生成する。
type AuthContext struct {
	UserID        int64
	KubiosIDToken string
}
