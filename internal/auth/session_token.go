package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/sleepdiary/internal/model"
)

// sessionClaims はセッショントークンのクレーム。
// kubiosIdTokenは署名で改ざんを検出するのみで、Kubios側の有効性は保証しない。
type sessionClaims struct {
	UserID        int64  `json:"userId"`
	KubiosIDToken string `json:"kubiosIdToken"`
	jwt.RegisteredClaims
}

// TokenIssuer はHS256署名のセッショントークンを発行・検証する。
// サーバー側にセッションの状態は持たない。
type TokenIssuer struct {
	secret []byte
	maxTTL time.Duration
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。maxTTLは発行するトークンの有効期間の上限。
func NewTokenIssuer(secret string, maxTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		maxTTL: maxTTL,
		now:    time.Now,
	}
}

// Issue はユーザーIDとKubiosのid_tokenを埋め込んだトークンを発行する。
// 有効期限はmaxTTLとKubiosトークンの残り有効期間の短い方とする。
func (i *TokenIssuer) Issue(userID int64, kubiosIDToken string, providerTTL time.Duration) (string, time.Time, error) {
	ttl := i.maxTTL
	if providerTTL > 0 && providerTTL < ttl {
		ttl = providerTTL
	}

	now := i.now()
	expiresAt := now.Add(ttl)
	claims := sessionClaims{
		UserID:        userID,
		KubiosIDToken: kubiosIDToken,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Authenticate はトークンを検証し、認証コンテキストを返す。
// 空文字列はMissingCredential、それ以外の検証失敗はすべてInvalidCredentialとなる。
func (i *TokenIssuer) Authenticate(raw string) (*model.AuthContext, error) {
	if raw == "" {
		return nil, model.NewMissingCredentialError()
	}

	var claims sessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(t *jwt.Token) (any, error) {
			return i.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, model.NewInvalidCredentialError(err)
	}
	if claims.UserID <= 0 || claims.KubiosIDToken == "" {
		return nil, model.NewInvalidCredentialError(errors.New("session token is missing required claims"))
	}

	return &model.AuthContext{
		UserID:        claims.UserID,
		KubiosIDToken: claims.KubiosIDToken,
	}, nil
}
