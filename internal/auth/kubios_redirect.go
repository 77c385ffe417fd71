package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/sleepdiary/internal/model"
)

// rejectedLoginMarker はKubiosがログイン失敗時にLocationへ含める文字列。
const rejectedLoginMarker = "login?null"

// tokenRedirectPattern はログイン成功時のリダイレクトURLに含まれるトークン部の文法。
//
//	id_token=<token>&access_token=<token>&expires_in=<int>
var tokenRedirectPattern = regexp.MustCompile(`id_token=([^&#]+)&access_token=([^&#]+)&expires_in=([0-9]+)`)

var (
	// ErrLoginRejected はLocationがログイン失敗を示す場合に返る。
	ErrLoginRejected = errors.New("provider rejected the credentials")

	// ErrUnexpectedRedirect はLocationがトークン文法に一致しない場合に返る。
	ErrUnexpectedRedirect = errors.New("unexpected login redirect format")
)

// ParseTokenRedirect はログイン応答のLocationヘッダからトークンを取り出す。
// トークンはURLのフラグメント・クエリのどちらにあってもよい。
func ParseTokenRedirect(location string) (*model.IdentityToken, error) {
	if strings.Contains(location, rejectedLoginMarker) {
		return nil, ErrLoginRejected
	}
	if location == "" {
		return nil, fmt.Errorf("%w: missing Location header", ErrUnexpectedRedirect)
	}

	m := tokenRedirectPattern.FindStringSubmatch(location)
	if m == nil {
		return nil, ErrUnexpectedRedirect
	}

	seconds, err := strconv.Atoi(m[3])
	if err != nil || seconds <= 0 {
		return nil, fmt.Errorf("%w: invalid expires_in %q", ErrUnexpectedRedirect, m[3])
	}

	return &model.IdentityToken{
		IDToken:     m[1],
		AccessToken: m[2],
		ExpiresIn:   time.Duration(seconds) * time.Second,
	}, nil
}
