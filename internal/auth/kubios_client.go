package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/sleepdiary/internal/metrics"
	"github.com/hitoshi/sleepdiary/internal/model"
)

// maxProviderBodySize はKubios応答ボディの読み取り上限。
const maxProviderBodySize = 5 * 1024 * 1024

// DefaultResultsFrom は測定結果取得時の既定の開始日時。
const DefaultResultsFrom = "2024-01-01T00:00:00+00:00"

// KubiosConfig はKubios連携の接続設定。
type KubiosConfig struct {
	APIBaseURL  string
	LoginURL    string
	ClientID    string
	RedirectURI string
	UserAgent   string
}

// KubiosClient はKubiosのログインとAPI呼び出しを行うクライアント。
// httpClientはリダイレクトを追従しないよう設定されている必要がある。
type KubiosClient struct {
	cfg        KubiosConfig
	httpClient *http.Client
	metrics    metrics.MetricsCollector
	newNonce   func() string
}

// NewKubiosClient はKubiosClientを生成する。
func NewKubiosClient(cfg KubiosConfig, httpClient *http.Client, m metrics.MetricsCollector) *KubiosClient {
	if m == nil {
		m = metrics.NopCollector{}
	}
	return &KubiosClient{
		cfg:        cfg,
		httpClient: httpClient,
		metrics:    m,
		newNonce:   uuid.NewString,
	}
}

// Login はブラウザのログインフォーム送信を模してKubiosにログインする。
// 結果は302応答のLocationヘッダで返るため、ボディは読まない。
func (c *KubiosClient) Login(ctx context.Context, username, password string) (*model.IdentityToken, error) {
	nonce := c.newNonce()

	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	form.Set("client_id", c.cfg.ClientID)
	form.Set("redirect_uri", c.cfg.RedirectURI)
	form.Set("response_type", "token")
	form.Set("scope", "openid")
	form.Set("_csrf", nonce)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.LoginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, model.NewProviderProtocolError(fmt.Errorf("failed to build login request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cookie", "XSRF-TOKEN="+nonce)
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.RecordProviderLatency("login", time.Since(start))
	if err != nil {
		return nil, model.NewProviderUnreachableError(fmt.Errorf("kubios login request failed: %w", err))
	}
	defer drainAndClose(resp.Body)

	token, err := ParseTokenRedirect(resp.Header.Get("Location"))
	if errors.Is(err, ErrLoginRejected) {
		return nil, model.NewAuthFailedError()
	}
	if err != nil {
		slog.Warn("unexpected kubios login response",
			slog.Int("status", resp.StatusCode),
			slog.String("error", err.Error()),
		)
		return nil, model.NewProviderProtocolError(err)
	}
	return token, nil
}

// profileResponse は /user/self の応答。
type profileResponse struct {
	Status string        `json:"status"`
	User   model.Profile `json:"user"`
}

// FetchProfile はid_tokenに対応するKubiosのプロフィールを取得する。
func (c *KubiosClient) FetchProfile(ctx context.Context, idToken string) (*model.Profile, error) {
	body, err := c.get(ctx, "profile", "/user/self", idToken)
	if err != nil {
		return nil, err
	}

	var pr profileResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, model.NewProviderProtocolError(fmt.Errorf("failed to decode kubios profile: %w", err))
	}
	if pr.Status != "ok" {
		return nil, model.NewProviderProtocolError(fmt.Errorf("kubios profile status %q", pr.Status))
	}
	if pr.User.Email == "" {
		return nil, model.NewProviderProtocolError(errors.New("kubios profile has no email"))
	}
	return &pr.User, nil
}

// FetchUserInfo は /user/self の応答をそのまま返す。
func (c *KubiosClient) FetchUserInfo(ctx context.Context, idToken string) (json.RawMessage, error) {
	body, err := c.get(ctx, "user_info", "/user/self", idToken)
	if err != nil {
		return nil, err
	}
	return rawJSON(body)
}

// FetchResults は指定日時以降の測定結果を返す。fromが空なら既定値を使う。
func (c *KubiosClient) FetchResults(ctx context.Context, idToken, from string) (json.RawMessage, error) {
	if from == "" {
		from = DefaultResultsFrom
	}
	body, err := c.get(ctx, "results", "/result/self?from="+url.QueryEscape(from), idToken)
	if err != nil {
		return nil, err
	}
	return rawJSON(body)
}

// get はid_tokenをAuthorizationに載せてKubios APIを呼び出し、ボディを返す。
func (c *KubiosClient) get(ctx context.Context, operation, path, idToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBaseURL+path, nil)
	if err != nil {
		return nil, model.NewProviderProtocolError(fmt.Errorf("failed to build %s request: %w", operation, err))
	}
	req.Header.Set("Authorization", idToken)
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.RecordProviderLatency(operation, time.Since(start))
	if err != nil {
		return nil, model.NewProviderUnreachableError(fmt.Errorf("kubios %s request failed: %w", operation, err))
	}
	defer drainAndClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, model.NewProviderTokenRejectedError()
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, model.NewProviderProtocolError(fmt.Errorf("kubios %s returned status %d", operation, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBodySize))
	if err != nil {
		return nil, model.NewProviderUnreachableError(fmt.Errorf("failed to read kubios %s body: %w", operation, err))
	}
	return body, nil
}

func rawJSON(body []byte) (json.RawMessage, error) {
	if !json.Valid(body) {
		return nil, model.NewProviderProtocolError(errors.New("kubios returned invalid JSON"))
	}
	return json.RawMessage(body), nil
}

// drainAndClose はコネクション再利用のためにボディを読み捨ててから閉じる。
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxProviderBodySize))
	_ = body.Close()
}
