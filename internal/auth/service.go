// Package auth はKubiosへの委譲ログイン、ローカルユーザーの同期、セッショントークンを提供する。
package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/hitoshi/sleepdiary/internal/metrics"
	"github.com/hitoshi/sleepdiary/internal/model"
	"github.com/hitoshi/sleepdiary/internal/repository"
)

// placeholderPhonePrefix はKubiosが電話番号を提供しないために合成する値の接頭辞。
const placeholderPhonePrefix = "000-PLACEHOLDER-"

// IdentityProvider は外部IdPとのやり取りのインターフェース。
type IdentityProvider interface {
	// Login は資格情報でログインし、IdPのトークンを返す。
	Login(ctx context.Context, username, password string) (*model.IdentityToken, error)
	// FetchProfile はトークンに対応するプロフィールを取得する。
	FetchProfile(ctx context.Context, idToken string) (*model.Profile, error)
}

// SessionIssuer はセッショントークンの発行インターフェース。
type SessionIssuer interface {
	Issue(userID int64, kubiosIDToken string, providerTTL time.Duration) (string, time.Time, error)
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	Profile   *model.Profile
	UserID    int64
	Token     string
	ExpiresAt time.Time
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	provider IdentityProvider
	userRepo repository.UserRepository
	issuer   SessionIssuer
	metrics  metrics.MetricsCollector
	newPhone func() (string, error)
}

// NewService はServiceを生成する。
func NewService(
	provider IdentityProvider,
	userRepo repository.UserRepository,
	issuer SessionIssuer,
	m metrics.MetricsCollector,
) *Service {
	if m == nil {
		m = metrics.NopCollector{}
	}
	return &Service{
		provider: provider,
		userRepo: userRepo,
		issuer:   issuer,
		metrics:  m,
		newPhone: placeholderPhoneNumber,
	}
}

// Login はKubiosでログインし、ローカルユーザーを同期してセッショントークンを発行する。
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	token, err := s.provider.Login(ctx, username, password)
	if err != nil {
		s.metrics.RecordLogin(loginOutcome(err))
		return nil, err
	}

	profile, err := s.provider.FetchProfile(ctx, token.IDToken)
	if err != nil {
		// 直前に取得したトークンが拒否された場合はセッション切れではなくプロバイダ側の異常
		if model.IsKind(err, model.KindProviderTokenRejected) {
			err = model.NewProviderProtocolError(fmt.Errorf("kubios rejected a freshly issued token: %w", err))
		}
		s.metrics.RecordLogin(loginOutcome(err))
		return nil, err
	}

	userID, err := s.SyncIdentity(ctx, profile)
	if err != nil {
		s.metrics.RecordLogin(metrics.LoginStorage)
		return nil, err
	}

	signed, expiresAt, err := s.issuer.Issue(userID, token.IDToken, token.ExpiresIn)
	if err != nil {
		s.metrics.RecordLogin(metrics.LoginProtocol)
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	s.metrics.RecordLogin(metrics.LoginSuccess)
	slog.Info("user logged in with kubios",
		slog.Int64("user_id", userID),
		slog.Time("expires_at", expiresAt),
	)

	return &LoginResult{
		Profile:   profile,
		UserID:    userID,
		Token:     signed,
		ExpiresAt: expiresAt,
	}, nil
}

// SyncIdentity はKubiosのプロフィールをローカルユーザーに対応付ける。
// 未登録のemailならユーザーを作成し、登録済みなら既存IDを変更せずに返す。
func (s *Service) SyncIdentity(ctx context.Context, profile *model.Profile) (int64, error) {
	existing, err := s.userRepo.FindByEmail(ctx, profile.Email)
	if err != nil {
		return 0, model.NewStorageError(err)
	}
	if existing != nil {
		return existing.ID, nil
	}

	phone, err := s.newPhone()
	if err != nil {
		return 0, model.NewStorageError(fmt.Errorf("failed to generate placeholder phone: %w", err))
	}

	id, created, err := s.userRepo.CreateIfAbsent(ctx, &model.User{
		FirstName:     profile.GivenName,
		LastName:      profile.FamilyName,
		Email:         profile.Email,
		ReminderEmail: profile.Email,
		PhoneNumber:   phone,
	})
	if err != nil {
		return 0, model.NewStorageError(err)
	}

	if created {
		slog.Info("new user created", slog.Int64("user_id", id))
	}
	return id, nil
}

// CurrentUser は認証済みユーザーのローカルレコードを返す。
func (s *Service) CurrentUser(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, model.NewStorageError(err)
	}
	if user == nil {
		return nil, model.NewNotFoundError("User not found")
	}
	return user, nil
}

// loginOutcome はログイン失敗のエラー種別をメトリクスのラベルに変換する。
func loginOutcome(err error) string {
	switch {
	case model.IsKind(err, model.KindAuthFailed):
		return metrics.LoginAuthFailed
	case model.IsKind(err, model.KindProviderUnreachable):
		return metrics.LoginUnreachable
	default:
		return metrics.LoginProtocol
	}
}

// placeholderPhoneNumber は "000-PLACEHOLDER-" に6桁の乱数を付けた値を返す。
func placeholderPhoneNumber() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%06d", placeholderPhonePrefix, n.Int64()), nil
}
