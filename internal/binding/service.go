// Package binding は外部IDとメッセンジャーアカウントの紐付けロジックを提供する。
// 紐付け状態（未紐付け・有効・失効）をリクエストごとに判定し、
// 登録・パスワードリセット・再ログインのいずれかの経路で回復する。
package binding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/erapp/messenger-gateway/internal/messenger"
	"github.com/erapp/messenger-gateway/internal/model"
	"github.com/erapp/messenger-gateway/internal/repository"
)

// Scope はメッセンジャーAPIの認証済み操作のインターフェース。
// messenger.Scopedをテスト時にモックへ差し替えるための抽象化。
type Scope interface {
	// Me は認証トークンの有効性を検証する副作用のないプローブ。
	Me(ctx context.Context) error
	// LookupByUsername はユーザー名でアカウントを検索する。
	LookupByUsername(ctx context.Context, username string) (*messenger.RemoteUser, error)
	// SetPassword は指定アカウントのパスワードを変更する。
	SetPassword(ctx context.Context, accountID, password string) error
	// KickFromChannel は指定アカウントをチャンネルから退出させる。
	KickFromChannel(ctx context.Context, channelID, accountID string) error
}

// Messenger は紐付けサービスが必要とするメッセンジャークライアントのインターフェース。
type Messenger interface {
	// Login はユーザー名とパスワードでログインする。
	Login(ctx context.Context, username, password string) (*messenger.Auth, error)
	// Register は新規ユーザーを登録する。
	Register(ctx context.Context, username, pass, name, email string) (*messenger.RemoteUser, error)
	// As は指定した認証情報に固定したスコープを返す。
	As(auth messenger.Auth) Scope
}

// clientAdapter は*messenger.ClientをMessengerインターフェースに適合させる。
// As の戻り値型を合わせるためだけの薄いラッパー。
type clientAdapter struct {
	c *messenger.Client
}

func (a clientAdapter) Login(ctx context.Context, username, password string) (*messenger.Auth, error) {
	return a.c.Login(ctx, username, password)
}

func (a clientAdapter) Register(ctx context.Context, username, pass, name, email string) (*messenger.RemoteUser, error) {
	return a.c.Register(ctx, username, pass, name, email)
}

func (a clientAdapter) As(auth messenger.Auth) Scope {
	return a.c.As(auth)
}

// WrapClient は*messenger.ClientをMessengerインターフェースとして返す。
func WrapClient(c *messenger.Client) Messenger {
	return clientAdapter{c: c}
}

// Strategy は紐付け解決で実際に通った経路を表す。
// テストが各分岐を決定的に検証できるよう、結果に付与して返す。
type Strategy string

const (
	// StrategyCachedValid はキャッシュ済みトークンがプローブに成功し再利用された。
	StrategyCachedValid Strategy = "cached_valid"
	// StrategyCreated は新規アカウントを登録した。
	StrategyCreated Strategy = "created"
	// StrategyRecoveredByReset はパスワードリセットで既存アカウントを回復した。
	StrategyRecoveredByReset Strategy = "recovered_by_reset"
	// StrategyReloggedIn はキャッシュ済み資格情報で再ログインした。
	StrategyReloggedIn Strategy = "relogged_in"
)

// Result は紐付け解決の結果。
type Result struct {
	Session  model.Session
	Record   *model.BindingRecord
	Strategy Strategy
}

// MetricsCollector は紐付け処理のメトリクス収集インターフェース。
type MetricsCollector interface {
	RecordBinding(strategy string)
	RecordBindingFailure(code string)
	RecordBindingDuration(d time.Duration)
	RecordContactProvisioned()
}

// ServiceConfig は紐付けサービスの設定。
type ServiceConfig struct {
	AdminUsername    string
	AdminPassword    string
	DefaultChannelID string
	EmailDomain      string // 導出メールアドレスのドメイン（デフォルト: erapp.dk）
}

// Service は紐付け状態マシンを実装するサービス。
type Service struct {
	m       Messenger
	repo    repository.AccountRepository
	metrics MetricsCollector
	logger  *slog.Logger
	config  ServiceConfig

	// adminMu は管理者スコープの遅延確立を直列化する。
	// 管理者ログインはコンストラクタの副作用ではなく、最初の特権操作の
	// 前提条件として明示的に確認する。
	adminMu sync.Mutex
	admin   Scope
}

// NewService はServiceを生成する。ネットワーク副作用は持たない。
func NewService(
	m Messenger,
	repo repository.AccountRepository,
	metrics MetricsCollector,
	logger *slog.Logger,
	config ServiceConfig,
) *Service {
	if config.EmailDomain == "" {
		config.EmailDomain = "erapp.dk"
	}
	return &Service{
		m:       m,
		repo:    repo,
		metrics: metrics,
		logger:  logger,
		config:  config,
	}
}

// Resolve は外部IDに対する紐付けを解決し、認証済みセッションを返す。
//
// 状態遷移:
//   - 未紐付け: 登録を試行し、ユーザー名衝突時はパスワードリセットで
//     既存アカウントを回復する（キャッシュ喪失後の自己修復経路）。
//   - 失効（トークンなし・プローブ失敗）: キャッシュ済み資格情報でログイン。
//     認証失敗時はパスワードリセット1回とログイン再試行1回のみ。
//   - 有効: プローブ済みトークンをそのまま再利用する。
//
// 全ての終端経路でデフォルトチャンネルの整理をベストエフォートで行う。
func (s *Service) Resolve(ctx context.Context, tenant string, user model.DirectoryUser) (*Result, error) {
	start := time.Now()

	result, err := s.resolve(ctx, tenant, user)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			s.metrics.RecordBindingFailure(apiErr.Code)
		} else {
			s.metrics.RecordBindingFailure(model.ErrCodeRemoteUnavailable)
		}
		return nil, err
	}

	s.metrics.RecordBinding(string(result.Strategy))
	s.metrics.RecordBindingDuration(time.Since(start))

	s.logger.Info("binding resolved",
		slog.String("external_id", user.ID),
		slog.String("tenant", tenant),
		slog.String("strategy", string(result.Strategy)),
	)

	return result, nil
}

func (s *Service) resolve(ctx context.Context, tenant string, user model.DirectoryUser) (*Result, error) {
	rec, err := s.repo.FindByExternalID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load binding record: %w", err)
	}

	if rec == nil {
		return s.bindNew(ctx, tenant, user)
	}

	// キャッシュ済みトークンの有効性をプローブする。
	// プローブの認証失敗は失効を意味する通常の制御フローであり、
	// トランスポート障害のみ呼び出し元へ伝播させる。
	if rec.AuthToken != "" && rec.RemoteAccountID != "" {
		probeErr := s.m.As(messenger.Auth{
			UserID:    rec.RemoteAccountID,
			AuthToken: rec.AuthToken,
		}).Me(ctx)

		if probeErr == nil {
			s.configureDefaultGroups(ctx, rec.RemoteAccountID)
			return &Result{
				Session: model.Session{
					RemoteAccountID: rec.RemoteAccountID,
					AuthToken:       rec.AuthToken,
					CredentialKey:   rec.CredentialKey,
				},
				Record:   rec,
				Strategy: StrategyCachedValid,
			}, nil
		}

		var unavailable *messenger.UnavailableError
		if errors.As(probeErr, &unavailable) {
			return nil, probeErr
		}

		s.logger.Info("cached auth token is stale",
			slog.String("external_id", rec.ExternalID),
		)
	}

	return s.relogin(ctx, tenant, user, rec)
}

// bindNew は未紐付けの外部IDに対して新規登録を行う。
// 登録がユーザー名衝突で失敗した場合（アカウントは存在するがキャッシュが
// 失われている場合）はパスワードリセットで回復する。
func (s *Service) bindNew(ctx context.Context, tenant string, user model.DirectoryUser) (*Result, error) {
	username := Username(tenant, user.ID)
	key := newCredentialKey()
	strategy := StrategyCreated

	accountID := ""
	remote, err := s.m.Register(ctx, username, key, user.FullName, s.email(tenant, user.ID))
	switch {
	case err == nil:
		accountID = remote.ID
	case errors.Is(err, messenger.ErrConflict):
		accountID, key, err = s.recoverByPasswordReset(ctx, username)
		if err != nil {
			if errors.Is(err, messenger.ErrNotFound) {
				// 登録は衝突したのに検索にも失敗: メッセンジャー側の不整合。
				return nil, model.NewBindingExhaustedError(user.ID)
			}
			return nil, err
		}
		strategy = StrategyRecoveredByReset
	default:
		return nil, err
	}

	rec := &model.BindingRecord{
		ExternalID:      user.ID,
		RemoteAccountID: accountID,
		CredentialKey:   key,
	}
	// ログイン前に無条件で永続化する。ここで落ちても次回の衝突回復で
	// 自己修復できる状態を保つ。
	if err := s.repo.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist binding record: %w", err)
	}

	// 新規作成時のみ、ログイン失敗に対するリセット1回を許す。
	// 回復経路を既に通った場合、ローテーションは1回までとする。
	resetAllowed := strategy == StrategyCreated
	rec, rotated, err := s.loginAndPersist(ctx, tenant, user.ID, rec, resetAllowed)
	if err != nil {
		return nil, err
	}
	if rotated {
		strategy = StrategyRecoveredByReset
	}

	s.configureDefaultGroups(ctx, rec.RemoteAccountID)

	return &Result{
		Session: model.Session{
			RemoteAccountID: rec.RemoteAccountID,
			AuthToken:       rec.AuthToken,
			CredentialKey:   rec.CredentialKey,
		},
		Record:   rec,
		Strategy: strategy,
	}, nil
}

// relogin は失効した紐付けをキャッシュ済み資格情報の再ログインで更新する。
// パスワードが外部でローテーションされていた場合はリセット1回で回復する。
func (s *Service) relogin(ctx context.Context, tenant string, user model.DirectoryUser, rec *model.BindingRecord) (*Result, error) {
	rec, rotated, err := s.loginAndPersist(ctx, tenant, user.ID, rec, true)
	if err != nil {
		return nil, err
	}

	strategy := StrategyReloggedIn
	if rotated {
		strategy = StrategyRecoveredByReset
	}

	s.configureDefaultGroups(ctx, rec.RemoteAccountID)

	return &Result{
		Session: model.Session{
			RemoteAccountID: rec.RemoteAccountID,
			AuthToken:       rec.AuthToken,
			CredentialKey:   rec.CredentialKey,
		},
		Record:   rec,
		Strategy: strategy,
	}, nil
}

// loginAndPersist はキャッシュ済み資格情報でログインし、取得したトークンを
// 永続化する。認証失敗時、resetAllowedであればパスワードリセットを
// ちょうど1回行い、ログインをちょうど1回だけ再試行する。
// 2回目の失敗は回復手段の枯渇として致命的エラーを返す。
func (s *Service) loginAndPersist(ctx context.Context, tenant, externalID string, rec *model.BindingRecord, resetAllowed bool) (*model.BindingRecord, bool, error) {
	username := Username(tenant, externalID)
	rotated := false

	auth, err := s.m.Login(ctx, username, rec.CredentialKey)
	if err != nil {
		if !errors.Is(err, messenger.ErrAuthFailure) {
			return nil, false, err
		}
		if !resetAllowed {
			return nil, false, model.NewBindingExhaustedError(externalID)
		}

		accountID, key, resetErr := s.recoverByPasswordReset(ctx, username)
		if resetErr != nil {
			if errors.Is(resetErr, messenger.ErrNotFound) {
				return nil, false, model.NewBindingExhaustedError(externalID)
			}
			return nil, false, resetErr
		}
		rotated = true
		rec.RemoteAccountID = accountID
		rec.CredentialKey = key

		auth, err = s.m.Login(ctx, username, key)
		if err != nil {
			if errors.Is(err, messenger.ErrAuthFailure) {
				return nil, false, model.NewBindingExhaustedError(externalID)
			}
			return nil, false, err
		}
	}

	rec.RemoteAccountID = auth.UserID
	rec.AuthToken = auth.AuthToken

	if err := s.repo.Upsert(ctx, rec); err != nil {
		return nil, false, fmt.Errorf("failed to persist refreshed binding: %w", err)
	}

	return rec, rotated, nil
}

// recoverByPasswordReset は導出ユーザー名で既存アカウントを検索し、
// 新しい資格情報にローテーションする。サイレントな資格情報喪失に対する
// 補償アクション。アカウントIDと新しい資格情報を返す。
func (s *Service) recoverByPasswordReset(ctx context.Context, username string) (string, string, error) {
	var remote *messenger.RemoteUser
	err := s.withAdmin(ctx, func(admin Scope) error {
		var lookupErr error
		remote, lookupErr = admin.LookupByUsername(ctx, username)
		return lookupErr
	})
	if err != nil {
		return "", "", err
	}

	key := newCredentialKey()
	err = s.withAdmin(ctx, func(admin Scope) error {
		return admin.SetPassword(ctx, remote.ID, key)
	})
	if err != nil {
		return "", "", err
	}

	s.logger.Info("recovered account by password reset",
		slog.String("username", username),
		slog.String("remote_account_id", remote.ID),
	)

	return remote.ID, key, nil
}

// EnsurePeerAccount は他ユーザー（ピア）のアカウント存在を保証する。
// 存在しない場合のみ登録し、デフォルトチャンネルの整理を行う。
// ピアに対してはログインもパスワードリセットも行わない。
// 戻り値はアカウントIDと、新規登録が行われたかどうか。
func (s *Service) EnsurePeerAccount(ctx context.Context, tenant string, user model.DirectoryUser) (string, bool, error) {
	username := Username(tenant, user.ID)

	var remote *messenger.RemoteUser
	err := s.withAdmin(ctx, func(admin Scope) error {
		var lookupErr error
		remote, lookupErr = admin.LookupByUsername(ctx, username)
		return lookupErr
	})
	if err == nil {
		return remote.ID, false, nil
	}
	if !errors.Is(err, messenger.ErrNotFound) {
		return "", false, err
	}

	created, err := s.m.Register(ctx, username, newCredentialKey(), user.FullName, s.email(tenant, user.ID))
	if err != nil {
		if errors.Is(err, messenger.ErrConflict) {
			// 検索と登録の間に作成された場合。IDを解決し直す。
			lookupErr := s.withAdmin(ctx, func(admin Scope) error {
				var err error
				remote, err = admin.LookupByUsername(ctx, username)
				return err
			})
			if lookupErr != nil {
				return "", false, model.NewBindingExhaustedError(user.ID)
			}
			return remote.ID, false, nil
		}
		return "", false, err
	}

	s.configureDefaultGroups(ctx, created.ID)
	s.metrics.RecordContactProvisioned()

	return created.ID, true, nil
}

// adminScope は管理者としての認証済みスコープを返す。
// 最初の特権操作時に一度だけログインし、以降はキャッシュする。
// ログイン失敗時はキャッシュせず、次回の呼び出しで再試行する。
func (s *Service) adminScope(ctx context.Context) (Scope, error) {
	s.adminMu.Lock()
	defer s.adminMu.Unlock()

	if s.admin != nil {
		return s.admin, nil
	}

	auth, err := s.m.Login(ctx, s.config.AdminUsername, s.config.AdminPassword)
	if err != nil {
		return nil, fmt.Errorf("admin login failed: %w", err)
	}

	s.admin = s.m.As(*auth)
	return s.admin, nil
}

// dropAdminScope はキャッシュ済みの管理者スコープを破棄する。
// 別のゴルーチンが既に再確立したスコープを誤って捨てないよう、
// 失効を観測したスコープと一致する場合のみクリアする。
func (s *Service) dropAdminScope(stale Scope) {
	s.adminMu.Lock()
	defer s.adminMu.Unlock()
	if s.admin == stale {
		s.admin = nil
	}
}

// withAdmin は管理者スコープで特権操作を実行する。
// 管理者トークンはリモート側で独立に無効化され得るため、操作が
// 認証失敗を返した場合はスコープを破棄して再ログインし、
// ちょうど1回だけ再試行する。2回目の失敗はそのまま伝播させる。
func (s *Service) withAdmin(ctx context.Context, op func(admin Scope) error) error {
	admin, err := s.adminScope(ctx)
	if err != nil {
		return err
	}

	err = op(admin)
	if !errors.Is(err, messenger.ErrAuthFailure) {
		return err
	}

	s.logger.Info("admin session expired, re-establishing")
	s.dropAdminScope(admin)

	admin, loginErr := s.adminScope(ctx)
	if loginErr != nil {
		return loginErr
	}
	return op(admin)
}

// configureDefaultGroups はデフォルトチャンネルからの退出をベストエフォートで行う。
// 管理者ログイン失敗と非メンバーを含む全ての失敗を握りつぶす。
// 紐付け結果には一切影響しない。
func (s *Service) configureDefaultGroups(ctx context.Context, accountID string) {
	err := s.withAdmin(ctx, func(admin Scope) error {
		return admin.KickFromChannel(ctx, s.config.DefaultChannelID, accountID)
	})
	if err != nil && !errors.Is(err, messenger.ErrNotMember) {
		s.logger.Warn("default group cleanup skipped",
			slog.String("remote_account_id", accountID),
			slog.String("error", err.Error()),
		)
	}
}

// email はテナントと外部IDから登録用メールアドレスを導出する。
func (s *Service) email(tenant, externalID string) string {
	return fmt.Sprintf("%s-%s@%s", tenant, externalID, s.config.EmailDomain)
}
