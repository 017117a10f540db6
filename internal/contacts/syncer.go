// Package contacts はディレクトリユーザー全員分のメッセンジャーアカウント
// 存在保証（コンタクト同期）を提供する。
package contacts

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/erapp/messenger-gateway/internal/binding"
	"github.com/erapp/messenger-gateway/internal/model"
)

// PeerProvisioner はピアアカウントの存在保証のインターフェース。
// テスト時にモックへ差し替え可能。
type PeerProvisioner interface {
	// EnsurePeerAccount は指定ユーザーのアカウント存在を保証する。
	EnsurePeerAccount(ctx context.Context, tenant string, user model.DirectoryUser) (string, bool, error)
}

// Syncer はコンタクト同期を行う。
// 呼び出し元以外の全ディレクトリユーザーについてアカウント存在を保証し、
// 導出ユーザー名を付与した一覧を返す。少なくとも1回実行の突き合わせ処理で
// あり、繰り返し実行しても既存アカウントには触れない。
type Syncer struct {
	provisioner PeerProvisioner
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// NewSyncer はSyncerを生成する。
// limiterはメッセンジャーAPIへのピア作成呼び出しのペーシングに使う。
func NewSyncer(provisioner PeerProvisioner, limiter *rate.Limiter, logger *slog.Logger) *Syncer {
	return &Syncer{
		provisioner: provisioner,
		limiter:     limiter,
		logger:      logger,
	}
}

// Sync は呼び出し元（selfExternalID）を除く全ユーザーのアカウント存在を
// 保証し、導出ユーザー名を付与して返す。ディレクトリの順序を保持する。
// 逐次処理のためピアごとの管理者セッションの共有状態問題は発生しない。
func (s *Syncer) Sync(ctx context.Context, tenant, selfExternalID string, users []model.DirectoryUser) ([]model.ContactUser, error) {
	contacts := make([]model.ContactUser, 0, len(users))

	for _, user := range users {
		// 自分自身は除外する
		if user.ID == selfExternalID {
			continue
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("contact sync cancelled: %w", err)
		}

		accountID, created, err := s.provisioner.EnsurePeerAccount(ctx, tenant, user)
		if err != nil {
			return nil, fmt.Errorf("failed to provision peer %s: %w", user.ID, err)
		}

		if created {
			s.logger.Info("provisioned peer account",
				slog.String("tenant", tenant),
				slog.String("external_id", user.ID),
				slog.String("remote_account_id", accountID),
			)
		}

		contacts = append(contacts, model.ContactUser{
			DirectoryUser: user,
			Username:      binding.Username(tenant, user.ID),
		})
	}

	return contacts, nil
}
