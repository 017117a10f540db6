package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erapp/messenger-gateway/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用した紐付けレコードリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindByExternalID は指定外部IDの紐付けレコードを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByExternalID(ctx context.Context, externalID string) (*model.BindingRecord, error) {
	rec := &model.BindingRecord{}
	err := r.db.QueryRowContext(ctx,
		`SELECT external_id, remote_account_id, credential_key, auth_token, created_at, updated_at
		 FROM accounts WHERE external_id = $1`,
		externalID,
	).Scan(&rec.ExternalID, &rec.RemoteAccountID, &rec.CredentialKey, &rec.AuthToken, &rec.CreatedAt, &rec.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by external ID: %w", err)
	}

	return rec, nil
}

// Upsert は紐付けレコードを外部IDをキーに冪等にUPSERTする。
func (r *PostgresAccountRepo) Upsert(ctx context.Context, rec *model.BindingRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (external_id, remote_account_id, credential_key, auth_token, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, now(), now())
		 ON CONFLICT (external_id) DO UPDATE SET
		   remote_account_id = EXCLUDED.remote_account_id,
		   credential_key    = EXCLUDED.credential_key,
		   auth_token        = EXCLUDED.auth_token,
		   updated_at        = now()`,
		rec.ExternalID, rec.RemoteAccountID, rec.CredentialKey, rec.AuthToken,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}

	return nil
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
