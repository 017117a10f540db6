// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/erapp/messenger-gateway/internal/model"
)

// AccountRepository は紐付けレコードの永続化インターフェース。
type AccountRepository interface {
	// FindByExternalID は指定外部IDの紐付けレコードを取得する。見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, externalID string) (*model.BindingRecord, error)

	// Upsert は紐付けレコードを外部IDをキーに冪等にUPSERTする。
	// 1行単位の書き込みのため、同一外部IDに対する並行UPSERTは
	// データベース側で直列化される（credential_keyとremote_account_idが
	// 別々の書き込みで食い違うことはない）。
	Upsert(ctx context.Context, rec *model.BindingRecord) error
}
