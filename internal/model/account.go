// Package model はドメインモデルを定義する。
package model

import "time"

// BindingRecord は外部IDとメッセンジャーアカウントの紐付けを表す。
// 外部ユーザーIDをキーとして永続化され、メッセンジャー側アカウントの
// 永続的な影（シャドウ）として機能する。
// RemoteAccountIDとCredentialKeyは必ず同時に設定される（片方だけの
// 状態は作成・ローテーション成功後には存在しない）。
type BindingRecord struct {
	ExternalID      string
	RemoteAccountID string
	CredentialKey   string
	AuthToken       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DirectoryUser は外部ディレクトリから取得したユーザーを表す。
// リクエストごとに取得される一時データであり、永続化しない。
type DirectoryUser struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// ContactUser はコンタクト同期の結果として返すユーザーを表す。
// DirectoryUserにメッセンジャー側の導出ユーザー名を付与したもの。
type ContactUser struct {
	DirectoryUser
	Username string `json:"username"`
}

// Session は紐付け解決に成功した結果として呼び出し元に渡す認証情報。
// BindingRecordから導出される一時的なケイパビリティであり、
// 1リクエストの間だけ呼び出し元が所有する。
type Session struct {
	RemoteAccountID string
	AuthToken       string
	CredentialKey   string
}
