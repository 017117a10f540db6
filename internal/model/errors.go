// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// 原因カテゴリと呼び出し元向けの対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // 呼び出し元向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeIdentityNotFound  = "IDENTITY_NOT_FOUND"
	ErrCodeRemoteUnavailable = "REMOTE_UNAVAILABLE"
	ErrCodeBindingExhausted  = "BINDING_EXHAUSTED"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// NewIdentityNotFoundError は外部IDがディレクトリに存在しない場合のエラーを生成する。
// リトライしても回復しない呼び出し元エラー。
func NewIdentityNotFoundError(externalID string) *APIError {
	return &APIError{
		Code:     ErrCodeIdentityNotFound,
		Message:  fmt.Sprintf("指定されたユーザーがディレクトリに存在しません: %s", externalID),
		Category: "auth",
		Action:   "クライアントIDとユーザーIDを確認してください。",
	}
}

// NewRemoteUnavailableError はメッセンジャーバックエンドまたはディレクトリAPIへの
// 通信に失敗した場合のエラーを生成する。リクエスト全体のリトライで回復し得る。
func NewRemoteUnavailableError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeRemoteUnavailable,
		Message:  fmt.Sprintf("外部サービスへの接続に失敗しました: %s", reason),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewBindingExhaustedError は全ての回復手段（登録・パスワードリセット・再ログイン）が
// 失敗した場合のエラーを生成する。メッセンジャー側の不整合を示すためこの呼び出しでは
// 回復不能。
func NewBindingExhaustedError(externalID string) *APIError {
	return &APIError{
		Code:     ErrCodeBindingExhausted,
		Message:  fmt.Sprintf("アカウント紐付けの回復手段を使い切りました: %s", externalID),
		Category: "system",
		Action:   "メッセンジャー側のアカウント状態を管理者に確認してください。",
	}
}

// NewInvalidRequestError はリクエストボディが不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "client と userId を含むJSONボディを指定してください。",
	}
}
