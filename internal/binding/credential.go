package binding

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// credentialKeyLength は生成する資格情報の文字数。
const credentialKeyLength = 32

// Username はテナントと外部IDからメッセンジャー側ユーザー名を導出する。
// この対応は衝突ベースの回復で自然キーとして使われるため、
// 一度選んだ導出規則は変更してはならない。
func Username(tenant, externalID string) string {
	return fmt.Sprintf("%s_%s", tenant, externalID)
}

// newCredentialKey は暗号論的乱数から固定長の資格情報を生成する。
// ローテーションごとに新しい値を生成し、再利用しない。
func newCredentialKey() string {
	buf := make([]byte, credentialKeyLength/2)
	if _, err := rand.Read(buf); err != nil {
		// crypto/randの失敗はプロセスが信頼できない状態を意味する
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(buf)
}
