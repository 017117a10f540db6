// Package logger はゲートウェイ全体のJSON構造化ログを構成する。
// 紐付け処理のログはtenant・external_id・strategy・request_idの
// 属性で相関できることを前提とする。
package logger

import (
	"io"
	"log/slog"
	"os"
)

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// 資格情報（credential_key・auth_token）は属性に含めないこと。
func Setup(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログをグローバルロガーとして設定する。
// 起動時に1回だけ呼び、以降はslog.Default()を共有する。
// writerがnilの場合はos.Stdoutへ出力する。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w)
	slog.SetDefault(logger)
}
