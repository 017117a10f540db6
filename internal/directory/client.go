// Package directory は外部ユーザーディレクトリ（信頼できる唯一の情報源）の
// 読み取り専用クライアントを提供する。
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/erapp/messenger-gateway/internal/model"
)

// tokenHeader はディレクトリAPIの静的認証トークンを渡すヘッダー名。
const tokenHeader = "X-Temporary-API-Token"

// Client は外部ユーザーディレクトリAPIのクライアント。
// テナントごとのユーザー一覧取得のみを提供する。
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(baseURL, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
		logger:     logger,
	}
}

// ListUsers は指定テナントの全ユーザーを取得する。
// ディレクトリの返却順をそのまま保持する。
func (c *Client) ListUsers(ctx context.Context, tenant string) ([]model.DirectoryUser, error) {
	reqURL := fmt.Sprintf("%s/%s/users", c.baseURL, tenant)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(tokenHeader, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("directory API request failed",
			slog.String("tenant", tenant),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("directory unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("directory API returned error status",
			slog.String("tenant", tenant),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("directory returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory response: %w", err)
	}

	// ディレクトリはIDを数値で返すことがあるため、RawMessageで受けて
	// 文字列に正規化する。
	var raw []struct {
		ID       json.RawMessage `json:"id"`
		FullName string          `json:"full_name"`
		Email    string          `json:"email"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode directory response: %w", err)
	}

	users := make([]model.DirectoryUser, 0, len(raw))
	for _, r := range raw {
		users = append(users, model.DirectoryUser{
			ID:       strings.Trim(string(r.ID), `"`),
			FullName: r.FullName,
			Email:    r.Email,
		})
	}

	return users, nil
}
