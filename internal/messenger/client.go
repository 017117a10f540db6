// Package messenger はメッセンジャーバックエンドのREST APIクライアントを提供する。
// 認証情報はクライアント内部の状態として持たず、As()で生成する
// 値スコープのハンドル（Scoped）に固定する。並行リクエスト間で
// 「現在の認証情報」を共有しないための設計。
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// 業務上の失敗を表すセンチネルエラー。
// トランスポート障害はUnavailableErrorとして区別する。
var (
	// ErrAuthFailure はログインまたはトークン検証の失敗を表す。
	ErrAuthFailure = errors.New("messenger: authentication failed")
	// ErrConflict はユーザー名が既に使用されている登録失敗を表す。
	ErrConflict = errors.New("messenger: username already taken")
	// ErrNotFound はユーザー検索で対象が存在しないことを表す。
	ErrNotFound = errors.New("messenger: user not found")
	// ErrNotMember はチャンネルキック時に対象がメンバーでないことを表す。
	// 想定内の結果であり、呼び出し元は通常これを握りつぶす。
	ErrNotMember = errors.New("messenger: user is not a channel member")
)

// UnavailableError はメッセンジャーAPIへのトランスポートレベルの障害を表す。
// 業務エラーと異なり、リクエスト全体のリトライで回復し得る。
type UnavailableError struct {
	Op  string
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("messenger %s unavailable: %v", e.Op, e.Err)
}

// Unwrap はラップしたエラーを返す。
func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Auth はメッセンジャーAPIの認証情報（行為主体）を表す。
type Auth struct {
	UserID    string
	AuthToken string
}

// RemoteUser はメッセンジャー側のユーザーアカウントを表す。
type RemoteUser struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Client はメッセンジャーバックエンドのRESTクライアント。
// 認証情報を保持しない。認証が必要な操作はAs()で得るScopedから行う。
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLの末尾スラッシュは取り除かれる。
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// As は指定した認証情報に固定したScopedハンドルを返す。
// Scopedはイミュータブルであり、複数ゴルーチンから同時に使用できる。
func (c *Client) As(auth Auth) *Scoped {
	return &Scoped{client: c, auth: auth}
}

// loginResponse はloginエンドポイントのレスポンスエンベロープ。
type loginResponse struct {
	Status string `json:"status"`
	Data   struct {
		UserID    string `json:"userId"`
		AuthToken string `json:"authToken"`
	} `json:"data"`
}

// Login はユーザー名とパスワードでログインし、認証情報を返す。
// 資格情報が不正な場合はErrAuthFailureを返す。
func (c *Client) Login(ctx context.Context, username, password string) (*Auth, error) {
	body := map[string]string{
		"user":     username,
		"password": password,
	}

	var res loginResponse
	statusCode, err := c.post(ctx, "login", body, nil, &res)
	if err != nil {
		return nil, err
	}

	if statusCode == http.StatusUnauthorized || res.Status != "success" {
		c.logger.Warn("messenger login rejected",
			slog.String("username", username),
			slog.Int("http_status", statusCode),
		)
		return nil, ErrAuthFailure
	}

	return &Auth{
		UserID:    res.Data.UserID,
		AuthToken: res.Data.AuthToken,
	}, nil
}

// userResponse はusers.*エンドポイントのレスポンスエンベロープ。
type userResponse struct {
	Success bool       `json:"success"`
	Error   string     `json:"error"`
	User    RemoteUser `json:"user"`
}

// Register は新規ユーザーを登録する。
// ユーザー名が既に使用されている場合はErrConflictを返す。
func (c *Client) Register(ctx context.Context, username, pass, name, email string) (*RemoteUser, error) {
	body := map[string]string{
		"username": username,
		"pass":     pass,
		"name":     name,
		"email":    email,
	}

	var res userResponse
	statusCode, err := c.post(ctx, "users.register", body, nil, &res)
	if err != nil {
		return nil, err
	}

	if statusCode == http.StatusConflict || !res.Success {
		c.logger.Info("messenger registration conflict",
			slog.String("username", username),
			slog.String("remote_error", res.Error),
		)
		return nil, ErrConflict
	}

	return &res.User, nil
}

// Scoped は特定の認証情報に固定されたクライアントハンドル。
// 1つの操作単位（ログイン検証、管理操作など）に対して生成し、使い捨てる。
type Scoped struct {
	client *Client
	auth   Auth
}

// Auth はこのハンドルに固定された認証情報を返す。
func (s *Scoped) Auth() Auth {
	return s.auth
}

// Me は自分自身のプロフィールを取得する副作用のないプローブ。
// 認証トークンが無効な場合はErrAuthFailureを返す。
func (s *Scoped) Me(ctx context.Context) error {
	var res struct {
		Success bool `json:"success"`
	}
	statusCode, err := s.client.get(ctx, "me", nil, &s.auth, &res)
	if err != nil {
		return err
	}

	if statusCode == http.StatusUnauthorized || !res.Success {
		return ErrAuthFailure
	}

	return nil
}

// LookupByUsername はユーザー名でアカウントを検索する。
// 存在しない場合はErrNotFoundを返す。
func (s *Scoped) LookupByUsername(ctx context.Context, username string) (*RemoteUser, error) {
	query := url.Values{}
	query.Set("username", username)

	var res userResponse
	statusCode, err := s.client.get(ctx, "users.info", query, &s.auth, &res)
	if err != nil {
		return nil, err
	}

	if statusCode == http.StatusUnauthorized {
		return nil, ErrAuthFailure
	}
	if !res.Success || res.User.ID == "" {
		return nil, ErrNotFound
	}

	return &res.User, nil
}

// SetPassword は指定アカウントのパスワードを変更する。管理者権限が必要。
func (s *Scoped) SetPassword(ctx context.Context, accountID, password string) error {
	body := map[string]any{
		"userId": accountID,
		"data": map[string]string{
			"password": password,
		},
	}

	var res userResponse
	statusCode, err := s.client.post(ctx, "users.update", body, &s.auth, &res)
	if err != nil {
		return err
	}

	if statusCode == http.StatusUnauthorized {
		return ErrAuthFailure
	}
	if !res.Success {
		return fmt.Errorf("messenger users.update failed: %s", res.Error)
	}

	return nil
}

// KickFromChannel は指定アカウントをチャンネルから退出させる。
// 対象がメンバーでない場合はErrNotMemberを返す（想定内）。
func (s *Scoped) KickFromChannel(ctx context.Context, channelID, accountID string) error {
	body := map[string]string{
		"roomId": channelID,
		"userId": accountID,
	}

	var res struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	statusCode, err := s.client.post(ctx, "channels.kick", body, &s.auth, &res)
	if err != nil {
		return err
	}

	if statusCode == http.StatusUnauthorized {
		return ErrAuthFailure
	}
	if !res.Success {
		return ErrNotMember
	}

	return nil
}

// get は認証ヘッダー付き（authがnilでない場合）のGETリクエストを実行する。
func (c *Client) get(ctx context.Context, endpoint string, query url.Values, auth *Auth, out any) (int, error) {
	reqURL := c.baseURL + "/" + endpoint
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	return c.do(req, endpoint, auth, out)
}

// post はJSONボディのPOSTリクエストを実行する。
func (c *Client) post(ctx context.Context, endpoint string, body any, auth *Auth, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, endpoint, auth, out)
}

// do はリクエストを送信し、レスポンスJSONをoutにデコードする。
// トランスポート障害と5xxはUnavailableErrorとして返す。
// HTTPステータスコードの解釈（401/409など）は呼び出し元の責務。
func (c *Client) do(req *http.Request, endpoint string, auth *Auth, out any) (int, error) {
	if auth != nil {
		req.Header.Set("X-Auth-Token", auth.AuthToken)
		req.Header.Set("X-User-Id", auth.UserID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("messenger API request failed",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return 0, &UnavailableError{Op: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		c.logger.Error("messenger API returned server error",
			slog.String("endpoint", endpoint),
			slog.Int("http_status", resp.StatusCode),
		)
		return resp.StatusCode, &UnavailableError{
			Op:  endpoint,
			Err: fmt.Errorf("server returned status %d", resp.StatusCode),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, &UnavailableError{Op: endpoint, Err: err}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, &UnavailableError{
				Op:  endpoint,
				Err: fmt.Errorf("failed to decode response: %w", err),
			}
		}
	}

	return resp.StatusCode, nil
}
