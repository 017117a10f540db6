// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/erapp/messenger-gateway/internal/binding"
	"github.com/erapp/messenger-gateway/internal/messenger"
	"github.com/erapp/messenger-gateway/internal/middleware"
	"github.com/erapp/messenger-gateway/internal/model"
)

// DirectoryLister はハンドラーが必要とするディレクトリ操作のインターフェース。
type DirectoryLister interface {
	ListUsers(ctx context.Context, tenant string) ([]model.DirectoryUser, error)
}

// BindingResolver はハンドラーが必要とする紐付け解決のインターフェース。
type BindingResolver interface {
	Resolve(ctx context.Context, tenant string, user model.DirectoryUser) (*binding.Result, error)
}

// ContactSyncer はハンドラーが必要とするコンタクト同期のインターフェース。
type ContactSyncer interface {
	Sync(ctx context.Context, tenant, selfExternalID string, users []model.DirectoryUser) ([]model.ContactUser, error)
}

// AuthenticateHandler は認証エンドポイントのHTTPハンドラー。
type AuthenticateHandler struct {
	directory DirectoryLister
	resolver  BindingResolver
	syncer    ContactSyncer
	logger    *slog.Logger
}

// NewAuthenticateHandler はAuthenticateHandlerを生成する。
func NewAuthenticateHandler(directory DirectoryLister, resolver BindingResolver, syncer ContactSyncer, logger *slog.Logger) *AuthenticateHandler {
	return &AuthenticateHandler{
		directory: directory,
		resolver:  resolver,
		syncer:    syncer,
		logger:    logger,
	}
}

// authenticateRequest はリクエストボディを表す。
// userIdはディレクトリ側の都合で数値・文字列のどちらでも届くため
// RawMessageで受けて正規化する。
type authenticateRequest struct {
	Client string          `json:"client"`
	UserID json.RawMessage `json:"userId"`
}

// authenticateResponse はレスポンスボディを表す。
type authenticateResponse struct {
	RemoteAccountID string              `json:"remoteAccountId"`
	AuthToken       string              `json:"authToken"`
	CredentialKey   string              `json:"credentialKey"`
	Users           []model.ContactUser `json:"users"`
}

// Authenticate は外部IDの紐付けを解決し、セッションとコンタクト一覧を返す。
// POST /authenticate
func (h *AuthenticateHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With(slog.String("request_id", uuid.NewString()))

	var req authenticateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("JSONボディを解析できません"))
		return
	}

	tenant := req.Client
	externalID := normalizeID(req.UserID)
	if tenant == "" || externalID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("client と userId は必須です"))
		return
	}

	logger = logger.With(
		slog.String("tenant", tenant),
		slog.String("external_id", externalID),
	)

	// 1. ディレクトリからテナントの全ユーザーを取得する
	users, err := h.directory.ListUsers(r.Context(), tenant)
	if err != nil {
		logger.Error("directory lookup failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewRemoteUnavailableError("directory"))
		return
	}

	// 2. 呼び出し元をディレクトリ内で特定する。不在なら回復不能。
	var self *model.DirectoryUser
	for i := range users {
		if users[i].ID == externalID {
			self = &users[i]
			break
		}
	}
	if self == nil {
		logger.Warn("caller not present in directory")
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewIdentityNotFoundError(externalID))
		return
	}

	// 3. 紐付けを解決する
	result, err := h.resolver.Resolve(r.Context(), tenant, *self)
	if err != nil {
		h.writeResolveError(w, logger, err)
		return
	}

	// 4. コンタクト同期: 他ユーザー全員のアカウント存在を保証する
	contacts, err := h.syncer.Sync(r.Context(), tenant, externalID, users)
	if err != nil {
		h.writeResolveError(w, logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(authenticateResponse{
		RemoteAccountID: result.Session.RemoteAccountID,
		AuthToken:       result.Session.AuthToken,
		CredentialKey:   result.Session.CredentialKey,
		Users:           contacts,
	})
}

// writeResolveError は紐付け・同期処理のエラーを統一フォーマットで書き込む。
// リクエスト境界で全てのエラーを捕捉し、プロセスを落とさない。
func (h *AuthenticateHandler) writeResolveError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		logger.Warn("binding failed", slog.String("code", apiErr.Code))
		middleware.WriteErrorResponse(w, statusForCode(apiErr.Code), apiErr)
		return
	}

	var unavailable *messenger.UnavailableError
	if errors.As(err, &unavailable) {
		logger.Error("messenger unavailable",
			slog.String("operation", unavailable.Op),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewRemoteUnavailableError(unavailable.Op))
		return
	}

	logger.Error("binding failed with unexpected error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// statusForCode はエラーコードをHTTPステータスコードに対応付ける。
func statusForCode(code string) int {
	switch code {
	case model.ErrCodeIdentityNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeRemoteUnavailable, model.ErrCodeBindingExhausted:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// normalizeID はJSONの数値・文字列どちらで届いたIDも文字列に正規化する。
func normalizeID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	s = strings.Trim(s, `"`)
	if s == "null" {
		return ""
	}
	return s
}
