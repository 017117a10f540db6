package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/erapp/messenger-gateway/internal/binding"
	"github.com/erapp/messenger-gateway/internal/messenger"
	"github.com/erapp/messenger-gateway/internal/model"
)

// --- モック定義 ---

type mockDirectory struct {
	listUsersFn func(ctx context.Context, tenant string) ([]model.DirectoryUser, error)
}

func (m *mockDirectory) ListUsers(ctx context.Context, tenant string) ([]model.DirectoryUser, error) {
	if m.listUsersFn != nil {
		return m.listUsersFn(ctx, tenant)
	}
	return nil, nil
}

type mockResolver struct {
	resolveFn func(ctx context.Context, tenant string, user model.DirectoryUser) (*binding.Result, error)
}

func (m *mockResolver) Resolve(ctx context.Context, tenant string, user model.DirectoryUser) (*binding.Result, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, tenant, user)
	}
	return nil, nil
}

type mockSyncer struct {
	syncFn func(ctx context.Context, tenant, self string, users []model.DirectoryUser) ([]model.ContactUser, error)
}

func (m *mockSyncer) Sync(ctx context.Context, tenant, self string, users []model.DirectoryUser) ([]model.ContactUser, error) {
	if m.syncFn != nil {
		return m.syncFn(ctx, tenant, self, users)
	}
	return nil, nil
}

// --- compile-time interface checks ---
var _ DirectoryLister = (*mockDirectory)(nil)
var _ BindingResolver = (*mockResolver)(nil)
var _ ContactSyncer = (*mockSyncer)(nil)

func newTestHandler(d DirectoryLister, r BindingResolver, s ContactSyncer) *AuthenticateHandler {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewAuthenticateHandler(d, r, s, logger)
}

func doRequest(t *testing.T, h *AuthenticateHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/authenticate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Authenticate(rec, req)
	return rec
}

// --- テスト ---

func TestAuthenticate_Success_ReturnsSessionAndContacts(t *testing.T) {
	directory := &mockDirectory{
		listUsersFn: func(_ context.Context, tenant string) ([]model.DirectoryUser, error) {
			if tenant != "acme" {
				t.Errorf("tenant = %q, want %q", tenant, "acme")
			}
			return []model.DirectoryUser{
				{ID: "1", FullName: "Self"},
				{ID: "2", FullName: "Peer"},
			}, nil
		},
	}
	resolver := &mockResolver{
		resolveFn: func(_ context.Context, _ string, user model.DirectoryUser) (*binding.Result, error) {
			if user.ID != "1" {
				t.Errorf("resolved user ID = %q, want %q", user.ID, "1")
			}
			return &binding.Result{
				Session: model.Session{
					RemoteAccountID: "abc",
					AuthToken:       "tok-1",
					CredentialKey:   "key-1",
				},
				Strategy: binding.StrategyCreated,
			}, nil
		},
	}
	syncer := &mockSyncer{
		syncFn: func(_ context.Context, _, self string, users []model.DirectoryUser) ([]model.ContactUser, error) {
			if self != "1" {
				t.Errorf("self = %q, want %q", self, "1")
			}
			return []model.ContactUser{
				{DirectoryUser: model.DirectoryUser{ID: "2", FullName: "Peer"}, Username: "acme_2"},
			}, nil
		},
	}

	h := newTestHandler(directory, resolver, syncer)
	rec := doRequest(t, h, `{"client": "acme", "userId": "1"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var res struct {
		RemoteAccountID string              `json:"remoteAccountId"`
		AuthToken       string              `json:"authToken"`
		CredentialKey   string              `json:"credentialKey"`
		Users           []model.ContactUser `json:"users"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v", err)
	}

	if res.RemoteAccountID != "abc" {
		t.Errorf("remoteAccountId = %q, want %q", res.RemoteAccountID, "abc")
	}
	if res.AuthToken != "tok-1" {
		t.Errorf("authToken = %q, want %q", res.AuthToken, "tok-1")
	}
	if len(res.Users) != 1 || res.Users[0].Username != "acme_2" {
		t.Errorf("users = %+v, want 1 user with username acme_2", res.Users)
	}
}

func TestAuthenticate_NumericUserID_IsAccepted(t *testing.T) {
	resolved := false
	directory := &mockDirectory{
		listUsersFn: func(_ context.Context, _ string) ([]model.DirectoryUser, error) {
			return []model.DirectoryUser{{ID: "42"}}, nil
		},
	}
	resolver := &mockResolver{
		resolveFn: func(_ context.Context, _ string, user model.DirectoryUser) (*binding.Result, error) {
			resolved = true
			return &binding.Result{Session: model.Session{RemoteAccountID: "abc"}}, nil
		},
	}

	h := newTestHandler(directory, resolver, &mockSyncer{})
	// ディレクトリ側の都合でuserIdは数値でも届く
	rec := doRequest(t, h, `{"client": "acme", "userId": 42}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !resolved {
		t.Error("expected Resolve to be called")
	}
}

func TestAuthenticate_MissingFields_Returns400(t *testing.T) {
	h := newTestHandler(&mockDirectory{}, &mockResolver{}, &mockSyncer{})

	rec := doRequest(t, h, `{"client": "acme"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	var body struct {
		Code string `json:"code"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Code != model.ErrCodeInvalidRequest {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidRequest)
	}
}

func TestAuthenticate_InvalidJSON_Returns400(t *testing.T) {
	h := newTestHandler(&mockDirectory{}, &mockResolver{}, &mockSyncer{})

	rec := doRequest(t, h, `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAuthenticate_CallerNotInDirectory_Returns404(t *testing.T) {
	directory := &mockDirectory{
		listUsersFn: func(_ context.Context, _ string) ([]model.DirectoryUser, error) {
			return []model.DirectoryUser{{ID: "2"}}, nil
		},
	}

	h := newTestHandler(directory, &mockResolver{}, &mockSyncer{})
	rec := doRequest(t, h, `{"client": "acme", "userId": "1"}`)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}

	var body struct {
		Code string `json:"code"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Code != model.ErrCodeIdentityNotFound {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeIdentityNotFound)
	}
}

func TestAuthenticate_DirectoryDown_Returns502(t *testing.T) {
	directory := &mockDirectory{
		listUsersFn: func(_ context.Context, _ string) ([]model.DirectoryUser, error) {
			return nil, errors.New("connection refused")
		},
	}

	h := newTestHandler(directory, &mockResolver{}, &mockSyncer{})
	rec := doRequest(t, h, `{"client": "acme", "userId": "1"}`)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestAuthenticate_MessengerUnavailable_Returns502(t *testing.T) {
	directory := &mockDirectory{
		listUsersFn: func(_ context.Context, _ string) ([]model.DirectoryUser, error) {
			return []model.DirectoryUser{{ID: "1"}}, nil
		},
	}
	resolver := &mockResolver{
		resolveFn: func(_ context.Context, _ string, _ model.DirectoryUser) (*binding.Result, error) {
			return nil, &messenger.UnavailableError{Op: "login", Err: errors.New("timeout")}
		},
	}

	h := newTestHandler(directory, resolver, &mockSyncer{})
	rec := doRequest(t, h, `{"client": "acme", "userId": "1"}`)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}

	var body struct {
		Code string `json:"code"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Code != model.ErrCodeRemoteUnavailable {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRemoteUnavailable)
	}
}

func TestAuthenticate_BindingExhausted_Returns502(t *testing.T) {
	directory := &mockDirectory{
		listUsersFn: func(_ context.Context, _ string) ([]model.DirectoryUser, error) {
			return []model.DirectoryUser{{ID: "1"}}, nil
		},
	}
	resolver := &mockResolver{
		resolveFn: func(_ context.Context, _ string, _ model.DirectoryUser) (*binding.Result, error) {
			return nil, model.NewBindingExhaustedError("1")
		},
	}

	h := newTestHandler(directory, resolver, &mockSyncer{})
	rec := doRequest(t, h, `{"client": "acme", "userId": "1"}`)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestAuthenticate_SyncFailure_RendersError(t *testing.T) {
	directory := &mockDirectory{
		listUsersFn: func(_ context.Context, _ string) ([]model.DirectoryUser, error) {
			return []model.DirectoryUser{{ID: "1"}, {ID: "2"}}, nil
		},
	}
	resolver := &mockResolver{
		resolveFn: func(_ context.Context, _ string, _ model.DirectoryUser) (*binding.Result, error) {
			return &binding.Result{Session: model.Session{RemoteAccountID: "abc"}}, nil
		},
	}
	syncer := &mockSyncer{
		syncFn: func(_ context.Context, _, _ string, _ []model.DirectoryUser) ([]model.ContactUser, error) {
			return nil, errors.New("peer provisioning exploded")
		},
	}

	h := newTestHandler(directory, resolver, syncer)
	rec := doRequest(t, h, `{"client": "acme", "userId": "1"}`)

	// 想定外のエラーでもプロセスは落とさず構造化エラーを返す
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"string ID", `"42"`, "42"},
		{"numeric ID", `42`, "42"},
		{"null", `null`, ""},
		{"empty", ``, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeID(json.RawMessage(tt.raw))
			if got != tt.want {
				t.Errorf("normalizeID(%s) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
