package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// newGoogleTestServer はトークンとユーザー情報の2エンドポイントを持つテストサーバーを返す。
func newGoogleTestServer(t *testing.T, token http.HandlerFunc, userInfo http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", token)
	mux.HandleFunc("/userinfo", userInfo)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func issueToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token": "test-access-token",
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

func testGoogleProvider(srv *httptest.Server) *GoogleOAuthProvider {
	return NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "http://localhost:8080/auth/google/callback",
		TokenURL:     srv.URL + "/token",
		UserInfoURL:  srv.URL + "/userinfo",
		HTTPClient:   srv.Client(),
	})
}

func TestGoogleOAuthProvider_GetLoginURL_ContainsRequiredParams(t *testing.T) {
	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:    "test-client-id",
		RedirectURL: "http://localhost:8080/auth/google/callback",
	})

	loginURL, err := url.Parse(provider.GetLoginURL("test-state-value"))
	if err != nil {
		t.Fatalf("login URL should parse: %v", err)
	}
	if !strings.HasPrefix(loginURL.String(), defaultGoogleAuthURL) {
		t.Errorf("login URL = %q, want prefix %q", loginURL, defaultGoogleAuthURL)
	}

	q := loginURL.Query()
	want := map[string]string{
		"client_id":     "test-client-id",
		"redirect_uri":  "http://localhost:8080/auth/google/callback",
		"state":         "test-state-value",
		"response_type": "code",
		"scope":         "openid email profile",
		"prompt":        "select_account",
	}
	for key, value := range want {
		if got := q.Get(key); got != value {
			t.Errorf("%s = %q, want %q", key, got, value)
		}
	}
}

func TestGoogleOAuthProvider_ExchangeCode_Success(t *testing.T) {
	srv := newGoogleTestServer(t,
		func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				t.Fatalf("failed to parse token request: %v", err)
			}
			if got := r.PostForm.Get("code"); got != "test-auth-code" {
				t.Errorf("code = %q, want test-auth-code", got)
			}
			if got := r.PostForm.Get("client_secret"); got != "test-client-secret" {
				t.Errorf("client_secret = %q, want it sent in the form body", got)
			}
			issueToken(w, r)
		},
		func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "Bearer test-access-token" {
				t.Errorf("unexpected Authorization header: %q", got)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"sub":     "google-sub-12345",
				"email":   "user@gmail.com",
				"name":    "Google User",
				"picture": "https://lh3.googleusercontent.com/a/photo.jpg",
			})
		},
	)

	userInfo, err := testGoogleProvider(srv).ExchangeCode(context.Background(), "test-auth-code")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	if userInfo.Provider != ProviderGoogle {
		t.Errorf("provider = %q, want %q", userInfo.Provider, ProviderGoogle)
	}
	if userInfo.ProviderUserID != "google-sub-12345" {
		t.Errorf("providerUserID = %q, want %q", userInfo.ProviderUserID, "google-sub-12345")
	}
	if userInfo.Email != "user@gmail.com" {
		t.Errorf("email = %q, want %q", userInfo.Email, "user@gmail.com")
	}
	// ユーザー情報はアイデンティティ情報としてそのまま保持する
	if userInfo.Data["name"] != "Google User" {
		t.Errorf("data[name] = %v, want %q", userInfo.Data["name"], "Google User")
	}
	if userInfo.Data["picture"] != "https://lh3.googleusercontent.com/a/photo.jpg" {
		t.Errorf("data[picture] = %v", userInfo.Data["picture"])
	}
}

func TestGoogleOAuthProvider_ExchangeCode_Errors(t *testing.T) {
	tests := []struct {
		name     string
		token    http.HandlerFunc
		userInfo http.HandlerFunc
	}{
		{
			name: "token endpoint rejects code",
			token: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]any{
					"error":             "invalid_grant",
					"error_description": "Code was already redeemed.",
				})
			},
			userInfo: func(w http.ResponseWriter, r *http.Request) {
				t.Error("user info should not be requested after a failed exchange")
			},
		},
		{
			name:  "user info unauthorized",
			token: issueToken,
			userInfo: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
		},
		{
			name:  "user info without sub",
			token: issueToken,
			userInfo: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]any{"email": "user@gmail.com"})
			},
		},
		{
			name:  "user info not json",
			token: issueToken,
			userInfo: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<html>"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newGoogleTestServer(t, tt.token, tt.userInfo)

			info, err := testGoogleProvider(srv).ExchangeCode(context.Background(), "code")
			if err == nil {
				t.Fatalf("expected error, got %+v", info)
			}
		})
	}
}

func TestGoogleOAuthProvider_Name(t *testing.T) {
	if got := NewGoogleOAuthProvider(GoogleOAuthConfig{}).Name(); got != ProviderGoogle {
		t.Errorf("Name() = %q, want %q", got, ProviderGoogle)
	}
}
