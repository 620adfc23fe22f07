// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/hitoshi/todoman/internal/middleware"
	"github.com/hitoshi/todoman/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限サイズ。
const maxRequestBodyBytes = 64 << 10

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディをvにデコードする。
// 不正なJSONはbodyフィールドの検証エラーとして返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err := dec.Decode(v); err != nil {
		msg := "JSONの形式が正しくありません"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			msg = "リクエストが大きすぎます"
		} else if errors.Is(err, io.EOF) {
			msg = "リクエストボディが空です"
		}
		return model.NewValidationError([]model.FieldError{{Field: "body", Message: msg}})
	}
	return nil
}

// writeError はエラーを統一フォーマットで書き込む。
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	middleware.WriteError(w, r, err)
}

// requireUserID はセッションミドルウェアが注入したユーザーIDを取得する。
// 取得できない場合は401を書き込みfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeError(w, r, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// requireDeviceID はデバイスミドルウェアが注入したデバイスIDを取得する。
func requireDeviceID(w http.ResponseWriter, r *http.Request) (string, bool) {
	deviceID, err := middleware.DeviceIDFromContext(r.Context())
	if err != nil {
		writeError(w, r, model.NewValidationError([]model.FieldError{
			{Field: middleware.DeviceCookieName, Message: "デバイスを識別できません"},
		}))
		return "", false
	}
	return deviceID, true
}
