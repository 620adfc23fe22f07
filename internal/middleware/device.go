package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

const (
	// DeviceCookieName はデバイスIDを保持するCookieの名前。
	DeviceCookieName = "device_id"

	// DeviceHeaderName はブラウザ以外のクライアントがデバイスIDを渡すヘッダー名。
	DeviceHeaderName = "X-Device-ID"

	deviceCookieMaxAge = 400 * 24 * 60 * 60
)

var deviceIDContextKey = contextKey("device_id")

// DeviceConfig はデバイスミドルウェアの設定。
type DeviceConfig struct {
	CookieSecure bool
	CookieDomain string
}

// NewDeviceMiddleware はリクエスト元デバイスを識別するミドルウェアを返す。
// X-Device-IDヘッダー、device_id Cookieの順に参照し、
// どちらも有効なUUIDでなければ新しいIDを発行してCookieに設定する。
func NewDeviceMiddleware(config DeviceConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceID, ok := requestDeviceID(r)
			if !ok {
				deviceID = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     DeviceCookieName,
					Value:    deviceID,
					Path:     "/",
					Domain:   config.CookieDomain,
					MaxAge:   deviceCookieMaxAge,
					HttpOnly: true,
					Secure:   config.CookieSecure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			noteDeviceID(r.Context(), deviceID)
			ctx := context.WithValue(r.Context(), deviceIDContextKey, deviceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestDeviceID(r *http.Request) (string, bool) {
	if h := r.Header.Get(DeviceHeaderName); h != "" {
		if id, err := uuid.Parse(h); err == nil {
			return id.String(), true
		}
	}
	if c, err := r.Cookie(DeviceCookieName); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String(), true
		}
	}
	return "", false
}

// DeviceIDFromContext はリクエストコンテキストからデバイスIDを取得する。
// デバイスミドルウェアを通過したリクエストでのみ有効。
func DeviceIDFromContext(ctx context.Context) (string, error) {
	deviceID, ok := ctx.Value(deviceIDContextKey).(string)
	if !ok || deviceID == "" {
		return "", fmt.Errorf("device ID not found in context")
	}
	return deviceID, nil
}

// ContextWithDeviceID はコンテキストにデバイスIDを注入する。
func ContextWithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDContextKey, deviceID)
}
