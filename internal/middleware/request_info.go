package middleware

import "context"

var requestInfoContextKey = contextKey("request_info")

// requestInfo は下流のミドルウェアが解決した識別子をアクセスログへ伝える。
// 1リクエストの処理中は同じゴルーチンからのみ読み書きされる。
type requestInfo struct {
	userID   string
	deviceID string
}

func contextWithRequestInfo(ctx context.Context, info *requestInfo) context.Context {
	return context.WithValue(ctx, requestInfoContextKey, info)
}

func noteUserID(ctx context.Context, userID string) {
	if info, ok := ctx.Value(requestInfoContextKey).(*requestInfo); ok {
		info.userID = userID
	}
}

func noteDeviceID(ctx context.Context, deviceID string) {
	if info, ok := ctx.Value(requestInfoContextKey).(*requestInfo); ok {
		info.deviceID = deviceID
	}
}
