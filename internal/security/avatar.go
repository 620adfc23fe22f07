package security

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
)

// AvatarVerifier はアバターURLが画像を返すことを確認する。
type AvatarVerifier struct {
	client *http.Client
	logger *slog.Logger
}

// NewAvatarVerifier はclientを使うAvatarVerifierを生成する。
// 本番ではNewSafeClientのクライアントを渡す。
func NewAvatarVerifier(client *http.Client, logger *slog.Logger) *AvatarVerifier {
	return &AvatarVerifier{client: client, logger: logger}
}

// Verify はURLが2xxかつContent-Typeがimage/*で応答することを確認する。
// HEADで判定できない場合（HEAD非対応のCDNなど）はGETでやり直す。
func (v *AvatarVerifier) Verify(ctx context.Context, rawURL string) error {
	err := v.probe(ctx, http.MethodHead, rawURL)
	if err == nil {
		return nil
	}
	v.logger.Debug("avatar HEAD probe failed, retrying with GET",
		slog.String("url", rawURL),
		slog.String("error", err.Error()),
	)
	return v.probe(ctx, http.MethodGet, rawURL)
}

func (v *AvatarVerifier) probe(ctx context.Context, method, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return fmt.Errorf("invalid avatar URL: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.Info("avatar fetch failed",
			slog.String("method", method),
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("request failed")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return fmt.Errorf("not an image: %q", resp.Header.Get("Content-Type"))
	}
	return nil
}
