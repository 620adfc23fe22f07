package auth

import (
	"context"

	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/realtime"
	"github.com/hitoshi/todoman/internal/session"
)

// DeviceProvider は1デバイスから見た認証プロバイダ。
// セッションストアの初回取得と変更フィードの購読をデバイスIDで束縛する。
type DeviceProvider struct {
	svc      *Service
	hub      *realtime.SessionHub
	deviceID string
}

// NewDeviceProvider はDeviceProviderを生成する。
func NewDeviceProvider(svc *Service, hub *realtime.SessionHub, deviceID string) *DeviceProvider {
	return &DeviceProvider{svc: svc, hub: hub, deviceID: deviceID}
}

// CurrentSession はデバイスの現在のセッションを返す。
func (d *DeviceProvider) CurrentSession(ctx context.Context) (*model.Session, error) {
	return d.svc.GetCurrentSession(ctx, d.deviceID)
}

// OnSessionChange はデバイスのセッション変更を購読する。
func (d *DeviceProvider) OnSessionChange(fn func(model.SessionEvent)) realtime.Subscription {
	return d.hub.Subscribe(d.deviceID, fn)
}

// compile-time interface check
var _ session.Provider = (*DeviceProvider)(nil)
