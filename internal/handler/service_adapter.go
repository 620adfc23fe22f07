package handler

import (
	"fmt"

	"github.com/hitoshi/todoman/internal/workspace"
)

// WorkspaceManagerAdapter は workspace.Manager を WorkspaceProvider に適合させるアダプタ。
type WorkspaceManagerAdapter struct {
	manager *workspace.Manager
}

// NewWorkspaceManagerAdapter はWorkspaceManagerAdapterを生成する。
func NewWorkspaceManagerAdapter(manager *workspace.Manager) *WorkspaceManagerAdapter {
	return &WorkspaceManagerAdapter{manager: manager}
}

// Workspace はデバイスのWorkspaceを返す。Manager終了後はエラーを返す。
func (a *WorkspaceManagerAdapter) Workspace(deviceID string) (DeviceWorkspace, error) {
	ws := a.manager.Get(deviceID)
	if ws == nil {
		return nil, fmt.Errorf("workspace manager is closed")
	}
	return ws, nil
}
