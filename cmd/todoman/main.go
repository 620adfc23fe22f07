// Command todoman はTODO管理APIサーバーとバックグラウンドワーカーを起動する。
//
// サブコマンド:
//
//	serve       APIサーバーを起動する（デフォルト）
//	worker      期限切れセッションのクリーンアップを実行する
//	migrate     未適用のマイグレーションを適用する
//	rollback    直近のマイグレーションを取り消す
//	healthcheck /health を確認する（distrolessイメージ用）
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/todoman/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "todoman: %v\n", err)
		os.Exit(1)
	}
}
