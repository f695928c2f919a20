// 電子ウォレットのAPI Gatewayのエントリポイント。
// ログインによるトークン発行と、認証済みリクエストのバックエンドへの転送を担当する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version はビルド時に -ldflags で埋め込む。
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCommand はルートコマンドを生成する。サブコマンド省略時はサーバーを起動する。
func newRootCommand() *cobra.Command {
	serve := newServeCommand()
	cmd := &cobra.Command{
		Use:           "gateway",
		Short:         "E-wallet API gateway",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	cmd.AddCommand(serve, newHashPasswordCommand())
	return cmd
}
