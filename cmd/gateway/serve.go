package main

import (
	"context"
	"fmt"

	"github.com/nao1215/ewallet-gateway/internal/gateway"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

// newServeCommand はサーバーを起動するサブコマンドを生成する。
func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server (configured by environment variables)",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve(gateway.LoadFromEnv)
		},
	}
}

// serve はアプリケーションを起動し、シグナルを受け取るまで待機する。
// 設定に誤りがある場合はリッスンを開始せずにエラーを返す。
func serve(load func() (gateway.Config, error)) error {
	app := fx.New(gateway.Module(load))
	if err := app.Err(); err != nil {
		return fmt.Errorf("ゲートウェイの初期化に失敗: %w", err)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("ゲートウェイの起動に失敗: %w", err)
	}

	sig := <-app.Wait()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		return fmt.Errorf("ゲートウェイの停止に失敗: %w", err)
	}
	if sig.ExitCode != 0 {
		return fmt.Errorf("ゲートウェイが異常終了しました: exit code %d", sig.ExitCode)
	}
	return nil
}
