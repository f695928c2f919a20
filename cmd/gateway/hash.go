package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/nao1215/ewallet-gateway/pkg/credential"
	"github.com/spf13/cobra"
)

// newHashPasswordCommand は資格情報ストアに登録するパスワードハッシュを生成するサブコマンドを生成する。
// 引数を省略した場合は標準入力の1行目をパスワードとして読む。
func newHashPasswordCommand() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for a credential store entry",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := ""
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("パスワードを引数または標準入力で指定してください")
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("パスワードが空です")
			}

			hash, err := credential.HashPassword(password, cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", credential.DefaultCost, "bcrypt cost")
	return cmd
}
