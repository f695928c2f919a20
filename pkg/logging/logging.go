// Package logging はゲートウェイ全体で使用する構造化ロガーを生成する。
//
// 標準出力へのJSON出力を基本とし、ファイルパスが指定された場合は
// lumberjackでローテーションするファイルにも同じ内容を出力する。
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options はロガーの設定。
type Options struct {
	// Level はログレベル（debug, info, warn, error）。空の場合はinfo。
	Level string
	// File はログファイルのパス。空の場合はファイルに出力しない。
	File string
	// Console は標準出力の代わりに使う出力先。テストで差し替える。
	Console io.Writer
}

// New は設定に従ってzapロガーを生成する。
func New(opts Options) (*zap.Logger, error) {
	level := zap.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, fmt.Errorf("ログレベルが不正です: %q", opts.Level)
		}
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder

	var console zapcore.WriteSyncer = zapcore.Lock(os.Stdout)
	if opts.Console != nil {
		console = zapcore.AddSync(opts.Console)
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(enc), console, level),
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("ログディレクトリの作成に失敗: %w", err)
		}
		w := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(enc), w, level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
