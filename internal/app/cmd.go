package app

import (
	"fmt"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe は運用APIと公開スケジューラを1プロセスで起動する。
	CommandServe Command = "serve"
	// CommandWorker は運用APIなしで公開スケジューラのみを起動する。
	CommandWorker Command = "worker"
	// CommandRunOnce は公開サイクルを1回だけ実行し、結果をJSONで出力して終了する。
	// cronなど外部スケジューラからの起動用。
	CommandRunOnce Command = "run-once"
	// CommandMigrate はデータベースマイグレーションを実行する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のserveプロセスの /health を確認する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// Commands はサポートするサブコマンドの一覧。
var Commands = []Command{CommandServe, CommandWorker, CommandRunOnce, CommandMigrate, CommandHealthcheck}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 引数が空の場合はCommandServeを返す。2番目以降の引数は無視する。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	name := strings.TrimSpace(args[0])
	for _, c := range Commands {
		if string(c) == name {
			return c, nil
		}
	}
	return "", fmt.Errorf("未知のコマンドです: %q (serve, worker, run-once, migrate, healthcheck のいずれかを指定してください)", name)
}
