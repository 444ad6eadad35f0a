// Command pressroom は予約記事の公開とレコードストア同期を行うサーバー。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/pressroom/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "pressroom: %v\n", err)
		os.Exit(1)
	}
}
