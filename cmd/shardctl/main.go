package main

import (
	"os"

	"taskportal/cmd/shardctl/commands"
)

func main() {
	// 错误已由 printer 输出
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
