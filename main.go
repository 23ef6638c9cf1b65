package main

import (
	"os"

	"github.com/jaecopzm/postcraft-sub000/internal/cli"
)

func main() {
	cli.InitRoot()
	cli.AddCommands()

	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
