package main

import (
	"os"

	"github.com/zhenhua32/mindformers/cmd/xformer/app"
)

// Build metadata, overridden at link time:
//
//	go build -ldflags "-X main.version=v0.3.0 -X main.buildTime=... -X main.gitCommit=..."
var (
	version   = "0.3.0"
	buildTime = "unknown"
	gitCommit = "dev"
)

func main() {
	app.SetVersionInfo(version, buildTime, gitCommit)

	cmd := app.NewXformerCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
