package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/ibeckermayer/threadmap/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	// A .env file is optional.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:    "threadmap",
		Usage:   "Map the replies and quotes around an X post as a Mermaid mindmap",
		Version: version,
		Flags:   cmd.GlobalFlags(),
		Before:  cmd.Setup,
		Commands: []*cli.Command{
			cmd.ExtractCommand(),
			cmd.RenderCommand(),
			cmd.WatchCommand(),
			cmd.LoginCommand(),
			cmd.LogoutCommand(),
			cmd.OpenCommand(),
			cmd.BotTestCommand(),
		},
	}

	err := app.RunContext(ctx, os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		stop()
		os.Exit(1)
	}
}
