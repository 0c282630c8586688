package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ibeckermayer/threadmap/internal/browser"
	"github.com/ibeckermayer/threadmap/internal/config"
)

// OpenCommand returns the open command
func OpenCommand() *cli.Command {
	return &cli.Command{
		Name:      "open",
		Usage:     "Open the config file or the cache directory",
		ArgsUsage: "config|cache",
		Action: func(c *cli.Context) error {
			path, err := openTarget(c.Args().First())
			if err != nil {
				return err
			}
			if err := browser.Open(path); err != nil {
				return fmt.Errorf("failed to open %s: %w", path, err)
			}
			return nil
		},
	}
}

// openTarget resolves the path behind an open target, creating it when it
// does not exist yet.
func openTarget(target string) (string, error) {
	switch target {
	case "config":
		path, err := config.ConfigPath()
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := config.Default().SaveFile(path); err != nil {
				return "", err
			}
		}
		return path, nil
	case "cache":
		dir, err := config.CacheDir()
		if err != nil {
			return "", err
		}
		return dir, os.MkdirAll(dir, 0755)
	default:
		return "", fmt.Errorf("unknown target %q (want config or cache)", target)
	}
}
