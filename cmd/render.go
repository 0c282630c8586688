package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ibeckermayer/threadmap/internal/app"
)

// RenderCommand returns the render command
func RenderCommand() *cli.Command {
	return &cli.Command{
		Name:      "render",
		Usage:     "Re-render the mindmap of a saved thread JSON file",
		ArgsUsage: "FILE.json",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "author",
				Aliases: []string{"a"},
				Usage:   "Root label (defaults to the author of the main post)",
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Write the mindmap to `FILE` instead of stdout",
			},
		},
		Action: runRender,
	}
}

func runRender(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: FILE.json")
	}

	text, err := app.RenderFile(c.Args().Get(0), c.String("author"))
	if err != nil {
		return err
	}

	if out := c.String("out"); out != "" {
		return os.WriteFile(out, []byte(text), 0644)
	}
	_, err = fmt.Fprint(c.App.Writer, text)
	return err
}
