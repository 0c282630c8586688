package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// ExtractCommand returns the extract command
func ExtractCommand() *cli.Command {
	return &cli.Command{
		Name:  "extract",
		Usage: "Build the reply/quote forest of a post and render it as a mindmap",
		Flags: append(extractFlags(),
			&cli.BoolFlag{
				Name:  "open",
				Usage: "Open the rendered mindmap when done",
			},
		),
		Action: runExtract,
	}
}

func runExtract(c *cli.Context) error {
	cfg := configFrom(c)
	req := requestFrom(c)
	req.Open = c.Bool("open")

	// Reject bad input before a browser is started.
	if _, err := req.RootID(); err != nil {
		return err
	}

	a, release, err := newApp(c, cfg)
	if err != nil {
		return err
	}
	defer release()

	res, err := a.Extract(c.Context, req)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "Thread:  %s\n", res.Outputs.Thread)
	fmt.Fprintf(c.App.Writer, "Mindmap: %s\n", res.Outputs.Mindmap)
	if req.SaveImages {
		fmt.Fprintf(c.App.Writer, "Images:  %s (%d saved, %d failed)\n", res.Outputs.Images, res.Media.Downloaded, res.Media.Failed)
	}
	return nil
}
