package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/ibeckermayer/threadmap/internal/browser"
)

// LoginCommand returns the login command
func LoginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Log in to x.com in a browser window and store the session",
		Action: func(c *cli.Context) error {
			manager, err := newAuthManager()
			if err != nil {
				return err
			}
			if err := manager.Login(c.Context); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "Logged in.")
			return nil
		},
	}
}

// LogoutCommand returns the logout command
func LogoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Forget the stored x.com session",
		Action: func(c *cli.Context) error {
			manager, err := newAuthManager()
			if err != nil {
				return err
			}
			if err := manager.Logout(); err != nil {
				return fmt.Errorf("failed to clear cookies: %w", err)
			}
			fmt.Fprintln(c.App.Writer, "Logged out.")
			return nil
		},
	}
}

// BotTestCommand opens bot.sannysoft.com with the scraper's stealth options so
// the browser fingerprint can be audited.
func BotTestCommand() *cli.Command {
	return &cli.Command{
		Name:   "bot-test",
		Usage:  "Open bot.sannysoft.com with the scraper's browser options",
		Hidden: true,
		Action: func(c *cli.Context) error {
			log.Info().Msg("Opening bot.sannysoft.com with stealth browser options")

			ctx, cancel := browser.NewContext(c.Context, false) // non-headless so you can see it
			defer cancel()

			err := chromedp.Run(ctx,
				chromedp.Navigate("https://bot.sannysoft.com"),
				chromedp.WaitVisible("body", chromedp.ByQuery),
			)
			if err != nil {
				return fmt.Errorf("failed to navigate: %w", err)
			}

			fmt.Fprintln(c.App.Writer, "Press Enter to close the browser...")
			waitForEnter(c.Context)
			return nil
		},
	}
}

func waitForEnter(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		var b [1]byte
		os.Stdin.Read(b[:])
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
