package cmd

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/ibeckermayer/threadmap/internal/notifier"
	"github.com/ibeckermayer/threadmap/internal/scheduler"
)

// watchJobTimeout bounds a single scheduled extract.
const watchJobTimeout = 30 * time.Minute

// WatchCommand returns the watch command
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Re-run extract on a cron schedule, snapshotting every run and mailing new posts",
		Flags: append(extractFlags(),
			&cli.StringFlag{
				Name:     "schedule",
				Aliases:  []string{"s"},
				Usage:    "Cron `SPEC` (e.g. \"*/30 * * * *\" or \"@every 1h\")",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "timezone",
				Usage: "IANA timezone the schedule is read in (defaults to local time)",
			},
		),
		Action: runWatch,
	}
}

func runWatch(c *cli.Context) error {
	cfg := configFrom(c)
	req := requestFrom(c)
	req.Snapshot = true

	rootID, err := req.RootID()
	if err != nil {
		return err
	}

	notify, err := notifier.NewFromConfig(cfg.Notify)
	if err != nil {
		return err
	}

	sched, err := scheduler.New(c.String("timezone"), watchJobTimeout)
	if err != nil {
		return err
	}

	a, release, err := newApp(c, cfg)
	if err != nil {
		return err
	}
	defer release()

	job := func(ctx context.Context) error {
		res, err := a.Extract(ctx, req)
		if err != nil {
			return err
		}
		fresh := notifier.NewPosts(res.Previous, res.Forest)
		log.Info().Int("nodes", res.Forest.Count()).Int("new", len(fresh)).Msg("Watch run finished")
		if notify == nil {
			return nil
		}
		return notify.NotifyNewPosts(res.Forest, fresh)
	}
	name := "watch-" + rootID
	if err := sched.AddJob(name, c.String("schedule"), job); err != nil {
		return err
	}

	// First run right away; a failure here is logged like any scheduled failure.
	_ = sched.RunNow(name, job)

	for _, j := range sched.ListJobs() {
		log.Info().Str("job", j.Name).Time("next_run", j.NextRun).Msg("Watching")
	}
	sched.Run(c.Context)
	return nil
}
