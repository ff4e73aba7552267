package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"studysched/internal/event"
	"studysched/internal/plan"
	"studysched/internal/task"
	"studysched/internal/task/scheduler"
	"studysched/pkg/logx"
)

func tasksCmd() *cobra.Command {
	var (
		planPath    string
		eventsPath  string
		participant string
		until       string
		now         string
		limit       int
		verbose     bool
	)
	cmd := &cobra.Command{
		Use:   "tasks --plan PLAN.json --events EVENTS.json --participant ID --until RFC3339",
		Short: "Print the tasks a participant would get",
		Long: `Generate tasks for one participant from a plan and an event snapshot.

EVENTS.json maps event ids to RFC 3339 timestamps:
  {"enrollment": "2015-03-23T10:00:00Z", "task:tapTest": "2015-03-24T08:00:00Z"}

With --now, tasks already expired at that instant are dropped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := plan.Load(planPath)
			if err != nil {
				return err
			}
			events, err := loadEvents(eventsPath)
			if err != nil {
				return err
			}
			untilAt, err := time.Parse(time.RFC3339Nano, until)
			if err != nil {
				return fmt.Errorf("--until: %w", err)
			}

			level := "warn"
			if verbose {
				level = "debug"
			}
			opts := []scheduler.Option{
				scheduler.WithLogger(logx.NewConsoleWriter(cmd.ErrOrStderr(), level)),
				scheduler.WithLimit(limit),
			}
			if now != "" {
				nowAt, err := time.Parse(time.RFC3339Nano, now)
				if err != nil {
					return fmt.Errorf("--now: %w", err)
				}
				opts = append(opts, scheduler.WithClock(func() time.Time { return nowAt }))
			}

			tasks := []task.Task{}
			if sched := p.ScheduleFor(participant); sched != nil {
				sc, err := scheduler.New(p.GUID, sched, opts...)
				if err != nil {
					return err
				}
				if tasks, err = sc.Tasks(events, untilAt); err != nil {
					return err
				}
				if tasks == nil {
					tasks = []task.Task{}
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(tasks)
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "", "plan JSON file")
	cmd.Flags().StringVar(&eventsPath, "events", "", "event snapshot JSON file")
	cmd.Flags().StringVar(&participant, "participant", "", "participant id (selects the A/B group)")
	cmd.Flags().StringVar(&until, "until", "", "generate occurrences up to this RFC 3339 instant")
	cmd.Flags().StringVar(&now, "now", "", "drop tasks expired at this RFC 3339 instant")
	cmd.Flags().IntVar(&limit, "limit", scheduler.DefaultLimit, "maximum occurrences per schedule")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log generation details to stderr")
	for _, f := range []string{"plan", "events", "participant", "until"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func loadEvents(path string) (event.Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	var snap event.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("events %s: %w", path, err)
	}
	return snap, nil
}
