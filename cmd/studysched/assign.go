package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"studysched/internal/plan"
	"studysched/internal/task/scheduler"
)

func assignCmd() *cobra.Command {
	var (
		planPath     string
		participants []string
	)
	cmd := &cobra.Command{
		Use:   "assign --plan PLAN.json --participant ID...",
		Short: "Show which schedule each participant is assigned",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := plan.Load(planPath)
			if err != nil {
				return err
			}
			if err := p.Validate(scheduler.QuartzCron{}); err != nil {
				return fmt.Errorf("%s: %w", planPath, err)
			}
			out := cmd.OutOrStdout()
			for _, id := range participants {
				id = strings.TrimSpace(id)
				fmt.Fprintf(out, "%s\t%s\n", id, assignment(p, id))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "", "plan JSON file")
	cmd.Flags().StringSliceVar(&participants, "participant", nil, "participant ids (repeatable or comma separated)")
	_ = cmd.MarkFlagRequired("plan")
	_ = cmd.MarkFlagRequired("participant")
	return cmd
}

// assignment describes the schedule participantID gets under p.
func assignment(p *plan.Plan, participantID string) string {
	switch s := p.Strategy.(type) {
	case *plan.ABTest:
		i := s.GroupIndex(p.GUID, participantID)
		if i < 0 {
			return fmt.Sprintf("none (bucket %d)", plan.Bucket(p.GUID, participantID))
		}
		g := s.Groups[i]
		if g.Schedule == nil {
			return fmt.Sprintf("group %d without schedule (bucket %d)", i, plan.Bucket(p.GUID, participantID))
		}
		return fmt.Sprintf("group %d %q (%d%%, bucket %d)", i, label(g.Schedule.Label), g.Percentage, plan.Bucket(p.GUID, participantID))
	default:
		if sched := p.ScheduleFor(participantID); sched != nil {
			return fmt.Sprintf("%q", label(sched.Label))
		}
		return "none"
	}
}

func label(s string) string {
	if s == "" {
		return "unlabeled"
	}
	return s
}
