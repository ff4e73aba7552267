package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"studysched/internal/plan"
	"studysched/internal/schedule"
	"studysched/internal/task/scheduler"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate PLAN.json...",
		Short: "Validate schedule plans",
		Long:  "Validate every plan and print all violated constraints, one per line.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := false
			for _, path := range args {
				p, err := plan.Load(path)
				if err == nil {
					err = p.Validate(scheduler.QuartzCron{})
				}
				if err == nil {
					fmt.Fprintf(out, "%s: ok\n", path)
					continue
				}
				failed = true
				var verr *schedule.ValidationError
				if !errors.As(err, &verr) {
					fmt.Fprintf(out, "%s: %v\n", path, err)
					continue
				}
				for _, field := range verr.Fields() {
					for _, msg := range verr.Messages(field) {
						fmt.Fprintf(out, "%s: %s: %s\n", path, field, msg)
					}
				}
			}
			if failed {
				return errInvalid
			}
			return nil
		},
	}
}
