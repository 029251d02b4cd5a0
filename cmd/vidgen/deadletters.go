package main

import (
	"encoding/json"
	"fmt"

	"github.com/phrazzld/vidgen/internal/api"
	"github.com/phrazzld/vidgen/internal/service"
	"github.com/spf13/cobra"
)

func newDeadLettersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletters",
		Short: "Inspect and replay dead-lettered jobs",
	}

	openService := func(cmd *cobra.Command) (service.DeadLetterService, error) {
		if !a.sharedBackends() {
			return nil, errSharedBackends
		}
		q, _, err := a.openQueue(cmd.Context())
		if err != nil {
			return nil, err
		}
		return service.NewDeadLetterService(q, a.logger)
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "Print dead letters as JSON lines, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			svc, err := openService(cmd)
			if err != nil {
				return err
			}
			letters, err := svc.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, d := range letters {
				if err := enc.Encode(api.NewDeadLetterResponse(d)); err != nil {
					return fmt.Errorf("failed to print dead letter: %w", err)
				}
			}
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", service.DefaultDeadLetterLimit, "maximum number of dead letters")

	replay := &cobra.Command{
		Use:   "replay <id>",
		Short: "Re-publish a dead letter with a fresh attempt count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			svc, err := openService(cmd)
			if err != nil {
				return err
			}
			newID, err := svc.Replay(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), newID)
			return err
		},
	}

	cmd.AddCommand(list, replay)
	return cmd
}
