package main

import (
	"encoding/json"
	"fmt"

	"github.com/phrazzld/vidgen/internal/service"
	"github.com/spf13/cobra"
)

func newSubmitCmd(a *app) *cobra.Command {
	var params service.SubmitParams
	var grade int

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a generation request and print the pending record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			if !a.sharedBackends() {
				return errSharedBackends
			}
			if cmd.Flags().Changed("grade") {
				params.GradeLevel = &grade
			}

			ctx := cmd.Context()
			st, err := a.openStores(ctx)
			if err != nil {
				return err
			}
			q, _, err := a.openQueue(ctx)
			if err != nil {
				return err
			}
			svc, err := service.NewRequestService(st.requests, q, a.logger)
			if err != nil {
				return err
			}

			req, err := svc.Submit(ctx, params)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(req); err != nil {
				return fmt.Errorf("failed to print request: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&params.StudentID, "student", "", "student id (required)")
	cmd.Flags().StringVar(&params.Query, "query", "", "topic query (required)")
	cmd.Flags().IntVar(&grade, "grade", 0, "grade level 0-12 (required)")
	cmd.Flags().StringVar(&params.PersonalizationHint, "hint", "", "comma-separated personalization hint")
	cmd.Flags().StringVar(&params.CorrelationID, "correlation-id", "", "correlation id (generated when empty)")
	cmd.Flags().StringVar(&params.TopicID, "topic", "", "explicit topic id for cache lookups")
	_ = cmd.MarkFlagRequired("student")
	_ = cmd.MarkFlagRequired("query")
	_ = cmd.MarkFlagRequired("grade")
	return cmd
}
