package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/wolfman30/clinic-booking-core/internal/payments"
)

func newOutcomeCmd() *cobra.Command {
	var gateway, support string
	cmd := &cobra.Command{
		Use:   "outcome <terminal-url>",
		Short: "Classify a payment result URL the way the booking API would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			terminal, err := url.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse url: %w", err)
			}
			resolver := payments.NewResolver(offlineRegistry(), support)
			return printJSON(cmd.OutOrStdout(), resolver.Resolve(gateway, terminal))
		},
	}
	cmd.Flags().StringVarP(&gateway, "gateway", "g", "", "gateway name; defaults to the url's gateway parameter")
	cmd.Flags().StringVar(&support, "support", "", "support contact shown for error outcomes")
	return cmd
}

// offlineRegistry carries every gateway's code table. Nothing is initiated,
// so the backend URL and credentials are placeholders.
func offlineRegistry() *payments.Registry {
	return payments.NewRegistry(nil,
		payments.NewVNPayGateway("http://localhost", nil),
		payments.NewMoMoGateway("http://localhost", nil),
		payments.NewStripeGateway("offline", nil),
		payments.NewSquareGateway("offline", "offline", nil),
		payments.NewFakeGateway("http://localhost", nil),
	)
}
