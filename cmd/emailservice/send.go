package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/example/emailservice/internal/models"
	"github.com/example/emailservice/internal/rpc"
)

func newSendCommand() *cobra.Command {
	var (
		addr      string
		email     string
		orderPath string
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Call SendOrderConfirmation on a running email service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			order, err := readOrder(orderPath)
			if err != nil {
				return err
			}

			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()

			client, err := rpc.NewClient(conn)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := client.SendOrderConfirmation(ctx, &models.ConfirmationRequest{Email: email, Order: order}); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "confirmation for order %s accepted\n", order.OrderID)
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:8080", "email service address")
	cmd.Flags().StringVar(&email, "email", "", "recipient address")
	cmd.Flags().StringVar(&orderPath, "order", "", "path to an OrderResult JSON file")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "RPC deadline")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("order")
	return cmd
}
