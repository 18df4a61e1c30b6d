package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/emailservice/internal/models"
	"github.com/example/emailservice/internal/render"
	"github.com/example/emailservice/internal/rpc"
)

func newRenderCommand() *cobra.Command {
	var (
		orderPath   string
		templateDir string
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the confirmation mail for an order JSON file to stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			order, err := readOrder(orderPath)
			if err != nil {
				return err
			}

			var opts []render.Option
			if templateDir != "" {
				opts = append(opts, render.WithDir(templateDir))
			}
			renderer, err := render.New(opts...)
			if err != nil {
				return err
			}

			doc, err := renderer.Render(order)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), doc)
			return err
		},
	}
	cmd.Flags().StringVar(&orderPath, "order", "", "path to an OrderResult JSON file")
	cmd.Flags().StringVar(&templateDir, "template-dir", "", "directory holding confirmation.html (defaults to the built-in template)")
	_ = cmd.MarkFlagRequired("order")
	return cmd
}

func readOrder(path string) (*models.Order, error) {
	if path == "" {
		return nil, errors.New("order file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read order: %w", err)
	}
	schema, err := rpc.LoadSchema()
	if err != nil {
		return nil, err
	}
	return schema.ParseOrderJSON(data)
}
