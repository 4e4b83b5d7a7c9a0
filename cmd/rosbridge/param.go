package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/EgorLis/rosbridge/internal/rosbridge"
)

func newParamCmd(v *viper.Viper) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "param",
		Short: "Read and write ROS parameters via rosapi",
	}
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "connect and call timeout")

	cmd.AddCommand(&cobra.Command{
		Use:   "get <name>",
		Short: "Print a parameter value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, v, timeout, func(ctx context.Context, s *session) error {
				val, err := rosbridge.NewParam(s.client, args[0]).GetContext(ctx)
				if err != nil {
					return err
				}
				return printJSON(val)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <name> <json>",
		Short: "Set a parameter to a JSON value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			val, err := parseJSONArg(args[1])
			if err != nil {
				return err
			}
			return withClient(cmd, v, timeout, func(ctx context.Context, s *session) error {
				return rosbridge.NewParam(s.client, args[0]).SetContext(ctx, val)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a parameter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, v, timeout, func(ctx context.Context, s *session) error {
				return rosbridge.NewParam(s.client, args[0]).DeleteContext(ctx)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List parameter names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, v, timeout, func(ctx context.Context, s *session) error {
				names, err := s.client.ParamNamesContext(ctx)
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Println(n)
				}
				return nil
			})
		},
	})

	return cmd
}
