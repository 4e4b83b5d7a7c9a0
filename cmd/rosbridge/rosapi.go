package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newListCmd(v *viper.Viper, use, short string, list func(ctx context.Context, s *session) ([]string, error)) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, v, timeout, func(ctx context.Context, s *session) error {
				names, err := list(ctx, s)
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Println(n)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "connect and call timeout")
	return cmd
}

func newTopicsCmd(v *viper.Viper) *cobra.Command {
	return newListCmd(v, "topics", "List topics via /rosapi/topics", func(ctx context.Context, s *session) ([]string, error) {
		return s.client.TopicsContext(ctx)
	})
}

func newNodesCmd(v *viper.Viper) *cobra.Command {
	return newListCmd(v, "nodes", "List nodes via /rosapi/nodes", func(ctx context.Context, s *session) ([]string, error) {
		return s.client.NodesContext(ctx)
	})
}

func newServicesCmd(v *viper.Viper) *cobra.Command {
	return newListCmd(v, "services", "List services via /rosapi/services", func(ctx context.Context, s *session) ([]string, error) {
		return s.client.ServicesContext(ctx)
	})
}
