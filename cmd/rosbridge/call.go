package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/EgorLis/rosbridge/internal/rosbridge"
)

func newCallCmd(v *viper.Viper) *cobra.Command {
	var (
		timeout     time.Duration
		serviceType string
	)

	cmd := &cobra.Command{
		Use:   "call <service> [json]",
		Short: "Call a service and print its response",
		Long: `Call a service with a JSON object of arguments (default {}).

Examples:
  rosbridge call /rosapi/topics
  rosbridge call /add_two_ints '{"a":1,"b":2}' --type rospy_tutorials/AddTwoInts`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw string
			if len(args) > 1 {
				raw = args[1]
			}
			req, err := parseJSONArg(raw)
			if err != nil {
				return err
			}
			return withClient(cmd, v, timeout, func(ctx context.Context, s *session) error {
				svc := rosbridge.NewService(s.client, args[0], serviceType)
				values, err := svc.CallContext(ctx, req)
				var serr *rosbridge.ServiceError
				if errors.As(err, &serr) {
					_ = printJSON(serr.Values)
					return fmt.Errorf("service %s returned failure", args[0])
				}
				if err != nil {
					return err
				}
				return printJSON(json.RawMessage(values))
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "connect and call timeout")
	cmd.Flags().StringVar(&serviceType, "type", "", "service type")
	return cmd
}
