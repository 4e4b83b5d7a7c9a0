package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/EgorLis/rosbridge/internal/rosbridge"
)

func newPubCmd(v *viper.Viper) *cobra.Command {
	var (
		timeout time.Duration
		latch   bool
		repeat  int
		rate    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "pub <topic> <type> <json>",
		Short: "Publish a JSON message to a topic",
		Long: `Advertise a topic, publish a message and unadvertise.

Examples:
  rosbridge pub /chatter std_msgs/String '{"data":"hello"}'
  rosbridge pub /test_topic std_msgs/Int32 '{"data":42069}' --repeat 5 --rate 1s`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := parseJSONArg(args[2])
			if err != nil {
				return err
			}
			return withClient(cmd, v, timeout, func(ctx context.Context, s *session) error {
				topic := rosbridge.NewTopic(s.client, rosbridge.TopicOptions{
					Name:        args[0],
					MessageType: args[1],
					Latch:       latch,
				})
				if err := topic.Advertise(); err != nil {
					return err
				}
				defer func() { _ = topic.Unadvertise() }()

				for i := 0; i < max(repeat, 1); i++ {
					if i > 0 {
						select {
						case <-cmd.Context().Done():
							return nil
						case <-time.After(rate):
						}
					}
					if err := topic.Publish(msg); err != nil {
						return err
					}
					s.log.Debug("published", "topic", args[0], "n", i+1)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "connect timeout")
	cmd.Flags().BoolVar(&latch, "latch", false, "latch the topic")
	cmd.Flags().IntVar(&repeat, "repeat", 1, "publish the message N times")
	cmd.Flags().DurationVar(&rate, "rate", time.Second, "pause between repeated messages")
	return cmd
}
