package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/EgorLis/rosbridge/internal/rosbridge"
)

func newEchoCmd(v *viper.Viper) *cobra.Command {
	var (
		timeout      time.Duration
		count        int
		throttleRate int
		compression  string
	)

	cmd := &cobra.Command{
		Use:   "echo <topic> [type]",
		Short: "Print messages of a topic as JSON lines",
		Long: `Subscribe to a topic and print every message as one JSON line.

Examples:
  rosbridge echo /rosout
  rosbridge echo /chatter std_msgs/String -n 10
  rosbridge echo /scan --throttle-rate 500`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, v)
			if err != nil {
				return err
			}
			defer s.close()

			ctx := cmd.Context()
			if err := s.connect(ctx, timeout); err != nil {
				return err
			}

			opts := rosbridge.TopicOptions{
				Name:         args[0],
				ThrottleRate: throttleRate,
				Compression:  rosbridge.Compression(compression),
			}
			if len(args) > 1 {
				opts.MessageType = args[1]
			}
			topic := rosbridge.NewTopic(s.client, opts)

			done := make(chan struct{})
			received := 0
			// колбэк вызывается из одной горутины чтения, счётчик без мьютекса
			err = topic.Subscribe(func(msg json.RawMessage) {
				if count > 0 && received >= count {
					return
				}
				fmt.Println(string(msg))
				received++
				if count > 0 && received == count {
					close(done)
				}
			})
			if err != nil {
				return err
			}
			defer func() { _ = topic.Unsubscribe() }()

			closed := make(chan rosbridge.CloseEvent, 1)
			cancel := s.client.OnClose(func(ev rosbridge.CloseEvent) {
				select {
				case closed <- ev:
				default:
				}
			})
			defer cancel()

			select {
			case <-ctx.Done():
			case <-done:
			case ev := <-closed:
				return fmt.Errorf("connection closed: %d %s", ev.Code, ev.Reason)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "connect timeout")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after N messages (0 = run until interrupted)")
	cmd.Flags().IntVar(&throttleRate, "throttle-rate", 0, "minimum milliseconds between messages")
	cmd.Flags().StringVar(&compression, "compression", "none", "none, png, cbor, cbor-raw")
	return cmd
}
