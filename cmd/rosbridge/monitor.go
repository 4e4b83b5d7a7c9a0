package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/EgorLis/rosbridge/internal/config"
	"github.com/EgorLis/rosbridge/internal/observability"
	"github.com/EgorLis/rosbridge/internal/rosbridge"
	"github.com/EgorLis/rosbridge/internal/supervisor"
)

func newMonitorCmd(v *viper.Viper) *cobra.Command {
	var extra []string

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Subscribe to configured topics and keep the connection alive",
		Long: `Subscribe to the topics listed in the config file (and --topic flags),
print every message as a JSON line prefixed by its topic, and reconnect with
exponential backoff when the bridge goes away. Subscriptions are restored
after every reconnect.

Examples:
  rosbridge monitor --topic /rosout --metrics-addr :9091
  ROSBRIDGE_URL=ws://robot:9090 rosbridge monitor --config rosbridge.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, v)
			if err != nil {
				return err
			}
			defer s.close()

			ctx := cmd.Context()
			if addr := s.cfg.Observability.MetricsAddr; addr != "" {
				observability.ServeMetrics(ctx, addr, s.reg, s.log)
			}

			sup := supervisor.New(s.client, s.cfg.Supervisor(), s.log)

			topics := s.cfg.Topics
			for _, name := range extra {
				topics = append(topics, topicConfFor(name))
			}
			if len(topics) == 0 {
				return fmt.Errorf("no topics: set topics in the config or pass --topic")
			}
			for _, tc := range topics {
				t := rosbridge.NewTopic(s.client, tc.Options())
				name := tc.Name
				if err := t.Subscribe(func(msg json.RawMessage) {
					fmt.Printf("%s %s\n", name, msg)
				}); err != nil {
					return err
				}
				sup.Track(t)
			}

			if s.cfg.StatusLevel != "" {
				// уровень живёт в сессии моста, повторяем после каждого open
				level := rosbridge.StatusLevel(s.cfg.StatusLevel)
				s.client.OnOpen(func(rosbridge.OpenEvent) {
					_ = s.client.SetStatusLevel(level)
				})
				s.client.OnStatus(func(st rosbridge.Status) {
					s.log.Info("bridge status", "level", st.Level, "msg", st.Msg, "id", st.ID)
				})
			}

			if err := sup.Start(ctx, s.cfg.URL, rosbridge.TransportKind(s.cfg.Transport), s.cfg.RosbridgeTransport()); err != nil {
				return err
			}
			defer sup.Stop()

			s.log.Info("monitoring", "url", s.cfg.URL, "topics", len(topics))
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&extra, "topic", nil, "additional topic to subscribe (repeatable)")
	return cmd
}

func topicConfFor(name string) config.TopicConf {
	return config.TopicConf{Name: name, Compression: string(rosbridge.CompressionNone)}
}
