package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/EgorLis/rosbridge/internal/config"
	"github.com/EgorLis/rosbridge/internal/observability"
	"github.com/EgorLis/rosbridge/internal/rosbridge"
)

// session клиент, собранный по конфигу, для одной команды.
type session struct {
	cfg    *config.Config
	log    *slog.Logger
	reg    *prometheus.Registry
	client *rosbridge.Client
	tp     *sdktrace.TracerProvider
}

func newSession(cmd *cobra.Command, v *viper.Viper) (*session, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, configFile, config.DefaultPaths()...)
	if err != nil {
		return nil, err
	}
	if noReconnect, _ := cmd.Flags().GetBool("no-reconnect"); noReconnect {
		cfg.Reconnect.Enabled = false
	}

	log := observability.SetupLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stderr)

	ids, err := rosbridge.IDGeneratorByName(cfg.IDScheme)
	if err != nil {
		return nil, err
	}

	var tp *sdktrace.TracerProvider
	if cfg.Observability.OTLPEndpoint != "" {
		tp, err = observability.InitTracer(cmd.Context(), observability.TracerConfig{
			Endpoint:       cfg.Observability.OTLPEndpoint,
			ServiceName:    "rosbridge",
			ServiceVersion: version,
		})
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
	}

	reg := observability.NewRegistry()
	opts := []rosbridge.Option{
		rosbridge.WithLogger(log),
		rosbridge.WithIDGenerator(ids),
		rosbridge.WithMetrics(rosbridge.NewMetrics(reg)),
	}
	if tp != nil {
		opts = append(opts, rosbridge.WithTracerProvider(tp))
	}
	client := rosbridge.New(opts...)
	client.OnError(func(err error) {
		log.Debug("client error", "err", err)
	})

	return &session{cfg: cfg, log: log, reg: reg, client: client, tp: tp}, nil
}

// connect подключается и ждёт open не дольше timeout.
func (s *session) connect(ctx context.Context, timeout time.Duration) error {
	s.client.Connect(ctx, s.cfg.URL, rosbridge.TransportKind(s.cfg.Transport), s.cfg.RosbridgeTransport())

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.client.WaitOpen(waitCtx); err != nil {
		return fmt.Errorf("connect %s: %w", s.cfg.URL, err)
	}
	if s.cfg.StatusLevel != "" {
		if err := s.client.SetStatusLevel(rosbridge.StatusLevel(s.cfg.StatusLevel)); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) close() {
	_ = s.client.Close()
	if s.tp != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.tp.Shutdown(ctx); err != nil {
			s.log.Warn("tracer shutdown", "err", err)
		}
	}
}

// withClient общий каркас короткоживущих команд: подключиться, выполнить,
// закрыть.
func withClient(cmd *cobra.Command, v *viper.Viper, timeout time.Duration, fn func(ctx context.Context, s *session) error) error {
	s, err := newSession(cmd, v)
	if err != nil {
		return err
	}
	defer s.close()

	ctx := cmd.Context()
	if err := s.connect(ctx, timeout); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx, s)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseJSONArg разбирает аргумент командной строки как JSON. Пустая строка
// означает {}.
func parseJSONArg(s string) (json.RawMessage, error) {
	if s == "" {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("argument is not valid JSON: %s", s)
	}
	return json.RawMessage(s), nil
}
