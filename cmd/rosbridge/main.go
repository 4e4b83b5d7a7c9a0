package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/EgorLis/rosbridge/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "rosbridge",
		Short: "rosbridge protocol client",
		Long: `rosbridge - client for the rosbridge v2 JSON protocol.

Introspection:
  rosbridge topics                    List topics (rosapi)
  rosbridge nodes                     List nodes (rosapi)
  rosbridge services                  List services (rosapi)

Topics and services:
  rosbridge echo <topic> [type]       Print messages of a topic
  rosbridge pub <topic> <type> <msg>  Publish one JSON message
  rosbridge call <service> [args]     Call a service

Parameters:
  rosbridge param get|set|delete|list

Long running:
  rosbridge monitor                   Subscribe to configured topics with reconnect`,
		SilenceUsage: true,
	}
	config.BindFlags(rootCmd, v)

	rootCmd.AddCommand(newTopicsCmd(v))
	rootCmd.AddCommand(newNodesCmd(v))
	rootCmd.AddCommand(newServicesCmd(v))
	rootCmd.AddCommand(newEchoCmd(v))
	rootCmd.AddCommand(newPubCmd(v))
	rootCmd.AddCommand(newCallCmd(v))
	rootCmd.AddCommand(newParamCmd(v))
	rootCmd.AddCommand(newMonitorCmd(v))
	rootCmd.AddCommand(newVersionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rootCmd.ExecuteContext(ctx)
}
