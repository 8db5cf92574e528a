package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/nftmarket/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

func eventsCommands() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Marketplace event streaming commands",
		Subcommands: []*cli.Command{
			subscribeCommand(),
			inspectStreamCommand(),
		},
	}
}

// subjectFor maps an event type to the subject it is published on.
func subjectFor(eventType string) (string, error) {
	switch eventType {
	case "":
		return natspkg.StreamSubjects, nil
	case natspkg.EventWalletConnected, natspkg.EventListingCreated, natspkg.EventListingResold:
		return natspkg.SubjectPrefix + eventType, nil
	default:
		return "", fmt.Errorf("unknown event type %q (want %s, %s or %s)", eventType,
			natspkg.EventWalletConnected, natspkg.EventListingCreated, natspkg.EventListingResold)
	}
}

func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:  "subscribe",
		Usage: "Stream marketplace events from NATS JetStream",
		Description: `Stream events published to the MARKET stream.

A wallet.connected event means listings cached by any client are stale.

Example:
  nftmarket events subscribe --type listing.created --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "type",
				Usage: "Only stream this event type",
			},
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "nftmarket-cli",
			},
		},
		Action: func(c *cli.Context) error {
			subject, err := subjectFor(c.String("type"))
			if err != nil {
				return err
			}

			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			consumerConfig := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
				DeliverPolicy: jetstream.DeliverNewPolicy,
			}
			if c.Bool("durable") {
				consumerConfig.Durable = c.String("consumer-name")
				consumerConfig.Name = c.String("consumer-name")
			}

			cons, err := js.CreateOrUpdateConsumer(c.Context, natspkg.StreamName, consumerConfig)
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			jsonOutput := c.Bool("json")
			w := c.App.Writer
			if !jsonOutput {
				fmt.Fprintf(w, "Subscribing to: %s\n", subject)
				fmt.Fprintf(w, "Waiting for events... (Ctrl-C to exit)\n\n")
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			msgChan := make(chan jetstream.Msg, 10)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				select {
				case msgChan <- msg:
				case <-ctx.Done():
				}
			})
			if err != nil {
				return fmt.Errorf("failed to start consuming: %w", err)
			}
			defer cc.Stop()

			count := 0
			for {
				select {
				case msg := <-msgChan:
					var event natspkg.MarketEvent
					if err := json.Unmarshal(msg.Data(), &event); err != nil {
						fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
						msg.Ack()
						continue
					}
					count++
					printEvent(w, &event, jsonOutput)
					msg.Ack()

				case <-ctx.Done():
					if !jsonOutput {
						fmt.Fprintf(w, "\nReceived %d events\n", count)
					}
					return nil
				}
			}
		},
	}
}

func printEvent(w io.Writer, event *natspkg.MarketEvent, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.Marshal(event)
		fmt.Fprintln(w, string(data))
		return
	}
	fmt.Fprintf(w, "%s  %-16s  account=%s", event.PublishedAt.Format(time.RFC3339), event.Type, event.Account)
	if event.TokenID != "" {
		fmt.Fprintf(w, "  token=%s price=%s tx=%s", event.TokenID, event.Price, event.TxHash)
	}
	fmt.Fprintln(w)
}

// inspectStreamCommand shows information about the MARKET stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the MARKET JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
			defer cancel()

			stream, err := js.Stream(ctx, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}
			info, err := stream.Info(ctx)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			w := c.App.Writer
			if c.Bool("json") {
				return printJSON(w, info)
			}
			fmt.Fprintf(w, "Stream:     %s\n", info.Config.Name)
			fmt.Fprintf(w, "Subjects:   %v\n", info.Config.Subjects)
			fmt.Fprintf(w, "Messages:   %d\n", info.State.Msgs)
			fmt.Fprintf(w, "Bytes:      %d\n", info.State.Bytes)
			fmt.Fprintf(w, "Consumers:  %d\n", info.State.Consumers)
			fmt.Fprintf(w, "Max Age:    %s\n", info.Config.MaxAge)
			return nil
		},
	}
}
