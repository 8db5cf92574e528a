package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/nftmarket/service/metrics"
	natspkg "github.com/brojonat/nftmarket/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// streamableTypes are the event types a client may filter on.
var streamableTypes = map[string]bool{
	natspkg.EventWalletConnected: true,
	natspkg.EventListingCreated:  true,
	natspkg.EventListingResold:   true,
}

// SSEPublisher relays marketplace events from JetStream to Server-Sent Events clients.
type SSEPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSSEPublisher connects to NATS and makes sure the MARKET stream exists.
func NewSSEPublisher(natsURL string, logger *slog.Logger) (*SSEPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("nftmarket-sse-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if err := natspkg.EnsureStream(context.Background(), js, logger); err != nil {
		nc.Close()
		return nil, err
	}

	logger.Info("SSE publisher initialized", "nats_url", natsURL)
	return &SSEPublisher{nc: nc, js: js, logger: logger}, nil
}

// Close closes the NATS connection.
func (p *SSEPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("SSE publisher closed")
	}
	return nil
}

// streamSubject maps an optional ?type= filter to a JetStream filter subject.
func streamSubject(eventType string) (string, error) {
	if eventType == "" {
		return natspkg.StreamSubjects, nil
	}
	if !streamableTypes[eventType] {
		return "", fmt.Errorf("unknown event type %q", eventType)
	}
	return natspkg.SubjectPrefix + eventType, nil
}

// handleStreamEvents streams marketplace events. Clients use wallet.connected
// as the signal to reload any listings they have cached.
func handleStreamEvents(publisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		eventType := r.URL.Query().Get("type")
		subject, err := streamSubject(eventType)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flush := func() {
			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
		}
		flush()

		m.RecordSSEConnectionChange(1)
		defer m.RecordSSEConnectionChange(-1)

		logger.DebugContext(r.Context(), "SSE client connected",
			"subject", subject,
			"remote_addr", r.RemoteAddr,
		)

		cons, err := publisher.js.CreateOrUpdateConsumer(r.Context(), natspkg.StreamName, jetstream.ConsumerConfig{
			FilterSubject: subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			DeliverPolicy: jetstream.DeliverNewPolicy,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to create consumer",
				"subject", subject,
				"error", err,
			)
			fmt.Fprintf(w, "event: error\ndata: {\"error\": \"failed to subscribe\"}\n\n")
			return
		}

		msgChan := make(chan jetstream.Msg, 10)
		doneChan := make(chan struct{})

		go func() {
			defer close(doneChan)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				select {
				case msgChan <- msg:
				case <-r.Context().Done():
				}
			})
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to start consuming messages", "error", err)
				return
			}
			<-r.Context().Done()
			cc.Stop()
		}()

		connected, _ := json.Marshal(map[string]string{"subject": subject})
		fmt.Fprintf(w, "event: connected\ndata: %s\n\n", connected)
		flush()

		keepalive := time.NewTicker(10 * time.Second)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flush()

			case msg := <-msgChan:
				var event natspkg.MarketEvent
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					logger.WarnContext(r.Context(), "failed to unmarshal event", "error", err)
					msg.Ack()
					continue
				}

				// Re-marshal so clients never see fields we don't define.
				data, err := json.Marshal(event)
				if err != nil {
					logger.WarnContext(r.Context(), "failed to marshal event", "error", err)
					msg.Ack()
					continue
				}

				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
				flush()
				msg.Ack()
				m.RecordSSEEventSent(event.Type)

				logger.DebugContext(r.Context(), "sent market event",
					"type", event.Type,
					"event_id", event.ID,
				)

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected",
					"subject", subject,
					"remote_addr", r.RemoteAddr,
				)
				return

			case <-doneChan:
				return
			}
		}
	})
}
