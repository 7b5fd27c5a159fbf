// Package mqtt implements the MQTT transport for agrospeak.
//
// MQTT suits field devices on poor links. This transport subscribes to a
// topic filter with a single "+" level holding the session id (default
// "agrospeak/+/turn"), runs each JSON message.TurnRequest as a turn and
// publishes the message.TurnResult to the same topic with the last level
// replaced by "reply".
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/agrospeak/agrospeak/internal/message"
	"github.com/agrospeak/agrospeak/internal/transport"
)

const (
	qos            = 1
	connectTimeout = 10 * time.Second
	turnTimeout    = 2 * time.Minute
)

// Transport implements transport.Transport over MQTT.
type Transport struct {
	broker   string
	topic    string
	clientID string
	client   paho.Client
}

// New creates a new MQTT transport.
func New(broker, topic, clientID string) *Transport {
	return &Transport{broker: broker, topic: topic, clientID: clientID}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "mqtt" }

// Listen connects to the MQTT broker and subscribes to the configured topic.
// It blocks until the context is cancelled.
func (t *Transport) Listen(ctx context.Context, svc transport.Service) error {
	if _, err := sessionLevel(t.topic); err != nil {
		return err
	}

	opts := paho.NewClientOptions().
		AddBroker(t.broker).
		SetClientID(t.clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false)

	// Resubscribe on every (re)connect; the session is not persistent.
	opts.SetOnConnectHandler(func(c paho.Client) {
		tok := c.Subscribe(t.topic, qos, func(c paho.Client, m paho.Message) {
			reply, body := Handle(ctx, svc, t.topic, m.Topic(), m.Payload())
			if reply == "" {
				return
			}
			if tok := c.Publish(reply, qos, false, body); tok.WaitTimeout(connectTimeout) && tok.Error() != nil {
				slog.Error("mqtt publish failed", "topic", reply, "error", tok.Error())
			}
		})
		if tok.WaitTimeout(connectTimeout) && tok.Error() != nil {
			slog.Error("mqtt subscribe failed", "topic", t.topic, "error", tok.Error())
			return
		}
		slog.Info("mqtt subscribed", "topic", t.topic)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		slog.Warn("mqtt connection lost", "error", err)
	})

	t.client = paho.NewClient(opts)
	tok := t.client.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		slog.Warn("mqtt broker not reachable yet, retrying in background", "broker", t.broker)
	} else if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	slog.Info("mqtt transport listening", "broker", t.broker, "topic", t.topic)
	<-ctx.Done()
	slog.Info("mqtt transport shutting down")
	t.client.Disconnect(250)
	return nil
}

// Close disconnects from the MQTT broker.
func (t *Transport) Close() error {
	if t.client != nil && t.client.IsConnected() {
		t.client.Disconnect(250)
	}
	return nil
}

// Handle runs one inbound message and returns the reply topic and body.
// An empty reply topic means the message could not be addressed.
func Handle(ctx context.Context, svc transport.Service, filter, topic string, payload []byte) (string, []byte) {
	sessionID, err := SessionFromTopic(filter, topic)
	if err != nil {
		slog.Warn("mqtt message on unexpected topic", "topic", topic, "error", err)
		return "", nil
	}
	reply := ReplyTopic(filter, sessionID)

	var req message.TurnRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return reply, encodeError(fmt.Errorf("%w: invalid json: %w", transport.ErrInvalid, err))
	}
	req.SessionID = sessionID

	turnCtx, cancel := context.WithTimeout(ctx, turnTimeout)
	defer cancel()
	res, err := svc.Converse(turnCtx, &req)
	if err != nil {
		slog.Warn("mqtt turn failed", "session_id", sessionID, "error", err)
		return reply, encodeError(err)
	}
	body, err := json.Marshal(res)
	if err != nil {
		return reply, encodeError(err)
	}
	return reply, body
}

func encodeError(err error) []byte {
	body, _ := json.Marshal(message.Error{Error: err.Error()})
	return body
}

// sessionLevel returns the index of the single "+" level in filter.
func sessionLevel(filter string) (int, error) {
	idx := -1
	for i, level := range strings.Split(filter, "/") {
		switch level {
		case "+":
			if idx >= 0 {
				return 0, fmt.Errorf("mqtt topic %q: more than one \"+\" level", filter)
			}
			idx = i
		case "#":
			return 0, fmt.Errorf("mqtt topic %q: \"#\" is not supported", filter)
		}
	}
	if idx < 0 {
		return 0, fmt.Errorf("mqtt topic %q: needs a \"+\" level for the session id", filter)
	}
	return idx, nil
}

// SessionFromTopic extracts the session id from a topic matching filter.
func SessionFromTopic(filter, topic string) (string, error) {
	idx, err := sessionLevel(filter)
	if err != nil {
		return "", err
	}
	want := strings.Split(filter, "/")
	got := strings.Split(topic, "/")
	if len(want) != len(got) {
		return "", errors.New("topic does not match filter")
	}
	for i := range want {
		if i != idx && want[i] != got[i] {
			return "", errors.New("topic does not match filter")
		}
	}
	if got[idx] == "" {
		return "", errors.New("empty session id")
	}
	return got[idx], nil
}

// ReplyTopic is filter with the session id filled in and the last level
// replaced by "reply".
func ReplyTopic(filter, sessionID string) string {
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if level == "+" {
			levels[i] = sessionID
		}
	}
	levels[len(levels)-1] = "reply"
	return strings.Join(levels, "/")
}
