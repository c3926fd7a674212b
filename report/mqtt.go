package report

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	mqtt "github.com/soypat/natiu-mqtt"
)

const defaultMQTTTimeout = 5 * time.Second

type MQTTConfig struct {
	// Broker address as host:port.
	Broker   string
	ClientID string
	Topic    string
	// Timeout bounds dialing and the CONNECT exchange.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Publisher publishes transactions as JSON messages.
type Publisher struct {
	publish func(payload []byte) error
	closer  io.Closer
	logger  *slog.Logger
	sent    int
}

// NewPublisher returns a Publisher that hands encoded payloads to publish.
func NewPublisher(publish func(payload []byte) error, logger *slog.Logger) *Publisher {
	return &Publisher{publish: publish, logger: logger}
}

// DialMQTT connects to an MQTT broker over TCP and returns a Publisher
// sending QoS0 messages to cfg.Topic.
func DialMQTT(ctx context.Context, cfg MQTTConfig) (*Publisher, error) {
	if cfg.Topic == "" {
		return nil, errors.New("mqtt topic required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "sramanalyze"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultMQTTTimeout
	}
	conn, err := net.DialTimeout("tcp", cfg.Broker, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	client := mqtt.NewClient(mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, 1500)},
		OnPub: func(pubHead mqtt.Header, varPub mqtt.VariablesPublish, r io.Reader) error {
			return nil // Publish only.
		},
	})
	var varconn mqtt.VariablesConnect
	varconn.SetDefaultMQTT([]byte(cfg.ClientID))
	connctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	err = client.Connect(connctx, conn, &varconn)
	cancel()
	if err != nil {
		conn.Close()
		return nil, errors.Join(errors.New("mqtt connect failed"), err)
	}
	flags, err := mqtt.NewPublishFlags(mqtt.QoS0, false, false)
	if err != nil {
		conn.Close()
		return nil, err
	}
	varpub := mqtt.VariablesPublish{
		TopicName:        []byte(cfg.Topic),
		PacketIdentifier: 1,
	}
	publish := func(payload []byte) error {
		if !client.IsConnected() {
			return errors.Join(errors.New("mqtt disconnected"), client.Err())
		}
		conn.SetWriteDeadline(time.Now().Add(cfg.Timeout))
		varpub.PacketIdentifier++
		return client.PublishPayload(flags, varpub, payload)
	}
	p := NewPublisher(publish, cfg.Logger)
	p.closer = conn
	p.info("mqtt:connected", slog.String("broker", cfg.Broker), slog.String("topic", cfg.Topic))
	return p, nil
}

type message struct {
	Num         int     `json:"num"`
	Instruction string  `json:"instruction"`
	Address     *uint16 `json:"address,omitempty"`
	Data        string  `json:"data,omitempty"`
	Mode        string  `json:"mode,omitempty"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
}

func encodeMessage(tx Transaction) ([]byte, error) {
	msg := message{
		Num:         tx.Num,
		Instruction: tx.Instruction.String(),
		Data:        hex.EncodeToString(tx.Data),
		Start:       tx.Span.Start,
		End:         tx.Span.End,
	}
	if tx.HasAddress {
		addr := tx.Address
		msg.Address = &addr
	}
	if tx.HasMode {
		msg.Mode = tx.Mode.String()
	}
	return json.Marshal(msg)
}

// Publish sends tx.
func (p *Publisher) Publish(tx Transaction) error {
	payload, err := encodeMessage(tx)
	if err != nil {
		return err
	}
	err = p.publish(payload)
	if err != nil {
		p.logerr("mqtt:publish-failed", slog.String("reason", err.Error()))
		return err
	}
	p.sent++
	return nil
}

// Sent returns the number of messages published successfully.
func (p *Publisher) Sent() int { return p.sent }

// Close closes the broker connection, if any.
func (p *Publisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

func (p *Publisher) info(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		p.logger.LogAttrs(context.Background(), slog.LevelInfo, msg, attrs...)
	}
}

func (p *Publisher) logerr(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		p.logger.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
	}
}
