package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Daneel-Li/feedback-dash/internal/config"
	mxm "github.com/Daneel-Li/feedback-dash/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/exp/slices"
)

// NewMqttClient 创建并连接mqtt客户端
func NewMqttClient(cfg config.MqttConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetKeepAlive(10 * time.Second)
	opts.SetAutoReconnect(true) // 开启自动重连
	opts.SetResumeSubs(true)    // 恢复订阅
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(5 * time.Second)
	opts.SetCleanSession(false)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		slog.Debug("mqtt 连接成功！", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		slog.Warn("mqtt client disconnected. trying to reconnect...", "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt client failed: %v", token.Error())
	}
	return client, nil
}

// mqttSubscriber is the part of mqtt.Client the source needs.
type mqttSubscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

const mqttWaitTimeout = 10 * time.Second

// MqttSource consumes whole-collection snapshots published (retained) on one topic.
type MqttSource struct {
	client mqttSubscriber
	topic  string

	mu       sync.Mutex
	last     []mxm.Feedback
	have     bool
	watching bool
	ready    chan struct{}
}

func NewMqttSource(client mqttSubscriber, topic string) *MqttSource {
	return &MqttSource{client: client, topic: topic, ready: make(chan struct{})}
}

func (s *MqttSource) store(records []mxm.Feedback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = records
	if !s.have {
		s.have = true
		close(s.ready)
	}
}

func (s *MqttSource) cached() ([]mxm.Feedback, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.last), s.have, s.watching
}

func (s *MqttSource) decode(m mqtt.Message) ([]mxm.Feedback, bool) {
	records, err := mxm.DecodeSnapshot(m.Payload())
	if err != nil {
		slog.Error("wrong mqtt message:", "topic", m.Topic(), "payload", string(m.Payload()), "err", err)
		return nil, false
	}
	return records, true
}

func waitToken(t mqtt.Token) error {
	if !t.WaitTimeout(mqttWaitTimeout) {
		return errors.New("mqtt operation timed out")
	}
	return t.Error()
}

// Fetch returns the latest snapshot. While Watch runs it reuses the watched one,
// otherwise it subscribes until the retained message arrives.
func (s *MqttSource) Fetch(ctx context.Context) ([]mxm.Feedback, error) {
	records, have, watching := s.cached()
	if have {
		return records, nil
	}
	if watching {
		select {
		case <-s.ready:
			records, _, _ := s.cached()
			return records, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	got := make(chan []mxm.Feedback, 1)
	token := s.client.Subscribe(s.topic, 1, func(_ mqtt.Client, m mqtt.Message) {
		if records, ok := s.decode(m); ok {
			select {
			case got <- records:
			default:
			}
		}
	})
	if err := waitToken(token); err != nil {
		return nil, fmt.Errorf("subscribe %s failed: %w", s.topic, err)
	}
	defer func() {
		if err := waitToken(s.client.Unsubscribe(s.topic)); err != nil {
			slog.Warn("mqtt unsubscribe failed", "topic", s.topic, "error", err)
		}
	}()

	select {
	case records := <-got:
		s.store(records)
		return slices.Clone(records), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *MqttSource) Watch(ctx context.Context, fn func([]mxm.Feedback)) error {
	s.mu.Lock()
	if s.watching {
		s.mu.Unlock()
		return fmt.Errorf("topic %s is already watched", s.topic)
	}
	s.watching = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.watching = false
		s.mu.Unlock()
	}()

	updates := make(chan []mxm.Feedback, 16)
	token := s.client.Subscribe(s.topic, 1, func(_ mqtt.Client, m mqtt.Message) {
		slog.Debug("mqtt snapshot received", "topic", m.Topic(), "bytes", len(m.Payload()))
		records, ok := s.decode(m)
		if !ok {
			return
		}
		s.store(records)
		select {
		case updates <- records:
		case <-ctx.Done():
		}
	})
	if err := waitToken(token); err != nil {
		return fmt.Errorf("subscribe %s failed: %w", s.topic, err)
	}
	defer func() {
		if err := waitToken(s.client.Unsubscribe(s.topic)); err != nil {
			slog.Warn("mqtt unsubscribe failed", "topic", s.topic, "error", err)
		}
	}()

	for {
		select {
		case records := <-updates:
			fn(slices.Clone(records))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
