// Package mqttpub republishes fan-out events to an MQTT broker so
// home automation systems can react to prices without polling the API.
// Prices go to <prefix>/price/<provider> (retained), alerts to
// <prefix>/alert.
package mqttpub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mhaase/strompreis-go/config"
	"github.com/mhaase/strompreis-go/fanout"
)

type Publisher struct {
	logger *slog.Logger
	client mqtt.Client
	hub    *fanout.Hub
	prefix string
}

func New(hub *fanout.Hub, cnfg config.AppConfigMqtt) *Publisher {
	logger := slog.Default().With("module", "mqttpub")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cnfg.Host, cnfg.Port))
	opts.SetClientID("strompreis")
	opts.SetUsername(cnfg.Username)
	opts.SetPassword(cnfg.Password)
	opts.SetAutoReconnect(true)
	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("MQTT connected")
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", slog.Any("error", err))
	}

	mqttLogger := slog.Default().With("module", "mqtt")
	mqtt.CRITICAL = newMqttLogger(mqttLogger, slog.LevelError)
	mqtt.ERROR = newMqttLogger(mqttLogger, slog.LevelError)
	mqtt.WARN = newMqttLogger(mqttLogger, slog.LevelWarn)

	return &Publisher{
		logger: logger,
		client: mqtt.NewClient(opts),
		hub:    hub,
		prefix: cnfg.GetTopicPrefix(),
	}
}

func (p *Publisher) Connect() error {
	p.logger.Debug("connecting MQTT client")
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// Run forwards fan-out events to the broker until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	sub := p.hub.Subscribe("mqtt", 64)
	defer p.hub.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("disconnecting MQTT client")
			p.client.Disconnect(250)
			return

		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			p.forward(ev)
		}
	}
}

func (p *Publisher) forward(ev fanout.Event) {
	var topic string
	var retained bool

	switch ev.Type {
	case fanout.EventPrice:
		// Retained so a subscriber joining later still sees the
		// current price per provider.
		topic = fmt.Sprintf("%s/price/%s", p.prefix, ev.Price.Point.Provider)
		retained = true
	case fanout.EventAlert:
		topic = p.prefix + "/alert"
	default:
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("event marshalling failed", slog.Any("error", err))
		return
	}

	token := p.client.Publish(topic, 0, retained, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			p.logger.Warn("publish failed", slog.String("topic", topic), slog.Any("error", err))
		}
	}()
}
