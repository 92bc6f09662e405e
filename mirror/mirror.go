// Package mirror republishes accepted fixes to a local MQTT broker so
// on-vehicle consumers (dashboards, loggers) can follow the position
// without touching the uplink.
package mirror

import (
	"encoding/json"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/netsys-lab/multipath-uplink/fix"
)

const DefaultTopic = "uplink/fixes"

type Mirror struct {
	client mqtt.Client
	topic  string
}

// New connects to the broker, e.g. "tcp://localhost:1883". The mirror
// is strictly best-effort; a broker outage never affects the uplink.
func New(broker, clientID, topic string) (*Mirror, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	log.Infof("[Mirror] Connected to MQTT broker at %s", broker)

	return &Mirror{client: client, topic: topic}, nil
}

// Publish mirrors one fix as JSON, fire-and-forget. It never waits on
// the broker, so it is safe to call from the supervisor loop.
func (m *Mirror) Publish(f fix.Fix) {
	payload, err := json.Marshal(f)
	if err != nil {
		log.Warnf("[Mirror] Fix marshal error: %v", err)
		return
	}
	m.client.Publish(m.topic, 0, true, payload)
}

func (m *Mirror) Close() {
	m.client.Disconnect(250)
}
