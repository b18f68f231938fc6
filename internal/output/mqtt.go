// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package output

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// publisher is the part of mqtt.Client the sink needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher publishes each sentence as a raw text payload.
type MQTTPublisher struct {
	client  publisher
	topic   string
	timeout time.Duration
}

// DialMQTT connects to broker and returns a publisher for topic together with
// a function that disconnects the client.
func DialMQTT(broker, clientID, topic string) (*MQTTPublisher, func(), error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, nil, fmt.Errorf("output: mqtt connect %s: %w", broker, token.Error())
	}

	return NewMQTTPublisher(client, topic), func() { client.Disconnect(250) }, nil
}

func NewMQTTPublisher(client publisher, topic string) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic, timeout: 2 * time.Second}
}

func (m *MQTTPublisher) Emit(sentence string) error {
	token := m.client.Publish(m.topic, 0, false, []byte(sentence))
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("output: mqtt publish to %s: timed out", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("output: mqtt publish to %s: %w", m.topic, err)
	}
	return nil
}
