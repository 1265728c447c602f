// Monitor publishing (spec.md §6's "monitor client" collaborator,
// narrowed per SPEC_FULL.md's Open Question decision #4 to a status
// publish only — no remote-shell/system-call surface). Publishes the
// same JSON status body C9 builds to an MQTT broker whenever a fresh
// report is available. Grounded directly on
// _examples/Safecast-TTServe/mqqt.go and broker.go, which drive this
// exact client library for status/telemetry publication.
package main

import (
	"context"
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
)

// Monitor is the MQTT status publisher.
type Monitor struct {
	logger   log.Logger
	client   mqtt.Client
	topic    string
	report   *StatusReport
	interval time.Duration
}

// NewMonitor connects to brokerURL and returns a Monitor ready to run,
// or an error if the initial connection fails.
func NewMonitor(logger log.Logger, brokerURL, topic, instanceID string, report *StatusReport, interval time.Duration) (*Monitor, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("gwfwd-" + instanceID).
		SetConnectRetry(true).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrap(token.Error(), "connect to monitor broker")
	}

	return &Monitor{
		logger:   logger,
		client:   client,
		topic:    topic,
		report:   report,
		interval: interval,
	}, nil
}

// Run polls for a fresh report and publishes it every interval, until
// ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer m.client.Disconnect(250)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.publish()
		}
	}
}

func (m *Monitor) publish() {
	body := m.report.Peek()
	if body == nil {
		return
	}
	payload, err := json.Marshal(body)
	if err != nil {
		logWarn(m.logger, "monitor marshal failed", "err", err)
		return
	}
	token := m.client.Publish(m.topic, 0, false, payload)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		logWarn(m.logger, "monitor publish failed", "err", token.Error())
	}
}
