package comm

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// publishAckTimeout bounds the wait for a broker acknowledgement of a
// QoS >= 1 publish.
const publishAckTimeout = 5 * time.Second

// MQTTAdapter ingests edge events from a subscribed topic and publishes
// retained phase documents to another. The underlying paho client
// reconnects on its own; the subscription is re-established from the
// OnConnect hook so a broker restart doesn't silently stop ingestion.
type MQTTAdapter struct {
	cfg   Config
	clock func() time.Time

	// newClient is swapped by tests to substitute a fake client.
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu      sync.Mutex
	started bool
	client  mqtt.Client
	sink    EventSink
}

func NewMQTTAdapter(cfg Config) *MQTTAdapter {
	return &MQTTAdapter{
		cfg:       cfg,
		clock:     time.Now,
		newClient: mqtt.NewClient,
	}
}

func (a *MQTTAdapter) StartEventIngestion(sink EventSink) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return ErrAlreadyStarted
	}
	a.sink = sink

	var opts = a.clientOptions()
	opts.OnConnect = func(client mqtt.Client) {
		log.WithField("topic", a.cfg.MQTT.EventsTopic).Info("MQTT connected; subscribing to edge events")
		if token := client.Subscribe(a.cfg.MQTT.EventsTopic, a.cfg.MQTT.QoS, a.onMessage); token.Wait() && token.Error() != nil {
			log.WithFields(log.Fields{
				"topic": a.cfg.MQTT.EventsTopic,
				"err":   token.Error(),
			}).Error("MQTT subscribe failed")
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.WithField("err", err).Warn("MQTT connection lost; reconnecting")
	}

	var client = a.newClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		client.Disconnect(0)
		return fmt.Errorf("connecting to MQTT broker %s:%d: %w",
			a.cfg.MQTT.Host, a.cfg.MQTT.Port, token.Error())
	}

	a.client = client
	a.started = true
	return nil
}

// connect dials the broker for a publish-only adapter which never had
// StartEventIngestion called. Invoked lazily from PublishPhase.
func (a *MQTTAdapter) connect() (mqtt.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		return a.client, nil
	}
	var client = a.newClient(a.clientOptions())
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		client.Disconnect(0)
		return nil, token.Error()
	}
	a.client = client
	return client, nil
}

func (a *MQTTAdapter) clientOptions() *mqtt.ClientOptions {
	var opts = mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", a.cfg.MQTT.Host, a.cfg.MQTT.Port)).
		SetClientID(a.cfg.MQTT.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	if a.cfg.MQTT.RetryBackoff > 0 {
		opts.SetConnectRetryInterval(a.cfg.MQTT.RetryBackoff)
		opts.SetMaxReconnectInterval(a.cfg.MQTT.RetryBackoff)
	}
	return opts
}

func (a *MQTTAdapter) onMessage(_ mqtt.Client, msg mqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"topic": msg.Topic(),
				"panic": r,
			}).Error("edge event sink panicked")
		}
	}()

	var doc eventDoc
	if err := json.Unmarshal(msg.Payload(), &doc); err != nil {
		decodeErrors.WithLabelValues("mqtt").Inc()
		log.WithFields(log.Fields{
			"topic": msg.Topic(),
			"err":   err,
		}).Warn("dropping malformed edge event message")
		return
	}
	if err := doc.validate(); err != nil {
		decodeErrors.WithLabelValues("mqtt").Inc()
		log.WithFields(log.Fields{
			"topic": msg.Topic(),
			"err":   err,
		}).Warn("dropping invalid edge event message")
		return
	}

	if a.sink(doc.event(a.clock())) {
		eventsIngested.WithLabelValues("mqtt").Inc()
	}
}

func (a *MQTTAdapter) PublishPhase(phase string, timestamp float64) bool {
	var client, err = a.connect()
	if err != nil {
		log.WithFields(log.Fields{"err": err, "phase": phase}).Warn("phase publish failed: broker unreachable")
		phasePublishes.WithLabelValues("mqtt", "error").Inc()
		return false
	}

	body, err := json.Marshal(phaseDoc{
		Phase:     phase,
		Timestamp: timestamp,
		Service:   a.cfg.ServiceName,
	})
	if err != nil {
		phasePublishes.WithLabelValues("mqtt", "error").Inc()
		return false
	}

	var token = client.Publish(a.cfg.MQTT.PhaseTopic, a.cfg.MQTT.QoS, a.cfg.MQTT.Retain, body)
	if !token.WaitTimeout(publishAckTimeout) {
		log.WithField("phase", phase).Warn("phase publish not acknowledged in time")
		phasePublishes.WithLabelValues("mqtt", "timeout").Inc()
		return false
	}
	if err := token.Error(); err != nil {
		log.WithFields(log.Fields{"err": err, "phase": phase}).Warn("phase publish failed")
		phasePublishes.WithLabelValues("mqtt", "error").Inc()
		return false
	}
	phasePublishes.WithLabelValues("mqtt", "ok").Inc()
	return true
}

// Publish sends an arbitrary payload to a topic at the adapter's QoS,
// without the retain flag. Used by the MQTT dispatch handler.
func (a *MQTTAdapter) Publish(topic string, payload []byte) error {
	var client, err = a.connect()
	if err != nil {
		return err
	}
	var token = client.Publish(topic, a.cfg.MQTT.QoS, false, payload)
	if !token.WaitTimeout(publishAckTimeout) {
		return fmt.Errorf("publish to %s not acknowledged in time", topic)
	}
	return token.Error()
}

func (a *MQTTAdapter) Stop() error {
	a.mu.Lock()
	var client = a.client
	a.client = nil
	a.mu.Unlock()

	if client != nil {
		client.Disconnect(uint(stopGrace / time.Millisecond))
	}
	return nil
}
