package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// FitService answers fit requests over MQTT. Requests arrive on
// <prefix>/request/<id>; the outcome is published retained on
// <prefix>/result/<id> and kept in the ResultStore.
type FitService struct {
	client      mqtt.Client
	solver      *Solver
	store       *ResultStore
	prefix      string
	qos         byte
	logger      zerolog.Logger
	isConnected bool
	mu          sync.RWMutex
}

// NewClientOptions builds paho options from cfg. Callbacks are attached by
// the service.
func NewClientOptions(cfg MQTTConfig) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "meshfit"
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // Keep subscriptions across reconnects
	opts.SetOrderMatters(false) // Requests are independent
	return opts
}

// StartFitService connects to the configured broker in the background and
// serves requests until ctx is cancelled. It returns nil, nil when no broker
// is configured.
func StartFitService(ctx context.Context, cfg MQTTConfig, solver *Solver, store *ResultStore, logger zerolog.Logger) (*FitService, error) {
	if cfg.Broker == "" {
		logger.Info().Msg("MQTT disabled: no broker configured")
		return nil, nil
	}
	if solver == nil {
		return nil, fmt.Errorf("MQTT enabled but no solver provided")
	}

	svc := &FitService{
		solver: solver,
		store:  store,
		prefix: cfg.PublishPrefix,
		qos:    cfg.QoS,
		logger: logger.With().Str("component", "mqtt").Logger(),
	}
	if svc.prefix == "" {
		svc.prefix = "meshfit"
	}

	opts := NewClientOptions(cfg)
	opts.SetOnConnectHandler(svc.onConnect)
	opts.SetConnectionLostHandler(svc.onConnectionLost)
	opts.SetReconnectingHandler(svc.onReconnecting)
	svc.client = mqtt.NewClient(opts)

	go svc.connectWithRetry(ctx)
	return svc, nil
}

// NewFitServiceWithClient wires a service to an existing client, typically a
// MockClient. The caller owns connecting it.
func NewFitServiceWithClient(client mqtt.Client, cfg MQTTConfig, solver *Solver, store *ResultStore, logger zerolog.Logger) *FitService {
	prefix := cfg.PublishPrefix
	if prefix == "" {
		prefix = "meshfit"
	}
	return &FitService{
		client: client,
		solver: solver,
		store:  store,
		prefix: prefix,
		qos:    cfg.QoS,
		logger: logger,
	}
}

// RequestFilter is the subscription filter for incoming requests
func (s *FitService) RequestFilter() string {
	return s.prefix + "/request/+"
}

// ResultTopic is the topic the outcome for id is published on
func (s *FitService) ResultTopic(id string) string {
	return fmt.Sprintf("%s/result/%s", s.prefix, id)
}

// connectWithRetry attempts to connect to the broker with exponential backoff
func (s *FitService) connectWithRetry(ctx context.Context) {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		s.logger.Info().Msg("connecting to MQTT broker")

		token := s.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				s.logger.Info().Msg("connected to MQTT broker")
				s.setConnected(true)
				return
			}
			s.logger.Warn().Err(token.Error()).Msg("MQTT connection failed")
		} else {
			s.logger.Warn().Msg("MQTT connection timeout")
		}

		s.logger.Info().Dur("delay", retryDelay).Msg("retrying MQTT connection")
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to the request filter
func (s *FitService) onConnect(client mqtt.Client) {
	s.setConnected(true)

	filter := s.RequestFilter()
	token := client.Subscribe(filter, s.qos, s.handleRequest)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		s.logger.Error().Err(token.Error()).Str("topic", filter).Msg("subscribe failed")
		return
	}
	s.logger.Info().Str("topic", filter).Msg("subscribed to fit requests")
}

// onConnectionLost is called when the connection drops; auto-reconnect retries
func (s *FitService) onConnectionLost(client mqtt.Client, err error) {
	s.logger.Warn().Err(err).Msg("MQTT connection interrupted, auto-reconnect will retry")
	s.setConnected(false)
}

func (s *FitService) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	s.logger.Info().Msg("MQTT reconnecting")
}

// requestIDFromTopic returns the last segment of a request topic
func requestIDFromTopic(topic string) string {
	if i := strings.LastIndex(topic, "/"); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

// handleRequest parses, solves, stores and publishes one request. The topic
// segment is the request ID unless the payload carries its own.
func (s *FitService) handleRequest(client mqtt.Client, msg mqtt.Message) {
	topicID := requestIDFromTopic(msg.Topic())
	log := s.logger.With().Str("topic", msg.Topic()).Int("bytes", len(msg.Payload())).Logger()
	log.Debug().Msg("fit request received")

	set, err := ParseCorrespondences(msg.Payload())
	if err != nil {
		log.Warn().Err(err).Msg("invalid fit request")
		s.publishOutcome(FitOutcome{RequestID: topicID, Reason: "invalid_request", Timestamp: time.Now().Unix()})
		return
	}
	if set.ID == "" {
		set.ID = topicID
	}

	outcome, err := s.solver.Solve(*set)
	if err != nil {
		log.Warn().Err(err).Msg("fit request rejected")
		s.publishOutcome(FitOutcome{RequestID: set.ID, Reason: "invalid_request", Timestamp: time.Now().Unix()})
		return
	}
	if s.store != nil {
		s.store.Put(outcome)
	}
	s.publishOutcome(outcome)
}

// publishOutcome publishes o, logging any error
func (s *FitService) publishOutcome(o FitOutcome) {
	if err := s.Publish(o); err != nil {
		s.logger.Error().Err(err).Str("request", o.RequestID).Msg("publishing fit outcome")
	}
}

// Publish sends o to its result topic as retained JSON
func (s *FitService) Publish(o FitOutcome) error {
	if s.client == nil || !s.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshaling outcome: %w", err)
	}

	topic := s.ResultTopic(o.RequestID)
	token := s.client.Publish(topic, s.qos, true, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("publish error: %w", token.Error())
	}
	return nil
}

// IsConnected returns true if the MQTT client is connected
func (s *FitService) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isConnected
}

func (s *FitService) setConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (s *FitService) Disconnect() {
	if s.client != nil && s.client.IsConnected() {
		s.logger.Info().Msg("disconnecting from MQTT broker")
		s.client.Disconnect(250)
		s.setConnected(false)
	}
}
