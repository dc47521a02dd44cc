package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"kiosk/internal/command"
	"kiosk/internal/config"
	"kiosk/internal/faults"
	"kiosk/internal/logging"
	"kiosk/internal/metrics"
)

const (
	subscribeQoS = 1
	publishQoS   = 1

	connectTimeout      = 10 * time.Second
	tokenTimeout        = 15 * time.Second
	publishTimeout      = 5 * time.Second
	connectRetryCap     = 30 * time.Second
	maxReconnectWait    = 2 * time.Minute
	disconnectQuiesceMS = 250

	// defaultDedupeWindow bounds how long a correlationId suppresses
	// redeliveries of the same command.
	defaultDedupeWindow = 30 * time.Second

	dispatchBacklog = 64
)

// Handler consumes validated commands. The daemon implements it by routing
// distribute tasks to the pipeline and playback verbs to the scheduler. A
// nil ack means the command publishes no acknowledgment; query answers with
// a state report instead.
type Handler interface {
	HandleCommand(ctx context.Context, cmd command.Command) *command.Ack
}

// Service is the command channel surface the daemon drives. Publish methods
// are safe before the broker is reachable; they fail fast and the caller's
// next tick retries.
type Service interface {
	Start(ctx context.Context) error
	Stop()
	Connected() bool
	PublishHeartbeat(payload []byte) error
	PublishStatus(payload []byte) error
	PublishAck(ack command.Ack) error
}

// Option adjusts service construction.
type Option func(*service)

// WithRecorder wires the metrics sink.
func WithRecorder(recorder metrics.Recorder) Option {
	return func(s *service) {
		if recorder != nil {
			s.recorder = recorder
		}
	}
}

// WithErrorSink registers the callback that feeds operator-visible channel
// faults into the state report.
func WithErrorSink(sink func(message string)) Option {
	return func(s *service) {
		if sink != nil {
			s.report = sink
		}
	}
}

// WithDedupeWindow overrides the duplicate-suppression window.
func WithDedupeWindow(window time.Duration) Option {
	return func(s *service) {
		if window > 0 {
			s.window = window
		}
	}
}

// New builds the broker service for the configured device. When the channel
// is disabled a no-op service is returned so local control keeps working
// without a broker.
func New(cfg *config.Config, handler Handler, logger *slog.Logger, opts ...Option) Service {
	if !cfg.MQTT.Enabled {
		return disabledService{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &service{
		cfg:      cfg,
		handler:  handler,
		logger:   logging.NewComponentLogger(logger, "mqtt"),
		recorder: metrics.NoopRecorder{},
		report:   func(string) {},
		window:   defaultDedupeWindow,
		topics:   CommandTopics(cfg.DevicePath(), cfg.MQTT.ClientID),
		dispatch: make(chan inbound, dispatchBacklog),
		seen:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type inbound struct {
	topic   string
	payload []byte
}

type service struct {
	cfg      *config.Config
	handler  Handler
	logger   *slog.Logger
	recorder metrics.Recorder
	report   func(message string)
	window   time.Duration
	topics   []string

	dispatch chan inbound

	// seen and lastSweep belong to the dispatcher goroutine.
	seen      map[string]time.Time
	lastSweep time.Time

	mu      sync.Mutex
	running bool
	client  paho.Client
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Start connects to the broker and begins dispatching commands. The first
// attempt runs inline so a credential rejection fails startup loudly; any
// other failure moves to a capped background retry loop, letting the daemon
// come up with the broker down. Calling Start on a running service is a
// no-op.
func (s *service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	client := paho.NewClient(s.clientOptions())
	s.cancel = cancel
	s.client = client
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.dispatchLoop(runCtx)

	if err := s.connectOnce(client); err != nil {
		if isAuthRefusal(err) {
			s.Stop()
			return faults.Wrap(faults.ErrConfig, "mqtt", "connect", "broker refused credentials", err)
		}
		s.logger.Warn("broker unreachable, retrying in background",
			logging.String("broker", s.cfg.BrokerURL()),
			logging.Error(err))
		s.wg.Add(1)
		go s.retryConnect(runCtx, client)
	}
	return nil
}

// Stop disconnects from the broker and waits for in-flight dispatches.
func (s *service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	client := s.client
	s.cancel = nil
	s.client = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	if client != nil && client.IsConnected() {
		client.Disconnect(disconnectQuiesceMS)
	}
}

// Connected reports whether the broker link is currently up.
func (s *service) Connected() bool {
	client := s.currentClient()
	return client != nil && client.IsConnectionOpen()
}

// PublishHeartbeat sends a liveness beacon on the device heartbeat topic.
func (s *service) PublishHeartbeat(payload []byte) error {
	return s.publish(HeartbeatTopic(s.cfg.MQTT.ClientID), "heartbeat", payload)
}

// PublishStatus sends a full state report on the device status topic.
func (s *service) PublishStatus(payload []byte) error {
	return s.publish(StatusTopic(s.cfg.MQTT.ClientID), "status", payload)
}

// PublishAck sends a command acknowledgment on the device ack topic.
func (s *service) PublishAck(ack command.Ack) error {
	payload, err := ack.Encode()
	if err != nil {
		return faults.Wrap(faults.ErrProtocol, "mqtt", "publish", "encode ack", err)
	}
	return s.publish(AckTopic(s.cfg.MQTT.ClientID), "ack", payload)
}

func (s *service) clientOptions() *paho.ClientOptions {
	cfg := s.cfg
	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL()).
		SetClientID(cfg.MQTT.ClientID).
		SetCleanSession(cfg.MQTT.CleanSession).
		SetKeepAlive(cfg.KeepaliveInterval()).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(maxReconnectWait).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost)
	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	return opts
}

func (s *service) connectOnce(client paho.Client) error {
	token := client.Connect()
	if !token.WaitTimeout(tokenTimeout) {
		return faults.Wrap(faults.ErrTransientNetwork, "mqtt", "connect", "connect timed out", nil)
	}
	return token.Error()
}

// retryConnect keeps attempting the initial connection with doubling delays.
// Once connected, paho's own auto-reconnect takes over; a credential
// rejection ends the loop for good since retrying cannot fix it.
func (s *service) retryConnect(ctx context.Context, client paho.Client) {
	defer s.wg.Done()
	delay := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		err := s.connectOnce(client)
		if err == nil {
			return
		}
		if isAuthRefusal(err) {
			s.logger.Error("broker refused credentials, command channel down", logging.Error(err))
			s.report("broker refused credentials; check mqtt.username and mqtt.password")
			return
		}
		s.logger.Warn("broker connect failed",
			logging.Duration("next_attempt_in", delay),
			logging.Error(err))
		delay *= 2
		if delay > connectRetryCap {
			delay = connectRetryCap
		}
	}
}

// onConnect runs on every (re)connect. Subscriptions are re-established here
// because a clean session drops them with the connection.
func (s *service) onConnect(client paho.Client) {
	s.logger.Info("connected to broker", logging.String("broker", s.cfg.BrokerURL()))
	for _, topic := range s.topics {
		token := client.Subscribe(topic, subscribeQoS, s.onMessage)
		if !token.WaitTimeout(tokenTimeout) {
			s.logger.Error("subscribe timed out", logging.String(logging.FieldTopic, topic))
			s.report(fmt.Sprintf("subscribe to %s timed out", topic))
			continue
		}
		if err := token.Error(); err != nil {
			s.logger.Error("subscribe failed", logging.String(logging.FieldTopic, topic), logging.Error(err))
			s.report(fmt.Sprintf("subscribe to %s failed: %v", topic, err))
			continue
		}
		s.logger.Info("subscribed", logging.String(logging.FieldTopic, topic))
	}
}

func (s *service) onConnectionLost(_ paho.Client, err error) {
	s.logger.Warn("broker connection lost", logging.Error(err))
	s.report(fmt.Sprintf("broker connection lost: %v", err))
}

// onMessage runs on paho's router goroutine and must return immediately; a
// full dispatch queue drops the message rather than stalling the client.
func (s *service) onMessage(_ paho.Client, msg paho.Message) {
	select {
	case s.dispatch <- inbound{topic: msg.Topic(), payload: msg.Payload()}:
	default:
		s.logger.Warn("command dropped, dispatch queue full",
			logging.String(logging.FieldTopic, msg.Topic()))
		s.report("command dropped: dispatch queue full")
	}
}

func (s *service) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.dispatch:
			s.process(ctx, msg)
		}
	}
}

func (s *service) process(ctx context.Context, in inbound) {
	cmd, err := command.Parse(in.payload)
	if err != nil {
		s.logger.Warn("rejected command payload",
			logging.String(logging.FieldTopic, in.topic),
			logging.Error(err))
		s.recorder.IncCommand("invalid", metrics.ResultRejected)
		s.report(fmt.Sprintf("rejected command: %v", err))
		return
	}
	if s.isDuplicate(cmd.CorrelationID) {
		s.logger.Debug("duplicate command ignored",
			logging.String(logging.FieldCommand, string(cmd.Name)),
			logging.String(logging.FieldCorrelationID, cmd.CorrelationID))
		return
	}
	s.logger.Info("command received",
		logging.String(logging.FieldCommand, string(cmd.Name)),
		logging.String(logging.FieldTopic, in.topic),
		logging.String(logging.FieldCorrelationID, cmd.CorrelationID))

	ack := s.handler.HandleCommand(ctx, cmd)
	if ack == nil {
		s.recorder.IncCommand(string(cmd.Name), metrics.ResultSuccess)
		return
	}
	result := metrics.ResultSuccess
	if ack.Status != command.AckOK {
		result = metrics.ResultFailed
	}
	s.recorder.IncCommand(string(cmd.Name), result)
	if ack.CorrelationID == "" {
		return
	}
	if err := s.PublishAck(*ack); err != nil {
		s.logger.Warn("ack publish failed",
			logging.String(logging.FieldCorrelationID, ack.CorrelationID),
			logging.Error(err))
	}
}

// isDuplicate records the correlationId and reports whether it was already
// seen inside the window. Commands without an id are never deduped.
func (s *service) isDuplicate(correlationID string) bool {
	if correlationID == "" {
		return false
	}
	now := time.Now()
	if now.Sub(s.lastSweep) >= s.window {
		for id, at := range s.seen {
			if now.Sub(at) >= s.window {
				delete(s.seen, id)
			}
		}
		s.lastSweep = now
	}
	if at, ok := s.seen[correlationID]; ok && now.Sub(at) < s.window {
		return true
	}
	s.seen[correlationID] = now
	return false
}

func (s *service) publish(topic, kind string, payload []byte) error {
	client := s.currentClient()
	if client == nil {
		return faults.Wrap(faults.ErrTransientNetwork, "mqtt", "publish", "service not started", nil)
	}
	if !client.IsConnectionOpen() {
		return faults.Wrap(faults.ErrTransientNetwork, "mqtt", "publish", "broker not connected", nil)
	}
	token := client.Publish(topic, publishQoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return faults.Wrap(faults.ErrTransientNetwork, "mqtt", "publish", fmt.Sprintf("%s publish timed out", kind), nil)
	}
	if err := token.Error(); err != nil {
		return faults.Wrap(faults.ErrTransientNetwork, "mqtt", "publish", fmt.Sprintf("%s publish failed", kind), err)
	}
	s.recorder.IncPublish(kind)
	return nil
}

func (s *service) currentClient() paho.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

func isAuthRefusal(err error) bool {
	return errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) ||
		errors.Is(err, packets.ErrorRefusedNotAuthorised)
}

// disabledService satisfies Service when mqtt.enabled is false. Publishes
// succeed silently and the link always reads disconnected.
type disabledService struct{}

func (disabledService) Start(context.Context) error   { return nil }
func (disabledService) Stop()                         {}
func (disabledService) Connected() bool               { return false }
func (disabledService) PublishHeartbeat([]byte) error { return nil }
func (disabledService) PublishStatus([]byte) error    { return nil }
func (disabledService) PublishAck(command.Ack) error  { return nil }
