package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/kost-rfid-core/internal/cards"
	"github.com/nerrad567/kost-rfid-core/internal/devicestatus"
	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/config"
	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/kost-rfid-core/internal/rfid"
	"github.com/nerrad567/kost-rfid-core/internal/scan"
)

// Logger defines the logging interface used by the service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Telemetry is the time-series writer. *influxdb.Client satisfies it.
type Telemetry interface {
	devicestatus.StatusWriter
	WriteScanResult(outcome, deviceID string, elapsed time.Duration)
	WriteConnectionState(state string, reconnectAttempts int)
}

// Params holds the service dependencies. Config and Cards are required.
type Params struct {
	Config *config.Config
	Logger Logger
	Cards  cards.Repository

	// History stores reader status changes. Optional.
	History devicestatus.HistoryRepository

	// Telemetry receives heartbeats, scan results and connection changes.
	// Optional; leave nil (not a typed nil pointer) when disabled.
	Telemetry Telemetry

	// MQTTOptions are passed to mqtt.New after the logger option.
	MQTTOptions []mqtt.Option
}

// Service is the device-messaging layer.
type Service struct {
	cfg       *config.Config
	logger    Logger
	client    *mqtt.Client
	cache     *devicestatus.Cache
	session   *scan.Session
	commands  *rfid.CommandPublisher
	cards     cards.Repository
	history   devicestatus.HistoryRepository
	telemetry Telemetry
	events    listeners

	mu           sync.Mutex
	started      bool
	subs         []*mqtt.Subscription
	removeStatus func()
	lastResponse *rfid.CommandResponse
	systemStatus map[string]rfid.SystemStatus
}

// New builds the service without touching the network.
func New(p Params) (*Service, error) {
	if p.Config == nil {
		return nil, errors.New("realtime: config is required")
	}
	if p.Cards == nil {
		return nil, errors.New("realtime: card repository is required")
	}

	logger := p.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	opts := append([]mqtt.Option{mqtt.WithLogger(logger)}, p.MQTTOptions...)
	client := mqtt.New(p.Config.MQTT, opts...)

	cache := devicestatus.New()
	cache.SetLogger(logger)
	if p.History != nil {
		cache.AddSink(devicestatus.NewHistorySink(p.History, logger))
	}
	if p.Telemetry != nil {
		cache.AddSink(devicestatus.NewInfluxSink(p.Telemetry))
	}

	s := &Service{
		cfg:          p.Config,
		logger:       logger,
		client:       client,
		cache:        cache,
		commands:     rfid.NewCommandPublisher(client),
		cards:        p.Cards,
		history:      p.History,
		telemetry:    p.Telemetry,
		systemStatus: make(map[string]rfid.SystemStatus),
	}
	s.session = scan.New(client, client.Router(), p.Cards, scan.WithLogger(logger))
	cache.AddSink(devicestatus.SinkFunc(s.onDeviceStatus))

	return s, nil
}

// Start registers the built-in topic handlers and connects to the broker.
//
// Broker problems do not fail Start: a missing configuration, rejected
// credentials or an unreachable broker are reported through Status and
// connection events so the API can come up and show them. Start returns
// an error only if ctx is already done or the service was started twice.
func (s *Service) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("realtime: already started")
	}
	s.started = true
	s.removeStatus = s.client.OnStatusChange(s.onConnectionStatus)
	s.subs = append(s.subs,
		s.client.Subscribe(mqtt.TopicDeviceStatus, s.cache),
		s.client.Subscribe(mqtt.TopicCommand, rfid.Decode(s.onCommandTopic)),
		s.client.Subscribe(mqtt.TopicSystemStatus, rfid.Decode(s.onSystemStatus)),
	)
	s.mu.Unlock()

	connected, err := s.client.Connect(ctx)
	switch {
	case connected:
		s.logger.Info("broker connected", "client_id", s.client.ClientID())
	case errors.Is(err, mqtt.ErrNotConfigured):
		s.logger.Warn("broker not configured; real-time features disabled", "error", err)
	case errors.Is(err, mqtt.ErrAuthentication):
		s.logger.Error("broker rejected credentials", "error", err)
	default:
		s.logger.Warn("broker connect failed; retrying in background", "error", err)
	}
	return nil
}

// Close stops any scan, releases subscriptions and disconnects.
func (s *Service) Close() error {
	s.session.Stop()

	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	remove := s.removeStatus
	s.removeStatus = nil
	s.started = false
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if remove != nil {
		remove()
	}
	return s.client.Close()
}

// OnEvent registers fn for push events and returns its removal function.
func (s *Service) OnEvent(fn Listener) (remove func()) {
	if fn == nil {
		return func() {}
	}
	return s.events.add(fn)
}

func (s *Service) emit(eventType, topic string, data any) {
	ev := Event{Type: eventType, Topic: topic, Data: data, Timestamp: time.Now().UTC()}
	for _, fn := range s.events.snapshot() {
		s.deliver(fn, ev)
	}
}

func (s *Service) deliver(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event listener panic recovered", "type", ev.Type, "panic", r)
		}
	}()
	fn(ev)
}

// =============================================================================
// Accessors
// =============================================================================

// Client returns the broker connection.
func (s *Service) Client() *mqtt.Client { return s.client }

// Devices returns the reader status cache.
func (s *Service) Devices() *devicestatus.Cache { return s.cache }

// Session returns the scan session.
func (s *Service) Session() *scan.Session { return s.session }

// Cards returns the card backend.
func (s *Service) Cards() cards.Repository { return s.cards }

// History returns the status history repository, or nil.
func (s *Service) History() devicestatus.HistoryRepository { return s.history }

// Status returns the connection status.
func (s *Service) Status() mqtt.Status { return s.client.Status() }

// Connect asks the client to (re)connect. An explicit connect resets the
// reconnect budget.
func (s *Service) Connect(ctx context.Context) (bool, error) {
	return s.client.Connect(ctx)
}

// Disconnect closes the broker connection and stops any scan in progress.
func (s *Service) Disconnect() {
	s.session.Stop()
	s.client.Disconnect()
}

// =============================================================================
// Devices and commands
// =============================================================================

// DeviceView is a status record with its online judgement.
type DeviceView struct {
	devicestatus.Record
	Online bool `json:"online"`
}

// DeviceTolerance is how recently a reader must have reported to be online.
func (s *Service) DeviceTolerance() time.Duration {
	return s.cfg.Scan.DeviceTolerance()
}

// DeviceList returns every known reader in first-seen order.
func (s *Service) DeviceList() []DeviceView {
	tolerance := s.DeviceTolerance()
	now := s.cache.Now()

	records := s.cache.Snapshot()
	out := make([]DeviceView, len(records))
	for i, rec := range records {
		out[i] = DeviceView{Record: rec, Online: rec.OnlineAt(now, tolerance)}
	}
	return out
}

// Device returns one reader.
func (s *Service) Device(deviceID string) (DeviceView, bool) {
	rec, ok := s.cache.Get(deviceID)
	if !ok {
		return DeviceView{}, false
	}
	return DeviceView{Record: rec, Online: rec.OnlineAt(s.cache.Now(), s.DeviceTolerance())}, true
}

// SendCommand publishes a reader command. It returns false if the command
// is empty or the broker is not connected.
func (s *Service) SendCommand(deviceID, command string, payload map[string]any) bool {
	ok := s.commands.Send(deviceID, command, payload)
	s.logger.Info("reader command sent",
		"device_id", deviceID,
		"command", command,
		"ok", ok,
	)
	return ok
}

// SendCommandWait publishes a reader command and waits for the broker to
// acknowledge it. One-shot callers use it before disconnecting.
func (s *Service) SendCommandWait(ctx context.Context, deviceID, command string, payload map[string]any) error {
	err := s.commands.SendWait(ctx, deviceID, command, payload)
	if err != nil {
		s.logger.Warn("reader command failed",
			"device_id", deviceID,
			"command", command,
			"error", err,
		)
		return err
	}
	s.logger.Info("reader command acknowledged",
		"device_id", deviceID,
		"command", command,
	)
	return nil
}

// LastCommandResponse returns the most recent reader response on
// rfid/command, if any.
func (s *Service) LastCommandResponse() (rfid.CommandResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastResponse == nil {
		return rfid.CommandResponse{}, false
	}
	return *s.lastResponse, true
}

// SystemStatuses returns the last kost_system/status message per client id.
func (s *Service) SystemStatuses() map[string]rfid.SystemStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]rfid.SystemStatus, len(s.systemStatus))
	for k, v := range s.systemStatus {
		out[k] = v
	}
	return out
}

// =============================================================================
// Scan
// =============================================================================

// StartScan starts a scan session. The result is pushed as a scan event
// and, if onResult is non-nil, passed to it. Returns false when the
// broker is not connected.
func (s *Service) StartScan(opts scan.Options, onResult func(scan.Result)) (scan.Snapshot, bool) {
	if opts.Timeout <= 0 {
		opts.Timeout = s.cfg.Scan.Timeout()
	}

	started := time.Now()
	ok := s.session.Start(func(res scan.Result) {
		s.onScanResult(res, started)
		if onResult != nil {
			onResult(res)
		}
	}, opts)
	if !ok {
		return s.session.Current(), false
	}

	snap := s.session.Current()
	s.emit(EventScan, mqtt.TopicTagRead, snap)
	return snap, true
}

// StopScan cancels the current scan without a result.
func (s *Service) StopScan() {
	s.session.Stop()
	s.emit(EventScan, mqtt.TopicTagRead, s.session.Current())
}

// CreateCard registers a card, typically after a successful or
// "use anyway" scan.
func (s *Service) CreateCard(ctx context.Context, card *cards.Card) error {
	if err := s.cards.Create(ctx, card); err != nil {
		return fmt.Errorf("creating card: %w", err)
	}
	s.logger.Info("card registered", "uid", card.UID, "user_id", card.UserID)
	return nil
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Service) onConnectionStatus(st mqtt.Status) {
	if s.telemetry != nil {
		s.telemetry.WriteConnectionState(st.State(), st.ReconnectAttempts)
	}
	s.emit(EventConnection, "", ConnectionView(st))
}

func (s *Service) onDeviceStatus(rec devicestatus.Record, changed bool) {
	if !changed {
		return
	}
	s.emit(EventDeviceStatus, mqtt.TopicDeviceStatus, DeviceView{
		Record: rec,
		Online: rec.OnlineAt(s.cache.Now(), s.DeviceTolerance()),
	})
}

func (s *Service) onCommandTopic(topic string, msg rfid.Message) {
	resp, ok := msg.(rfid.CommandResponse)
	if !ok {
		return
	}
	s.mu.Lock()
	s.lastResponse = &resp
	s.mu.Unlock()

	s.emit(EventCommandResponse, topic, resp)
}

func (s *Service) onSystemStatus(topic string, msg rfid.Message) {
	st, ok := msg.(rfid.SystemStatus)
	if !ok {
		return
	}
	if st.ClientID == s.client.ClientID() {
		return
	}
	s.mu.Lock()
	s.systemStatus[st.ClientID] = st
	s.mu.Unlock()

	s.emit(EventSystemStatus, topic, st)
}

func (s *Service) onScanResult(res scan.Result, started time.Time) {
	if s.telemetry != nil {
		s.telemetry.WriteScanResult(string(res.Outcome), res.DeviceID, res.At.Sub(started))
	}
	s.emit(EventScan, mqtt.TopicTagRead, res)
}

// ConnectionInfo is the connection status as shown to the UI.
type ConnectionInfo struct {
	mqtt.Status
	State string `json:"state"`
}

// ConnectionView adds the state label to st.
func ConnectionView(st mqtt.Status) ConnectionInfo {
	return ConnectionInfo{Status: st, State: st.State()}
}
