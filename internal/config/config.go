package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by the door binaries.
type Config struct {
	// ListenAddress is where the HTTP and WebSocket gateway listens.
	ListenAddress string `yaml:"listen_addr"`
	// GRPCAddress is where the gRPC door service listens. Empty disables it.
	GRPCAddress string `yaml:"grpc_addr"`
	// ServerAddress is the gRPC address door-ctl connects to.
	ServerAddress string `yaml:"server_addr"`
	// RelayPin is the BCM number of the GPIO line driving the lock relay.
	RelayPin int `yaml:"relay_pin"`
	// Timeout is the duration for client RPC calls.
	Timeout time.Duration `yaml:"timeout"`
	// LogLevel is the minimum level of emitted log messages.
	LogLevel string `yaml:"log_level"`
	// Lock tunes the lock state machine.
	Lock Lock `yaml:"lock"`
	// Hardware selects and tunes the relay control paths.
	Hardware Hardware `yaml:"hardware"`
	// WebSocket tunes the event channel.
	WebSocket WebSocket `yaml:"websocket"`
	// MQTT configures the optional broker bridge.
	MQTT MQTT `yaml:"mqtt"`
}

// Lock holds state machine settings.
type Lock struct {
	// Policy decides what happens to a transition requested while another one is in flight.
	Policy string `yaml:"policy"`
	// AutoRelock locks the door again this long after an unlock. Zero disables it.
	AutoRelock time.Duration `yaml:"auto_relock"`
}

// Hardware holds relay control settings.
type Hardware struct {
	// Presence overrides hardware detection: auto, present or absent.
	Presence string `yaml:"presence"`
	// Backends lists the control paths in the order they are attempted.
	Backends []string `yaml:"backends"`
	// GPIOBinary is the WiringPi gpio tool used by the gpio backend.
	GPIOBinary string `yaml:"gpio_binary"`
	// Shell runs the script backend.
	Shell string `yaml:"shell"`
	// Script is an optional script invoked as `<shell> <script> <pin> <value>`.
	// When empty the built-in sysfs script is used.
	Script string `yaml:"script"`
	// Timeout bounds a single actuation across all backends.
	Timeout time.Duration `yaml:"timeout"`
}

// WebSocket holds event channel settings.
type WebSocket struct {
	// PingInterval is how often the server pings idle clients.
	PingInterval time.Duration `yaml:"ping_interval"`
	// PongTimeout is how long the server waits for a pong or any message.
	PongTimeout time.Duration `yaml:"pong_timeout"`
	// MaxMessageSize caps inbound message size in bytes.
	MaxMessageSize int64 `yaml:"max_message_size"`
	// SendBuffer is the per-client outbound event buffer.
	SendBuffer int `yaml:"send_buffer"`
}

// MQTT holds broker bridge settings.
type MQTT struct {
	// Broker is the broker URL, e.g. tcp://localhost:1883. Empty disables the bridge.
	Broker string `yaml:"broker"`
	// ClientID identifies the bridge to the broker.
	ClientID string `yaml:"client_id"`
	// TopicPrefix is prepended to the state, set, error and availability topics.
	TopicPrefix string `yaml:"topic_prefix"`
	// Username is the optional broker user.
	Username string `yaml:"username"`
	// Password is the optional broker password.
	Password string `yaml:"password"`
	// ConnectTimeout bounds the initial broker connection.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "door-server-settings.yaml"

	// DefaultListenAddress matches the port the door gateway has always used.
	DefaultListenAddress = ":5000"

	// DefaultGRPCAddress is the default gRPC listen address.
	DefaultGRPCAddress = ":5001"

	// DefaultServerAddress is the default gRPC target for door-ctl.
	DefaultServerAddress = "127.0.0.1:5001"

	// DefaultRelayPin is BCM 17, the usual relay HAT wiring.
	DefaultRelayPin = 17

	// DefaultTimeout is the default duration for client RPC calls.
	DefaultTimeout = 5 * time.Second

	// DefaultActuationTimeout bounds a single relay write.
	DefaultActuationTimeout = 3 * time.Second

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// PolicyQueue makes concurrent transitions wait for the in-flight one.
	PolicyQueue = "queue"
	// PolicyReject makes concurrent transitions fail with a busy error.
	PolicyReject = "reject"

	// PresenceAuto probes the host for GPIO hardware at startup.
	PresenceAuto = "auto"
	// PresencePresent forces real relay writes.
	PresencePresent = "present"
	// PresenceAbsent forces simulated mode.
	PresenceAbsent = "absent"

	// BackendGPIO drives the relay through the WiringPi gpio tool.
	BackendGPIO = "gpio"
	// BackendPeriph drives the relay in-process through periph.io.
	BackendPeriph = "periph"
	// BackendScript drives the relay through a shell script.
	BackendScript = "script"

	// Environment variables consulted once at startup.
	EnvPort     = "DOOR_PORT"
	EnvRelayPin = "DOOR_RELAY_PIN"
	EnvHardware = "DOOR_HARDWARE"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errListenAddressRequired is returned when the HTTP listen address is missing.
	errListenAddressRequired = errors.New("listen address must be provided")
	// errInvalidRelayPin is returned for negative pin numbers.
	errInvalidRelayPin = errors.New("relay pin must not be negative")
	// errUnknownPolicy is returned for unsupported concurrency policies.
	errUnknownPolicy = errors.New("unknown lock policy")
	// errUnknownPresence is returned for unsupported hardware presence values.
	errUnknownPresence = errors.New("unknown hardware presence")
	// errUnknownBackend is returned for unsupported control backends.
	errUnknownBackend = errors.New("unknown hardware backend")
	// errNegativeDuration is returned for negative durations.
	errNegativeDuration = errors.New("duration must not be negative")
)

// Default returns settings with every default filled in.
func Default() *Config {
	cfg := &Config{
		ListenAddress: DefaultListenAddress,
		GRPCAddress:   DefaultGRPCAddress,
		RelayPin:      DefaultRelayPin,
	}

	// Defaults always validate.
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from the provided path, applies environment
// overrides and validates the result. A missing default settings file is not
// an error: the defaults are used instead.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	cfg := Default()

	contents, err := os.ReadFile(filepath.Clean(path))

	switch {
	case err == nil:
		if err := yaml.Unmarshal(contents, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultConfigFilename:
		// Keep defaults.
	default:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions: the file may carry broker credentials.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// ApplyEnv overrides settings from the environment through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if port, ok := lookup(EnvPort); ok && port != "" {
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, port, err)
		}

		cfg.ListenAddress = ":" + port
	}

	if pin, ok := lookup(EnvRelayPin); ok && pin != "" {
		value, err := strconv.Atoi(pin)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvRelayPin, pin, err)
		}

		cfg.RelayPin = value
	}

	if presence, ok := lookup(EnvHardware); ok && presence != "" {
		cfg.Hardware.Presence = presence
	}

	return nil
}

// Validate checks the provided settings and fills defaults for omitted fields.
//
//nolint:cyclop // Flat list of independent checks.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.ListenAddress == "" {
		return errListenAddressRequired
	}

	if _, err := net.ResolveTCPAddr("tcp", settings.ListenAddress); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}

	if settings.GRPCAddress != "" {
		if _, err := net.ResolveTCPAddr("tcp", settings.GRPCAddress); err != nil {
			return fmt.Errorf("invalid gRPC address: %w", err)
		}
	}

	if settings.ServerAddress == "" {
		settings.ServerAddress = DefaultServerAddress
	}

	if settings.RelayPin < 0 {
		return fmt.Errorf("%w: %d", errInvalidRelayPin, settings.RelayPin)
	}

	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if settings.LogLevel == "" {
		settings.LogLevel = "info"
	}

	if err := validateLock(&settings.Lock); err != nil {
		return err
	}

	if err := validateHardware(&settings.Hardware); err != nil {
		return err
	}

	validateWebSocket(&settings.WebSocket)

	return validateMQTT(&settings.MQTT)
}

// validateLock checks state machine settings.
func validateLock(lock *Lock) error {
	if lock.Policy == "" {
		lock.Policy = PolicyQueue
	}

	if lock.Policy != PolicyQueue && lock.Policy != PolicyReject {
		return fmt.Errorf("%w: %q", errUnknownPolicy, lock.Policy)
	}

	if lock.AutoRelock < 0 {
		return fmt.Errorf("auto relock: %w", errNegativeDuration)
	}

	return nil
}

// validateHardware checks relay control settings.
func validateHardware(hw *Hardware) error {
	if hw.Presence == "" {
		hw.Presence = PresenceAuto
	}

	if !slices.Contains([]string{PresenceAuto, PresencePresent, PresenceAbsent}, hw.Presence) {
		return fmt.Errorf("%w: %q", errUnknownPresence, hw.Presence)
	}

	if len(hw.Backends) == 0 {
		hw.Backends = []string{BackendGPIO, BackendScript}
	}

	for _, backend := range hw.Backends {
		if !slices.Contains([]string{BackendGPIO, BackendPeriph, BackendScript}, backend) {
			return fmt.Errorf("%w: %q", errUnknownBackend, backend)
		}
	}

	if hw.GPIOBinary == "" {
		hw.GPIOBinary = "gpio"
	}

	if hw.Shell == "" {
		hw.Shell = "sh"
	}

	if hw.Timeout <= 0 {
		hw.Timeout = DefaultActuationTimeout
	}

	return nil
}

// validateWebSocket fills event channel defaults.
func validateWebSocket(ws *WebSocket) {
	if ws.PingInterval <= 0 {
		ws.PingInterval = 30 * time.Second
	}

	if ws.PongTimeout <= 0 {
		ws.PongTimeout = 10 * time.Second
	}

	if ws.MaxMessageSize <= 0 {
		ws.MaxMessageSize = 4096
	}

	if ws.SendBuffer <= 0 {
		ws.SendBuffer = 16
	}
}

// validateMQTT checks broker bridge settings when the bridge is enabled.
func validateMQTT(m *MQTT) error {
	if m.TopicPrefix == "" {
		m.TopicPrefix = "door"
	}

	if m.ClientID == "" {
		m.ClientID = "door-server"
	}

	if m.ConnectTimeout <= 0 {
		m.ConnectTimeout = 10 * time.Second
	}

	if m.Broker == "" {
		return nil
	}

	if _, err := url.ParseRequestURI(m.Broker); err != nil {
		return fmt.Errorf("invalid MQTT broker URI: %w", err)
	}

	return nil
}
