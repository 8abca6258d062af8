package mcclient

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/go-mcprotocol/logger"
	"github.com/arloliu/go-mcprotocol/mc"
)

// DialFunc opens the transport to the PLC. It has the signature of net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ConnectionConfig represents the configuration parameters of an MC protocol connection.
type ConnectionConfig struct {
	mu sync.RWMutex

	// host specifies the host of the PLC Ethernet module.
	host string

	// port specifies the TCP port the module listens on.
	port int

	// name identifies the connection in logs.
	// Defaults to "host:port".
	name string

	// ascii selects ASCII (hex text) framing instead of binary framing.
	// Defaults to false.
	ascii bool

	// octalIO interprets X and Y offsets as octal numbers.
	// Defaults to true.
	octalIO bool

	// optimize merges neighboring read items into shared blocks.
	// Defaults to true.
	optimize bool

	// maxGap is the largest number of unrequested bytes bridged when merging read items.
	// Defaults to 5.
	maxGap int

	// timeout is the reply timeout of one request. It should be between 10 ms and 120 seconds.
	// Defaults to 4.5 seconds.
	timeout time.Duration

	// monitoringTime is the PLC side wait time sent in every header, in units of 250 ms.
	// Defaults to 10.
	monitoringTime uint16

	// resetDelay is the quiet period between a transport error and tearing the socket down.
	// Defaults to 1.5 seconds.
	resetDelay time.Duration

	// readRetryInterval is how long a read cycle requested during an active cycle waits
	// before trying again.
	// Defaults to 100 ms.
	readRetryInterval time.Duration

	// keepAlive is the TCP keep-alive period of the socket.
	// Defaults to 2.5 seconds.
	keepAlive time.Duration

	// connectTimeout bounds one dial attempt. It should be between 10 ms and 30 seconds.
	// Defaults to 3 seconds.
	connectTimeout time.Duration

	// writeDeadline bounds one socket write.
	// Defaults to 5 seconds.
	writeDeadline time.Duration

	// closeTimeout bounds how long Close waits for the event loop to drain.
	// Defaults to 3 seconds.
	closeTimeout time.Duration

	// dialFunc opens the transport. Defaults to a net.Dialer using keepAlive.
	dialFunc DialFunc

	// logger provides a logger instance for connection events and errors.
	logger logger.Logger
}

// NewConnectionConfig creates a new connection configuration with the given host, port number, and optional functional options.
//
// It initializes a ConnectionConfig with default values and then applies the provided options.
// See the documentation for ConnOption and the various WithXXX functions for available configuration options.
//
// Returns a pointer to the initialized ConnectionConfig and an error if any option is invalid.
func NewConnectionConfig(host string, port int, opts ...ConnOption) (*ConnectionConfig, error) {
	cfg := &ConnectionConfig{
		octalIO:           true,
		optimize:          true,
		maxGap:            mc.DefaultMaxGap,
		timeout:           4500 * time.Millisecond,
		monitoringTime:    mc.DefaultMonitoringTime,
		resetDelay:        1500 * time.Millisecond,
		readRetryInterval: 100 * time.Millisecond,
		keepAlive:         2500 * time.Millisecond,
		connectTimeout:    3 * time.Second,
		writeDeadline:     5 * time.Second,
		closeTimeout:      3 * time.Second,
		logger:            logger.GetLogger(),
	}

	if err := withRemoteHost(host).apply(cfg); err != nil {
		return cfg, err
	}

	if err := withPort(port).apply(cfg); err != nil {
		return cfg, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.name == "" {
		cfg.name = cfg.Address()
	}

	return cfg, nil
}

// Address returns the "host:port" dial address.
func (cfg *ConnectionConfig) Address() string {
	return net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port))
}

// Name returns the connection name used in logs.
func (cfg *ConnectionConfig) Name() string {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.name
}

// ASCII reports whether ASCII framing is selected.
func (cfg *ConnectionConfig) ASCII() bool {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.ascii
}

// OctalInputOutput reports whether X and Y offsets are parsed as octal.
func (cfg *ConnectionConfig) OctalInputOutput() bool {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.octalIO
}

// Timeout returns the reply timeout of one request.
func (cfg *ConnectionConfig) Timeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.timeout
}

func (cfg *ConnectionConfig) optimizeOptions() mc.OptimizeOptions {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return mc.OptimizeOptions{MaxGap: cfg.maxGap, Disabled: !cfg.optimize}
}

func (cfg *ConnectionConfig) codecOptions() mc.CodecOptions {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return mc.CodecOptions{ASCII: cfg.ascii, MonitoringTime: cfg.monitoringTime}
}

func (cfg *ConnectionConfig) resetDelayValue() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.resetDelay
}

func (cfg *ConnectionConfig) readRetryIntervalValue() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.readRetryInterval
}

func (cfg *ConnectionConfig) dialer() DialFunc {
	if cfg.dialFunc != nil {
		return cfg.dialFunc
	}
	d := &net.Dialer{KeepAlive: cfg.keepAlive}

	return d.DialContext
}

// ConnOption represents a functional option for configuring a ConnectionConfig.
type ConnOption interface {
	apply(*ConnectionConfig) error
}

type connOptFunc struct {
	name      string
	runtime   bool
	applyFunc func(*ConnectionConfig) error
}

func (c *connOptFunc) apply(cfg *ConnectionConfig) error {
	if cfg == nil {
		return ErrConnConfigNil
	}
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	return c.applyFunc(cfg)
}

func newConnOptFunc(name string, runtime bool, f func(*ConnectionConfig) error) *connOptFunc {
	return &connOptFunc{
		name:      name,
		runtime:   runtime,
		applyFunc: f,
	}
}

// withRemoteHost sets the host of the PLC.
// Host names are resolved when dialing, so only an empty host is rejected here.
func withRemoteHost(host string) ConnOption {
	return newConnOptFunc("withRemoteHost", false, func(cfg *ConnectionConfig) error {
		host = strings.TrimSuffix(strings.TrimSpace(host), ".")
		if host == "" {
			return errors.New("invalid host")
		}
		cfg.host = host

		return nil
	})
}

// withPort sets the TCP port number of the PLC.
// An error is returned if the port number is out of the valid range (1-65535).
func withPort(port int) ConnOption {
	return newConnOptFunc("withPort", false, func(cfg *ConnectionConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port is out of range [1, 65535]")
		}
		cfg.port = port

		return nil
	})
}

// WithName sets the connection name used in logs.
//
// The default name is "host:port".
//
// This option can't be changed at runtime.
func WithName(name string) ConnOption {
	return newConnOptFunc("WithName", false, func(cfg *ConnectionConfig) error {
		cfg.name = name
		return nil
	})
}

// WithASCII selects ASCII framing (true) or binary framing (false).
//
// The default is binary framing.
//
// This option can be changed at runtime; it applies from the next cycle.
func WithASCII(val bool) ConnOption {
	return newConnOptFunc("WithASCII", true, func(cfg *ConnectionConfig) error {
		cfg.ascii = val
		return nil
	})
}

// WithOctalInputOutput enables or disables octal interpretation of X and Y offsets.
//
// The default value is true.
//
// This option can be changed at runtime; it applies to addresses parsed afterwards.
func WithOctalInputOutput(val bool) ConnOption {
	return newConnOptFunc("WithOctalInputOutput", true, func(cfg *ConnectionConfig) error {
		cfg.octalIO = val
		return nil
	})
}

// WithOptimization enables or disables merging of neighboring read items.
//
// The default value is true.
//
// This option can be changed at runtime; it rebuilds the read blocks.
func WithOptimization(val bool) ConnOption {
	return newConnOptFunc("WithOptimization", true, func(cfg *ConnectionConfig) error {
		cfg.optimize = val
		return nil
	})
}

// WithMaxGap sets the largest gap, in bytes, bridged when merging read items.
// An error is returned if the gap is negative or larger than 128.
//
// The default value is 5.
//
// This option can be changed at runtime; it rebuilds the read blocks.
func WithMaxGap(val int) ConnOption {
	return newConnOptFunc("WithMaxGap", true, func(cfg *ConnectionConfig) error {
		if val < 0 || val > 128 {
			return errors.New("max gap out of range [0, 128]")
		}
		cfg.maxGap = val

		return nil
	})
}

// WithTimeout sets the reply timeout of one request.
// An error is returned if the timeout is outside the valid range (0.01-120 seconds).
//
// The default value is 4.5 seconds.
//
// This option can be changed at runtime.
func WithTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithTimeout", true, func(cfg *ConnectionConfig) error {
		if val < 10*time.Millisecond || val > 120*time.Second {
			return errors.New("timeout out of range [0.01, 120]")
		}
		cfg.timeout = val

		return nil
	})
}

// WithMonitoringTime sets the PLC side wait time written to every request, in units of 250 ms.
// An error is returned if the value is zero.
//
// The default value is 10.
//
// This option can be changed at runtime.
func WithMonitoringTime(val uint16) ConnOption {
	return newConnOptFunc("WithMonitoringTime", true, func(cfg *ConnectionConfig) error {
		if val == 0 {
			return errors.New("monitoring time must be positive")
		}
		cfg.monitoringTime = val

		return nil
	})
}

// WithResetDelay sets the quiet period between a transport error and closing the socket.
// An error is returned if the delay is outside the valid range (0-60 seconds).
//
// The default value is 1.5 seconds.
//
// This option can be changed at runtime.
func WithResetDelay(val time.Duration) ConnOption {
	return newConnOptFunc("WithResetDelay", true, func(cfg *ConnectionConfig) error {
		if val < 0 || val > 60*time.Second {
			return errors.New("reset delay out of range [0, 60]")
		}
		cfg.resetDelay = val

		return nil
	})
}

// WithReadRetryInterval sets how long a read cycle requested during an active cycle waits
// before trying again.
// An error is returned if the interval is not positive.
//
// The default value is 100 ms.
//
// This option can be changed at runtime.
func WithReadRetryInterval(val time.Duration) ConnOption {
	return newConnOptFunc("WithReadRetryInterval", true, func(cfg *ConnectionConfig) error {
		if val <= 0 {
			return errors.New("read retry interval must be positive")
		}
		cfg.readRetryInterval = val

		return nil
	})
}

// WithKeepAlive sets the TCP keep-alive period. A negative value disables keep-alive.
//
// The default value is 2.5 seconds.
//
// This option can't be changed at runtime.
func WithKeepAlive(val time.Duration) ConnOption {
	return newConnOptFunc("WithKeepAlive", false, func(cfg *ConnectionConfig) error {
		cfg.keepAlive = val
		return nil
	})
}

// WithConnectTimeout sets the timeout of one dial attempt.
// An error is returned if the timeout is outside the valid range (0.01-30 seconds).
//
// The default value is 3 seconds.
//
// This option can be changed at runtime.
func WithConnectTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithConnectTimeout", true, func(cfg *ConnectionConfig) error {
		if val < 10*time.Millisecond || val > 30*time.Second {
			return errors.New("connect timeout out of range [0.01, 30]")
		}
		cfg.connectTimeout = val

		return nil
	})
}

// WithWriteDeadline sets the deadline of one socket write.
// An error is returned if the deadline is not positive.
//
// The default value is 5 seconds.
//
// This option can be changed at runtime.
func WithWriteDeadline(val time.Duration) ConnOption {
	return newConnOptFunc("WithWriteDeadline", true, func(cfg *ConnectionConfig) error {
		if val <= 0 {
			return errors.New("write deadline must be positive")
		}
		cfg.writeDeadline = val

		return nil
	})
}

// WithCloseTimeout sets how long Close waits for pending cycles to complete.
// An error is returned if the timeout is outside the valid range (0.01-30 seconds).
//
// The default value is 3 seconds.
//
// This option can't be changed at runtime.
func WithCloseTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithCloseTimeout", false, func(cfg *ConnectionConfig) error {
		if val < 10*time.Millisecond || val > 30*time.Second {
			return errors.New("close timeout out of range [0.01, 30]")
		}
		cfg.closeTimeout = val

		return nil
	})
}

// WithDialFunc replaces the function used to open the transport.
//
// This option can't be changed at runtime.
func WithDialFunc(f DialFunc) ConnOption {
	return newConnOptFunc("WithDialFunc", false, func(cfg *ConnectionConfig) error {
		if f == nil {
			return errors.New("dial func is nil")
		}
		cfg.dialFunc = f

		return nil
	})
}

// WithLogger sets the logger of the connection.
//
// The default is the package level logger of the logger package.
//
// This option can't be changed at runtime.
func WithLogger(l logger.Logger) ConnOption {
	return newConnOptFunc("WithLogger", false, func(cfg *ConnectionConfig) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
