package config

import (
	"net"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/mosaicnetworks/nebula/src/common"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Directory backends.
const (
	DirectoryNone = "none"
	DirectoryWAMP = "wamp"
	DirectoryEtcd = "etcd"
)

// Default configuration values.
const (
	DefaultLogLevel             = "debug"
	DefaultBindAddr             = "127.0.0.1:1337"
	DefaultServiceAddr          = "127.0.0.1:8000"
	DefaultCodec                = "msgpack"
	DefaultTCPTimeout           = 1000 * time.Millisecond
	DefaultJoinTimeout          = 5000 * time.Millisecond
	DefaultKeepAlive            = 2000 * time.Millisecond
	DefaultJoinPeers            = 5
	DefaultTruncateJoinSnapshot = false
	DefaultFloodParallelism     = 4
	DefaultDirectory            = DirectoryNone
	DefaultDirectoryAddr        = "127.0.0.1:2443"
	DefaultDirectoryRealm       = "nebula"
	DefaultEtcdEndpoint         = "127.0.0.1:2379"
	DefaultEtcdTTL              = 10
)

// Config contains all the configuration properties of a Nebula node.
type Config struct {
	// DataDir is the top-level directory containing Nebula configuration
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, if set, receives a copy of every log entry in JSON format.
	LogFile string `mapstructure:"log-file"`

	// BindAddr is the local address:port of the membership endpoint. Start may
	// override the port.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseHost is the host that we advertise to other nodes, when the
	// bind address is not reachable by them. The advertised port is always the
	// one actually bound.
	AdvertiseHost string `mapstructure:"advertise"`

	// Codec selects the wire encoding of TCP links: msgpack or cbor. All the
	// nodes of an overlay must use the same codec.
	Codec string `mapstructure:"codec"`

	// TCPTimeout is the timeout of dials and RPC calls.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// JoinTimeout is the timeout of Join Requests
	JoinTimeout time.Duration `mapstructure:"join-timeout"`

	// KeepAlive is the period at which outbound links are probed. Inbound
	// links that stay silent for three periods are considered lost. 0 disables
	// probing.
	KeepAlive time.Duration `mapstructure:"keepalive"`

	// JoinPeers is the number of peer addresses requested from the bootstrap
	// node in Connect.
	JoinPeers int `mapstructure:"join-peers"`

	// TruncateJoinSnapshot makes the acceptor cut its peer snapshot to the
	// number requested by the joiner. By default the full snapshot is
	// returned.
	TruncateJoinSnapshot bool `mapstructure:"truncate-snapshot"`

	// FloodParallelism bounds the number of concurrent dials of a
	// flood-connect.
	FloodParallelism int `mapstructure:"flood-parallelism"`

	// Directory selects the directory service used to announce the node at
	// startup: none, wamp or etcd.
	Directory string `mapstructure:"directory"`

	// DirectoryAddr is the IP:PORT of the WAMP directory server.
	DirectoryAddr string `mapstructure:"directory-addr"`

	// DirectoryRealm is the WAMP realm of the directory server.
	DirectoryRealm string `mapstructure:"directory-realm"`

	// EtcdEndpoints are the etcd endpoints of the etcd directory.
	EtcdEndpoints []string `mapstructure:"etcd-endpoints"`

	// EtcdTTL is the lease TTL, in seconds, of the node's etcd registration.
	EtcdTTL int64 `mapstructure:"etcd-ttl"`

	// Bootstrap is the host:port of a running node to Connect to after
	// startup. Empty means the node waits to be joined.
	Bootstrap string `mapstructure:"bootstrap"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:              DefaultDataDir(),
		LogLevel:             DefaultLogLevel,
		BindAddr:             DefaultBindAddr,
		ServiceAddr:          DefaultServiceAddr,
		Codec:                DefaultCodec,
		TCPTimeout:           DefaultTCPTimeout,
		JoinTimeout:          DefaultJoinTimeout,
		KeepAlive:            DefaultKeepAlive,
		JoinPeers:            DefaultJoinPeers,
		TruncateJoinSnapshot: DefaultTruncateJoinSnapshot,
		FloodParallelism:     DefaultFloodParallelism,
		Directory:            DefaultDirectory,
		DirectoryAddr:        DefaultDirectoryAddr,
		DirectoryRealm:       DefaultDirectoryRealm,
		EtcdEndpoints:        []string{DefaultEtcdEndpoint},
		EtcdTTL:              DefaultEtcdTTL,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests. Nodes bind to an ephemeral port and do not
// serve HTTP.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.BindAddr = "127.0.0.1:0"
	config.NoService = true
	config.logger = common.NewTestLogger(t, level)
	return config
}

// BindAddrForPort returns BindAddr with its port replaced by port. A port of 0
// keeps BindAddr as is.
func (c *Config) BindAddrForPort(port int) (string, error) {
	if port == 0 {
		return c.BindAddr, nil
	}

	host, _, err := net.SplitHostPort(c.BindAddr)
	if err != nil {
		return "", err
	}

	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// ConfigFile returns the base path of the optional configuration file;
// viper tries the .toml, .json and .yaml extensions.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "nebula")
}

// Logger returns a formatted logrus Entry, with prefix set to "nebula".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			c.logger.Hooks.Add(lfshook.NewHook(
				fileHookPaths(c.LogFile),
				&logrus.JSONFormatter{},
			))
		}
	}
	return c.logger.WithField("prefix", "nebula")
}

func fileHookPaths(path string) lfshook.PathMap {
	pathMap := lfshook.PathMap{}
	for _, level := range logrus.AllLevels {
		pathMap[level] = path
	}
	return pathMap
}

// DefaultDataDir return the default directory name for top-level Nebula config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Nebula")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Nebula")
		} else {
			return filepath.Join(home, ".nebula")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
