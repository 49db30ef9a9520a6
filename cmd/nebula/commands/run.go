package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/nebula/src/nebula"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a Nebula node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runNebula,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runNebula(cmd *cobra.Command, args []string) error {
	engine := nebula.NewNebula(&_config.Nebula)

	if err := engine.Init(); err != nil {
		_config.Nebula.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	if err := engine.Run(); err != nil {
		_config.Nebula.Logger().Error("Cannot run engine:", err)
		return err
	}

	//Prepare sigCh to relay SIGINT and SIGTERM system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh

	engine.Shutdown()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.Nebula.DataDir, "Top-level directory for configuration")
	cmd.Flags().String("log", _config.Nebula.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.Nebula.LogFile, "Also write JSON logs to this file")

	// Network
	cmd.Flags().StringP("listen", "l", _config.Nebula.BindAddr, "Listen IP:Port for nebula node")
	cmd.Flags().StringP("advertise", "a", _config.Nebula.AdvertiseHost, "Advertise host for nebula node")
	cmd.Flags().String("codec", _config.Nebula.Codec, "Wire encoding: msgpack or cbor")
	cmd.Flags().DurationP("timeout", "t", _config.Nebula.TCPTimeout, "TCP Timeout")
	cmd.Flags().DurationP("join-timeout", "j", _config.Nebula.JoinTimeout, "Join Timeout")
	cmd.Flags().Duration("keepalive", _config.Nebula.KeepAlive, "Period of link probes, 0 to disable")

	// Membership
	cmd.Flags().StringP("bootstrap", "b", _config.Nebula.Bootstrap, "IP:Port of a running node to join")
	cmd.Flags().Int("join-peers", _config.Nebula.JoinPeers, "Number of peers requested from the bootstrap node")
	cmd.Flags().Bool("truncate-snapshot", _config.Nebula.TruncateJoinSnapshot, "Send joiners no more peers than they ask for")
	cmd.Flags().Int("flood-parallelism", _config.Nebula.FloodParallelism, "Max concurrent joins of a flood-connect")

	// Directory
	cmd.Flags().String("directory", _config.Nebula.Directory, "Directory service: none, wamp or etcd")
	cmd.Flags().String("directory-addr", _config.Nebula.DirectoryAddr, "IP:Port of the WAMP directory")
	cmd.Flags().String("directory-realm", _config.Nebula.DirectoryRealm, "Realm of the WAMP directory")
	cmd.Flags().StringSlice("etcd-endpoints", _config.Nebula.EtcdEndpoints, "Endpoints of the etcd directory")
	cmd.Flags().Int64("etcd-ttl", _config.Nebula.EtcdTTL, "Lease TTL in seconds of the etcd registration")

	// Service
	cmd.Flags().Bool("no-service", _config.Nebula.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.Nebula.ServiceAddr, "Listen IP:Port for HTTP service")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	_config.Nebula.Logger().WithFields(logrus.Fields{
		"nebula.DataDir":              _config.Nebula.DataDir,
		"nebula.LogLevel":             _config.Nebula.LogLevel,
		"nebula.BindAddr":             _config.Nebula.BindAddr,
		"nebula.AdvertiseHost":        _config.Nebula.AdvertiseHost,
		"nebula.Codec":                _config.Nebula.Codec,
		"nebula.TCPTimeout":           _config.Nebula.TCPTimeout,
		"nebula.JoinTimeout":          _config.Nebula.JoinTimeout,
		"nebula.KeepAlive":            _config.Nebula.KeepAlive,
		"nebula.Bootstrap":            _config.Nebula.Bootstrap,
		"nebula.JoinPeers":            _config.Nebula.JoinPeers,
		"nebula.TruncateJoinSnapshot": _config.Nebula.TruncateJoinSnapshot,
		"nebula.FloodParallelism":     _config.Nebula.FloodParallelism,
		"nebula.Directory":            _config.Nebula.Directory,
		"nebula.NoService":            _config.Nebula.NoService,
		"nebula.ServiceAddr":          _config.Nebula.ServiceAddr,
	}).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/nebula.toml (.json, .yaml also work)
	viper.SetConfigName("nebula")
	viper.AddConfigPath(_config.Nebula.DataDir)

	// If a config file is found, read it in. The logger is built from the
	// final values, so nothing may log before the second unmarshal.
	err := viper.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	// second unmarshal to read from config file
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	if err == nil {
		_config.Nebula.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else {
		_config.Nebula.Logger().Debugf("No config file found in: %s", _config.Nebula.DataDir)
	}

	return nil
}
