// Package config defines the configuration for a Nebula node.
//
// Regardless of how Nebula is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. The command line
// also looks for an optional configuration file in the data directory, defined
// by Config.DataDir:
//
//  nebula.toml // (or .json, .yaml) values for any of the command line flags.
package config
