package commands

import (
	"github.com/mosaicnetworks/nebula/src/config"
)

//CLIConfig contains configuration for the Run command
type CLIConfig struct {
	Nebula config.Config `mapstructure:",squash"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Nebula: *config.NewDefaultConfig(),
	}
}
