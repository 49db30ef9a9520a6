package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

//RootCmd is the root command for Nebula
var RootCmd = &cobra.Command{
	Use:              "nebula",
	Short:            "nebula peer membership",
	TraverseChildren: true,
}
