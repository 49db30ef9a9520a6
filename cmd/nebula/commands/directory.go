package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/nebula/src/config"
	"github.com/mosaicnetworks/nebula/src/directory"
	"github.com/spf13/cobra"
)

//NewDirectoryCmd returns the command that runs a WAMP directory server
func NewDirectoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "directory",
		Short: "Run a WAMP directory server",
		RunE:  runDirectory,
	}

	cmd.Flags().String("listen", config.DefaultDirectoryAddr, "Listen IP:Port for the directory server")
	cmd.Flags().String("realm", config.DefaultDirectoryRealm, "WAMP realm")
	cmd.Flags().String("log", config.DefaultLogLevel, "debug, info, warn, error, fatal, panic")

	return cmd
}

func runDirectory(cmd *cobra.Command, args []string) error {
	address, _ := cmd.Flags().GetString("listen")
	realm, _ := cmd.Flags().GetString("realm")
	level, _ := cmd.Flags().GetString("log")

	conf := config.NewDefaultConfig()
	conf.LogLevel = level
	logger := conf.Logger().WithField("component", "directory")

	server, err := directory.NewServer(address, realm, logger)
	if err != nil {
		return err
	}

	if err := server.Start(); err != nil {
		return err
	}

	logger.WithField("addr", server.Addr()).Info("Directory server running")

	//Prepare sigCh to relay SIGINT and SIGTERM system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh

	server.Shutdown()

	return nil
}
