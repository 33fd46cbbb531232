package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudreve/davserver/application"
	"github.com/cloudreve/davserver/application/dependency"
	"github.com/cloudreve/davserver/pkg/conf"
	"github.com/cloudreve/davserver/pkg/logging"
	"github.com/spf13/cobra"
)

var (
	listen      string
	memoryStore bool
)

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.PersistentFlags().StringVarP(&listen, "listen", "l", "", "Override the listen address in config file")
	serverCmd.PersistentFlags().BoolVarP(&memoryStore, "memory", "m", false, "Serve an in-memory tree instead of the configured storage")
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start a WebDAV server with the given config file",
	Run: func(cmd *cobra.Command, args []string) {
		dep := dependency.NewDependency(
			dependency.WithConfigPath(confPath),
		)
		if listen != "" {
			dep.ConfigProvider().System().Listen = listen
		}
		if memoryStore {
			dep.ConfigProvider().Dav().Storage = conf.MemoryStorage
		}

		server := application.NewServer(dep)
		logger := dep.Logger()

		server.PrintBanner()

		// Graceful shutdown after received signal.
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
		go shutdown(sigChan, logger, server)

		if err := server.Start(); err != nil {
			logger.Error("Failed to start server: %s", err)
			os.Exit(1)
		}

		defer func() {
			<-sigChan
		}()
	},
}

func shutdown(sigChan chan os.Signal, logger logging.Logger, server application.Server) {
	sig := <-sigChan
	logger.Info("Signal %s received, shutting down server...", sig)
	server.Close()
	close(sigChan)
}
