/*
 * Copyright (c) 2023, Kurt Cancemi (kurt@x64architecture.com)
 *
 * This file is part of KC TFTP Server.
 *
 *  KC TFTP Server is free software: you can redistribute it and/or modify
 *  it under the terms of the GNU General Public License version 3 as
 *  published by the Free Software Foundation.
 *
 *  KC TFTP Server is distributed in the hope that it will be useful,
 *  but WITHOUT ANY WARRANTY; without even the implied warranty of
 *  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 *  GNU General Public License for more details.
 *
 *  You should have received a copy of the GNU General Public License
 *  along with KC TFTP Server. If not, see <http://www.gnu.org/licenses/>.
 */
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	gitShortHash = "<GIT SHORT HASH UNDEFINED>"
	version      = "<VERSION UNDEFINED>"
	configFile   string
	verbose      bool
	showVersion  bool
)

var rootCmd = &cobra.Command{
	Use:           "kc_tftp_server",
	Short:         "KC TFTP Server",
	Long:          "RFC 1350 TFTP server (octet mode, 512-byte blocks) serving every [servers.<name>] table of the config file.",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServers,
}

func init() {
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "Output verbose information.")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "Output version information.")
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration file location.")
}

func runServers(cmd *cobra.Command, args []string) error {
	log.Info().Msgf("KC TFTP Server %s (%s)", version, gitShortHash)
	log.Info().Msg("Copyright (c) 2023 Kurt Cancemi (kurt <at> x64architecture.com)")
	log.Info().Msg("Licensed under the GNU General Public License version 3 (only)")

	if showVersion {
		return nil
	}

	configFilePath := getConfigFilePath(configFile)
	log.Info().Msgf("Using config file (%s)", configFilePath)

	config, err := loadConfig(configFilePath)
	if err != nil {
		return err
	}
	if config.verbose {
		verbose = true
	}

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	var metrics *Metrics
	if config.metricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = NewMetrics(reg)
		g.Go(func() error {
			return ServeMetrics(ctx, config.metricsListen, NewMetricsRouter(reg))
		})
	}

	for _, serverConfig := range config.servers {
		log.Debug().Msgf("Server: '%s', Config: '%+v'", serverConfig.name, *serverConfig)
		server := NewServer(serverConfig, metrics)
		g.Go(func() error {
			return server.ListenAndServe(ctx)
		})
	}

	return g.Wait()
}

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}
	log.Logger = log.Output(output)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("KC TFTP Server exited")
	}
}
