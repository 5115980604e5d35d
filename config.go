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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
)

const (
	DEFAULT_HOST           = ":4970"
	DEFAULT_METRICS_LISTEN = "127.0.0.1:9469"
	CONFIG_FILE_NAME       = "kc_tftp_server.toml"
)

type (
	KcTftpServerConfigToml struct {
		Verbose bool
		Metrics MetricsTable
		Servers map[string]ServerTable
	}
	MetricsTable struct {
		Enabled bool
		Listen  string `validate:"required_if=Enabled true"`
	}
	ServerTable struct {
		Host                  string `validate:"required"`
		Get_dir               string `validate:"required_if=Support_get true"`
		Put_dir               string `validate:"required_if=Support_put true"`
		Support_get           bool
		Support_put           bool
		Timeout_ms            uint16 `validate:"gte=1"`
		Max_retransmits       uint8  `validate:"gte=1"`
		Quota                 string `validate:"required"`
		Rebind_on_foreign_tid bool
		Tos                   uint8
	}
)

type (
	KcTftpConfig struct {
		verbose        bool
		metricsEnabled bool
		metricsListen  string
		servers        []*KcTftpServerConfig
	}

	KcTftpServerConfig struct {
		name               string        // [servers.<name>] table name
		hostPort           string        // host:port to listen on
		supportGet         bool          // Support RRQ requests
		supportPut         bool          // Support WRQ requests
		getDir             string        // Directory to serve RRQ requests
		putDir             string        // Directory to serve WRQ requests
		getFs              afero.Fs      // getDir, read-only and rooted
		putFs              afero.Fs      // putDir, rooted
		timeout            time.Duration // Time to wait for each reply before resending
		maxRetransmits     int           // Attempts per packet before giving up
		quota              int64         // Ceiling for the total size of putDir
		rebindOnForeignTID bool          // Adopt a foreign TID as the WRQ peer instead of ignoring it
		tos                int           // IPv4 TOS byte for session sockets, 0 leaves the default
	}
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func getConfigFilePath(configFile string) string {
	if len(configFile) != 0 {
		return configFile
	}

	if exe, err := os.Executable(); err == nil {
		configFile = filepath.Join(filepath.Dir(exe), CONFIG_FILE_NAME)
		if _, err := os.Stat(configFile); err != nil {
			if wd, err := os.Getwd(); err == nil {
				configFile = filepath.Join(wd, CONFIG_FILE_NAME)
			}
		}
	}

	return configFile
}

func loadConfig(configFilePath string) (*KcTftpConfig, error) {
	var tomlConfig KcTftpServerConfigToml
	md, err := toml.DecodeFile(configFilePath, &tomlConfig)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return processConfig(&md, &tomlConfig)
}

func processConfig(md *toml.MetaData, tomlConfig *KcTftpServerConfigToml) (*KcTftpConfig, error) {
	if len(tomlConfig.Servers) == 0 {
		return nil, fmt.Errorf("no [servers.<name>] table in config file")
	}

	metrics := tomlConfig.Metrics
	if !md.IsDefined("metrics", "listen") {
		metrics.Listen = DEFAULT_METRICS_LISTEN
	}
	if err := validate.Struct(&metrics); err != nil {
		return nil, fmt.Errorf("[metrics]: %w", err)
	}

	config := &KcTftpConfig{
		verbose:        tomlConfig.Verbose,
		metricsEnabled: metrics.Enabled,
		metricsListen:  metrics.Listen,
	}

	names := make([]string, 0, len(tomlConfig.Servers))
	for name := range tomlConfig.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s := tomlConfig.Servers[name]
		serverConfig, err := processServerTable(md, name, &s, afero.NewOsFs())
		if err != nil {
			return nil, err
		}
		config.servers = append(config.servers, serverConfig)
	}
	return config, nil
}

// processServerTable applies defaults for keys missing from [servers.<name>],
// validates the result and roots the get/put directories on base.
func processServerTable(md *toml.MetaData, serverName string, s *ServerTable, base afero.Fs) (*KcTftpServerConfig, error) {
	if !md.IsDefined("servers", serverName, "host") {
		s.Host = DEFAULT_HOST
	}
	if !md.IsDefined("servers", serverName, "support_get") {
		s.Support_get = true
	}
	if !md.IsDefined("servers", serverName, "support_put") {
		s.Support_put = true
	}
	if !md.IsDefined("servers", serverName, "timeout_ms") {
		s.Timeout_ms = uint16(DEFAULT_TIMEOUT / time.Millisecond)
	}
	if !md.IsDefined("servers", serverName, "max_retransmits") {
		s.Max_retransmits = DEFAULT_MAX_RETRANSMITS
	}
	if !md.IsDefined("servers", serverName, "quota") {
		s.Quota = humanize.Bytes(uint64(DEFAULT_QUOTA))
	}

	if err := validate.Struct(s); err != nil {
		return nil, fmt.Errorf("server [%s]: %w", serverName, err)
	}

	quota, err := humanize.ParseBytes(s.Quota)
	if err != nil {
		return nil, fmt.Errorf("server [%s] invalid 'quota' %q: %w", serverName, s.Quota, err)
	}

	config := &KcTftpServerConfig{
		name:               serverName,
		hostPort:           s.Host,
		supportGet:         s.Support_get,
		supportPut:         s.Support_put,
		timeout:            time.Duration(s.Timeout_ms) * time.Millisecond,
		maxRetransmits:     int(s.Max_retransmits),
		quota:              int64(quota),
		rebindOnForeignTID: s.Rebind_on_foreign_tid,
		tos:                int(s.Tos),
	}

	if config.supportGet {
		if config.getDir, err = rootedDir(base, s.Get_dir); err != nil {
			return nil, fmt.Errorf("server [%s] 'get_dir': %w", serverName, err)
		}
		config.getFs = afero.NewReadOnlyFs(afero.NewBasePathFs(base, config.getDir))
	}
	if config.supportPut {
		if config.putDir, err = rootedDir(base, s.Put_dir); err != nil {
			return nil, fmt.Errorf("server [%s] 'put_dir': %w", serverName, err)
		}
		config.putFs = afero.NewBasePathFs(base, config.putDir)
	}

	return config, nil
}

// rootedDir makes dir absolute and checks that it already exists; the server
// never creates its directories.
func rootedDir(base afero.Fs, dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	ok, err := afero.DirExists(base, dir)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%s is not a directory", dir)
	}
	return dir, nil
}
