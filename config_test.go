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
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeServerTable(t *testing.T, name, doc string, base afero.Fs) (*KcTftpServerConfig, error) {
	t.Helper()
	var tomlConfig KcTftpServerConfigToml
	md, err := toml.Decode(doc, &tomlConfig)
	require.NoError(t, err)
	s := tomlConfig.Servers[name]
	return processServerTable(&md, name, &s, base)
}

func testBaseFs(t *testing.T) afero.Fs {
	t.Helper()
	base := afero.NewMemMapFs()
	require.NoError(t, base.MkdirAll("/srv/read", 0o755))
	require.NoError(t, base.MkdirAll("/srv/write", 0o755))
	return base
}

func TestProcessServerTableDefaults(t *testing.T) {
	c, err := decodeServerTable(t, "main", `
[servers.main]
get_dir = "/srv/read"
put_dir = "/srv/write"
`, testBaseFs(t))
	require.NoError(t, err)

	assert.Equal(t, "main", c.name)
	assert.Equal(t, DEFAULT_HOST, c.hostPort)
	assert.True(t, c.supportGet)
	assert.True(t, c.supportPut)
	assert.Equal(t, DEFAULT_TIMEOUT, c.timeout)
	assert.Equal(t, DEFAULT_MAX_RETRANSMITS, c.maxRetransmits)
	assert.Equal(t, DEFAULT_QUOTA, c.quota)
	assert.False(t, c.rebindOnForeignTID)
	assert.Zero(t, c.tos)
	assert.Equal(t, "/srv/read", c.getDir)
	assert.Equal(t, "/srv/write", c.putDir)
}

func TestProcessServerTableExplicit(t *testing.T) {
	c, err := decodeServerTable(t, "lab", `
[servers.lab]
host = "127.0.0.1:6969"
get_dir = "/srv/read"
support_put = false
timeout_ms = 500
max_retransmits = 8
quota = "1 MiB"
rebind_on_foreign_tid = true
tos = 0x10
`, testBaseFs(t))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:6969", c.hostPort)
	assert.False(t, c.supportPut)
	assert.Nil(t, c.putFs)
	assert.Equal(t, 500*time.Millisecond, c.timeout)
	assert.Equal(t, 8, c.maxRetransmits)
	assert.Equal(t, int64(1<<20), c.quota)
	assert.True(t, c.rebindOnForeignTID)
	assert.Equal(t, 0x10, c.tos)
}

func TestProcessServerTableFilesystems(t *testing.T) {
	base := testBaseFs(t)
	require.NoError(t, afero.WriteFile(base, "/srv/read/hello.txt", []byte("hello"), 0o644))

	c, err := decodeServerTable(t, "main", `
[servers.main]
get_dir = "/srv/read"
put_dir = "/srv/write"
`, base)
	require.NoError(t, err)

	content, err := afero.ReadFile(c.getFs, "/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), content)
	assert.Error(t, afero.WriteFile(c.getFs, "/new.txt", []byte("x"), 0o644), "get directory is read-only")

	require.NoError(t, afero.WriteFile(c.putFs, "/upload.bin", []byte("data"), 0o644))
	exists, err := afero.Exists(base, "/srv/write/upload.bin")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestProcessServerTableInvalid(t *testing.T) {
	tests := map[string]string{
		"missing get_dir": `
[servers.s]
put_dir = "/srv/write"
`,
		"missing put_dir": `
[servers.s]
get_dir = "/srv/read"
`,
		"get_dir does not exist": `
[servers.s]
get_dir = "/srv/nope"
put_dir = "/srv/write"
`,
		"zero timeout": `
[servers.s]
get_dir = "/srv/read"
put_dir = "/srv/write"
timeout_ms = 0
`,
		"zero retransmits": `
[servers.s]
get_dir = "/srv/read"
put_dir = "/srv/write"
max_retransmits = 0
`,
		"bad quota": `
[servers.s]
get_dir = "/srv/read"
put_dir = "/srv/write"
quota = "lots"
`,
		"empty host": `
[servers.s]
host = ""
get_dir = "/srv/read"
put_dir = "/srv/write"
`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := decodeServerTable(t, "s", doc, testBaseFs(t))
			assert.Error(t, err)
		})
	}
}

func TestProcessServerTableDisabledDirectionNeedsNoDir(t *testing.T) {
	c, err := decodeServerTable(t, "s", `
[servers.s]
support_get = false
put_dir = "/srv/write"
`, testBaseFs(t))
	require.NoError(t, err)
	assert.False(t, c.supportGet)
	assert.Nil(t, c.getFs)
}

func writeConfigFile(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), CONFIG_FILE_NAME)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	readDir := filepath.Join(dir, "read")
	writeDir := filepath.Join(dir, "write")
	require.NoError(t, os.Mkdir(readDir, 0o755))
	require.NoError(t, os.Mkdir(writeDir, 0o755))

	path := writeConfigFile(t, fmt.Sprintf(`
verbose = true

[metrics]
enabled = true

[servers.b]
host = "127.0.0.1:0"
get_dir = %q
support_put = false

[servers.a]
host = "127.0.0.1:0"
get_dir = %q
put_dir = %q
`, readDir, readDir, writeDir))

	config, err := loadConfig(path)
	require.NoError(t, err)
	assert.True(t, config.verbose)
	assert.True(t, config.metricsEnabled)
	assert.Equal(t, DEFAULT_METRICS_LISTEN, config.metricsListen)
	require.Len(t, config.servers, 2)
	assert.Equal(t, "a", config.servers[0].name)
	assert.Equal(t, "b", config.servers[1].name)
	assert.Equal(t, writeDir, config.servers[0].putDir)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := loadConfig(filepath.Join(t.TempDir(), "nope.toml"))
		assert.Error(t, err)
	})

	t.Run("no servers", func(t *testing.T) {
		_, err := loadConfig(writeConfigFile(t, "verbose = true\n"))
		assert.Error(t, err)
	})

	t.Run("metrics without listen address", func(t *testing.T) {
		dir := t.TempDir()
		_, err := loadConfig(writeConfigFile(t, fmt.Sprintf(`
[metrics]
enabled = true
listen = ""

[servers.a]
get_dir = %q
put_dir = %q
`, dir, dir)))
		assert.Error(t, err)
	})

	t.Run("syntax error", func(t *testing.T) {
		_, err := loadConfig(writeConfigFile(t, "[servers.a\n"))
		assert.Error(t, err)
	})
}

func TestGetConfigFilePath(t *testing.T) {
	assert.Equal(t, "/etc/kc.toml", getConfigFilePath("/etc/kc.toml"))
	assert.Equal(t, CONFIG_FILE_NAME, filepath.Base(getConfigFilePath("")))
}
