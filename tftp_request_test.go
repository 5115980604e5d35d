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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	t.Run("octet RRQ", func(t *testing.T) {
		req, err := parseRequest(buildTftpRQPkt(OPCODE_RRQ, "boot.img", "octet"))
		require.NoError(t, err)
		assert.Equal(t, OPCODE_RRQ, req.opcode)
		assert.Equal(t, "boot.img", req.fileName)
		assert.Equal(t, MODE_OCTET, req.mode)
	})

	t.Run("mode without final NUL", func(t *testing.T) {
		req, err := parseRequest(append([]byte{0, 2}, "up.bin\x00octet"...))
		require.NoError(t, err)
		assert.Equal(t, OPCODE_WRQ, req.opcode)
		assert.Equal(t, "up.bin", req.fileName)
	})

	t.Run("opcode is passed through", func(t *testing.T) {
		req, err := parseRequest(buildTftpRQPkt(7, "x", "octet"))
		require.NoError(t, err)
		assert.Equal(t, uint16(7), req.opcode)
	})

	for _, mode := range []string{"OCTET", "Octet", "netascii", "mail", ""} {
		t.Run("rejects mode "+mode, func(t *testing.T) {
			_, err := parseRequest(buildTftpRQPkt(OPCODE_RRQ, "f", mode))
			require.ErrorIs(t, err, ErrUnsupportedMode)
			assert.Equal(t, ERROR_ILLEGAL, tftpErrorCode(err))
		})
	}

	t.Run("filename without NUL", func(t *testing.T) {
		_, err := parseRequest(append([]byte{0, 1}, "nonul"...))
		require.ErrorIs(t, err, ErrMalformedRequest)
		assert.Equal(t, ERROR_ILLEGAL, tftpErrorCode(err))
	})

	t.Run("too short", func(t *testing.T) {
		_, err := parseRequest([]byte{0, 1, 0})
		require.ErrorIs(t, err, ErrMalformedRequest)
	})
}

func TestSanitizeFileName(t *testing.T) {
	for in, want := range map[string]string{
		"a.txt":              "/a.txt",
		"dir/b.txt":          "/dir/b.txt",
		"/abs/c.txt":         "/abs/c.txt",
		"../../etc/passwd":   "/etc/passwd",
		"dir/../../../d.txt": "/d.txt",
		"":                   "/",
	} {
		assert.Equal(t, want, sanitizeFileName(in), "input %q", in)
	}
}
