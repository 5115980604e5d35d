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
	"errors"
	"fmt"
	"io/fs"
	"net"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DIRECTION_READ    = "read"
	DIRECTION_WRITE   = "write"
	DIRECTION_UNKNOWN = "unknown"
)

// TransferSession is one RRQ or WRQ from start to its terminal state. It
// exclusively owns conn for its lifetime and shares nothing with other
// sessions except the files under the configured directories.
type TransferSession struct {
	id                 uuid.UUID
	serverConfig       *KcTftpServerConfig
	metrics            *Metrics
	conn               net.PacketConn
	peer               *net.UDPAddr
	policy             retransmitPolicy
	rebindOnForeignTID bool
	direction          string
	log                zerolog.Logger
}

func newTransferSession(c *KcTftpServerConfig, m *Metrics, conn net.PacketConn, peer *net.UDPAddr) *TransferSession {
	id := uuid.New()
	return &TransferSession{
		id:           id,
		serverConfig: c,
		metrics:      m,
		conn:         conn,
		peer:         peer,
		policy:       retransmitPolicy{c.timeout, c.maxRetransmits},
		direction:    DIRECTION_UNKNOWN,
		log: log.With().
			Str("server", c.name).
			Str("session", id.String()).
			Str("peer", peer.String()).
			Logger(),
	}
}

// ServeRequest runs the session for one request datagram to completion on
// conn, talking to peer. Every fault is reported to the client with an
// ERROR packet before ServeRequest returns it; a nil return means the
// transfer completed. A panic is reported as ERROR 2 and recorded like any
// other terminal fault before it is passed on to the caller.
func ServeRequest(c *KcTftpServerConfig, m *Metrics, conn net.PacketConn, peer *net.UDPAddr, datagram []byte) (err error) {
	s := newTransferSession(c, m, conn, peer)
	start := time.Now()

	m.SessionStarted()
	defer func() {
		r := recover()
		if r != nil {
			err = s.abort(fmt.Errorf("%w: session panic: %v", ErrAccessViolation, r), "")
		}
		m.SessionFinished(s.direction, sessionOutcome(err), time.Since(start))

		if err != nil {
			s.log.Error().Err(err).Str("outcome", sessionOutcome(err)).Msgf("Transfer aborted after %s", time.Since(start))
		} else {
			s.log.Info().Msgf("Transfer complete in %s", time.Since(start))
		}
		if r != nil {
			panic(r)
		}
	}()

	return s.serve(datagram)
}

func (s *TransferSession) serve(datagram []byte) error {
	req, err := parseRequest(datagram)
	if err != nil {
		return s.abort(err, "")
	}
	s.log = s.log.With().Str("op", opcodeName(req.opcode)).Str("file", req.fileName).Logger()

	switch req.opcode {
	case OPCODE_RRQ:
		s.direction = DIRECTION_READ
		s.log.Info().Msgf("Received RRQ: filename: '%s' mode: '%s' from %s", req.fileName, req.mode, s.peer)
		if !s.serverConfig.supportGet {
			return s.abort(ErrOperationDisabled, "Operation disabled by configuration on this server.")
		}
		return s.serveRRQ(req)
	case OPCODE_WRQ:
		s.direction = DIRECTION_WRITE
		s.log.Info().Msgf("Received WRQ: filename: '%s' mode: '%s' from %s", req.fileName, req.mode, s.peer)
		if !s.serverConfig.supportPut {
			return s.abort(ErrOperationDisabled, "Operation disabled by configuration on this server.")
		}
		s.rebindOnForeignTID = s.serverConfig.rebindOnForeignTID
		return s.serveWRQ(req)
	default:
		s.log.Info().Msgf("Illegal or unexpected opcode (%d) from %s", req.opcode, s.peer)
		return s.abort(fmt.Errorf("%w: %s as first packet", ErrIllegalOperation, opcodeName(req.opcode)), "")
	}
}

// sanitizeFileName roots the requested name so it cannot climb out of the
// served directory.
func sanitizeFileName(fileName string) string {
	return filepath.Clean(filepath.Join("/", fileName))
}

// abortFileError maps a filesystem failure on fileName to the matching ERROR.
func (s *TransferSession) abortFileError(fileName string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s.abort(fmt.Errorf("%w: %s", ErrFileNotFound, fileName), "")
	default:
		return s.abort(fmt.Errorf("%w: %s: %v", ErrAccessViolation, fileName, err), "")
	}
}
