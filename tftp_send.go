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
	"net"
)

func (s *TransferSession) sendPkt(pkt []byte) error {
	_, err := s.conn.WriteTo(pkt, s.peer)
	return err
}

func (s *TransferSession) sendTftpAckPkt(blockNum uint16) error {
	s.log.Debug().Msgf("Sending ACK (block=%d) to %s", blockNum, s.peer)
	return s.sendPkt(buildTftpAckPkt(blockNum))
}

func (s *TransferSession) sendTftpErrorPktTo(addr *net.UDPAddr, errorCode uint16, errorMsg string) {
	pkt := buildTftpErrorPkt(errorCode, errorMsg)
	s.log.Debug().Msgf("Sending ERROR (code=%d) to %s", errorCode, addr)
	if _, err := s.conn.WriteTo(pkt, addr); err != nil {
		s.log.Warn().Err(err).Msgf("Failed to send ERROR (code=%d) to %s", errorCode, addr)
	}
	s.metrics.RecordErrorSent(errorCode)
}

// sendTftpErrorPkt is fire-and-forget: nothing acknowledges an ERROR.
func (s *TransferSession) sendTftpErrorPkt(errorCode uint16, errorMsg string) {
	s.sendTftpErrorPktTo(s.peer, errorCode, errorMsg)
}

// abort sends the ERROR matching cause to the peer and hands cause back as
// the terminal error of the session. An empty errorMsg uses the standard
// text for the code.
func (s *TransferSession) abort(cause error, errorMsg string) error {
	s.sendTftpErrorPkt(tftpErrorCode(cause), errorMsg)
	return cause
}
