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
	"net"
	"time"
)

const (
	DEFAULT_TIMEOUT         = 150 * time.Millisecond
	DEFAULT_MAX_RETRANSMITS = 5
)

// retransmitPolicy is the stop-and-wait primitive shared by both transfer
// directions: one packet out, then up to timeout for the reply, at most
// maxRetransmits attempts in total.
type retransmitPolicy struct {
	timeout        time.Duration
	maxRetransmits int
}

type replyAction int

const (
	replyAccept replyAction = iota // Exchange complete
	replyRetry                     // Failed attempt, resend
	replyAbort                     // Session over, error returned alongside
)

// replyFunc classifies a packet that arrived from the session peer. size is
// the datagram length including the 4-byte header.
type replyFunc func(pkt tftpPacket, size int) (replyAction, error)

var (
	errReceiveTimeout = errors.New("timed out waiting for reply")
	errRetry          = errors.New("retry")
)

// receive returns the next datagram from any sender, or errReceiveTimeout
// once deadline passes. A datagram longer than MAX_PKT_SIZE comes back as
// *UnknownPkt instead of being cut down to a full block.
func (s *TransferSession) receive(deadline time.Time) (tftpPacket, int, *net.UDPAddr, error) {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return nil, 0, nil, err
	}
	buffer := make([]byte, MAX_PKT_SIZE+1)
	n, addr, err := s.conn.ReadFrom(buffer)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, 0, nil, errReceiveTimeout
		}
		return nil, 0, nil, err
	}
	from, ok := addr.(*net.UDPAddr)
	if !ok {
		return nil, 0, nil, fmt.Errorf("unexpected address type %T", addr)
	}
	if n > MAX_PKT_SIZE {
		return &UnknownPkt{getOpcodeFromPkt(buffer[:n]), buffer[:n]}, n, from, nil
	}
	return decodeTftpPkt(buffer[:n]), n, from, nil
}

// exchange sends pkt and waits for a reply that handle accepts, resending pkt
// after every failed attempt. The retry counter is local, so it starts from
// zero for every exchange.
func (s *TransferSession) exchange(pkt []byte, handle replyFunc) (tftpPacket, int, error) {
	for failures := 0; ; {
		if err := s.sendPkt(pkt); err != nil {
			return nil, 0, s.abort(fmt.Errorf("%w: %v", ErrAccessViolation, err), "")
		}

		reply, size, err := s.awaitReply(handle)
		if err == nil {
			return reply, size, nil
		}
		if !errors.Is(err, errRetry) {
			return nil, 0, err
		}

		failures++
		if failures >= s.policy.maxRetransmits {
			s.log.Warn().Msgf("Giving up on %s after %d attempts", opcodeName(getOpcodeFromPkt(pkt)), failures)
			return nil, 0, s.abort(ErrRetransmitLimit,
				fmt.Sprintf("Terminated. Max allowed re-transmission is %d", s.policy.maxRetransmits))
		}
		s.metrics.RecordRetransmit(s.direction)
		s.log.Debug().Msgf("Resending %s (attempt %d)", opcodeName(getOpcodeFromPkt(pkt)), failures+1)
	}
}

// awaitReply covers one attempt. Packets from foreign TIDs do not end the
// attempt; the deadline is fixed when it starts.
func (s *TransferSession) awaitReply(handle replyFunc) (tftpPacket, int, error) {
	deadline := time.Now().Add(s.policy.timeout)
	for {
		pkt, size, from, err := s.receive(deadline)
		if errors.Is(err, errReceiveTimeout) {
			s.log.Debug().Msg("Timed out waiting for reply")
			return nil, 0, errRetry
		}
		if err != nil {
			return nil, 0, s.abort(fmt.Errorf("%w: %v", ErrAccessViolation, err), "")
		}

		if !sameUDPAddr(from, s.peer) {
			s.handleForeignTID(from, pkt)
			continue
		}

		action, err := handle(pkt, size)
		switch action {
		case replyAccept:
			return pkt, size, nil
		case replyRetry:
			return nil, 0, errRetry
		default:
			return nil, 0, err
		}
	}
}

// handleForeignTID answers a packet from an address other than the peer with
// ERROR 5. With rebindOnForeignTID the session adopts the sender as its new
// peer; otherwise the original exchange carries on untouched.
func (s *TransferSession) handleForeignTID(from *net.UDPAddr, pkt tftpPacket) {
	s.metrics.RecordForeignPacket()
	s.log.Info().Msgf("Unknown client/TID (%s) for opcode (%d)", from, pkt.opcode())
	if s.rebindOnForeignTID {
		s.log.Warn().Msgf("Rebinding session peer from %s to %s", s.peer, from)
		s.peer = from
		s.sendTftpErrorPkt(ERROR_UNKNOWNTID, "")
		return
	}
	s.sendTftpErrorPktTo(from, ERROR_UNKNOWNTID, "")
}

func sameUDPAddr(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
