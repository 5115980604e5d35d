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
	"io"

	"github.com/dustin/go-humanize"
)

// serveRRQ sends the file block by block, waiting for the matching ACK after
// each one. The block shorter than BLOCK_SIZE is the last; a file that is an
// exact multiple of BLOCK_SIZE ends with an empty block.
func (s *TransferSession) serveRRQ(req *Request) error {
	fileName := sanitizeFileName(req.fileName)
	s.log.Debug().Msgf("fileNameSanitized: '%s'", fileName)

	f, err := s.serverConfig.getFs.Open(fileName)
	if err != nil {
		return s.abortFileError(fileName, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return s.abortFileError(fileName, err)
	}
	if info.IsDir() {
		return s.abort(fmt.Errorf("%w: %s is a directory", ErrAccessViolation, fileName), "")
	}

	if blocks := info.Size()/BLOCK_SIZE + 1; blocks > MAX_BLOCKS {
		s.log.Error().Msgf("File would not fit within (2^16)-1 blocks %d", blocks)
		return s.abort(fmt.Errorf("%w: %d blocks", ErrFileTooLarge, blocks), "File would not fit within (2^16)-1 blocks")
	}
	s.log.Debug().Msgf("Sending %s (%s)", fileName, humanize.Bytes(uint64(info.Size())))

	data := make([]byte, BLOCK_SIZE)
	blockNum := uint16(1)
	for {
		n, err := io.ReadFull(f, data)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			s.log.Error().Err(err).Msg("Error reading file.")
			return s.abort(fmt.Errorf("%w: %v", ErrAccessViolation, err), "Error reading file.")
		}

		s.log.Debug().Msgf("Sending DATA (block=%d,len=%d) to %s", blockNum, n, s.peer)
		_, _, err = s.exchange(buildTftpDataPkt(blockNum, data[:n]), s.ackHandler(blockNum))
		if err != nil {
			return err
		}
		s.metrics.RecordBytes(DIRECTION_READ, n)

		if n < BLOCK_SIZE {
			return nil
		}
		blockNum++
	}
}

// ackHandler accepts only ACK(blockNum). A stale or future ACK is a failed
// attempt, so the block goes out again.
func (s *TransferSession) ackHandler(blockNum uint16) replyFunc {
	return func(pkt tftpPacket, _ int) (replyAction, error) {
		switch pkt := pkt.(type) {
		case *AckPkt:
			s.log.Debug().Msgf("Received ACK (block=%d) from %s", pkt.blockNum, s.peer)
			if pkt.blockNum != blockNum {
				return replyRetry, nil
			}
			return replyAccept, nil
		case *ErrorPkt:
			return replyAbort, fmt.Errorf("%w: %w", ErrPeerError, pkt)
		default:
			s.log.Info().Msgf("Illegal or unexpected opcode (%d) from %s", pkt.opcode(), s.peer)
			s.sendTftpErrorPkt(ERROR_ILLEGAL, "")
			return replyRetry, nil
		}
	}
}
