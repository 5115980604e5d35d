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
	"syscall"

	"github.com/spf13/afero"
)

// serveWRQ accepts a new file. The existence check and the create are two
// separate steps, so two concurrent WRQs for the same name race and the
// later create wins.
func (s *TransferSession) serveWRQ(req *Request) error {
	fileName := sanitizeFileName(req.fileName)
	s.log.Debug().Msgf("fileNameSanitized: '%s'", fileName)

	if info, err := s.serverConfig.putFs.Stat(fileName); err == nil {
		if info.IsDir() {
			/* Empty names resolve to the directory itself */
			return s.abort(fmt.Errorf("%w: %s is a directory", ErrAccessViolation, fileName), "")
		}
		s.log.Error().Msgf("File with name (%s) from client already exists", fileName)
		return s.abort(fmt.Errorf("%w: %s", ErrFileExists, fileName), "")
	} else if !errors.Is(err, fs.ErrNotExist) {
		return s.abortFileError(fileName, err)
	}

	f, err := s.serverConfig.putFs.Create(fileName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			/* Missing parent directory, nothing to do with the file itself */
			return s.abort(fmt.Errorf("%w: %s: %v", ErrAccessViolation, fileName, err), "")
		}
		return s.abortFileError(fileName, err)
	}

	err = s.receiveFile(f)
	if cerr := f.Close(); cerr != nil {
		s.log.Warn().Err(cerr).Msgf("Error closing %s", fileName)
	}
	return err
}

// receiveFile runs the ACK/DATA loop. ACK 0 opens the exchange; each later
// ACK both confirms block n and asks for block n+1, and is what gets resent
// when the next DATA does not arrive in time.
func (s *TransferSession) receiveFile(f afero.File) error {
	blockNum := uint16(0)
	for {
		expected := blockNum + 1
		s.log.Debug().Msgf("Sending ACK (block=%d) to %s", blockNum, s.peer)
		reply, size, err := s.exchange(buildTftpAckPkt(blockNum), s.dataHandler(expected))
		if err != nil {
			return err
		}
		dataPkt := reply.(*DataPkt)

		ok, err := checkCapacity(s.serverConfig.putFs, size, s.serverConfig.quota)
		if err != nil {
			return s.abort(fmt.Errorf("%w: %v", ErrAccessViolation, err), "")
		}
		if !ok {
			s.log.Error().Msg("Disk is full")
			return s.abort(fmt.Errorf("%w: block %d", ErrDiskFull, dataPkt.blockNum), "")
		}

		if _, err := f.Write(dataPkt.data); err != nil {
			if errors.Is(err, syscall.ENOSPC) {
				return s.abort(fmt.Errorf("%w: %v", ErrDiskFull, err), "")
			}
			return s.abort(fmt.Errorf("%w: %v", ErrAccessViolation, err), "")
		}
		s.metrics.RecordBytes(DIRECTION_WRITE, len(dataPkt.data))
		blockNum = expected

		if len(dataPkt.data) < BLOCK_SIZE {
			/* Final ACK is not waited on */
			if err := s.sendTftpAckPkt(blockNum); err != nil {
				s.log.Warn().Err(err).Msgf("Failed to send final ACK (block=%d)", blockNum)
			}
			return nil
		}
	}
}

// dataHandler accepts only DATA(expected). Any other block number ends the
// session with ERROR 5, duplicates of the previous block included.
func (s *TransferSession) dataHandler(expected uint16) replyFunc {
	return func(pkt tftpPacket, size int) (replyAction, error) {
		switch pkt := pkt.(type) {
		case *DataPkt:
			s.log.Debug().Msgf("Received DATA (block=%d, dataSize=%d) from %s", pkt.blockNum, len(pkt.data), s.peer)
			if pkt.blockNum != expected {
				s.log.Error().Msgf("Data packet number (%d) does not match expected block (%d)", pkt.blockNum, expected)
				return replyAbort, s.abort(fmt.Errorf("%w: block %d, expected %d", ErrUnknownTransferID, pkt.blockNum, expected), "")
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
