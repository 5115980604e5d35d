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
	"encoding/binary"
	"fmt"
)

const (
	OPCODE_RRQ   = uint16(1) // Read request (RRQ)
	OPCODE_WRQ   = uint16(2) // Write request (WRQ)
	OPCODE_DATA  = uint16(3) // Data (DATA)
	OPCODE_ACK   = uint16(4) // Acknowledgment (ACK)
	OPCODE_ERROR = uint16(5) // Error (ERROR)
)

const (
	ERROR_UNDEFINED       = uint16(0) // Not defined, see error message (if any).
	ERROR_FILENOTFOUND    = uint16(1) // File not found.
	ERROR_ACCESSVIOLATION = uint16(2) // Access violation.
	ERROR_DISKFULL        = uint16(3) // Disk full or allocation exceeded.
	ERROR_ILLEGAL         = uint16(4) // Illegal TFTP operation.
	ERROR_UNKNOWNTID      = uint16(5) // Unknown transfer ID.
	ERROR_FILEEXISTS      = uint16(6) // File already exists.
)

const (
	BLOCK_SIZE   = 512                      // Fixed DATA payload size
	HEADER_SIZE  = 4                        // Opcode + block number / error code
	MAX_PKT_SIZE = HEADER_SIZE + BLOCK_SIZE // Largest datagram a session expects
	MAX_BLOCKS   = 65535                    // Highest block number before the 16-bit counter wraps
)

// tftpPacket is one decoded datagram. The concrete type is one of *RQPkt,
// *DataPkt, *AckPkt, *ErrorPkt or *UnknownPkt.
type tftpPacket interface {
	opcode() uint16
}

type RQPkt struct {
	op       uint16
	fileName string
	mode     string
}

type DataPkt struct {
	blockNum uint16
	data     []byte
}

type AckPkt struct {
	blockNum uint16
}

type ErrorPkt struct {
	errorCode uint16
	errorMsg  string
}

// UnknownPkt is anything that is not a well-formed TFTP packet.
type UnknownPkt struct {
	op  uint16
	raw []byte
}

func (p *RQPkt) opcode() uint16      { return p.op }
func (p *DataPkt) opcode() uint16    { return OPCODE_DATA }
func (p *AckPkt) opcode() uint16     { return OPCODE_ACK }
func (p *ErrorPkt) opcode() uint16   { return OPCODE_ERROR }
func (p *UnknownPkt) opcode() uint16 { return p.op }

func (p *ErrorPkt) Error() string {
	return fmt.Sprintf("tftp error %d: %s", p.errorCode, p.errorMsg)
}

func opcodeName(opcode uint16) string {
	switch opcode {
	case OPCODE_RRQ:
		return "RRQ"
	case OPCODE_WRQ:
		return "WRQ"
	case OPCODE_DATA:
		return "DATA"
	case OPCODE_ACK:
		return "ACK"
	case OPCODE_ERROR:
		return "ERROR"
	default:
		return fmt.Sprintf("opcode(%d)", opcode)
	}
}

func getStrFromPkt(pkt []byte, index int) []byte {
	for i := index; i < len(pkt); i++ {
		if pkt[i] == 0 {
			return pkt[index:i]
		}
	}
	return nil
}

func getOpcodeFromPkt(pkt []byte) uint16 {
	if len(pkt) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(pkt)
}

// decodeTftpPkt never fails: malformed input comes back as *UnknownPkt.
func decodeTftpPkt(pkt []byte) tftpPacket {
	opcode := getOpcodeFromPkt(pkt)
	switch opcode {
	case OPCODE_RRQ, OPCODE_WRQ:
		rq, err := deserializeRQPkt(pkt)
		if err != nil {
			return &UnknownPkt{opcode, pkt}
		}
		return rq
	case OPCODE_DATA:
		dataPkt, err := deserializeDataPkt(pkt)
		if err != nil {
			return &UnknownPkt{opcode, pkt}
		}
		return dataPkt
	case OPCODE_ACK:
		if len(pkt) < HEADER_SIZE {
			return &UnknownPkt{opcode, pkt}
		}
		return &AckPkt{binary.BigEndian.Uint16(pkt[2:])}
	case OPCODE_ERROR:
		errPkt, err := deserializeErrorPkt(pkt)
		if err != nil {
			return &UnknownPkt{opcode, pkt}
		}
		return errPkt
	default:
		return &UnknownPkt{opcode, pkt}
	}
}

func deserializeDataPkt(pkt []byte) (*DataPkt, error) {
	if len(pkt) < HEADER_SIZE {
		return nil, fmt.Errorf("invalid packet len")
	}
	n := 2 /* Skip 2-byte Opcode */
	blockNum := binary.BigEndian.Uint16(pkt[n:])
	n += 2 /* Skip 2-byte blockNum */

	return &DataPkt{blockNum, pkt[n:]}, nil
}

func deserializeErrorPkt(pkt []byte) (*ErrorPkt, error) {
	if len(pkt) < HEADER_SIZE {
		return nil, fmt.Errorf("invalid packet len")
	}
	errorCode := binary.BigEndian.Uint16(pkt[2:])
	msg := pkt[HEADER_SIZE:]
	/* Trailing NUL is optional */
	if s := getStrFromPkt(pkt, HEADER_SIZE); s != nil {
		msg = s
	}
	return &ErrorPkt{errorCode, string(msg)}, nil
}

func deserializeRQPkt(pkt []byte) (*RQPkt, error) {
	if len(pkt) < HEADER_SIZE {
		return nil, fmt.Errorf("invalid packet len")
	}
	n := 2 /* Skip 2-byte Opcode */
	fileName := getStrFromPkt(pkt, n)
	if fileName == nil {
		return nil, fmt.Errorf("failed to read 'Filename' field")
	}
	n += len(fileName)
	n += 1 /* Skip NUL byte */
	mode := getStrFromPkt(pkt, n)
	if mode == nil {
		/* Tolerate a missing final NUL */
		mode = pkt[n:]
	}

	return &RQPkt{getOpcodeFromPkt(pkt), string(fileName), string(mode)}, nil
}

func buildTftpRQPkt(opcode uint16, fileName, mode string) []byte {
	pkt := make([]byte, 0, 2+len(fileName)+1+len(mode)+1)
	pkt = binary.BigEndian.AppendUint16(pkt, opcode)
	pkt = append(pkt, fileName...)
	pkt = append(pkt, 0)
	pkt = append(pkt, mode...)
	pkt = append(pkt, 0)
	return pkt
}

func buildTftpAckPkt(blockNum uint16) []byte {
	pkt := make([]byte, 0, HEADER_SIZE)
	pkt = binary.BigEndian.AppendUint16(pkt, OPCODE_ACK)
	pkt = binary.BigEndian.AppendUint16(pkt, blockNum)
	return pkt
}

func buildTftpDataPkt(blockNum uint16, data []byte) []byte {
	pkt := make([]byte, 0, HEADER_SIZE+len(data))
	pkt = binary.BigEndian.AppendUint16(pkt, OPCODE_DATA)
	pkt = binary.BigEndian.AppendUint16(pkt, blockNum)
	pkt = append(pkt, data...)
	return pkt
}

func errorCodeToString(errorCode uint16) string {
	switch errorCode {
	case ERROR_UNDEFINED:
		return "Undefined error."
	case ERROR_FILENOTFOUND:
		return "File not found"
	case ERROR_ACCESSVIOLATION:
		return "Access violation."
	case ERROR_DISKFULL:
		return "Disk full or allocation exceeded."
	case ERROR_ILLEGAL:
		return "Illegal TFTP operation."
	case ERROR_UNKNOWNTID:
		return "Unknown transfer ID"
	case ERROR_FILEEXISTS:
		return "File already exists"
	default:
		return ""
	}
}

// buildTftpErrorPkt falls back to the standard text for errorCode when
// errorMsg is empty.
func buildTftpErrorPkt(errorCode uint16, errorMsg string) []byte {
	if len(errorMsg) == 0 {
		errorMsg = errorCodeToString(errorCode)
	}
	pkt := make([]byte, 0, HEADER_SIZE+len(errorMsg)+1)
	pkt = binary.BigEndian.AppendUint16(pkt, OPCODE_ERROR)
	pkt = binary.BigEndian.AppendUint16(pkt, errorCode)
	pkt = append(pkt, errorMsg...)
	pkt = append(pkt, 0)
	return pkt
}
