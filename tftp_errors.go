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
)

// Terminal causes of a transfer session. Each one maps to the ERROR code
// that was sent to the client (see tftpErrorCode).
var (
	ErrMalformedRequest  = errors.New("malformed request")
	ErrUnsupportedMode   = errors.New("unsupported transfer mode")
	ErrIllegalOperation  = errors.New("illegal TFTP operation")
	ErrOperationDisabled = errors.New("operation disabled by configuration")
	ErrFileNotFound      = errors.New("file not found")
	ErrFileExists        = errors.New("file already exists")
	ErrFileTooLarge      = errors.New("file exceeds 65535 blocks")
	ErrAccessViolation   = errors.New("access violation")
	ErrDiskFull          = errors.New("disk full or allocation exceeded")
	ErrUnknownTransferID = errors.New("unknown transfer ID")
	ErrRetransmitLimit   = errors.New("retransmission limit exceeded")
	ErrPeerError         = errors.New("peer sent ERROR")
)

func tftpErrorCode(err error) uint16 {
	switch {
	case errors.Is(err, ErrFileNotFound):
		return ERROR_FILENOTFOUND
	case errors.Is(err, ErrAccessViolation):
		return ERROR_ACCESSVIOLATION
	case errors.Is(err, ErrDiskFull):
		return ERROR_DISKFULL
	case errors.Is(err, ErrMalformedRequest),
		errors.Is(err, ErrUnsupportedMode),
		errors.Is(err, ErrIllegalOperation),
		errors.Is(err, ErrFileTooLarge):
		return ERROR_ILLEGAL
	case errors.Is(err, ErrUnknownTransferID):
		return ERROR_UNKNOWNTID
	case errors.Is(err, ErrFileExists):
		return ERROR_FILEEXISTS
	default:
		return ERROR_UNDEFINED
	}
}

// sessionOutcome is the label used for the sessions_total metric and the
// session summary log line.
func sessionOutcome(err error) string {
	switch {
	case err == nil:
		return "complete"
	case errors.Is(err, ErrMalformedRequest), errors.Is(err, ErrUnsupportedMode):
		return "bad_request"
	case errors.Is(err, ErrIllegalOperation):
		return "illegal_operation"
	case errors.Is(err, ErrOperationDisabled):
		return "disabled"
	case errors.Is(err, ErrFileNotFound):
		return "file_not_found"
	case errors.Is(err, ErrFileExists):
		return "file_exists"
	case errors.Is(err, ErrFileTooLarge):
		return "file_too_large"
	case errors.Is(err, ErrAccessViolation):
		return "access_violation"
	case errors.Is(err, ErrDiskFull):
		return "disk_full"
	case errors.Is(err, ErrUnknownTransferID):
		return "unknown_tid"
	case errors.Is(err, ErrRetransmitLimit):
		return "retransmit_limit"
	case errors.Is(err, ErrPeerError):
		return "peer_error"
	default:
		return "failed"
	}
}
