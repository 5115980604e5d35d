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
)

const MODE_OCTET = "octet"

// Request is the decoded first datagram of a transfer.
type Request struct {
	opcode   uint16
	fileName string
	mode     string
}

// parseRequest decodes an RRQ/WRQ datagram. The opcode is not checked here;
// the session façade decides what to do with it. Only octet mode is accepted
// and the comparison is case-sensitive.
func parseRequest(pkt []byte) (*Request, error) {
	rq, err := deserializeRQPkt(pkt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if rq.mode != MODE_OCTET {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, rq.mode)
	}

	return &Request{rq.op, rq.fileName, rq.mode}, nil
}
