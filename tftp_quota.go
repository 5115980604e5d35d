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
	"github.com/spf13/afero"
)

const DEFAULT_QUOTA = int64(100000000) // Write directory ceiling in bytes

// directorySize sums the regular files directly inside the root of fsys.
// Subdirectories are not descended into.
func directorySize(fsys afero.Fs) (int64, error) {
	entries, err := afero.ReadDir(fsys, "/")
	if err != nil {
		return 0, err
	}
	var total int64
	for _, entry := range entries {
		if entry.Mode().IsRegular() {
			total += entry.Size()
		}
	}
	return total, nil
}

// checkCapacity reports whether incomingPacketLength more bytes fit in the
// write directory under ceiling. The check is advisory: it takes no lock, so
// concurrent writers can each pass it.
func checkCapacity(fsys afero.Fs, incomingPacketLength int, ceiling int64) (bool, error) {
	total, err := directorySize(fsys)
	if err != nil {
		return false, err
	}
	return ceiling-total >= int64(incomingPacketLength), nil
}
