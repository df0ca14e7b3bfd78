// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package comprot

import "hash/crc32"

// CalculateCRC computes CRC-16-CCITT checksum for the given data
func CalculateCRC(data []byte) uint16 {
	crc := uint16(crcInitial)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// CalculateCRC32 computes the CRC-32 (IEEE) checksum used when FlagCRC32 is set
func CalculateCRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// crcSize returns the CRC field width for the given flags
func crcSize(flags uint8) int {
	if flags&FlagCRC32 != 0 {
		return 4
	}
	return 2
}

// checksum computes the CRC selected by flags, widened to uint32
func checksum(flags uint8, data []byte) uint32 {
	if flags&FlagCRC32 != 0 {
		return CalculateCRC32(data)
	}
	return uint32(CalculateCRC(data))
}
