// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package frame decodes the sensor's fixed-size binary telemetry frames
// out of an arbitrary byte stream.
package frame

import (
	"encoding/binary"

	"github.com/relabs-tech/kick_trigger/internal/imu"
)

// Wire layout: a 2-byte sync header followed by nine little-endian int16
// fields in fixed order (ax ay az gx gy gz roll pitch yaw).
const (
	headerByte0 = 0x55
	headerByte1 = 0x61

	// Length is the full frame size in bytes, header included.
	Length = 20
)

// DecodeFunc scans buf for valid frames and calls emit once per decoded
// sample, in order. The transport may coalesce several transmission
// intervals into one delivery, so a single buffer can hold zero, one or
// several frames. A header mismatch advances the scan by exactly one byte
// (byte-level resynchronization after a dropped or truncated byte); a
// successful decode advances by the full frame length. Scanning stops when
// fewer than Length bytes remain, so a buffer ending mid-frame silently
// yields no sample for the trailing bytes.
//
// The return value is the number of bytes skipped while hunting for a
// header, for link-quality diagnostics. There is no error path: once the
// header matches, any payload bit pattern is a valid signed reading.
func DecodeFunc(buf []byte, emit func(imu.Sample)) (skipped int) {
	i := 0
	for len(buf)-i >= Length {
		if buf[i] != headerByte0 || buf[i+1] != headerByte1 {
			i++
			skipped++
			continue
		}
		emit(decodePayload(buf[i+2 : i+Length]))
		i += Length
	}
	return skipped
}

// AlignedPrefix returns how many leading bytes of buf DecodeFunc would
// consume: the scan position after decoding every complete frame and
// skipping unsynchronized bytes, stopping where fewer than Length bytes
// remain. Streaming transports deliver buf[:n] and retain buf[n:] until
// more bytes arrive, so a frame can never straddle two deliveries.
func AlignedPrefix(buf []byte) int {
	i := 0
	for len(buf)-i >= Length {
		if buf[i] != headerByte0 || buf[i+1] != headerByte1 {
			i++
			continue
		}
		i += Length
	}
	return i
}

// Decode collects every sample found in buf into a slice. Prefer DecodeFunc
// on the hot path; Decode is for tests and offline tooling.
func Decode(buf []byte) []imu.Sample {
	var out []imu.Sample
	DecodeFunc(buf, func(s imu.Sample) { out = append(out, s) })
	return out
}

func decodePayload(p []byte) imu.Sample {
	field := func(off int) int16 {
		return int16(binary.LittleEndian.Uint16(p[off : off+2]))
	}
	return imu.NewSample(
		field(0), field(2), field(4),
		field(6), field(8), field(10),
		field(12), field(14), field(16),
	)
}
