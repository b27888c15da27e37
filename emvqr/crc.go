package emvqr

import (
	"fmt"
	"strings"
)

const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF

	// checksum field tag and its fixed declared length
	checksumHeader = ChecksumTag + "04"
)

// CRC16 computes CRC-16/CCITT-FALSE: polynomial 0x1021, initial value
// 0xFFFF, MSB first, no reflection and no final XOR.
func CRC16(data []byte) uint16 {
	var crc uint16 = crcInitial
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Checksum returns the CRC of payload as 4 uppercase hex digits.
func Checksum(payload string) string {
	return fmt.Sprintf("%04X", CRC16([]byte(payload)))
}

// AppendChecksum terminates payload with the checksum field. The CRC
// covers the payload and the "6304" header of the checksum field itself.
// Nothing may be appended to the result.
func AppendChecksum(payload string) string {
	withHeader := payload + checksumHeader
	return withHeader + Checksum(withHeader)
}

// VerifyChecksum checks that payload ends with a checksum field
// matching the CRC of everything before its value.
func VerifyChecksum(payload string) error {
	headerLen := len(checksumHeader)
	if len(payload) < headerLen+ChecksumLength {
		return fmt.Errorf("%w: payload too short for checksum", ErrMalformed)
	}

	split := len(payload) - ChecksumLength
	if payload[split-headerLen:split] != checksumHeader {
		return fmt.Errorf("%w: payload does not end with checksum field", ErrMalformed)
	}

	expected := Checksum(payload[:split])
	if got := strings.ToUpper(payload[split:]); got != expected {
		return fmt.Errorf("%w: expected %s but got %s", ErrChecksumMismatch, expected, got)
	}
	return nil
}
