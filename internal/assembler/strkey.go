package assembler

import (
	"encoding/base32"
	"errors"
	"fmt"
)

// Version bytes for the human-readable key encoding. Seeds render with an
// 'S' prefix, public keys with a 'G' prefix.
const (
	versionSeed      byte = 18 << 3
	versionPublicKey byte = 6 << 3
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

var (
	errStrkeyLength   = errors.New("strkey: invalid length")
	errStrkeyChecksum = errors.New("strkey: checksum mismatch")
)

// EncodeSeed renders a 32-byte ed25519 seed as an S... string.
func EncodeSeed(raw [32]byte) string {
	return encodeStrkey(versionSeed, raw)
}

// EncodePublicKey renders a 32-byte ed25519 public key as a G... string.
func EncodePublicKey(raw [32]byte) string {
	return encodeStrkey(versionPublicKey, raw)
}

// DecodeSeed parses an S... seed string back into its raw 32 bytes.
func DecodeSeed(value string) ([32]byte, error) {
	return decodeStrkey(versionSeed, value)
}

// DecodePublicKey parses a G... address back into its raw 32 bytes.
func DecodePublicKey(value string) ([32]byte, error) {
	return decodeStrkey(versionPublicKey, value)
}

func encodeStrkey(version byte, raw [32]byte) string {
	payload := make([]byte, 0, 35)
	payload = append(payload, version)
	payload = append(payload, raw[:]...)
	checksum := crc16XModem(payload)
	payload = append(payload, byte(checksum&0xff), byte(checksum>>8))
	return b32.EncodeToString(payload)
}

func decodeStrkey(version byte, value string) ([32]byte, error) {
	var raw [32]byte

	decoded, err := b32.DecodeString(value)
	if err != nil {
		return raw, fmt.Errorf("strkey: %w", err)
	}
	if len(decoded) != 35 {
		return raw, errStrkeyLength
	}

	body, tail := decoded[:33], decoded[33:]
	checksum := uint16(tail[0]) | uint16(tail[1])<<8
	if crc16XModem(body) != checksum {
		return raw, errStrkeyChecksum
	}
	if body[0] != version {
		return raw, fmt.Errorf("strkey: unexpected version byte %#x", body[0])
	}

	copy(raw[:], body[1:])
	return raw, nil
}

// crc16XModem computes CRC-16/XMODEM (poly 0x1021, init 0).
func crc16XModem(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
