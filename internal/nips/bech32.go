// Package nips implements the NIP-19 bech32 encodings used for CLI and API arguments.
package nips

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

var (
	ErrInvalidBech32 = errors.New("invalid bech32 string")
	ErrWrongPrefix   = errors.New("unexpected bech32 prefix")
)

// Bech32Decode decodes a bech32 string into HRP and 5-bit data, verifying the checksum
func Bech32Decode(bech string) (string, []byte, error) {
	bech = strings.ToLower(bech)
	if len(bech) < 8 {
		return "", nil, fmt.Errorf("%w: too short", ErrInvalidBech32)
	}

	pos := strings.LastIndex(bech, "1")
	if pos < 1 || pos+7 > len(bech) {
		return "", nil, fmt.Errorf("%w: separator position", ErrInvalidBech32)
	}

	hrp := bech[:pos]
	values := make([]byte, 0, len(bech)-pos-1)
	for _, c := range bech[pos+1:] {
		idx := strings.IndexRune(bech32Charset, c)
		if idx == -1 {
			return "", nil, fmt.Errorf("%w: character %q", ErrInvalidBech32, c)
		}
		values = append(values, byte(idx))
	}

	expanded := bech32HrpExpand(hrp)
	for _, v := range values {
		expanded = append(expanded, int(v))
	}
	if bech32Polymod(expanded) != 1 {
		return "", nil, fmt.Errorf("%w: checksum", ErrInvalidBech32)
	}

	return hrp, values[:len(values)-6], nil
}

// Bech32ConvertBits converts between bit groups
func Bech32ConvertBits(data []byte, fromBits, toBits int, pad bool) ([]byte, error) {
	acc := 0
	bits := 0
	var ret []byte
	maxv := (1 << toBits) - 1

	for _, value := range data {
		acc = (acc << fromBits) | int(value)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			ret = append(ret, byte((acc>>bits)&maxv))
		}
	}

	if pad {
		if bits > 0 {
			ret = append(ret, byte((acc<<(toBits-bits))&maxv))
		}
	} else if bits >= fromBits || ((acc<<(toBits-bits))&maxv) != 0 {
		return nil, fmt.Errorf("%w: padding", ErrInvalidBech32)
	}

	return ret, nil
}

// Bech32Encode encodes 5-bit data with the given HRP
func Bech32Encode(hrp string, data []byte) string {
	combined := append(append([]byte{}, data...), bech32CreateChecksum(hrp, data)...)

	var result strings.Builder
	result.WriteString(hrp)
	result.WriteByte('1')
	for _, v := range combined {
		result.WriteByte(bech32Charset[v])
	}
	return result.String()
}

func bech32Polymod(values []int) int {
	gen := []int{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}
	chk := 1
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ v
		for i := 0; i < 5; i++ {
			if (top>>i)&1 != 0 {
				chk ^= gen[i]
			}
		}
	}
	return chk
}

func bech32HrpExpand(hrp string) []int {
	var ret []int
	for _, c := range hrp {
		ret = append(ret, int(c>>5))
	}
	ret = append(ret, 0)
	for _, c := range hrp {
		ret = append(ret, int(c&31))
	}
	return ret
}

func bech32CreateChecksum(hrp string, data []byte) []byte {
	values := bech32HrpExpand(hrp)
	for _, d := range data {
		values = append(values, int(d))
	}
	values = append(values, 0, 0, 0, 0, 0, 0)
	polymod := bech32Polymod(values) ^ 1
	checksum := make([]byte, 6)
	for i := range checksum {
		checksum[i] = byte((polymod >> (5 * (5 - i))) & 31)
	}
	return checksum
}

// Encode encodes a 32-byte hex value (pubkey, event id, secret key) with the given prefix
func Encode(hrp, hexValue string) (string, error) {
	raw, err := hex.DecodeString(hexValue)
	if err != nil {
		return "", err
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("%w: expected 32 bytes, got %d", ErrInvalidBech32, len(raw))
	}
	data, err := Bech32ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}
	return Bech32Encode(hrp, data), nil
}

// ToHex accepts either a 64-char hex string or a bech32 string with the given
// prefix ("npub", "note", "nsec") and returns the hex form.
func ToHex(value, hrp string) (string, error) {
	value = strings.TrimSpace(value)
	if len(value) == 64 {
		if _, err := hex.DecodeString(value); err == nil {
			return strings.ToLower(value), nil
		}
	}

	gotHRP, data, err := Bech32Decode(value)
	if err != nil {
		return "", err
	}
	if gotHRP != hrp {
		return "", fmt.Errorf("%w: got %s, want %s", ErrWrongPrefix, gotHRP, hrp)
	}
	raw, err := Bech32ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", err
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("%w: expected 32 bytes, got %d", ErrInvalidBech32, len(raw))
	}
	return hex.EncodeToString(raw), nil
}
