// Package rdb implements a streaming reader for the on-disk snapshot
// format loaded at boot (spec.md §4.3). It validates the header,
// walks the opcode stream, and loads each (key, value, optional
// expiry) tuple straight into a store.Store.
//
// Grounded opcode-for-opcode on
// original_source/apps/redis-clone/src/rdb.rs; checksum validation is
// intentionally skipped, matching that source (spec.md §9, open
// question (c)).
package rdb

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/kvrelay/kvrelay/internal/store"
)

const (
	opAux        = 0xFA
	opSelectDB   = 0xFE
	opResizeDB   = 0xFB
	opExpiryMs   = 0xFC
	opExpirySec  = 0xFD
	opEOF        = 0xFF
	maxTypedOp   = 0x0E
)

// ErrInvalidHeader is returned when the stream does not start with
// the "REDIS" magic.
var ErrInvalidHeader = errors.New("rdb: invalid header, expected REDIS magic")

// ErrInvalidOpcode is returned for an opcode outside the documented
// range, or a length-encoding format code above 2.
var ErrInvalidOpcode = errors.New("rdb: invalid opcode")

// EmptySnapshot returns a minimal, valid, dataset-free RDB payload:
// header, immediate EOF opcode, zeroed (unvalidated) checksum. This is
// what a master sends a freshly attached replica, matching the
// reference implementation's own "known empty snapshot" choice
// (spec.md §4.6 step 2).
func EmptySnapshot() []byte {
	buf := make([]byte, 0, 5+4+1+8)
	buf = append(buf, "REDIS0011"...)
	buf = append(buf, opEOF)
	buf = append(buf, make([]byte, 8)...)
	return buf
}

// Load reads a full RDB stream from r and ingests every (key, value,
// optional expiry) tuple into db via db.SetAbsolute. Load returns
// after consuming the 0xFF end-of-file opcode and its trailing
// checksum.
func Load(r io.Reader, db *store.Store) error {
	br := bufio.NewReader(r)

	magic := make([]byte, 5)
	if _, err := io.ReadFull(br, magic); err != nil {
		return err
	}
	if string(magic) != "REDIS" {
		return ErrInvalidHeader
	}

	// 4-byte version, not otherwise validated.
	if _, err := readN(br, 4); err != nil {
		return err
	}

	for {
		opcodeBuf, err := readN(br, 1)
		if err != nil {
			return err
		}
		opcode := opcodeBuf[0]

		switch {
		case opcode == opAux:
			if _, err := readString(br); err != nil {
				return err
			}
			if _, err := readString(br); err != nil {
				return err
			}
		case opcode == opSelectDB:
			if _, err := readN(br, 4); err != nil {
				return err
			}
		case opcode == opResizeDB:
			if _, err := readLengthEncoded(br); err != nil {
				return err
			}
			if _, err := readLengthEncoded(br); err != nil {
				return err
			}
		case opcode == opExpiryMs || opcode == opExpirySec:
			expiryMs, err := readExpiry(br, opcode)
			if err != nil {
				return err
			}
			if _, err := readN(br, 1); err != nil { // value type, unused
				return err
			}
			key, err := readString(br)
			if err != nil {
				return err
			}
			value, err := readString(br)
			if err != nil {
				return err
			}
			t := time.UnixMilli(int64(expiryMs))
			db.SetAbsolute(key, []byte(value), &t)
		case opcode <= maxTypedOp:
			key, err := readString(br)
			if err != nil {
				return err
			}
			value, err := readString(br)
			if err != nil {
				return err
			}
			db.SetAbsolute(key, []byte(value), nil)
		case opcode == opEOF:
			if _, err := readN(br, 8); err != nil { // checksum, unchecked
				return err
			}
			return nil
		default:
			return ErrInvalidOpcode
		}
	}
}

func readN(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// lengthEncoding is either a plain length or a special-format code
// (see spec.md §4.3's two-bit discriminator table).
type lengthEncoding struct {
	isFormat bool
	length   uint32
	format   uint8
}

func readLengthEncoded(r io.Reader) (lengthEncoding, error) {
	b, err := readN(r, 1)
	if err != nil {
		return lengthEncoding{}, err
	}
	first := b[0]
	top := first >> 6
	rest := first & 0x3F

	switch top {
	case 0b00:
		return lengthEncoding{length: uint32(rest)}, nil
	case 0b01:
		next, err := readN(r, 1)
		if err != nil {
			return lengthEncoding{}, err
		}
		return lengthEncoding{length: (uint32(rest) << 8) + uint32(next[0])}, nil
	case 0b10:
		buf, err := readN(r, 4)
		if err != nil {
			return lengthEncoding{}, err
		}
		return lengthEncoding{length: binary.LittleEndian.Uint32(buf)}, nil
	case 0b11:
		return lengthEncoding{isFormat: true, format: rest}, nil
	default:
		return lengthEncoding{}, ErrInvalidOpcode
	}
}

func readString(r io.Reader) (string, error) {
	le, err := readLengthEncoded(r)
	if err != nil {
		return "", err
	}
	if !le.isFormat {
		buf, err := readN(r, int(le.length))
		if err != nil {
			return "", err
		}
		return string(buf), nil
	}
	n, err := readIntFormat(r, le.format)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n, 10), nil
}

func readIntFormat(r io.Reader, format uint8) (int64, error) {
	switch format {
	case 0:
		b, err := readN(r, 1)
		if err != nil {
			return 0, err
		}
		return int64(int8(b[0])), nil
	case 1:
		b, err := readN(r, 2)
		if err != nil {
			return 0, err
		}
		return int64(int16(binary.LittleEndian.Uint16(b))), nil
	case 2:
		b, err := readN(r, 4)
		if err != nil {
			return 0, err
		}
		return int64(int32(binary.LittleEndian.Uint32(b))), nil
	default:
		return 0, ErrInvalidOpcode
	}
}

func readExpiry(r io.Reader, opcode byte) (uint64, error) {
	switch opcode {
	case opExpiryMs:
		b, err := readN(r, 8)
		if err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(b), nil
	case opExpirySec:
		b, err := readN(r, 4)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint32(b)) * 1000, nil
	default:
		return 0, ErrInvalidOpcode
	}
}
