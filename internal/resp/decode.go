package resp

import (
	"bytes"
	"errors"
	"strconv"
)

// ErrInvalid is returned by Decode when the buffer cannot possibly be
// valid RESP — the caller must close the connection.
var ErrInvalid = errors.New("resp: invalid frame")

// errIncomplete is a sentinel used internally to unwind the recursive
// decode on a short buffer; it never escapes Decode.
var errIncomplete = errors.New("resp: incomplete frame")

const crlf = "\r\n"

// snapshotMagic and snapshotTrailer implement the heuristic described
// in spec.md §4.1: a bulk payload that begins with "REDIS" and whose
// last nine bytes start with 0xFF is a snapshot blob and carries no
// trailing CRLF.
var snapshotMagic = []byte("REDIS")

// Decode attempts to decode one RESP value from the front of buf. It
// returns the decoded value and the number of bytes consumed on
// success. If buf holds a valid prefix of a frame but not a complete
// one, it returns ok=false, err=nil ("Incomplete"); the caller must
// wait for more bytes and retry with the same cursor. If the buffer
// can never be valid RESP, it returns err=ErrInvalid.
func Decode(buf []byte) (v Value, n int, ok bool, err error) {
	v, n, err = decodeOne(buf)
	if err != nil {
		if errors.Is(err, errIncomplete) {
			return Value{}, 0, false, nil
		}
		return Value{}, 0, false, err
	}
	return v, n, true, nil
}

func decodeOne(buf []byte) (Value, int, error) {
	if len(buf) == 0 {
		return Value{}, 0, errIncomplete
	}

	switch buf[0] {
	case '+':
		s, n, err := readLine(buf[1:])
		if err != nil {
			return Value{}, 0, err
		}
		return SimpleString(s), n + 1, nil
	case '-':
		s, n, err := readLine(buf[1:])
		if err != nil {
			return Value{}, 0, err
		}
		return SimpleError(s), n + 1, nil
	case ':':
		s, n, err := readLine(buf[1:])
		if err != nil {
			return Value{}, 0, err
		}
		i, perr := strconv.ParseInt(s, 10, 64)
		if perr != nil {
			return Value{}, 0, ErrInvalid
		}
		return Integer(i), n + 1, nil
	case '$':
		return decodeBulk(buf)
	case '*':
		return decodeArray(buf)
	default:
		return Value{}, 0, ErrInvalid
	}
}

// readLine reads up to the first CRLF in buf, returning the text
// before it and the total number of bytes consumed including the
// CRLF.
func readLine(buf []byte) (string, int, error) {
	i := bytes.Index(buf, []byte(crlf))
	if i < 0 {
		return "", 0, errIncomplete
	}
	return string(buf[:i]), i + 2, nil
}

func decodeBulk(buf []byte) (Value, int, error) {
	lenText, n, err := readLine(buf[1:])
	if err != nil {
		return Value{}, 0, err
	}
	consumed := 1 + n

	if lenText == "-1" {
		return Null, consumed, nil
	}

	length, perr := strconv.Atoi(lenText)
	if perr != nil || length < 0 {
		return Value{}, 0, ErrInvalid
	}

	rest := buf[consumed:]
	if len(rest) < length {
		return Value{}, 0, errIncomplete
	}
	payload := rest[:length]

	if isSnapshotBlob(payload) {
		// No trailing CRLF for the snapshot-blob framing exception.
		return BulkString(append([]byte(nil), payload...)), consumed + length, nil
	}

	if len(rest) < length+2 {
		return Value{}, 0, errIncomplete
	}
	if rest[length] != '\r' || rest[length+1] != '\n' {
		return Value{}, 0, ErrInvalid
	}
	return BulkString(bytes.Clone(payload)), consumed + length + 2, nil
}

// isSnapshotBlob recognizes the masters' snapshot delivery frame: a
// payload that starts with "REDIS" and whose last nine bytes begin
// with 0xFF (the RDB end-of-file opcode followed by an 8-byte
// checksum).
func isSnapshotBlob(payload []byte) bool {
	if len(payload) < 9 || !bytes.HasPrefix(payload, snapshotMagic) {
		return false
	}
	return payload[len(payload)-9] == 0xFF
}

func decodeArray(buf []byte) (Value, int, error) {
	lenText, n, err := readLine(buf[1:])
	if err != nil {
		return Value{}, 0, err
	}
	consumed := 1 + n

	count, perr := strconv.Atoi(lenText)
	if perr != nil || count < 0 {
		return Value{}, 0, ErrInvalid
	}

	// An empty array decodes to a nil slice, the same as Array().
	var values []Value
	if count > 0 {
		values = make([]Value, 0, count)
	}
	for i := 0; i < count; i++ {
		v, vn, err := decodeOne(buf[consumed:])
		if err != nil {
			return Value{}, 0, err
		}
		values = append(values, v)
		consumed += vn
	}
	return Array(values...), consumed, nil
}
