package encoding

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EncodeStates run-length encodes a cell-state array into (state, run_len)
// varint pairs. State arrays are dominated by long runs of a single value,
// so the encoded form is usually a handful of bytes.
func EncodeStates(states []byte) []byte {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(states) {
		st := states[i]
		run := 1
		for j := i + 1; j < len(states) && states[j] == st; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(st))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}
	return buf.Bytes()
}

func DecodeStates(raw []byte) ([]byte, error) {
	var out []byte
	for i := 0; i < len(raw); {
		st, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if st > 0xFF {
			return nil, fmt.Errorf("state too large: %d", st)
		}
		if run > 1<<20 {
			return nil, fmt.Errorf("run too long: %d", run)
		}
		for k := 0; k < int(run); k++ {
			out = append(out, byte(st))
		}
	}
	return out, nil
}
