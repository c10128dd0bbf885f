package persist

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"maps"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/discochess/romstash/internal/romerr"
)

// CreatedAtKey is the metadata key reserved for the entry creation time,
// stored as unix nanoseconds. It never appears in returned metadata.
const CreatedAtKey = "_created_at"

// lengthSize is the width of the little-endian metadata length prefix.
const lengthSize = 4

// EncodeEntry lays out an entry as
//
//	[4-byte LE metadata length][msgpack metadata][payload]
//
// with createdAt recorded in the metadata under CreatedAtKey.
func EncodeEntry(payload []byte, metadata map[string]any, createdAt time.Time) ([]byte, error) {
	meta := make(map[string]any, len(metadata)+1)
	maps.Copy(meta, metadata)
	meta[CreatedAtKey] = createdAt.UnixNano()

	encoded, err := msgpack.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}

	buf := make([]byte, lengthSize, lengthSize+len(encoded)+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(encoded)))
	buf = append(buf, encoded...)
	buf = append(buf, payload...)
	return buf, nil
}

// DecodeEntry splits data produced by EncodeEntry. Short or undecodable input
// fails with romerr.ErrCorrupt. An entry without a creation time reports the
// zero time.
func DecodeEntry(data []byte) (payload []byte, metadata map[string]any, createdAt time.Time, err error) {
	if len(data) < lengthSize {
		return nil, nil, time.Time{}, fmt.Errorf("%w: %d byte entry", romerr.ErrCorrupt, len(data))
	}
	n := int64(binary.LittleEndian.Uint32(data))
	if lengthSize+n > int64(len(data)) {
		return nil, nil, time.Time{}, fmt.Errorf("%w: metadata length %d exceeds %d byte entry",
			romerr.ErrCorrupt, n, len(data))
	}

	metadata, err = decodeMetadata(data[lengthSize : lengthSize+n])
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("%w: %w", romerr.ErrCorrupt, err)
	}
	if v, ok := metadata[CreatedAtKey]; ok {
		nanos, ok := toInt64(v)
		if !ok {
			return nil, nil, time.Time{}, fmt.Errorf("%w: %s has type %T", romerr.ErrCorrupt, CreatedAtKey, v)
		}
		createdAt = time.Unix(0, nanos)
		delete(metadata, CreatedAtKey)
	}

	return data[lengthSize+n:], metadata, createdAt, nil
}

// normalizeMetadata passes metadata through the on-disk encoding so memory
// and disk hits return identical value types. It never returns nil.
func normalizeMetadata(metadata map[string]any) (map[string]any, error) {
	if _, ok := metadata[CreatedAtKey]; ok {
		return nil, fmt.Errorf("metadata key %q is reserved", CreatedAtKey)
	}
	if len(metadata) == 0 {
		return map[string]any{}, nil
	}
	encoded, err := msgpack.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return decodeMetadata(encoded)
}

func decodeMetadata(b []byte) (map[string]any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseLooseInterfaceDecoding(true)

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
