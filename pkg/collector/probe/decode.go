package probe

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/srodi/lockscope/pkg/types"
)

var (
	// ErrShortSample is returned for ring-buffer samples smaller than a record.
	ErrShortSample = errors.New("short ring buffer sample")
	// ErrUnknownKind is returned for records carrying an unknown kind tag.
	ErrUnknownKind = errors.New("unknown record kind")
)

// Decode parses one little-endian ring-buffer record:
//
//	u32 kind, u32 pid, u32 tid, u32 cpu, i32 syscall_id, u32 pad, u64 ts_ns, u64 addr
//
// Trailing bytes are ignored so a producer may append fields.
func Decode(raw []byte) (types.Record, error) {
	if len(raw) < types.RecordSize {
		return types.Record{}, fmt.Errorf("%w: %d bytes", ErrShortSample, len(raw))
	}
	le := binary.LittleEndian
	r := types.Record{
		Kind:        types.RecordKind(le.Uint32(raw[0:4])),
		PID:         le.Uint32(raw[4:8]),
		TID:         le.Uint32(raw[8:12]),
		CPU:         le.Uint32(raw[12:16]),
		SyscallID:   int32(le.Uint32(raw[16:20])),
		TimestampNs: le.Uint64(raw[24:32]),
		Addr:        le.Uint64(raw[32:40]),
	}
	if r.Kind < types.RecordSyscallEnter || r.Kind > types.RecordMemoryAccess {
		return types.Record{}, fmt.Errorf("%w: %d", ErrUnknownKind, uint32(r.Kind))
	}
	return r, nil
}

// Encode is the inverse of Decode. The synthetic producer and tests use it to
// feed the same byte path as the kernel producer.
func Encode(r types.Record) []byte {
	buf := make([]byte, types.RecordSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], uint32(r.Kind))
	le.PutUint32(buf[4:8], r.PID)
	le.PutUint32(buf[8:12], r.TID)
	le.PutUint32(buf[12:16], r.CPU)
	le.PutUint32(buf[16:20], uint32(r.SyscallID))
	le.PutUint64(buf[24:32], r.TimestampNs)
	le.PutUint64(buf[32:40], r.Addr)
	return buf
}
