package probe

import (
	"errors"
	"testing"

	"github.com/srodi/lockscope/pkg/types"
)

func TestDecodeLayout(t *testing.T) {
	raw := []byte{
		5, 0, 0, 0, // kind
		0x39, 0x30, 0, 0, // pid 12345
		0x3a, 0x30, 0, 0, // tid 12346
		3, 0, 0, 0, // cpu
		0xff, 0xff, 0xff, 0xff, // syscall id -1
		0xaa, 0xaa, 0xaa, 0xaa, // pad
		0x00, 0x10, 0, 0, 0, 0, 0, 0, // ts 4096
		0x40, 0x00, 0x00, 0x10, 0, 0, 0, 0, // addr 0x10000040
	}
	r, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := types.Record{
		Kind:        types.RecordMemoryAccess,
		PID:         12345,
		TID:         12346,
		CPU:         3,
		SyscallID:   -1,
		TimestampNs: 4096,
		Addr:        0x10000040,
	}
	if r != want {
		t.Fatalf("expected %+v, got %+v", want, r)
	}
}

func TestDecodeRejectsShortAndUnknown(t *testing.T) {
	if _, err := Decode(make([]byte, types.RecordSize-1)); !errors.Is(err, ErrShortSample) {
		t.Fatalf("expected ErrShortSample, got %v", err)
	}
	if _, err := Decode(make([]byte, types.RecordSize)); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("zero kind should be unknown, got %v", err)
	}
	raw := Encode(types.Record{Kind: types.RecordSyscallEnter})
	raw[0] = 42
	if _, err := Decode(raw); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	in := types.Record{Kind: types.RecordLockRelease, PID: 9, TID: 10, Addr: 0xdeadbeef, TimestampNs: 77}
	raw := append(Encode(in), 1, 2, 3, 4)
	out, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("expected %+v, got %+v", in, out)
	}
}
