package filter

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/srodi/lockscope/pkg/types"
)

func stubPIDs(t *testing.T, pids []uint32, err error) {
	t.Helper()
	orig := listPIDs
	listPIDs = func(string) ([]uint32, error) { return pids, err }
	t.Cleanup(func() { listPIDs = orig })
}

func TestBuildSelfParentAndUserExclusions(t *testing.T) {
	set, err := Build(Options{Self: 4242, Parent: 4000, Exclude: []uint32{7, 0, 4242}}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, []uint32{7, 4000, 4242}, set.PIDs())
}

func TestBuildSkipsInitAsParent(t *testing.T) {
	set, err := Build(Options{Self: 50, Parent: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint32{50}, set.PIDs())
}

func TestBuildExcludesSystemProcesses(t *testing.T) {
	stubPIDs(t, []uint32{1, 2, 999, 1000, 5000}, nil)

	set, err := Build(Options{Self: 5000, ExcludeSystem: true}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 999, 5000}, set.PIDs())
}

func TestBuildCustomSystemLimit(t *testing.T) {
	stubPIDs(t, []uint32{10, 200, 300}, nil)

	set, err := Build(Options{ExcludeSystem: true, SystemPIDLimit: 250}, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint32{10, 200}, set.PIDs())
}

func TestBuildPropagatesScanError(t *testing.T) {
	stubPIDs(t, nil, errors.New("no procfs"))

	_, err := Build(Options{ExcludeSystem: true}, nil)
	require.Error(t, err)
}

func TestBuildReadsFakeProcRoot(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{"12", "3456", "self-not-a-pid"} {
		require.NoError(t, os.Mkdir(filepath.Join(root, d), 0o755))
	}

	set, err := Build(Options{ExcludeSystem: true, ProcRoot: root}, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint32{12}, set.PIDs())
}

type fakeMap struct {
	limit int
	puts  map[uint32]uint32
}

func (m *fakeMap) Put(key, value interface{}) error {
	if len(m.puts) >= m.limit {
		return errors.New("map full")
	}
	m.puts[key.(uint32)] = value.(uint32)
	return nil
}

func TestSyncCountsRejectedInserts(t *testing.T) {
	m := &fakeMap{limit: 2, puts: map[uint32]uint32{}}
	written, rejected := Sync(NewSet(3, 1, 2), m, zaptest.NewLogger(t))
	assert.Equal(t, 2, written)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, map[uint32]uint32{1: 1, 2: 1}, m.puts)
}

func TestGateAdmit(t *testing.T) {
	g := NewGate(NewSet(77))

	assert.False(t, g.Admit(types.Record{Kind: types.RecordSyscallEnter, PID: 0}))
	assert.False(t, g.Admit(types.Record{Kind: types.RecordSyscallEnter, PID: 1}))
	assert.False(t, g.Admit(types.Record{Kind: types.RecordLockWait, PID: 77}))
	assert.True(t, g.Admit(types.Record{Kind: types.RecordLockWait, PID: 100}))

	access := types.Record{Kind: types.RecordMemoryAccess, PID: 100, Addr: 0x1000}
	assert.False(t, g.Admit(access), "memory access before mmap")

	require.True(t, g.Admit(types.Record{Kind: types.RecordSyscallEnter, PID: 100, SyscallID: types.SyscallMmap}))
	assert.True(t, g.Users.Contains(100))
	assert.True(t, g.Admit(access))
}

func TestGateUserSetIsBounded(t *testing.T) {
	g := NewGate(nil)
	for pid := uint32(2); pid < 2+DefaultUserCapacity; pid++ {
		g.Admit(types.Record{Kind: types.RecordSyscallEnter, PID: pid, SyscallID: types.SyscallMmap})
	}
	require.Equal(t, DefaultUserCapacity, g.Users.Len())

	late := uint32(2 + DefaultUserCapacity)
	assert.True(t, g.Admit(types.Record{Kind: types.RecordSyscallEnter, PID: late, SyscallID: types.SyscallMmap}))
	assert.False(t, g.Users.Contains(late))
	assert.False(t, g.Admit(types.Record{Kind: types.RecordMemoryAccess, PID: late, Addr: 0x1000}))
	assert.True(t, g.Admit(types.Record{Kind: types.RecordMemoryAccess, PID: 2, Addr: 0x1000}))
}

func TestBoundedSetKeepsExistingMembers(t *testing.T) {
	s := NewBoundedSet(1)
	assert.True(t, s.Add(9))
	assert.False(t, s.Add(10))
	s.Remove(9)
	assert.True(t, s.Add(10))
}

func TestSetOperations(t *testing.T) {
	s := NewSet()
	assert.True(t, s.Add(5))
	assert.False(t, s.Add(5))
	assert.Equal(t, 1, s.Len())
	s.Remove(5)
	assert.False(t, s.Contains(5))

	var nilSet *Set
	assert.False(t, nilSet.Contains(1))
}

func TestParsePIDs(t *testing.T) {
	pids, err := ParsePIDs([]string{"12", "4000"})
	require.NoError(t, err)
	assert.Equal(t, []uint32{12, 4000}, pids)

	_, err = ParsePIDs([]string{"0"})
	assert.Error(t, err)
	_, err = ParsePIDs([]string{"abc"})
	assert.Error(t, err)
}
