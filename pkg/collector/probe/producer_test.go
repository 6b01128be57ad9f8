package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/srodi/lockscope/pkg/filter"
	"github.com/srodi/lockscope/pkg/queue"
	"github.com/srodi/lockscope/pkg/types"
)

func TestProducerCountsEachOutcome(t *testing.T) {
	q := queue.New(2)
	p := newProducer(filter.NewGate(filter.NewSet(66)), q, zaptest.NewLogger(t))

	p.handle(make([]byte, 8))
	p.handle(make([]byte, types.RecordSize))
	p.handle(Encode(types.Record{Kind: types.RecordSyscallEnter, PID: 66, TID: 66}))
	p.handle(Encode(types.Record{Kind: types.RecordMemoryAccess, PID: 70, Addr: 0x1000}))
	for i := 0; i < 3; i++ {
		p.handle(Encode(types.Record{Kind: types.RecordSyscallEnter, PID: 70, TID: 70}))
	}

	assert.Equal(t, Stats{Read: 7, Short: 1, Unknown: 1, Gated: 2, Rejected: 1, Pushed: 2}, p.stats())
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, uint64(1), q.Dropped())
}

func TestConfigDefaults(t *testing.T) {
	c := Config{ObjectPath: "lockscope.bpf.o"}.withDefaults()
	assert.Equal(t, DefaultEventsMap, c.EventsMap)
	assert.Equal(t, DefaultFilterMap, c.FilterMap)
}
