package admission

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleFlight(t *testing.T) {
	c := NewController(Options{})
	assert.Equal(t, Idle, c.State())

	require.True(t, c.TryAdmit())
	assert.Equal(t, Processing, c.State())
	assert.False(t, c.TryAdmit())
	assert.False(t, c.TryAdmit())

	c.Complete()
	assert.Equal(t, Idle, c.State())
	assert.True(t, c.TryAdmit())

	s := c.Stats()
	assert.Equal(t, uint64(2), s.Admitted)
	assert.Equal(t, uint64(2), s.Dropped)
	assert.Equal(t, Processing, s.State)
}

func TestDefaultModeRearmsOnAdmission(t *testing.T) {
	c := NewController(Options{})
	for i := 0; i < 5; i++ {
		require.True(t, c.TryAdmit(), "cycle %d", i)
		c.Complete()
	}
}

func TestStrictModeAdmitsOncePerRequest(t *testing.T) {
	c := NewController(Options{Strict: true})
	assert.True(t, c.Strict())

	require.True(t, c.TryAdmit())
	c.Complete()
	assert.False(t, c.TryAdmit(), "no request pending")

	c.RequestNext()
	c.RequestNext()
	require.True(t, c.TryAdmit())
	c.Complete()
	assert.False(t, c.TryAdmit(), "requests do not accumulate")
}

func TestSetStrictTogglesMode(t *testing.T) {
	c := NewController(Options{})
	c.SetStrict(true)
	require.True(t, c.TryAdmit())
	c.Complete()
	assert.False(t, c.TryAdmit())

	c.SetStrict(false)
	assert.False(t, c.Strict())
	require.True(t, c.TryAdmit())
	c.Complete()
	assert.True(t, c.TryAdmit())
}

func TestRequestNextWhileInFlight(t *testing.T) {
	c := NewController(Options{Strict: true})
	require.True(t, c.TryAdmit())

	c.RequestNext()
	assert.False(t, c.TryAdmit(), "still in flight")

	c.Complete()
	assert.True(t, c.TryAdmit())
}

func TestConcurrentAdmissionNeverExceedsOne(t *testing.T) {
	c := NewController(Options{})

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if !c.TryAdmit() {
					continue
				}
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				if i%50 == 0 {
					time.Sleep(time.Microsecond)
				}
				active.Add(-1)
				c.Complete()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	s := c.Stats()
	assert.Equal(t, uint64(16*500), s.Admitted+s.Dropped)
	assert.Equal(t, Idle, s.State)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "processing", Processing.String())
	assert.Equal(t, "unknown", State(7).String())
}
