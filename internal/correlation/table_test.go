package correlation

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableLifecycle(t *testing.T) {
	tbl := New()

	tbl.MarkPending("temp-1")
	assert.True(t, tbl.Has("temp-1"))

	tbl.Resolve("temp-1", "srv-1")
	assert.False(t, tbl.Has("temp-1"))
	assert.True(t, tbl.Has("srv-1"))
	assert.Equal(t, 1, tbl.Len())

	assert.True(t, tbl.Claim("srv-1"))
	assert.False(t, tbl.Claim("srv-1"), "an id is claimed at most once")
	assert.Equal(t, 0, tbl.Len())
}

func TestRelease(t *testing.T) {
	tbl := New()
	tbl.MarkPending("temp-1")
	tbl.Release("temp-1")
	tbl.Release("never-added")
	assert.False(t, tbl.Has("temp-1"))
}

func TestConcurrentClaim(t *testing.T) {
	tbl := New()
	tbl.MarkPending("srv-1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tbl.Claim("srv-1") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestResolveNeverLosesBoth(t *testing.T) {
	tbl := New()
	for i := 0; i < 100; i++ {
		tmp := fmt.Sprintf("temp-%d", i)
		tbl.MarkPending(tmp)
		tbl.Resolve(tmp, fmt.Sprintf("srv-%d", i))
	}
	assert.Equal(t, 100, tbl.Len())
}
