package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/schoolops/rollcall/pkg/types"
)

func TestProfileCache(t *testing.T) {
	c := NewProfileCache()

	_, ok := c.Get("1001")
	assert.False(t, ok)

	c.Put(types.Profile{MemberID: "1001", FirstName: "Ada", LastName: "Byron"})
	p, ok := c.Get("1001")
	assert.True(t, ok)
	assert.Equal(t, "Ada", p.FirstName)
	assert.Equal(t, 1, c.Len())

	// Replacement, not duplication
	c.Put(types.Profile{MemberID: "1001", FirstName: "Augusta"})
	p, _ = c.Get("1001")
	assert.Equal(t, "Augusta", p.FirstName)
	assert.Equal(t, 1, c.Len())
}

func TestProfileCacheConcurrentWrites(t *testing.T) {
	c := NewProfileCache()

	// Fan-out writers hit distinct keys, mirroring per-member fetches
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("m-%d", i)
			c.Put(types.Profile{MemberID: id})
			_, ok := c.Get(id)
			assert.True(t, ok)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, c.Len())
}

func TestChangeCacheTake(t *testing.T) {
	c := NewChangeCache()

	_, ok := c.Take("1001")
	assert.False(t, ok)

	c.Put(types.ChangeRecord{MemberID: "1001", Type: types.ChangeTypeBus, RouteID: "r7"})
	assert.Equal(t, 1, c.Len())

	rec, ok := c.Take("1001")
	assert.True(t, ok)
	assert.Equal(t, "r7", rec.RouteID)
	assert.Equal(t, 0, c.Len())

	// Take consumes the entry
	_, ok = c.Take("1001")
	assert.False(t, ok)
}
