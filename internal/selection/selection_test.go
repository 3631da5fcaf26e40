package selection

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zktools/zk-tools/models"
)

var (
	termA = models.Terminal{Host: "10.0.0.1", Port: 4370}
	termB = models.Terminal{Host: "10.0.0.2", Port: 4370}
)

func staff() []models.Employee {
	return []models.Employee{
		{UID: 1, Name: "Luis", UserID: "100"},
		{UID: 2, Name: "Eva", UserID: "200"},
		{UID: 3, Name: "Rosa", UserID: "300"},
	}
}

func TestSelectIsIdempotent(t *testing.T) {
	s := NewStore(0)
	s.SetEmployees("s1", termA, staff())

	assert.Equal(t, 2, s.Select("s1", termA, []int{3, 1}))
	first := s.Selected("s1", termA)
	assert.Equal(t, 2, s.Select("s1", termA, []int{1, 3, 1}))
	assert.Equal(t, first, s.Selected("s1", termA))
	assert.Equal(t, []int{1, 3}, first)
}

func TestSelectIgnoresUnknownUIDs(t *testing.T) {
	s := NewStore(0)
	assert.Equal(t, 0, s.Select("s1", termA, []int{1}), "nothing cached")

	s.SetEmployees("s1", termA, staff())
	assert.Equal(t, 1, s.Select("s1", termA, []int{2, 42}))
	assert.Equal(t, []int{2}, s.Selected("s1", termA))
}

func TestSessionsAreIsolated(t *testing.T) {
	s := NewStore(0)
	s.SetEmployees("s1", termA, staff())
	s.Select("s1", termA, []int{1})

	_, ok := s.Employees("s2", termA)
	assert.False(t, ok)
	assert.Empty(t, s.Selected("s2", termA))

	_, ok = s.Employees("s1", termB)
	assert.False(t, ok)
}

func TestSetEmployeesClearsSelection(t *testing.T) {
	s := NewStore(0)
	s.SetEmployees("s1", termA, staff())
	s.Select("s1", termA, []int{1, 2})

	s.SetEmployees("s1", termA, staff()[:1])
	assert.Empty(t, s.Selected("s1", termA))
}

func TestSelectedEmployeesKeepCacheOrder(t *testing.T) {
	s := NewStore(0)
	s.SetEmployees("s1", termA, staff())
	s.Select("s1", termA, []int{3, 1})

	got := s.SelectedEmployees("s1", termA)
	require.Len(t, got, 2)
	assert.Equal(t, "Luis", got[0].Name)
	assert.Equal(t, "Rosa", got[1].Name)
}

func TestRemove(t *testing.T) {
	s := NewStore(0)
	s.SetEmployees("s1", termA, staff())
	s.Select("s1", termA, []int{1, 2})

	s.Remove("s1", termA, []int{2})
	emps, ok := s.Employees("s1", termA)
	require.True(t, ok)
	assert.Len(t, emps, 2)
	assert.Equal(t, []int{1}, s.Selected("s1", termA))
}

func TestEmployeesReturnsCopy(t *testing.T) {
	s := NewStore(0)
	s.SetEmployees("s1", termA, staff())

	emps, _ := s.Employees("s1", termA)
	emps[0].Name = "changed"

	again, _ := s.Employees("s1", termA)
	assert.Equal(t, "Luis", again[0].Name)
}

func TestClear(t *testing.T) {
	s := NewStore(0)
	s.SetEmployees("s1", termA, staff())
	s.SetEmployees("s1", termB, staff()[:1])

	assert.Equal(t, 3, s.Clear("s1", termA))
	assert.Equal(t, 0, s.Clear("s1", termA))
	_, ok := s.Employees("s1", termB)
	assert.True(t, ok)

	s.ClearAll("s1")
	_, ok = s.Employees("s1", termB)
	assert.False(t, ok)
}

func TestEmptyTerminal(t *testing.T) {
	s := NewStore(0)
	s.SetEmployees("s1", termA, nil)

	emps, ok := s.Employees("s1", termA)
	assert.True(t, ok)
	assert.Empty(t, emps)
	assert.Equal(t, 0, s.Select("s1", termA, nil))
}

func TestFlashes(t *testing.T) {
	s := NewStore(0)
	s.AddFlash("s1", "error", "terminal unreachable")
	s.AddFlash("s1", "success", "done")

	assert.Equal(t, []Flash{{"error", "terminal unreachable"}, {"success", "done"}}, s.Flashes("s1"))
	assert.Empty(t, s.Flashes("s1"))
	assert.Empty(t, s.Flashes("s2"))
}

func TestIdleSessionsArePruned(t *testing.T) {
	now := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	s := NewStore(time.Hour)
	s.now = func() time.Time { return now }

	s.SetEmployees("old", termA, staff())
	now = now.Add(2 * time.Hour)
	s.SetEmployees("new", termA, staff())

	s.mu.Lock()
	_, ok := s.sessions["old"]
	s.mu.Unlock()
	assert.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	s := NewStore(0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.SetEmployees("s1", termA, staff())
				s.Select("s1", termA, []int{1, 2})
				s.SelectedEmployees("s1", termA)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, len(s.Selected("s1", termA)), 2)
}
