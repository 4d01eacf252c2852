package eventlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogRecentReturnsEventsOldestFirst(t *testing.T) {
	l := New(10)
	l.Add("first")
	l.Add("second")
	l.Add("third")

	assert.Equal(t, []any{"first", "second", "third"}, l.Recent())
	assert.Equal(t, 3, l.Len())
}

func TestLogEvictsOldestWhenFull(t *testing.T) {
	l := New(2)
	l.Add("a")
	l.Add("b")
	l.Add("c")

	assert.Equal(t, 2, l.Len())
	assert.Equal(t, []any{"b", "c"}, l.Recent())
}

func TestNewDefaultsNonPositiveSizeTo256(t *testing.T) {
	l := New(0)
	for i := 0; i < 300; i++ {
		l.Add(i)
	}
	assert.Equal(t, 256, l.Len())
}
