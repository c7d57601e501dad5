package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"replikv/internal/wire"
)

func TestStoreApplyAndGet(t *testing.T) {
	s := NewStore()

	_, ok := s.Get("a")
	assert.False(t, ok)

	s.Apply([]wire.Entry{
		{Index: 0, Term: 1, Key: "a", Value: "1"},
		{Index: 1, Term: 1, Key: "b", Value: "2"},
	})

	v, ok := s.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	assert.Equal(t, 2, s.Len())
}

func TestStoreLaterWriteWins(t *testing.T) {
	s := NewStore()

	s.Apply([]wire.Entry{
		{Index: 0, Term: 1, Key: "a", Value: "1"},
		{Index: 1, Term: 2, Key: "a", Value: "2"},
	})

	v, _ := s.Get("a")
	assert.Equal(t, "2", v)
	assert.Equal(t, 1, s.Len())
}

func TestStoreReplayIsIdempotent(t *testing.T) {
	s := NewStore()
	prefix := []wire.Entry{
		{Index: 0, Term: 1, Key: "a", Value: "1"},
		{Index: 1, Term: 1, Key: "b", Value: "2"},
	}

	s.Apply(prefix)
	s.Apply(prefix)

	v, _ := s.Get("a")
	assert.Equal(t, "1", v)
	assert.Equal(t, 2, s.Len())
}
