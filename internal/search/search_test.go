package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSearcher struct {
	results []Result
	err     error
	calls   int
}

func (s *stubSearcher) Name() string { return "stub" }

func (s *stubSearcher) Search(ctx context.Context, query string) ([]Result, error) {
	s.calls++
	return s.results, s.err
}

func TestDisabled(t *testing.T) {
	_, err := Disabled{}.Search(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrSearchNotConfigured)
	assert.Equal(t, "none", Disabled{}.Name())
}

func TestInstrumentPassesThrough(t *testing.T) {
	stub := &stubSearcher{results: []Result{{Title: "a", URL: "https://a"}}}
	s := Instrument(stub)

	got, err := s.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, stub.results, got)
	assert.Equal(t, "stub", s.Name())

	stub.err = errors.New("down")
	_, err = s.Search(context.Background(), "q")
	assert.EqualError(t, err, "down")
	assert.Equal(t, 2, stub.calls)
}

func TestInstrumentIdempotent(t *testing.T) {
	s := Instrument(&stubSearcher{})
	assert.Same(t, s, Instrument(s))
	assert.Nil(t, Instrument(nil))
}
