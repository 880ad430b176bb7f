package statestore_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"soconboard/internal/statestore"
)

func TestIssueConsumeOnce(t *testing.T) {
	s := statestore.NewMemory(15 * time.Minute)

	tok, err := s.Issue("https://portal.example/callback")
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	uri, err := s.Consume(tok)
	require.NoError(t, err)
	require.Equal(t, "https://portal.example/callback", uri)

	_, err = s.Consume(tok)
	require.ErrorIs(t, err, statestore.ErrNotFound)
}

func TestConsumeUnknownToken(t *testing.T) {
	s := statestore.NewMemory(15 * time.Minute)
	_, err := s.Consume("nope")
	require.ErrorIs(t, err, statestore.ErrNotFound)
}

func TestTokensAreUnique(t *testing.T) {
	s := statestore.NewMemory(15 * time.Minute)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok, err := s.Issue("https://x")
		require.NoError(t, err)
		require.False(t, seen[tok])
		seen[tok] = true
	}
}

func TestConcurrentConsumeExactlyOneWins(t *testing.T) {
	s := statestore.NewMemory(15 * time.Minute)
	tok, err := s.Issue("https://x")
	require.NoError(t, err)

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan string, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if uri, err := s.Consume(tok); err == nil {
				wins <- uri
			}
		}()
	}
	wg.Wait()
	close(wins)

	var got []string
	for uri := range wins {
		got = append(got, uri)
	}
	require.Len(t, got, 1)
	require.Equal(t, "https://x", got[0])
}

func TestExpiredTokenRejected(t *testing.T) {
	s := statestore.NewMemory(time.Millisecond)
	tok, err := s.Issue("https://x")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = s.Consume(tok)
	require.ErrorIs(t, err, statestore.ErrNotFound)
}
