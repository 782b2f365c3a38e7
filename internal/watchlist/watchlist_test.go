package watchlist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeWatchlist(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "watchlist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidEntries(t *testing.T) {
	path := writeWatchlist(t, `
positions:
  - user_id: 100
    chat_id: 200
    asset: btc
    size: 1.5
    threshold: 90000
    auto_hedge:
      strategy: delta_cut
      trigger: 120000
      enabled: true
  - user_id: 101
    asset: ETH
    size: 10
    threshold: 40000
`)

	entries, err := NewManager(zaptest.NewLogger(t)).Load(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "BTC", entries[0].Asset)
	require.NotNil(t, entries[0].AutoHedge)
	assert.Equal(t, 120000.0, entries[0].AutoHedge.Trigger)

	// chat_id defaults to user_id when omitted.
	assert.Equal(t, int64(101), entries[1].ChatID)
	assert.Nil(t, entries[1].AutoHedge)
}

func TestLoadSkipsInvalidEntries(t *testing.T) {
	path := writeWatchlist(t, `
positions:
  - user_id: 100
    asset: BTC
    size: -1
    threshold: 90000
  - user_id: 0
    asset: ETH
    size: 1
    threshold: 1000
  - user_id: 102
    asset: SOL
    size: 5
    threshold: 2000
    auto_hedge:
      strategy: x
      trigger: -10
`)

	entries, err := NewManager(zaptest.NewLogger(t)).Load(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, "SOL", entries[0].Asset)
	// Invalid auto-hedge block is dropped, the position kept.
	assert.Nil(t, entries[0].AutoHedge)
}

func TestLoadFailsWhenNothingValid(t *testing.T) {
	path := writeWatchlist(t, `
positions:
  - user_id: 100
    asset: ""
    size: 1
    threshold: 1000
`)

	_, err := NewManager(zaptest.NewLogger(t)).Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewManager(zaptest.NewLogger(t)).Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
