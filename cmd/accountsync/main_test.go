package main

import (
	"bufio"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KOMKZ/go-yogan-accountsync/health"
	"github.com/KOMKZ/go-yogan-accountsync/testutil"
)

const (
	addrA = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	addrB = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
)

func decodeLines[T any](t *testing.T, out string) []T {
	t.Helper()
	var lines []T
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, `{"address"`) {
			continue
		}
		var v T
		require.NoError(t, json.Unmarshal([]byte(line), &v), line)
		lines = append(lines, v)
	}
	return lines
}

func TestFetchCommand(t *testing.T) {
	tc := testutil.NewCLITestContext(t, testutil.CLITestOptions{})
	tc.Node.SetAccount(addrA, []byte("hello"), "")
	tc.Node.SetSlot(42)

	out, err := testutil.ExecuteCommand(newRootCmd(), "--config", tc.ConfigDir, "fetch", "-e", "hex", addrA, addrB)
	require.NoError(t, err, out)

	results := decodeLines[fetchResult](t, out)
	require.Len(t, results, 2)
	assert.Equal(t, addrA, results[0].Address)
	assert.True(t, results[0].Found)
	assert.Equal(t, uint64(42), results[0].Slot)
	require.NotNil(t, results[0].Account)
	assert.Equal(t, hex.EncodeToString([]byte("hello")), results[0].Account.Data)
	assert.Equal(t, "hex", results[0].Account.Encoding)
	assert.Equal(t, 5, results[0].Account.Size)

	assert.Equal(t, addrB, results[1].Address)
	assert.False(t, results[1].Found)
	assert.Nil(t, results[1].Account)
}

func TestFetchCommand_Errors(t *testing.T) {
	tc := testutil.NewCLITestContext(t, testutil.CLITestOptions{})

	t.Run("invalid address", func(t *testing.T) {
		out, err := testutil.ExecuteCommand(newRootCmd(), "--config", tc.ConfigDir, "fetch", addrA, "not-base58-0OIl")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 of 2 accounts failed")
		results := decodeLines[fetchResult](t, out)
		require.Len(t, results, 2)
		assert.Empty(t, results[0].Error)
		assert.NotEmpty(t, results[1].Error)
	})

	t.Run("unknown encoding", func(t *testing.T) {
		_, err := testutil.ExecuteCommand(newRootCmd(), "--config", tc.ConfigDir, "fetch", "-e", "base32", addrA)
		assert.ErrorContains(t, err, "unknown encoding")
	})

	t.Run("unknown commitment", func(t *testing.T) {
		_, err := testutil.ExecuteCommand(newRootCmd(), "--config", tc.ConfigDir, "fetch", "-c", "recent", addrA)
		assert.ErrorContains(t, err, "unknown commitment")
	})

	t.Run("invalid config", func(t *testing.T) {
		bad := testutil.NewCLITestContext(t, testutil.CLITestOptions{Config: map[string]interface{}{
			"accountsync": map[string]interface{}{"batch_size": 1000},
		}})
		_, err := testutil.ExecuteCommand(newRootCmd(), "--config", bad.ConfigDir, "fetch", addrA)
		assert.ErrorContains(t, err, "batch_size")
	})
}

func TestWatchCommand(t *testing.T) {
	tc := testutil.NewCLITestContext(t, testutil.CLITestOptions{})
	tc.Node.SetAccount(addrA, []byte("v1"), "")
	tc.Node.SetSlot(10)

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := testutil.ExecuteCommand(newRootCmd(),
			"--config", tc.ConfigDir, "watch", "--initial", "--count", "1", "--duration", "10s", addrA)
		done <- result{out, err}
	}()

	sub := tc.Node.WaitSubscribed(t, addrA)
	// the first notification can race the subscription ack, so keep
	// pushing until the command exits
	var res result
	slot := uint64(11)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(5 * time.Second)
loop:
	for {
		select {
		case res = <-done:
			break loop
		case <-tick.C:
			tc.Node.Notify(sub, slot, []byte("v2"), "")
			slot++
		case <-deadline:
			t.Fatal("watch did not exit")
		}
	}
	require.NoError(t, res.err, res.out)

	events := decodeLines[watchEvent](t, res.out)
	require.Len(t, events, 2)
	assert.True(t, events[0].Initial)
	assert.Equal(t, addrA, events[0].Address)
	assert.NotNil(t, events[0].Account)

	assert.False(t, events[1].Initial)
	assert.GreaterOrEqual(t, events[1].Slot, uint64(11))
	require.NotNil(t, events[1].Account)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("v2")), events[1].Account.Data)
}

func TestHealthCommand(t *testing.T) {
	tc := testutil.NewCLITestContext(t, testutil.CLITestOptions{})
	tc.Node.SetAccount(testutil.SystemProgram, []byte{1}, "")

	out, err := testutil.ExecuteCommand(newRootCmd(), "--config", tc.ConfigDir, "health")
	require.NoError(t, err, out)

	start := strings.Index(out, "{\n")
	require.GreaterOrEqual(t, start, 0, out)
	var resp health.Response
	require.NoError(t, json.Unmarshal([]byte(out[start:]), &resp))
	assert.Equal(t, health.StatusHealthy, resp.Status)
	assert.Contains(t, resp.Checks, "rpc")
	assert.Contains(t, resp.Checks, "accountsync")
}

func TestHealthCommand_NoProbe(t *testing.T) {
	tc := testutil.NewCLITestContext(t, testutil.CLITestOptions{Config: map[string]interface{}{
		"health": map[string]interface{}{"probe": "", "timeout": "2s"},
	}})
	tc.Node.FailWith(503)

	out, err := testutil.ExecuteCommand(newRootCmd(), "--config", tc.ConfigDir, "health")
	require.NoError(t, err, out)
	assert.NotContains(t, out, `"rpc"`)
	assert.Equal(t, 0, tc.Node.HTTPCalls())
}

func TestHealthCommand_NodeDown(t *testing.T) {
	tc := testutil.NewCLITestContext(t, testutil.CLITestOptions{Config: map[string]interface{}{
		"accountsync": map[string]interface{}{
			"recovery": map[string]interface{}{
				"retry": map[string]interface{}{"kind": "immediate", "max_attempts": 1},
			},
		},
	}})
	tc.Node.FailWith(503)

	out, err := testutil.ExecuteCommand(newRootCmd(), "--config", tc.ConfigDir, "health")
	require.Error(t, err, out)
	assert.Contains(t, err.Error(), "unhealthy")
}
