// Package testutil runs an in-process account node for tests of the RPC
// client and the command line.
package testutil

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// SystemProgram is the default owner of accounts set on an RPCNode.
const SystemProgram = "11111111111111111111111111111111"

type nodeRequest struct {
	ID     uint64        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// RPCError is returned as the JSON-RPC error of every HTTP call once set
// with FailRPC.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type nodeAccount struct {
	data  []byte
	owner string
}

// RPCNode answers getAccountInfo and getMultipleAccounts over HTTP and
// accountSubscribe/accountUnsubscribe over a websocket on the same URL.
type RPCNode struct {
	tb       testing.TB
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu           sync.Mutex
	accounts     map[string]nodeAccount
	slot         uint64
	status       int
	rpcErr       *RPCError
	httpCalls    int
	lastParams   []interface{}
	dials        int
	conn         *websocket.Conn
	nextSub      uint64
	subs         map[uint64]string
	unsubscribed []uint64
	writeMu      sync.Mutex
}

// NewRPCNode starts a node that is closed with the test. Subscription ids
// start at 101.
func NewRPCNode(tb testing.TB) *RPCNode {
	n := &RPCNode{
		tb:       tb,
		accounts: map[string]nodeAccount{},
		slot:     1,
		nextSub:  100,
		subs:     map[uint64]string{},
	}
	n.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			n.serveWS(w, r)
			return
		}
		n.serveHTTP(w, r)
	}))
	tb.Cleanup(n.srv.Close)
	return n
}

func (n *RPCNode) URL() string { return n.srv.URL }

// SetAccount stores data under address, owned by SystemProgram when owner
// is empty.
func (n *RPCNode) SetAccount(address string, data []byte, owner string) {
	if owner == "" {
		owner = SystemProgram
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accounts[address] = nodeAccount{data: data, owner: owner}
}

func (n *RPCNode) SetSlot(slot uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.slot = slot
}

// FailWith answers every HTTP call with status. Zero restores normal
// answers.
func (n *RPCNode) FailWith(status int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = status
}

// FailRPC answers every HTTP call with a JSON-RPC error.
func (n *RPCNode) FailRPC(code int, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rpcErr = &RPCError{Code: code, Message: message}
}

func (n *RPCNode) HTTPCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.httpCalls
}

// LastParams returns the params of the latest HTTP call.
func (n *RPCNode) LastParams() []interface{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastParams
}

// Dials counts websocket connections.
func (n *RPCNode) Dials() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dials
}

func (n *RPCNode) Unsubscribed() []uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]uint64(nil), n.unsubscribed...)
}

// WaitSubscribed waits for a live subscription of address and returns its
// id.
func (n *RPCNode) WaitSubscribed(tb testing.TB, address string) uint64 {
	tb.Helper()
	var id uint64
	require.Eventually(tb, func() bool {
		n.mu.Lock()
		defer n.mu.Unlock()
		for sub, addr := range n.subs {
			if addr == address {
				id = sub
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "no subscription for %s", address)
	return id
}

func (n *RPCNode) value(address string) interface{} {
	acc, ok := n.accounts[address]
	if !ok {
		return nil
	}
	return map[string]interface{}{
		"data":       []string{base64.StdEncoding.EncodeToString(acc.data), "base64"},
		"lamports":   1000,
		"owner":      acc.owner,
		"executable": false,
		"rentEpoch":  uint64(18446744073709551615),
		"space":      len(acc.data),
	}
}

func (n *RPCNode) serveHTTP(w http.ResponseWriter, r *http.Request) {
	var req nodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.httpCalls++
	n.lastParams = req.Params
	if n.status != 0 {
		w.WriteHeader(n.status)
		return
	}
	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	switch {
	case n.rpcErr != nil:
		resp["error"] = n.rpcErr
	case req.Method == "getAccountInfo":
		resp["result"] = map[string]interface{}{
			"context": map[string]interface{}{"slot": n.slot},
			"value":   n.value(req.Params[0].(string)),
		}
	case req.Method == "getMultipleAccounts":
		var values []interface{}
		for _, a := range req.Params[0].([]interface{}) {
			values = append(values, n.value(a.(string)))
		}
		resp["result"] = map[string]interface{}{
			"context": map[string]interface{}{"slot": n.slot},
			"value":   values,
		}
	default:
		resp["error"] = RPCError{Code: -32601, Message: "Method not found"}
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *RPCNode) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.tb.Errorf("websocket upgrade: %v", err)
		return
	}
	n.mu.Lock()
	n.dials++
	n.conn = conn
	n.mu.Unlock()

	for {
		var req nodeRequest
		if err := conn.ReadJSON(&req); err != nil {
			n.mu.Lock()
			if n.conn == conn {
				n.subs = map[uint64]string{}
			}
			n.mu.Unlock()
			return
		}
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		n.mu.Lock()
		switch req.Method {
		case "accountSubscribe":
			n.nextSub++
			n.subs[n.nextSub] = req.Params[0].(string)
			resp["result"] = n.nextSub
		case "accountUnsubscribe":
			id := uint64(req.Params[0].(float64))
			n.unsubscribed = append(n.unsubscribed, id)
			_, ok := n.subs[id]
			delete(n.subs, id)
			resp["result"] = ok
		}
		n.mu.Unlock()
		n.write(conn, resp)
	}
}

func (n *RPCNode) write(conn *websocket.Conn, v interface{}) {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()
	_ = conn.WriteJSON(v)
}

// Notify pushes an account notification for subscription sub.
func (n *RPCNode) Notify(sub, slot uint64, data []byte, owner string) {
	if owner == "" {
		owner = SystemProgram
	}
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()
	if conn == nil {
		n.tb.Errorf("notify before any websocket connection")
		return
	}
	n.write(conn, map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "accountNotification",
		"params": map[string]interface{}{
			"subscription": sub,
			"result": map[string]interface{}{
				"context": map[string]interface{}{"slot": slot},
				"value": map[string]interface{}{
					"data":       []string{base64.StdEncoding.EncodeToString(data), "base64"},
					"lamports":   5,
					"owner":      owner,
					"executable": false,
					"rentEpoch":  7,
				},
			},
		},
	})
}

// DropConnection closes the current websocket from the node side.
func (n *RPCNode) DropConnection() {
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}
