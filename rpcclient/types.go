package rpcclient

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/KOMKZ/go-yogan-accountsync/errdef"
)

// Account is a raw on-chain account as returned by the node.
type Account struct {
	Data       []byte
	Lamports   uint64
	Owner      string
	Executable bool
	RentEpoch  uint64
	Space      uint64
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// rpcMessage is either a response (ID set) or a pubsub notification
// (Method set).
type rpcMessage struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// JSON-RPC codes the node uses for malformed requests.
const (
	codeInvalidRequest = -32600
	codeInvalidParams  = -32602
)

func (e *rpcError) err(method string) error {
	base := errdef.ErrTransport
	if e.Code == codeInvalidRequest || e.Code == codeInvalidParams {
		base = errdef.ErrInvalidArgument
	}
	return base.WithMsgf("%s: %s", method, e.Message).
		WithData("rpc_code", e.Code)
}

type rpcContext struct {
	Slot uint64 `json:"slot"`
}

type accountValue struct {
	Data       []string `json:"data"`
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
	Executable bool     `json:"executable"`
	RentEpoch  uint64   `json:"rentEpoch"`
	Space      uint64   `json:"space"`
}

func (v *accountValue) account() (*Account, error) {
	if v == nil {
		return nil, nil
	}
	acc := &Account{
		Lamports:   v.Lamports,
		Owner:      v.Owner,
		Executable: v.Executable,
		RentEpoch:  v.RentEpoch,
		Space:      v.Space,
	}
	if len(v.Data) > 0 {
		if len(v.Data) > 1 && v.Data[1] != "base64" {
			return nil, errdef.ErrDecodeFailure.WithMsgf("unexpected account encoding %q", v.Data[1])
		}
		raw, err := base64.StdEncoding.DecodeString(v.Data[0])
		if err != nil {
			return nil, errdef.ErrDecodeFailure.WithMsg("account data is not base64").Wrap(err)
		}
		acc.Data = raw
	}
	return acc, nil
}

type accountInfoResult struct {
	Context rpcContext    `json:"context"`
	Value   *accountValue `json:"value"`
}

type multipleAccountsResult struct {
	Context rpcContext      `json:"context"`
	Value   []*accountValue `json:"value"`
}

type accountNotificationParams struct {
	Result       accountInfoResult `json:"result"`
	Subscription uint64            `json:"subscription"`
}

func decodeResult(method string, raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return errdef.ErrTransport.WithMsg(fmt.Sprintf("%s: malformed result", method)).Wrap(err)
	}
	return nil
}
