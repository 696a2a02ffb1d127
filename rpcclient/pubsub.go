package rpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/KOMKZ/go-yogan-accountsync/errdef"
	"github.com/KOMKZ/go-yogan-accountsync/logger"
	"github.com/KOMKZ/go-yogan-accountsync/subscription"
)

// pubsub multiplexes account feeds over one websocket connection, dialing
// a new one after the previous connection dropped.
type pubsub struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *logger.CtxZapLogger
	nextID atomic.Uint64

	mu     sync.Mutex
	conn   *wsConn
	feeds  map[uint64]*feed // by local feed id
	closed bool
}

func newPubsub(cfg Config, dialer *websocket.Dialer, l *logger.CtxZapLogger) *pubsub {
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		}
	}
	return &pubsub{cfg: cfg, dialer: dialer, logger: l, feeds: make(map[uint64]*feed)}
}

func (p *pubsub) connection(ctx context.Context) (*wsConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errdef.ErrClosed.WithMsg("rpc client is closed")
	}
	if p.conn != nil && !p.conn.isClosed() {
		return p.conn, nil
	}

	header := http.Header{}
	for k, v := range p.cfg.Headers {
		header.Set(k, v)
	}
	ws, _, err := p.dialer.DialContext(ctx, p.cfg.WSEndpoint, header)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errdef.ErrTransport.WithMsg("websocket dial failed").
			WithData("endpoint", p.cfg.WSEndpoint).
			Wrap(err)
	}
	p.logger.Debug("websocket connected", zap.String("endpoint", p.cfg.WSEndpoint))
	p.conn = newWSConn(ws, p.cfg, p.logger)
	return p.conn, nil
}

func (p *pubsub) open(ctx context.Context, address string, commitment subscription.Commitment) (*feed, error) {
	conn, err := p.connection(ctx)
	if err != nil {
		return nil, err
	}
	f := newFeed(p.nextID.Add(1), address, conn, p.cfg.FeedBuffer)
	if _, err := conn.request(ctx, "accountSubscribe", []interface{}{address, readConfig(commitment)}, f); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.feeds[f.id] = f
	p.mu.Unlock()
	return f, nil
}

func (p *pubsub) close(ctx context.Context, id uint64) error {
	p.mu.Lock()
	f, ok := p.feeds[id]
	delete(p.feeds, id)
	p.mu.Unlock()
	if !ok {
		return nil
	}

	f.conn.forget(f)
	f.end(nil)
	if f.conn.isClosed() {
		return nil
	}
	raw, err := f.conn.request(ctx, "accountUnsubscribe", []interface{}{f.serverID}, nil)
	if err != nil {
		return err
	}
	var accepted bool
	if err := decodeResult("accountUnsubscribe", raw, &accepted); err != nil {
		return err
	}
	if !accepted {
		return errdef.ErrTransport.WithMsg("accountUnsubscribe was refused").WithData("subscription", f.serverID)
	}
	return nil
}

func (p *pubsub) shutdown() {
	p.mu.Lock()
	p.closed = true
	conn := p.conn
	p.conn = nil
	p.feeds = make(map[uint64]*feed)
	p.mu.Unlock()
	if conn != nil {
		conn.fail(errdef.ErrClosed.WithMsg("rpc client is closed"))
	}
}

// wsConn is one websocket connection. Its read loop resolves pending
// requests by id and routes notifications by server subscription id.
type wsConn struct {
	ws     *websocket.Conn
	cfg    Config
	logger *logger.CtxZapLogger
	nextID atomic.Uint64

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]*call
	feeds   map[uint64]*feed // by server subscription id
	err     error
	done    chan struct{}
}

type call struct {
	resp chan rpcMessage
	feed *feed // set for accountSubscribe
}

func newWSConn(ws *websocket.Conn, cfg Config, l *logger.CtxZapLogger) *wsConn {
	c := &wsConn{
		ws:      ws,
		cfg:     cfg,
		logger:  l,
		pending: make(map[uint64]*call),
		feeds:   make(map[uint64]*feed),
		done:    make(chan struct{}),
	}
	_ = ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})
	go c.readLoop()
	go c.pingLoop()
	return c
}

func (c *wsConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *wsConn) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *wsConn) request(ctx context.Context, method string, params []interface{}, f *feed) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	cl := &call{resp: make(chan rpcMessage, 1), feed: f}

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, connErr(err)
	}
	c.pending[id] = cl
	c.mu.Unlock()

	if err := c.write(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		c.drop(id, f)
		return nil, errdef.ErrTransport.WithMsgf("%s: write failed", method).Wrap(err)
	}

	select {
	case msg := <-cl.resp:
		if msg.Error != nil {
			return nil, msg.Error.err(method)
		}
		return msg.Result, nil
	case <-c.done:
		return nil, connErr(c.closeErr())
	case <-ctx.Done():
		c.drop(id, f)
		return nil, ctx.Err()
	}
}

func connErr(err error) error {
	if errors.Is(err, errdef.ErrClosed) {
		return err
	}
	return errdef.ErrTransport.WithMsg("websocket connection lost").Wrap(err)
}

func (c *wsConn) write(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	return c.ws.WriteJSON(v)
}

// drop abandons a request. A subscription the node already acknowledged
// stays registered server side until the connection closes.
func (c *wsConn) drop(id uint64, f *feed) {
	c.mu.Lock()
	delete(c.pending, id)
	if f != nil && f.serverID != 0 {
		delete(c.feeds, f.serverID)
	}
	c.mu.Unlock()
}

func (c *wsConn) forget(f *feed) {
	c.mu.Lock()
	if c.feeds[f.serverID] == f {
		delete(c.feeds, f.serverID)
	}
	c.mu.Unlock()
}

func (c *wsConn) readLoop() {
	for {
		var msg rpcMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if !c.isClosed() {
				c.logger.Warn("websocket connection lost", zap.Error(err))
			}
			c.fail(err)
			return
		}
		if msg.Method != "" {
			c.dispatch(msg)
			continue
		}
		c.resolve(msg)
	}
}

func (c *wsConn) resolve(msg rpcMessage) {
	c.mu.Lock()
	cl, ok := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	if ok && cl.feed != nil && msg.Error == nil {
		var serverID uint64
		if err := json.Unmarshal(msg.Result, &serverID); err == nil {
			// registered before the caller wakes so no early notification is lost
			cl.feed.serverID = serverID
			c.feeds[serverID] = cl.feed
		}
	}
	c.mu.Unlock()
	if ok {
		cl.resp <- msg
	}
}

func (c *wsConn) dispatch(msg rpcMessage) {
	if msg.Method != "accountNotification" {
		return
	}
	var p accountNotificationParams
	if err := json.Unmarshal(msg.Params, &p); err != nil {
		c.logger.Warn("dropping malformed account notification", zap.Error(err))
		return
	}
	c.mu.Lock()
	f := c.feeds[p.Subscription]
	c.mu.Unlock()
	if f == nil {
		return
	}

	n := subscription.Notification{Address: f.address, Slot: p.Result.Context.Slot}
	acc, err := p.Result.Value.account()
	if err != nil {
		c.logger.Warn("dropping undecodable account notification",
			zap.String("address", f.address),
			zap.Uint64("slot", n.Slot),
			zap.Error(err))
		return
	}
	if acc != nil {
		n.Data = acc.Data
		n.Lamports = acc.Lamports
		n.Owner = acc.Owner
		n.Executable = acc.Executable
		n.RentEpoch = acc.RentEpoch
	}
	f.deliver(n, c.done)
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait))
			c.writeMu.Unlock()
			if err != nil {
				c.fail(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// fail closes the connection once and ends every feed with err.
func (c *wsConn) fail(err error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = err
	feeds := c.feeds
	c.feeds = make(map[uint64]*feed)
	c.pending = make(map[uint64]*call)
	close(c.done)
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = c.ws.Close()

	ferr := connErr(err)
	for _, f := range feeds {
		f.end(ferr)
	}
}

// feed implements subscription.Feed for one accountSubscribe.
type feed struct {
	id       uint64
	serverID uint64
	address  string
	conn     *wsConn
	ch       chan subscription.Notification

	stop     chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	closed bool
	err    error
}

func newFeed(id uint64, address string, conn *wsConn, buffer int) *feed {
	return &feed{
		id:      id,
		address: address,
		conn:    conn,
		ch:      make(chan subscription.Notification, buffer),
		stop:    make(chan struct{}),
	}
}

func (f *feed) ID() uint64 { return f.id }

func (f *feed) Notifications() <-chan subscription.Notification { return f.ch }

func (f *feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *feed) deliver(n subscription.Notification, connDone <-chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.ch <- n:
	case <-f.stop:
	case <-connDone:
	}
}

func (f *feed) end(err error) {
	f.stopOnce.Do(func() { close(f.stop) })
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.err = err
	close(f.ch)
}
