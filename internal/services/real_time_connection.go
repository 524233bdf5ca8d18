package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Daneel-Li/feedback-dash/internal/view"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type WSMessage struct {
	Type string      `json:"type"` // hello/view/pong/error
	Data interface{} `json:"data,omitempty"`
}

// inbound frame; Data is decoded per Type
type wsRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ViewPush 推送给终端的视图
type ViewPush struct {
	Collection string      `json:"collection"`
	Params     view.Params `json:"params"`
	Result     view.Result `json:"result"`
}

// ViewProvider builds views for the terminals.
type ViewProvider interface {
	View(collection string, p view.Params) (view.Result, error)
	DefaultParams() view.Params
}

type TerminalKey string

func generateTerminalKey() TerminalKey {
	return TerminalKey(uuid.New().String())
}

// terminal 一个连接对应一个终端
type terminal struct {
	key        TerminalKey
	conn       *websocket.Conn
	writeMu    sync.Mutex
	collection string
}

func (t *terminal) writeJSON(v interface{}) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	slog.Debug("WriteJSON", "remote_addr", t.conn.RemoteAddr().String(), "terminal", t.key)
	t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return t.conn.WriteJSON(v)
}

func (t *terminal) ping() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
}

type WSManager struct {
	terminals       map[TerminalKey]*terminal
	views           ViewProvider
	params          *ParamStore
	pool            gopool.Pool
	cleanupInterval time.Duration
	helloTimeout    time.Duration
	paramTTL        time.Duration
	sync.RWMutex
}

const defaultParamTTL = 24 * time.Hour

func NewWsManager(views ViewProvider, params *ParamStore, cleanupInterval time.Duration) *WSManager {
	if params == nil {
		params = NewParamStore("")
	}
	return &WSManager{
		terminals:       make(map[TerminalKey]*terminal),
		views:           views,
		params:          params,
		pool:            gopool.NewPool("ws_push", 64, gopool.NewConfig()),
		cleanupInterval: cleanupInterval,
		helloTimeout:    5 * time.Second,
		paramTTL:        defaultParamTTL,
	}
}

// SetParamTTL 断开后视图参数保留的时长，<=0 表示永久保留
func (m *WSManager) SetParamTTL(d time.Duration) {
	m.Lock()
	defer m.Unlock()
	m.paramTTL = d
}

func (m *WSManager) getTerminal(key TerminalKey) *terminal {
	m.RLock()
	defer m.RUnlock()
	return m.terminals[key]
}

func (m *WSManager) setTerminal(t *terminal) {
	m.Lock()
	defer m.Unlock()
	if old, ok := m.terminals[t.key]; ok && old.conn != t.conn {
		old.conn.Close()
	}
	m.terminals[t.key] = t
}

// RemoveConnection 删除连接，仅当仍是同一连接时
func (m *WSManager) RemoveConnection(key TerminalKey, conn *websocket.Conn) {
	m.Lock()
	defer m.Unlock()
	if t, ok := m.terminals[key]; ok && t.conn == conn {
		delete(m.terminals, key)
		// 参数的保留期从断开时算起
		m.params.Touch(string(key))
	}
}

func (m *WSManager) PushMsg(key TerminalKey, v interface{}) error {
	t := m.getTerminal(key)
	if t == nil {
		return fmt.Errorf("no connection found for key: %s", key)
	}
	return t.writeJSON(v)
}

// Count 当前连接数
func (m *WSManager) Count() int {
	m.RLock()
	defer m.RUnlock()
	return len(m.terminals)
}

type helloRequest struct {
	WsKey      string       `json:"ws_key"` // 重连时带上原来的key，沿用之前的视图参数
	Collection string       `json:"collection"`
	Params     *view.Params `json:"params"`
}

// Register reads the hello frame, answers with the terminal key and the first view,
// then serves the connection until it closes.
func (m *WSManager) Register(conn *websocket.Conn) {
	defer func() {
		if err := recover(); err != nil {
			slog.Error("ws register panic", "error", err)
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "Server Error"),
				time.Now().Add(5*time.Second),
			)
			conn.Close()
		}
	}()

	// 首帧超时
	conn.SetReadDeadline(time.Now().Add(m.helloTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}

	var hello helloRequest
	if err := json.Unmarshal(msg, &hello); err != nil || hello.Collection == "" {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Invalid hello msg"))
		conn.Close()
		return
	}

	key := TerminalKey(hello.WsKey)
	if key == "" || !m.params.Has(hello.WsKey) {
		key = generateTerminalKey()
	}
	t := &terminal{key: key, conn: conn, collection: hello.Collection}
	m.setTerminal(t)

	if err := t.writeJSON(WSMessage{
		Type: "hello",
		Data: map[string]interface{}{"terminal_key": string(key)}}); err != nil {
		slog.Error("push hello msg failed", "error", err)
	}
	if hello.Params != nil {
		m.params.Set(string(key), hello.Collection, hello.Params.Normalized())
	} else if _, ok := m.params.Get(string(key), hello.Collection); !ok {
		m.params.Set(string(key), hello.Collection, m.views.DefaultParams())
	}
	m.pushView(t)

	go m.handleConnection(t)
}

func (m *WSManager) handleConnection(t *terminal) {
	defer func() {
		m.RemoveConnection(t.key, t.conn)
		t.conn.Close()
	}()

	t.conn.SetReadDeadline(time.Time{})
	for {
		_, msg, err := t.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn(fmt.Sprintf("终端 %v 异常断开: %v", t.key, err))
			}
			return
		}
		slog.Debug("收到终端消息", "terminal", t.key, "msg", string(msg))

		var req wsRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			slog.Error(fmt.Sprintf("解析终端 %v 消息失败: %v", t.key, err))
			m.pushError(t, "invalid message")
			continue
		}
		if err := m.dispatch(t, req); err != nil {
			m.pushError(t, err.Error())
		}
	}
}

var errUnknownMessage = errors.New("unknown message type")

// dispatch applies one client request to the terminal's view params.
func (m *WSManager) dispatch(t *terminal, req wsRequest) error {
	if req.Type == "ping" {
		return t.writeJSON(WSMessage{Type: "pong"})
	}

	m.RLock()
	collection := t.collection
	m.RUnlock()
	p, ok := m.params.Get(string(t.key), collection)
	if !ok {
		p = m.views.DefaultParams()
	}

	switch req.Type {
	case "subscribe":
		var body struct {
			Collection string `json:"collection"`
		}
		if err := json.Unmarshal(req.Data, &body); err != nil || body.Collection == "" {
			return errors.New("collection is required")
		}
		m.Lock()
		t.collection = body.Collection
		m.Unlock()
		if _, ok := m.params.Get(string(t.key), body.Collection); !ok {
			m.params.Set(string(t.key), body.Collection, m.views.DefaultParams())
		}
		m.pushView(t)
		return nil
	case "sort":
		var body struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(req.Data, &body); err != nil {
			return err
		}
		key, err := view.ParseSortKey(body.Key)
		if err != nil {
			return err
		}
		p.ToggleSort(key)
	case "page":
		var body struct {
			Page int `json:"page"`
		}
		if err := json.Unmarshal(req.Data, &body); err != nil {
			return err
		}
		p.SetPage(body.Page)
	case "page_size":
		var body struct {
			PageSize int `json:"page_size"`
		}
		if err := json.Unmarshal(req.Data, &body); err != nil {
			return err
		}
		p.SetPageSize(body.PageSize)
	case "params":
		var body view.Params
		if err := json.Unmarshal(req.Data, &body); err != nil {
			return err
		}
		p = body.Normalized()
	default:
		return fmt.Errorf("%w: %s", errUnknownMessage, req.Type)
	}

	m.params.Set(string(t.key), collection, p)
	m.pushView(t)
	return nil
}

func (m *WSManager) pushError(t *terminal, msg string) {
	if err := t.writeJSON(WSMessage{Type: "error", Data: map[string]string{"message": msg}}); err != nil {
		slog.Error("push error msg failed", "terminal", t.key, "error", err)
	}
}

func (m *WSManager) pushView(t *terminal) {
	m.RLock()
	collection := t.collection
	m.RUnlock()

	p, ok := m.params.Get(string(t.key), collection)
	if !ok {
		p = m.views.DefaultParams()
	}
	res, err := m.views.View(collection, p)
	if err != nil {
		m.pushError(t, err.Error())
		return
	}
	if err := m.PushMsg(t.key, WSMessage{Type: "view", Data: ViewPush{Collection: collection, Params: p, Result: res}}); err != nil {
		slog.Warn("push view failed", "terminal", t.key, "error", err)
	}
}

// OnSnapshot pushes a fresh view to every terminal looking at collection.
func (m *WSManager) OnSnapshot(collection string) {
	m.RLock()
	var targets []*terminal
	for _, t := range m.terminals {
		if t.collection == collection {
			targets = append(targets, t)
		}
	}
	m.RUnlock()

	for _, t := range targets {
		m.pool.Go(func() { m.pushView(t) })
	}
}

// Start 定时清理失效连接
func (m *WSManager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.cleanupDeadConnections()
			case <-ctx.Done():
				m.closeAll()
				return
			}
		}
	}()
}

func (m *WSManager) cleanupDeadConnections() {
	m.RLock()
	targets := make([]*terminal, 0, len(m.terminals))
	for _, t := range m.terminals {
		targets = append(targets, t)
	}
	m.RUnlock()

	for _, t := range targets {
		if err := t.ping(); err != nil {
			// 连接已失效
			slog.Info("remove dead terminal", "terminal", t.key, "error", err)
			m.RemoveConnection(t.key, t.conn)
			t.conn.Close()
		}
	}

	m.RLock()
	live := make(map[string]bool, len(m.terminals))
	for key := range m.terminals {
		live[string(key)] = true
	}
	ttl := m.paramTTL
	m.RUnlock()
	if n := m.params.Expire(ttl, live); n > 0 {
		slog.Info("expired idle terminal params", "count", n)
	}
}

func (m *WSManager) closeAll() {
	m.Lock()
	defer m.Unlock()
	for key, t := range m.terminals {
		t.writeMu.Lock()
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		t.conn.Close()
		delete(m.terminals, key)
	}
}
