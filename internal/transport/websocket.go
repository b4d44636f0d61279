//internal/transport/websocket.go
package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ==================== 常量定义 ====================

const (
	DefaultWriteTimeout = 10 * time.Second
	DefaultReadTimeout  = 90 * time.Second
	PingInterval        = 30 * time.Second
	SendQueueSize       = 256
	CloseGracePeriod    = 5 * time.Second
)

// ==================== 错误定义 ====================

var (
	ErrConnClosed   = errors.New("connection closed")
	ErrWriteTimeout = errors.New("write timeout")
)

// ==================== 连接包装器 ====================

// WSConn 客户端通道的写侧串行化包装。
// 所有出站帧经 sendCh 进入写泵，保证 FIFO 顺序；
// 写泵同时负责 30 秒一次的保活 ping。
type WSConn struct {
	conn    *websocket.Conn
	sendCh  chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    int32

	writeTimeout time.Duration
}

func NewWSConn(conn *websocket.Conn) *WSConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &WSConn{
		conn:         conn,
		sendCh:       make(chan []byte, SendQueueSize),
		ctx:          ctx,
		cancel:       cancel,
		writeTimeout: DefaultWriteTimeout,
	}
}

// Send 入队一帧二进制消息，队列长时间不消化视为通道已死
func (c *WSConn) Send(data []byte) error {
	if c.IsClosed() {
		return ErrConnClosed
	}

	select {
	case c.sendCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnClosed
	}
}

// WritePump 写泵主循环，由所属连接的 goroutine 运行
func (c *WSConn) WritePump() {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return

		case data := <-c.sendCh:
			if err := c.writeFrame(websocket.BinaryMessage, data); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			if err := c.writeFrame(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *WSConn) writeFrame(msgType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(msgType, data)
}

// ReadMessage 读取一帧，附带读超时刷新
func (c *WSConn) ReadMessage() (int, []byte, error) {
	if c.IsClosed() {
		return 0, nil, ErrConnClosed
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(DefaultReadTimeout))
	return c.conn.ReadMessage()
}

// SetPongHandler 注册 pong 处理器
func (c *WSConn) SetPongHandler(h func(string) error) {
	c.conn.SetPongHandler(h)
}

// RefreshReadDeadline 刷新读超时
func (c *WSConn) RefreshReadDeadline() error {
	return c.conn.SetReadDeadline(time.Now().Add(DefaultReadTimeout))
}

// Close 以正常关闭状态码收尾并释放连接，幂等。
// 队列中尚未发出的帧先冲刷再关闭，保证错误通告先于断开到达。
func (c *WSConn) Close() {
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.closed, 1)
		c.cancel()

		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(CloseGracePeriod))
	drain:
		for {
			select {
			case data := <-c.sendCh:
				_ = c.conn.WriteMessage(websocket.BinaryMessage, data)
			default:
				break drain
			}
		}
		_ = c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		_ = c.conn.Close()
		c.writeMu.Unlock()
	})
}

// IsClosed 检查连接是否已关闭
func (c *WSConn) IsClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// RemoteAddr 返回对端地址
func (c *WSConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ==================== 升级器 ====================

// Upgrader HTTP 到 WebSocket 的升级器
type Upgrader struct {
	upgrader websocket.Upgrader
}

func NewUpgrader() *Upgrader {
	return &Upgrader{
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024,
			WriteBufferSize:   64 * 1024,
			EnableCompression: false,
			CheckOrigin:       func(r *http.Request) bool { return true },
			Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
				http.Error(w, http.StatusText(status), status)
			},
		},
	}
}

func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*WSConn, error) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWSConn(conn), nil
}

// ==================== 关闭分类 ====================

// IsGracefulClose 判断对端是否以正常状态码 (1000) 主动关闭。
// 只有这种关闭代表用户意图结束会话，其余一律视为意外断开。
func IsGracefulClose(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseNormalClosure
	}
	return false
}

// IsNoiseClose 判断是否为无需告警的常规断开
func IsNoiseClose(err error) bool {
	if err == nil {
		return false
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived:
			return true
		}
		return false
	}

	if errors.Is(err, net.ErrClosed) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
