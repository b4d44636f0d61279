//internal/session/session.go
package session

import (
	"errors"
	"net"
	"sync"
	"time"

	"termgate/internal/proto"
	"termgate/internal/replay"
	"termgate/internal/telnet"
	"termgate/internal/transport"
	"termgate/pkg/config"
	plog "termgate/pkg/log"
	"termgate/pkg/metrics"
)

// ==================== 会话 ====================

const upstreamReadBuf = 32 * 1024

var ErrSessionClosed = errors.New("session closed")

// Session 一条浏览器到上游的桥接会话。
// 上游连接贯穿整个生命周期，客户端通道可断开重连；
// 所有可变状态由 mu 保护，上游读循环是唯一的数据入口。
type Session struct {
	id       string
	registry *Registry

	mu            sync.Mutex
	client        *transport.WSConn
	upstream      net.Conn
	upstreamAlive bool
	filter        *telnet.Filter
	buf           *replay.Buffer
	cfg           config.SessionConfig
	clientIP      string
	clientPort    int

	createdAt      time.Time
	disconnectedAt time.Time

	cleanupTimer *time.Timer
	persisted    bool
	closed       bool

	log *plog.PrefixLogger
}

// New 创建会话并绑定首个客户端通道，上游连接由调用方随后注入
func New(id string, reg *Registry, cfg config.SessionConfig, client *transport.WSConn, clientIP string, clientPort int) *Session {
	s := &Session{
		id:         id,
		registry:   reg,
		client:     client,
		filter:     telnet.NewFilter(clientIP),
		buf:        replay.New(cfg.MaxBufferLines),
		cfg:        cfg,
		clientIP:   clientIP,
		clientPort: clientPort,
		createdAt:  time.Now(),
		log:        plog.NewPrefixLogger("[Session " + id[:8] + "] "),
	}
	metrics.SessionsActive.Inc()
	metrics.SessionsTotal.Inc()
	return s
}

// ID 会话标识
func (s *Session) ID() string {
	return s.id
}

// Config 当前生效配置
func (s *Session) Config() config.SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// CreatedAt 创建时间
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// HasClient 是否有在线客户端
func (s *Session) HasClient() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// ==================== 上游数据面 ====================

// BindUpstream 注入上游连接并启动读循环
func (s *Session) BindUpstream(conn net.Conn) {
	s.mu.Lock()
	s.upstream = conn
	s.upstreamAlive = true
	s.mu.Unlock()
	go s.upstreamLoop(conn)
}

// upstreamLoop 上游读循环，连接断开即触发会话清理
func (s *Session) upstreamLoop(conn net.Conn) {
	buf := make([]byte, upstreamReadBuf)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.handleUpstreamData(chunk)
		}
		if err != nil {
			s.handleUpstreamClosed(err)
			return
		}
	}
}

// handleUpstreamData 过滤一段上游数据并投递到客户端或缓冲区
func (s *Session) handleUpstreamData(chunk []byte) {
	metrics.BytesDownstreamTotal.Add(float64(len(chunk)))

	s.mu.Lock()
	out, reply := s.filter.Feed(chunk)
	conn, alive := s.upstream, s.upstreamAlive
	if len(out) > 0 {
		if s.client != nil {
			if err := s.client.Send(out); err != nil {
				s.log.Warn("client send failed: %v", err)
				s.client.Close()
			}
		} else {
			s.buf.Push(out, time.Now())
		}
	}
	s.mu.Unlock()

	if len(reply) > 0 && alive {
		metrics.NegotiationsTotal.Inc()
		if _, err := conn.Write(reply); err != nil {
			s.log.Warn("negotiation reply failed: %v", err)
		}
	}
}

// handleUpstreamClosed 上游断开，会话无法继续，立即清理
func (s *Session) handleUpstreamClosed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upstreamAlive = false
	if !s.closed {
		s.log.Info("upstream closed: %v", err)
	}
	s.cleanupLocked("upstream closed")
}

// WriteUpstream 客户端数据透传到上游
func (s *Session) WriteUpstream(data []byte) {
	s.mu.Lock()
	conn, alive := s.upstream, s.upstreamAlive
	s.mu.Unlock()

	if !alive {
		s.log.Debug("dropping %d bytes, upstream gone", len(data))
		return
	}
	if _, err := conn.Write(data); err != nil {
		s.log.Warn("upstream write failed: %v", err)
		return
	}
	metrics.BytesUpstreamTotal.Add(float64(len(data)))
}

// ==================== 客户端接驳 ====================

// Reattach 将新客户端通道接入持久化中的会话，返回回放条数。
// 重连通告与缓冲回放在持锁期间按序入队，保证先于后续实时数据。
func (s *Session) Reattach(ws *transport.WSConn, clientIP string, clientPort int) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrSessionClosed
	}

	if s.cleanupTimer != nil {
		s.cleanupTimer.Stop()
		s.cleanupTimer = nil
	}

	if old := s.client; old != nil {
		s.log.Info("replacing stale client %s", old.RemoteAddr())
		old.Close()
		metrics.SessionsActive.Dec()
	}

	var info []byte
	if clientIP != s.clientIP {
		info = s.filter.InfoUpdate(clientIP)
		s.clientIP = clientIP
	}
	s.clientPort = clientPort

	msgs := s.buf.Drain()
	s.client = ws

	frame, err := proto.Encode(proto.NewReconnectedMsg(s.id, len(msgs)))
	if err == nil {
		if err := ws.Send(frame); err != nil {
			s.log.Warn("reconnected notice failed: %v", err)
		}
	}
	for _, m := range msgs {
		if err := ws.Send(m.Data); err != nil {
			s.log.Warn("replay send failed: %v", err)
			break
		}
	}

	wasPersisted := s.persisted
	s.persisted = false
	conn, alive := s.upstream, s.upstreamAlive
	s.mu.Unlock()

	if wasPersisted {
		metrics.SessionsPersisted.Dec()
	}
	metrics.SessionsActive.Inc()
	metrics.ReconnectsTotal.Inc()

	if len(info) > 0 && alive {
		metrics.NegotiationsTotal.Inc()
		if _, err := conn.Write(info); err != nil {
			s.log.Warn("info update failed: %v", err)
		}
	}

	s.log.Info("client reattached from %s, replayed %d", clientIP, len(msgs))
	return len(msgs), nil
}

// Detach 客户端通道断开。graceful 表示用户主动结束会话，
// 否则在配置允许时进入持久化等待重连。
func (s *Session) Detach(ws *transport.WSConn, graceful bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.client != ws {
		return
	}

	s.client = nil
	s.disconnectedAt = time.Now()
	metrics.SessionsActive.Dec()

	if graceful {
		s.cleanupLocked("client closed")
		return
	}
	if !s.upstreamAlive {
		s.cleanupLocked("upstream already gone")
		return
	}
	if s.cfg.PersistenceTimeout <= 0 {
		s.cleanupLocked("persistence disabled")
		return
	}

	s.persisted = true
	metrics.SessionsPersisted.Inc()
	s.log.Info("client lost, persisting for %s", s.cfg.PersistenceTimeout)

	var t *time.Timer
	t = time.AfterFunc(s.cfg.PersistenceTimeout, func() {
		s.expire(t)
	})
	s.cleanupTimer = t
}

// expire 持久化超时回调。仅当定时器仍是当前这只且期间无人重连时生效
func (s *Session) expire(t *time.Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.client != nil || s.cleanupTimer != t {
		return
	}
	s.cleanupTimer = nil
	s.cleanupLocked("persistence timeout")
}

// ==================== 配置调整 ====================

// UpdateConfig 应用客户端请求的配置调整并返回生效值。
// 正在计时的持久化窗口不受影响，新超时从下次断开起算。
func (s *Session) UpdateConfig(uc *proto.UpdateConfig) config.SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = s.cfg.Merge(uc.PersistenceTimeout, uc.MaxBufferLines)
	s.buf.SetMaxLines(s.cfg.MaxBufferLines)
	s.log.Debug("config updated: timeout=%s lines=%d", s.cfg.PersistenceTimeout, s.cfg.MaxBufferLines)
	return s.cfg
}

// ==================== 清理 ====================

// Cleanup 终结会话，幂等
func (s *Session) Cleanup(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked(reason)
}

// cleanupLocked 必须持锁调用。关闭两侧连接、注销并释放缓冲
func (s *Session) cleanupLocked(reason string) {
	if s.closed {
		return
	}
	s.closed = true

	if s.cleanupTimer != nil {
		s.cleanupTimer.Stop()
		s.cleanupTimer = nil
	}

	if s.upstream != nil {
		_ = s.upstream.Close()
	}
	s.upstreamAlive = false

	if s.client != nil {
		s.client.Close()
		s.client = nil
		metrics.SessionsActive.Dec()
	}
	if s.persisted {
		s.persisted = false
		metrics.SessionsPersisted.Dec()
	}

	s.buf.Drain()
	s.registry.Remove(s.id)
	s.log.Info("cleaned up: %s", reason)
}
