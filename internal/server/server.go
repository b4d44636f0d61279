//internal/server/server.go
package server

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"termgate/internal/proto"
	"termgate/internal/session"
	"termgate/internal/transport"
	"termgate/internal/upstream"
	"termgate/pkg/config"
	plog "termgate/pkg/log"
)

// ==================== 服务端 ====================

// Server WebSocket 接入层，负责通道升级、会话建立与重连接驳
type Server struct {
	cfg       *config.ServerConfig
	registry  *session.Registry
	connector *upstream.Connector
	upgrader  *transport.Upgrader
}

func New(cfg *config.ServerConfig, reg *session.Registry, connector *upstream.Connector) *Server {
	return &Server{
		cfg:       cfg,
		registry:  reg,
		connector: connector,
		upgrader:  transport.NewUpgrader(),
	}
}

// Registry 暴露注册表供统计接口使用
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// ==================== 通道入口 ====================

// HandleWS 客户端通道入口。升级后按查询参数分流：
// 带 sessionId 走重连接驳，否则建立新会话。
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	trace := uuid.New().String()[:8]

	clientIP, clientPort := clientAddr(r)
	plog.Debug("[WS %s] connect from %s:%d %s", trace, clientIP, clientPort, r.URL.RawQuery)

	ws, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		plog.Warn("[WS %s] upgrade failed: %v", trace, err)
		return
	}
	go ws.WritePump()

	q := r.URL.Query()
	if sid := q.Get("sessionId"); sid != "" {
		s.handleReattach(trace, ws, sid, clientIP, clientPort)
		return
	}
	s.handleCreate(trace, ws, q, clientIP, clientPort)
}

// handleReattach 重连路径，会话不存在或已终结时回告错误并关闭通道
func (s *Server) handleReattach(trace string, ws *transport.WSConn, sid, clientIP string, clientPort int) {
	sess := s.registry.Get(sid)
	if sess == nil {
		plog.Info("[WS %s] session %s not found", trace, sid)
		s.sendError(ws, "Session not found")
		ws.Close()
		return
	}

	if _, err := sess.Reattach(ws, clientIP, clientPort); err != nil {
		plog.Info("[WS %s] reattach %s failed: %v", trace, sid, err)
		s.sendError(ws, "Session not found")
		ws.Close()
		return
	}

	s.readLoop(trace, ws, sess)
}

// handleCreate 新建路径：登记会话、同步拨号上游、通告会话标识
func (s *Server) handleCreate(trace string, ws *transport.WSConn, q map[string][]string, clientIP string, clientPort int) {
	cfg := s.cfg.SessionDefaults().Merge(
		queryInt(q, "persistenceTimeout"),
		queryInt(q, "maxBufferLines"),
	)

	var sess *session.Session
	for {
		id := session.GenerateID()
		sess = session.New(id, s.registry, cfg, ws, clientIP, clientPort)
		if err := s.registry.Insert(sess); err == nil {
			break
		}
		plog.Warn("[WS %s] id collision, retrying", trace)
	}

	conn, err := s.connector.Dial(clientIP, clientPort)
	if err != nil {
		plog.Error("[WS %s] %v", trace, err)
		s.sendError(ws, "Failed to connect to upstream")
		sess.Cleanup("upstream dial failed")
		return
	}
	sess.BindUpstream(conn)

	frame, err := proto.Encode(proto.NewSessionMsg(sess.ID(), cfg))
	if err == nil {
		if err := ws.Send(frame); err != nil {
			plog.Warn("[WS %s] session notice failed: %v", trace, err)
		}
	}

	plog.Info("[WS %s] session %s created for %s:%d -> %s",
		trace, sess.ID(), clientIP, clientPort, s.connector.Endpoint().Addr())
	s.readLoop(trace, ws, sess)
}

// ==================== 读循环 ====================

// readLoop 客户端读循环。控制帧走控制面，其余字节透传上游；
// 读出错即按关闭类型摘除客户端。
func (s *Server) readLoop(trace string, ws *transport.WSConn, sess *session.Session) {
	ws.SetPongHandler(func(string) error {
		return ws.RefreshReadDeadline()
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			graceful := transport.IsGracefulClose(err)
			if graceful || transport.IsNoiseClose(err) {
				plog.Debug("[WS %s] client closed: %v", trace, err)
			} else {
				plog.Info("[WS %s] client read error: %v", trace, err)
			}
			sess.Detach(ws, graceful)
			ws.Close()
			return
		}

		if proto.IsControl(data) {
			s.handleControl(trace, ws, sess, data)
			continue
		}
		sess.WriteUpstream(data)
	}
}

// handleControl 处理客户端控制消息，畸形或未知消息忽略
func (s *Server) handleControl(trace string, ws *transport.WSConn, sess *session.Session, data []byte) {
	msg, err := proto.Decode(data)
	if err != nil {
		plog.Debug("[WS %s] control ignored: %v", trace, err)
		return
	}

	switch msg.Type {
	case "updateConfig":
		cfg := sess.UpdateConfig(msg.UpdateConfig)
		frame, err := proto.Encode(proto.NewConfigUpdatedMsg(cfg))
		if err == nil {
			if err := ws.Send(frame); err != nil {
				plog.Warn("[WS %s] config ack failed: %v", trace, err)
			}
		}
	}
}

// sendError 回告错误消息，发送失败忽略
func (s *Server) sendError(ws *transport.WSConn, msg string) {
	frame, err := proto.Encode(proto.NewErrorMsg(msg))
	if err != nil {
		return
	}
	_ = ws.Send(frame)
}

// ==================== 请求解析 ====================

// clientAddr 还原浏览器侧真实地址。优先代理注入的头部，
// 退回到套接字对端；IPv4 映射前缀一律剥除。
func clientAddr(r *http.Request) (string, int) {
	ip := ""
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip = strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
	}

	port := 0
	if xfp := r.Header.Get("X-Forwarded-Port"); xfp != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(xfp)); err == nil {
			port = n
		}
	}

	if ip == "" || port == 0 {
		if h, p, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			if ip == "" {
				ip = h
			}
			if port == 0 {
				if n, err := strconv.Atoi(p); err == nil {
					port = n
				}
			}
		}
	}

	ip = strings.TrimPrefix(ip, "::ffff:")
	return ip, port
}

// queryInt 解析可选的数值查询参数，缺失或非数值返回 nil
func queryInt(q map[string][]string, key string) *int64 {
	vals, ok := q[key]
	if !ok || len(vals) == 0 {
		return nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(vals[0]), 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
