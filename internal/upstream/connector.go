//internal/upstream/connector.go
package upstream

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	utls "github.com/refraction-networking/utls"
	"termgate/pkg/config"
	plog "termgate/pkg/log"
	"termgate/pkg/metrics"
)

// ==================== 常量定义 ====================

const (
	DefaultTLSPort  = "7443"
	DefaultTCPPort  = "7777"
	KeepAlivePeriod = 30 * time.Second
)

var ErrUnknownScheme = errors.New("unknown upstream scheme")

// ==================== 地址解析 ====================

// Endpoint 解析后的上游地址
type Endpoint struct {
	Host   string
	Port   string
	UseTLS bool
}

// Addr 拨号地址
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, e.Port)
}

// ParseURL 解析 scheme://host:port 形式的上游地址。
// 无 scheme 时默认 TLS，无端口时按 scheme 取默认端口。
func ParseURL(raw string) (Endpoint, error) {
	rest := strings.TrimSpace(raw)
	useTLS := true

	if idx := strings.Index(rest, "://"); idx >= 0 {
		scheme := strings.ToLower(rest[:idx])
		rest = rest[idx+3:]
		switch scheme {
		case "tls", "wss", "ssl":
			useTLS = true
		case "tcp", "ws", "telnet":
			useTLS = false
		default:
			return Endpoint{}, fmt.Errorf("%w: %s", ErrUnknownScheme, scheme)
		}
	}

	if rest == "" {
		return Endpoint{}, errors.New("empty upstream host")
	}

	host, port, err := net.SplitHostPort(rest)
	if err != nil {
		host = strings.Trim(rest, "[]")
		port = ""
	}
	if port == "" {
		if useTLS {
			port = DefaultTLSPort
		} else {
			port = DefaultTCPPort
		}
	}

	return Endpoint{Host: host, Port: port, UseTLS: useTLS}, nil
}

// ==================== 连接器 ====================

// Connector 负责打开到远端主机的 TLS 或裸 TCP 连接
type Connector struct {
	ep          Endpoint
	proxyProto  bool
	fingerprint string
}

// NewConnector 根据进程配置创建连接器
func NewConnector(cfg *config.ServerConfig) (*Connector, error) {
	ep, err := ParseURL(cfg.Upstream)
	if err != nil {
		return nil, err
	}
	return &Connector{
		ep:          ep,
		proxyProto:  cfg.UseProxyProtocol,
		fingerprint: cfg.TLSFingerprint,
	}, nil
}

// Endpoint 返回解析后的上游地址
func (c *Connector) Endpoint() Endpoint {
	return c.ep
}

// Dial 建立上游连接。clientIP/clientPort 为浏览器侧真实地址，
// 仅在启用 PROXY 协议时写入头部。
func (c *Connector) Dial(clientIP string, clientPort int) (net.Conn, error) {
	raw, err := net.Dial("tcp", c.ep.Addr())
	if err != nil {
		metrics.UpstreamErrorsTotal.WithLabelValues("connect").Inc()
		return nil, fmt.Errorf("dial upstream %s: %w", c.ep.Addr(), err)
	}

	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(KeepAlivePeriod)
	}

	conn := raw
	if c.ep.UseTLS {
		tlsConn, err := c.handshakeTLS(raw)
		if err != nil {
			_ = raw.Close()
			metrics.UpstreamErrorsTotal.WithLabelValues("tls").Inc()
			return nil, fmt.Errorf("tls handshake %s: %w", c.ep.Addr(), err)
		}
		conn = tlsConn
	}

	if c.proxyProto {
		hdr := ProxyHeader(clientIP, clientPort, raw.LocalAddr())
		if _, err := conn.Write([]byte(hdr)); err != nil {
			_ = conn.Close()
			metrics.UpstreamErrorsTotal.WithLabelValues("proxy_header").Inc()
			return nil, fmt.Errorf("write proxy header: %w", err)
		}
		plog.Debug("[Upstream] sent %q", strings.TrimRight(hdr, "\r\n"))
	}

	return conn, nil
}

// handshakeTLS 完成 TLS 握手。远端普遍使用自签证书，不做证书校验。
func (c *Connector) handshakeTLS(raw net.Conn) (net.Conn, error) {
	sni := c.ep.Host
	if net.ParseIP(sni) != nil {
		sni = ""
	}

	if c.fingerprint == "" {
		conn := tls.Client(raw, &tls.Config{
			ServerName:         sni,
			InsecureSkipVerify: true,
		})
		if err := conn.Handshake(); err != nil {
			return nil, err
		}
		return conn, nil
	}

	uconn := utls.UClient(raw, &utls.Config{
		ServerName:         sni,
		InsecureSkipVerify: true,
	}, fingerprintID(c.fingerprint))
	if err := uconn.Handshake(); err != nil {
		return nil, err
	}
	return uconn, nil
}

// fingerprintID 映射配置名到 uTLS ClientHello 指纹
func fingerprintID(name string) utls.ClientHelloID {
	switch name {
	case "firefox":
		return utls.HelloFirefox_Auto
	case "safari":
		return utls.HelloSafari_Auto
	case "ios":
		return utls.HelloIOS_Auto
	case "random":
		return utls.HelloRandomized
	default:
		return utls.HelloChrome_Auto
	}
}

// ==================== PROXY 协议 ====================

// ProxyHeader 构造 PROXY 协议 v1 头部行。
// 源地址为浏览器侧真实地址，目的地址为上游套接字本端。
func ProxyHeader(srcIP string, srcPort int, local net.Addr) string {
	family := "TCP4"
	if strings.Contains(srcIP, ":") {
		family = "TCP6"
	}

	dstIP, dstPort := "0.0.0.0", "0"
	if local != nil {
		if h, p, err := net.SplitHostPort(local.String()); err == nil {
			dstIP, dstPort = h, p
		}
	}

	return fmt.Sprintf("PROXY %s %s %s %d %s\r\n", family, srcIP, dstIP, srcPort, dstPort)
}
