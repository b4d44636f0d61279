//cmd/client/main.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"termgate/internal/proto"
	plog "termgate/pkg/log"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// 命令行终端客户端：连接网关，把标准输入发往上游，
// 上游输出写到标准输出。用于调试与会话恢复验证。
func main() {
	showVersion := flag.Bool("v", false, "显示版本")
	serverURL := flag.String("s", "ws://127.0.0.1:8080/ws", "网关地址")
	sessionID := flag.String("session", "", "要恢复的会话标识")
	timeout := flag.Int64("timeout", -1, "持久化超时毫秒数，-1 使用服务端默认")
	lines := flag.Int64("lines", -1, "缓冲行数上限，-1 使用服务端默认")
	logLevel := flag.String("log", "warn", "日志级别")

	flag.Parse()

	if *showVersion {
		fmt.Printf("TermGate Client v%s\n", Version)
		fmt.Printf("  Build: %s\n", BuildTime)
		fmt.Printf("  Commit: %s\n", GitCommit)
		return
	}

	plog.SetLevel(*logLevel)

	u, err := url.Parse(*serverURL)
	if err != nil {
		plog.Fatalf("Bad server URL: %v", err)
	}
	q := u.Query()
	if *sessionID != "" {
		q.Set("sessionId", *sessionID)
	}
	if *timeout >= 0 {
		q.Set("persistenceTimeout", fmt.Sprintf("%d", *timeout))
	}
	if *lines >= 0 {
		q.Set("maxBufferLines", fmt.Sprintf("%d", *lines))
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		plog.Fatalf("Dial %s failed: %v", u.String(), err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go readLoop(conn, done)
	go writeLoop(conn)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		// 正常关闭，服务端会立即终结会话
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	case <-done:
	}
}

// readLoop 网关数据写到标准输出，控制消息写到标准错误
func readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				plog.Warn("read: %v", err)
			}
			return
		}

		if proto.IsControl(data) {
			printControl(data)
			continue
		}
		_, _ = os.Stdout.Write(data)
	}
}

// writeLoop 标准输入透传到网关
func writeLoop(conn *websocket.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if err := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
				plog.Warn("write: %v", err)
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func printControl(frame []byte) {
	msg, err := proto.Decode(frame)
	if err != nil && msg.Type == "" {
		plog.Debug("control ignored: %v", err)
		return
	}

	var body map[string]interface{}
	_ = json.Unmarshal(frame[1:], &body)

	switch msg.Type {
	case "session":
		fmt.Fprintf(os.Stderr, "*** session %v\n", body["sessionId"])
	case "reconnected":
		fmt.Fprintf(os.Stderr, "*** reconnected %v, replaying %v entries\n",
			body["sessionId"], body["bufferedCount"])
	case "error":
		fmt.Fprintf(os.Stderr, "*** error: %v\n", body["error"])
	case "configUpdated":
		fmt.Fprintf(os.Stderr, "*** config updated\n")
	default:
		fmt.Fprintf(os.Stderr, "*** %s\n", msg.Type)
	}
}
