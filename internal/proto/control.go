//internal/proto/control.go
package proto

import (
	"encoding/json"
	"errors"

	"termgate/pkg/config"
)

// ==================== 帧约定 ====================

// ControlPrefix 控制消息前缀字节。
// 客户端通道上首字节为 0x00 的二进制帧是 JSON 控制消息，
// 其余帧是透传给上游的不透明数据。
const ControlPrefix byte = 0x00

var (
	ErrNotControl  = errors.New("not a control frame")
	ErrBadControl  = errors.New("malformed control message")
	ErrUnknownType = errors.New("unknown control type")
)

// IsControl 判断入站帧是否为控制消息
func IsControl(frame []byte) bool {
	return len(frame) > 0 && frame[0] == ControlPrefix
}

// ==================== 出站消息 ====================

// SessionConfigMsg 控制消息中的会话配置，毫秒与行数
type SessionConfigMsg struct {
	PersistenceTimeout int64 `json:"persistenceTimeout"`
	MaxBufferLines     int   `json:"maxBufferLines"`
}

// ConfigMsg 由内部配置构造线上表示
func ConfigMsg(c config.SessionConfig) SessionConfigMsg {
	return SessionConfigMsg{
		PersistenceTimeout: c.PersistenceTimeout.Milliseconds(),
		MaxBufferLines:     c.MaxBufferLines,
	}
}

// SessionMsg 会话创建通告
type SessionMsg struct {
	Type      string           `json:"type"`
	SessionID string           `json:"sessionId"`
	Config    SessionConfigMsg `json:"config"`
}

// ReconnectedMsg 重连成功通告，先于缓冲回放发送
type ReconnectedMsg struct {
	Type          string `json:"type"`
	SessionID     string `json:"sessionId"`
	BufferedCount int    `json:"bufferedCount"`
}

// ErrorMsg 错误通告，随后通道关闭
type ErrorMsg struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// ConfigUpdatedMsg updateConfig 的确认应答
type ConfigUpdatedMsg struct {
	Type   string           `json:"type"`
	Config SessionConfigMsg `json:"config"`
}

func NewSessionMsg(id string, c config.SessionConfig) SessionMsg {
	return SessionMsg{Type: "session", SessionID: id, Config: ConfigMsg(c)}
}

func NewReconnectedMsg(id string, buffered int) ReconnectedMsg {
	return ReconnectedMsg{Type: "reconnected", SessionID: id, BufferedCount: buffered}
}

func NewErrorMsg(msg string) ErrorMsg {
	return ErrorMsg{Type: "error", Error: msg}
}

func NewConfigUpdatedMsg(c config.SessionConfig) ConfigUpdatedMsg {
	return ConfigUpdatedMsg{Type: "configUpdated", Config: ConfigMsg(c)}
}

// Encode 序列化控制消息并加上前缀字节
func Encode(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(body)+1)
	frame = append(frame, ControlPrefix)
	frame = append(frame, body...)
	return frame, nil
}

// ==================== 入站消息 ====================

// UpdateConfig 客户端请求调整会话配置。
// 两个字段都可缺省；非数值内容按缺省处理，不拒绝请求。
type UpdateConfig struct {
	PersistenceTimeout *int64
	MaxBufferLines     *int64
}

// Inbound 已解析的客户端控制消息
type Inbound struct {
	Type         string
	UpdateConfig *UpdateConfig
}

// Decode 解析 0x00 前缀的控制帧。未知 type 返回 ErrUnknownType，
// 未知字段一律忽略。
func Decode(frame []byte) (Inbound, error) {
	if !IsControl(frame) {
		return Inbound{}, ErrNotControl
	}

	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame[1:], &env); err != nil {
		return Inbound{}, ErrBadControl
	}

	switch env.Type {
	case "updateConfig":
		var raw struct {
			PersistenceTimeout json.RawMessage `json:"persistenceTimeout"`
			MaxBufferLines     json.RawMessage `json:"maxBufferLines"`
		}
		if err := json.Unmarshal(frame[1:], &raw); err != nil {
			return Inbound{}, ErrBadControl
		}
		uc := &UpdateConfig{
			PersistenceTimeout: parseOptionalInt(raw.PersistenceTimeout),
			MaxBufferLines:     parseOptionalInt(raw.MaxBufferLines),
		}
		return Inbound{Type: env.Type, UpdateConfig: uc}, nil
	default:
		return Inbound{Type: env.Type}, ErrUnknownType
	}
}

// parseOptionalInt 宽容解析数值字段，缺失或非数值返回 nil
func parseOptionalInt(raw json.RawMessage) *int64 {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	n := int64(f)
	return &n
}
