//internal/telnet/filter.go
package telnet

// ==================== 协议常量 ====================

const (
	IAC  byte = 255
	DONT byte = 254
	DO   byte = 253
	WONT byte = 252
	WILL byte = 251
	SB   byte = 250
	SE   byte = 240
)

// NEW-ENVIRON 选项与子命令 (RFC 1572)
const (
	OptNewEnviron byte = 39

	EnvIs      byte = 0
	EnvSend    byte = 1
	EnvInfo    byte = 2
	EnvVar     byte = 0
	EnvValue   byte = 1
	EnvEsc     byte = 2
	EnvUservar byte = 3
)

const ipAddressVar = "IPADDRESS"

// ==================== 过滤器 ====================

// Filter 在上游字节流上拦截 NEW-ENVIRON 协商，其余字节原样透传。
// 输入按任意分块到达，未能归类的尾部字节保留在 scratch 中等待下一块。
type Filter struct {
	scratch    []byte
	negotiated bool
	clientIP   string
}

// NewFilter 创建过滤器，ip 为当前客户端真实地址
func NewFilter(ip string) *Filter {
	return &Filter{clientIP: ip}
}

// Negotiated 上游是否已请求过 NEW-ENVIRON
func (f *Filter) Negotiated() bool {
	return f.negotiated
}

// SetClientIP 更新客户端地址（重连后由会话调用）
func (f *Filter) SetClientIP(ip string) {
	f.clientIP = ip
}

// Feed 处理一块上游数据。out 为转发给客户端的字节，
// reply 为需要写回上游的协商应答。
func (f *Filter) Feed(chunk []byte) (out []byte, reply []byte) {
	data := chunk
	if len(f.scratch) > 0 {
		data = append(f.scratch, chunk...)
		f.scratch = nil
	}

	i := 0
scan:
	for i < len(data) {
		if data[i] != IAC {
			j := i
			for j < len(data) && data[j] != IAC {
				j++
			}
			out = append(out, data[i:j]...)
			i = j
			continue
		}

		if i+1 >= len(data) {
			// 尾部孤立 IAC，留待下一块
			f.scratch = append(f.scratch, data[i:]...)
			break
		}

		cmd := data[i+1]
		switch {
		case cmd == IAC:
			out = append(out, IAC, IAC)
			i += 2

		case cmd == DO || cmd == DONT || cmd == WILL || cmd == WONT:
			if i+2 >= len(data) {
				f.scratch = append(f.scratch, data[i:]...)
				break scan
			}
			opt := data[i+2]
			if cmd == DO && opt == OptNewEnviron {
				reply = append(reply, IAC, WILL, OptNewEnviron)
				f.negotiated = true
			} else {
				out = append(out, data[i:i+3]...)
			}
			i += 3

		case cmd == SB:
			if i+2 >= len(data) {
				f.scratch = append(f.scratch, data[i:]...)
				break scan
			}
			end, ok := findSubnegEnd(data, i+3)
			if !ok {
				f.scratch = append(f.scratch, data[i:]...)
				break scan
			}
			if data[i+2] == OptNewEnviron {
				payload := unescapeIAC(data[i+3 : end])
				reply = append(reply, f.environReply(payload)...)
			} else {
				out = append(out, data[i:end+2]...)
			}
			i = end + 2

		default:
			out = append(out, data[i:i+2]...)
			i += 2
		}
	}

	return out, reply
}

// InfoUpdate 构造地址变更后的主动通告。未协商过则返回 nil。
func (f *Filter) InfoUpdate(ip string) []byte {
	f.clientIP = ip
	if !f.negotiated {
		return nil
	}
	return buildEnvironVar(EnvInfo, ipAddressVar, ip)
}

// ==================== 解析 ====================

// findSubnegEnd 从 from 开始寻找终结的 IAC SE，返回 IAC 的下标。
// 子协商内的 IAC IAC 转义会被跳过。
func findSubnegEnd(data []byte, from int) (int, bool) {
	j := from
	for j < len(data) {
		if data[j] != IAC {
			j++
			continue
		}
		if j+1 >= len(data) {
			return 0, false
		}
		if data[j+1] == SE {
			return j, true
		}
		// IAC IAC 或其他非法序列，跳过两字节继续找
		j += 2
	}
	return 0, false
}

// unescapeIAC 还原子协商载荷内的 IAC IAC 转义
func unescapeIAC(p []byte) []byte {
	res := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		if p[i] == IAC && i+1 < len(p) && p[i+1] == IAC {
			res = append(res, IAC)
			i++
			continue
		}
		res = append(res, p[i])
	}
	return res
}

func (f *Filter) environReply(payload []byte) []byte {
	if len(payload) == 0 || payload[0] != EnvSend {
		return nil
	}

	names, all := parseSendNames(payload[1:])
	want := all
	for _, n := range names {
		if n == ipAddressVar {
			want = true
			break
		}
	}
	if !want {
		return nil
	}
	return buildEnvironVar(EnvIs, ipAddressVar, f.clientIP)
}

// parseSendNames 解析 SEND 载荷中列出的变量名。
// 空载荷表示请求全部变量。
func parseSendNames(p []byte) (names []string, all bool) {
	if len(p) == 0 {
		return nil, true
	}

	var cur []byte
	inName := false
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case EnvVar, EnvUservar:
			if inName {
				names = append(names, string(cur))
			}
			cur = nil
			inName = true
		case EnvEsc:
			if i+1 < len(p) {
				i++
				if inName {
					cur = append(cur, p[i])
				}
			}
		default:
			if inName {
				cur = append(cur, p[i])
			}
		}
	}
	if inName {
		names = append(names, string(cur))
	}
	return names, false
}

// ==================== 应答构造 ====================

// buildEnvironVar 构造完整的 IS/INFO 子协商应答
func buildEnvironVar(kind byte, name, value string) []byte {
	buf := []byte{IAC, SB, OptNewEnviron, kind, EnvVar}
	buf = appendEscaped(buf, []byte(name))
	buf = append(buf, EnvValue)
	buf = appendEscaped(buf, []byte(value))
	buf = append(buf, IAC, SE)
	return buf
}

// appendEscaped 按 RFC 1572 规则转义：IAC 翻倍，框架常量加 ESC 前缀
func appendEscaped(dst, src []byte) []byte {
	for _, b := range src {
		switch b {
		case IAC:
			dst = append(dst, IAC, IAC)
		case EnvVar, EnvValue, EnvEsc, EnvUservar:
			dst = append(dst, EnvEsc, b)
		default:
			dst = append(dst, b)
		}
	}
	return dst
}
