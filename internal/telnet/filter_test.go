//internal/telnet/filter_test.go
package telnet

import (
	"bytes"
	"testing"
)

func TestFeedPassthrough(t *testing.T) {
	f := NewFilter("1.2.3.4")
	in := []byte("Welcome to the realm\r\n")

	out, reply := f.Feed(in)
	if !bytes.Equal(out, in) {
		t.Errorf("Output mismatch: got %q, want %q", out, in)
	}
	if len(reply) != 0 {
		t.Errorf("Unexpected reply: %v", reply)
	}
}

func TestFeedDoNewEnviron(t *testing.T) {
	f := NewFilter("1.2.3.4")

	out, reply := f.Feed([]byte{'a', IAC, DO, OptNewEnviron, 'b'})
	if !bytes.Equal(out, []byte{'a', 'b'}) {
		t.Errorf("Output mismatch: got %v, want [a b]", out)
	}
	want := []byte{IAC, WILL, OptNewEnviron}
	if !bytes.Equal(reply, want) {
		t.Errorf("Reply mismatch: got %v, want %v", reply, want)
	}
	if !f.Negotiated() {
		t.Error("Filter should be negotiated after DO")
	}
}

func TestFeedOtherNegotiationsPassthrough(t *testing.T) {
	testCases := []struct {
		name string
		in   []byte
	}{
		{"do echo", []byte{IAC, DO, 1}},
		{"will sga", []byte{IAC, WILL, 3}},
		{"dont ttype", []byte{IAC, DONT, 24}},
		{"wont naws", []byte{IAC, WONT, 31}},
	}

	for _, tc := range testCases {
		f := NewFilter("1.2.3.4")
		out, reply := f.Feed(tc.in)
		if !bytes.Equal(out, tc.in) {
			t.Errorf("%s: output mismatch: got %v, want %v", tc.name, out, tc.in)
		}
		if len(reply) != 0 {
			t.Errorf("%s: unexpected reply: %v", tc.name, reply)
		}
	}
}

func TestFeedEscapedIACPassthrough(t *testing.T) {
	f := NewFilter("1.2.3.4")
	in := []byte{'x', IAC, IAC, 'y'}

	out, _ := f.Feed(in)
	if !bytes.Equal(out, in) {
		t.Errorf("Escaped IAC should pass verbatim: got %v, want %v", out, in)
	}
}

func TestFeedSendReply(t *testing.T) {
	f := NewFilter("10.0.0.1")
	f.Feed([]byte{IAC, DO, OptNewEnviron})

	// SEND 不带变量名，请求全部
	_, reply := f.Feed([]byte{IAC, SB, OptNewEnviron, EnvSend, IAC, SE})

	want := []byte{IAC, SB, OptNewEnviron, EnvIs, EnvVar}
	want = append(want, []byte(ipAddressVar)...)
	want = append(want, EnvValue)
	want = append(want, []byte("10.0.0.1")...)
	want = append(want, IAC, SE)

	if !bytes.Equal(reply, want) {
		t.Errorf("IS reply mismatch:\n got %v\nwant %v", reply, want)
	}
}

func TestFeedSendNamedVariable(t *testing.T) {
	f := NewFilter("10.0.0.1")

	payload := []byte{IAC, SB, OptNewEnviron, EnvSend, EnvVar}
	payload = append(payload, []byte(ipAddressVar)...)
	payload = append(payload, IAC, SE)

	_, reply := f.Feed(payload)
	if len(reply) == 0 {
		t.Fatal("Expected IS reply for named IPADDRESS request")
	}
	if !bytes.Contains(reply, []byte("10.0.0.1")) {
		t.Errorf("Reply should carry client IP: %v", reply)
	}
}

func TestFeedSendUnrelatedVariable(t *testing.T) {
	f := NewFilter("10.0.0.1")

	payload := []byte{IAC, SB, OptNewEnviron, EnvSend, EnvVar}
	payload = append(payload, []byte("USER")...)
	payload = append(payload, IAC, SE)

	_, reply := f.Feed(payload)
	if len(reply) != 0 {
		t.Errorf("No reply expected for unrelated variable, got %v", reply)
	}
}

func TestFeedSubnegSwallowed(t *testing.T) {
	f := NewFilter("10.0.0.1")

	chunk := []byte{'a'}
	chunk = append(chunk, IAC, SB, OptNewEnviron, EnvSend, IAC, SE)
	chunk = append(chunk, 'b')

	out, _ := f.Feed(chunk)
	if !bytes.Equal(out, []byte{'a', 'b'}) {
		t.Errorf("NEW-ENVIRON subneg should be swallowed: got %v", out)
	}
}

func TestFeedOtherSubnegPassthrough(t *testing.T) {
	f := NewFilter("10.0.0.1")
	in := []byte{IAC, SB, 24, 1, IAC, SE}

	out, reply := f.Feed(in)
	if !bytes.Equal(out, in) {
		t.Errorf("TTYPE subneg should pass through: got %v, want %v", out, in)
	}
	if len(reply) != 0 {
		t.Errorf("Unexpected reply: %v", reply)
	}
}

func TestFeedSplitAcrossChunks(t *testing.T) {
	f := NewFilter("10.0.0.1")

	out1, reply1 := f.Feed([]byte{'a', IAC})
	if !bytes.Equal(out1, []byte{'a'}) {
		t.Errorf("First chunk output mismatch: got %v", out1)
	}
	if len(reply1) != 0 {
		t.Errorf("Premature reply: %v", reply1)
	}

	out2, reply2 := f.Feed([]byte{DO, OptNewEnviron, 'b'})
	if !bytes.Equal(out2, []byte{'b'}) {
		t.Errorf("Second chunk output mismatch: got %v", out2)
	}
	want := []byte{IAC, WILL, OptNewEnviron}
	if !bytes.Equal(reply2, want) {
		t.Errorf("Reply mismatch after reassembly: got %v, want %v", reply2, want)
	}
}

func TestFeedSubnegSplitByteByByte(t *testing.T) {
	f := NewFilter("10.0.0.1")
	full := []byte{IAC, SB, OptNewEnviron, EnvSend, IAC, SE}

	var reply []byte
	for _, b := range full {
		_, r := f.Feed([]byte{b})
		reply = append(reply, r...)
	}

	if !bytes.Contains(reply, []byte("10.0.0.1")) {
		t.Errorf("Byte-by-byte subneg should still produce IS reply: %v", reply)
	}
}

func TestInfoUpdate(t *testing.T) {
	f := NewFilter("10.0.0.1")

	if info := f.InfoUpdate("10.0.0.2"); info != nil {
		t.Errorf("InfoUpdate before negotiation should be nil, got %v", info)
	}

	f.Feed([]byte{IAC, DO, OptNewEnviron})

	info := f.InfoUpdate("10.0.0.3")
	if len(info) == 0 {
		t.Fatal("InfoUpdate after negotiation should produce a frame")
	}
	if info[3] != EnvInfo {
		t.Errorf("Kind mismatch: got %d, want INFO(%d)", info[3], EnvInfo)
	}
	if !bytes.Contains(info, []byte("10.0.0.3")) {
		t.Errorf("INFO should carry new IP: %v", info)
	}
	if info[len(info)-2] != IAC || info[len(info)-1] != SE {
		t.Errorf("INFO should end with IAC SE: %v", info)
	}
}

func TestAppendEscaped(t *testing.T) {
	testCases := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"plain", []byte("abc"), []byte("abc")},
		{"iac doubled", []byte{IAC}, []byte{IAC, IAC}},
		{"var escaped", []byte{EnvVar}, []byte{EnvEsc, EnvVar}},
		{"value escaped", []byte{EnvValue}, []byte{EnvEsc, EnvValue}},
		{"esc escaped", []byte{EnvEsc}, []byte{EnvEsc, EnvEsc}},
		{"uservar escaped", []byte{EnvUservar}, []byte{EnvEsc, EnvUservar}},
	}

	for _, tc := range testCases {
		got := appendEscaped(nil, tc.in)
		if !bytes.Equal(got, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestParseSendNames(t *testing.T) {
	names, all := parseSendNames(nil)
	if !all || names != nil {
		t.Errorf("Empty payload should request all: names=%v all=%v", names, all)
	}

	p := []byte{EnvVar}
	p = append(p, []byte("IPADDRESS")...)
	p = append(p, EnvUservar)
	p = append(p, []byte("LANG")...)
	names, all = parseSendNames(p)
	if all {
		t.Error("Named request should not be all")
	}
	if len(names) != 2 || names[0] != "IPADDRESS" || names[1] != "LANG" {
		t.Errorf("Names mismatch: %v", names)
	}
}

func BenchmarkFeedPlain(b *testing.B) {
	f := NewFilter("10.0.0.1")
	chunk := bytes.Repeat([]byte("The quick brown fox jumps over the lazy dog.\r\n"), 64)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Feed(chunk)
	}
}
