//internal/replay/buffer.go
package replay

import (
	"time"

	"termgate/pkg/config"
	plog "termgate/pkg/log"
	"termgate/pkg/metrics"
)

// Message 离线期间暂存的一段上游数据
type Message struct {
	Data      []byte
	Timestamp time.Time
}

// Buffer 有界 FIFO 回放缓冲区。
// 行数与字节数上限同时生效，超限时从队头逐条淘汰。
// 非并发安全，由所属会话的互斥锁保护。
type Buffer struct {
	msgs     []Message
	byteSize int
	maxLines int
}

// New 创建缓冲区
func New(maxLines int) *Buffer {
	if maxLines < 1 {
		maxLines = 1
	}
	return &Buffer{maxLines: maxLines}
}

// SetMaxLines 调整行数上限，立即对后续写入生效
func (b *Buffer) SetMaxLines(n int) {
	if n >= 1 {
		b.maxLines = n
	}
}

// Len 当前条目数
func (b *Buffer) Len() int {
	return len(b.msgs)
}

// ByteSize 当前字节总量
func (b *Buffer) ByteSize() int {
	return b.byteSize
}

// Push 追加一段数据，接管 data 的所有权。
// 单块超过硬字节上限时整块丢弃。
func (b *Buffer) Push(data []byte, now time.Time) {
	if len(data) > config.HardBufferBytes {
		plog.Warn("[Replay] dropping oversized chunk: %d bytes", len(data))
		metrics.BufferedChunksDropped.Inc()
		return
	}

	for len(b.msgs) >= b.maxLines {
		b.evictOldest()
	}
	for b.byteSize+len(data) > config.HardBufferBytes && len(b.msgs) > 0 {
		b.evictOldest()
	}

	b.msgs = append(b.msgs, Message{Data: data, Timestamp: now})
	b.byteSize += len(data)
}

func (b *Buffer) evictOldest() {
	b.byteSize -= len(b.msgs[0].Data)
	b.msgs[0].Data = nil
	b.msgs = b.msgs[1:]
	metrics.BufferedLinesEvicted.Inc()
}

// Drain 按顺序取出全部条目并清空缓冲区
func (b *Buffer) Drain() []Message {
	out := b.msgs
	b.msgs = nil
	b.byteSize = 0
	return out
}
