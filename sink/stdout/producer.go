// Package stdout prints relayed messages. It is a debugging sink: there is
// no broker to acknowledge, so a send succeeds once the line is written.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"ackflow/checkpoint"
	"ackflow/convert"
	"ackflow/destination"
	"ackflow/internal/config"
	"ackflow/message"
	"ackflow/sink"
)

type Config struct {
	DelayMS       int  `koanf:"delay_ms"`      // artificial per-message delay
	PrintCounter  bool `koanf:"print_counter"` // prepend seq#
	PrintValue    bool `koanf:"print_value"`
	ValueMaxBytes int  `koanf:"value_max_bytes"` // 0 = unlimited
}

// LoadConfig overlays the YAML at path and ACKFLOW_STDOUT__ variables on
// base.
func LoadConfig(path string, base Config) (Config, error) {
	cfg := base
	if err := config.Load(path, config.EnvPrefix("stdout"), &cfg); err != nil {
		return base, err
	}
	return cfg, nil
}

// Line is what gets printed for one message.
type Line struct {
	ID        string
	Partition string
	Offset    int64
	HasOffset bool
	Value     []byte
}

// Converter renders messages as lines. Structured payloads go through
// Codec.
type Converter struct {
	Codec convert.Codec
}

func (c Converter) FromMessage(m *message.Message) (Line, error) {
	v, err := convert.PayloadBytes(m.Payload(), c.Codec)
	if err != nil {
		return Line{}, err
	}
	l := Line{ID: m.ID(), Value: v}
	if id, pos, ok := checkpoint.PositionOf(m); ok {
		l.Partition, l.Offset, l.HasOffset = id, pos.Offset, true
	}
	return l, nil
}

type Producer struct {
	cfg Config

	mu  sync.Mutex // serializes writes
	w   io.Writer
	seq atomic.Uint64
}

// New prints to w, or to os.Stdout when w is nil.
func New(cfg Config, w io.Writer) *Producer {
	if w == nil {
		w = os.Stdout
	}
	return &Producer{cfg: cfg, w: w}
}

func (p *Producer) Send(ctx context.Context, d destination.Destination, l Line, _ sink.PartitionHint) error {
	if p.cfg.DelayMS > 0 {
		t := time.NewTimer(time.Duration(p.cfg.DelayMS) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	buf := make([]byte, 0, 64)
	if p.cfg.PrintCounter {
		buf = fmt.Appendf(buf, "[sink %06d] ", p.seq.Add(1))
	}
	buf = append(buf, d.Name...)
	if l.Partition != "" {
		buf = append(buf, '[')
		buf = append(buf, l.Partition...)
		buf = append(buf, ']')
	}
	if l.HasOffset {
		buf = append(buf, '@')
		buf = strconv.AppendInt(buf, l.Offset, 10)
	}
	if l.ID != "" {
		buf = append(buf, " id="...)
		buf = append(buf, l.ID...)
	}
	if p.cfg.PrintValue {
		v := l.Value
		cut := 0
		if p.cfg.ValueMaxBytes > 0 && len(v) > p.cfg.ValueMaxBytes {
			cut = len(v) - p.cfg.ValueMaxBytes
			v = v[:p.cfg.ValueMaxBytes]
		}
		buf = append(buf, " value="...)
		buf = strconv.AppendQuote(buf, string(v))
		if cut > 0 {
			buf = fmt.Appendf(buf, "…(+%d bytes)", cut)
		}
	}
	buf = append(buf, '\n')

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.w.Write(buf)
	return err
}

func (p *Producer) Close(context.Context) error { return nil }
