package agent

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

type decoderState int

const (
	stateReading decoderState = iota
	stateCompleted
	stateFailed
)

// Decoder turns a raw event stream into observer callbacks. Bytes may be
// written in chunks of any size; a record is handled once its line is
// complete. After the stream reaches a terminal record further input is
// ignored.
type Decoder struct {
	obs    Observer
	logger *slog.Logger
	newID  func() string
	now    func() time.Time

	buf   []byte
	state decoderState

	msgID string
	text  strings.Builder
}

// NewDecoder returns a decoder that reports to obs.
func NewDecoder(obs Observer, logger *slog.Logger) *Decoder {
	if obs == nil {
		obs = NopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{
		obs:    obs,
		logger: logger,
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// Write feeds stream bytes to the decoder. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	if d.state != stateReading {
		return len(p), nil
	}
	d.buf = append(d.buf, p...)
	for d.state == stateReading {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimSuffix(d.buf[:i], []byte{'\r'}))
		d.buf = d.buf[i+1:]
		d.handleLine(line)
	}
	if d.state != stateReading || len(d.buf) == 0 {
		d.buf = nil
	}
	return len(p), nil
}

// Close marks the natural end of the stream. A trailing unterminated line is
// handled first; then, unless a terminal record was already seen, any open
// message is flushed and OnComplete fires.
func (d *Decoder) Close() error {
	if d.state != stateReading {
		return nil
	}
	if len(d.buf) > 0 {
		line := string(bytes.TrimSuffix(d.buf, []byte{'\r'}))
		d.buf = nil
		d.handleLine(line)
	}
	if d.state == stateReading {
		d.complete()
	}
	return nil
}

// Done reports whether a terminal record has been handled.
func (d *Decoder) Done() bool {
	return d.state != stateReading
}

func (d *Decoder) handleLine(line string) {
	data, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return
	}
	data = strings.TrimPrefix(data, " ")
	if data == doneSentinel {
		d.complete()
		return
	}

	var ev Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		d.logger.Warn("Skipping malformed agent event", "error", &DecodeError{Record: data, Err: err})
		return
	}
	ev.Raw = json.RawMessage(data)
	d.obs.OnEvent(ev)

	switch ev.Type {
	case EventTextMessageStart:
		d.msgID = ev.MessageID
		if d.msgID == "" {
			d.msgID = d.newID()
		}
		d.text.Reset()
	case EventTextMessageContent:
		d.text.WriteString(ev.Content)
	case EventTextMessageEnd:
		if d.msgID != "" {
			d.emit()
		}
		d.reset()
	case EventRunError:
		msg := ev.Error
		if msg == "" {
			msg = "unknown error"
		}
		d.state = stateFailed
		d.obs.OnError(&RunError{RunID: ev.RunID, Message: msg})
	case EventRunFinished:
		d.complete()
	}
}

// complete flushes a message left open without an end record and signals
// completion.
func (d *Decoder) complete() {
	if d.msgID != "" && d.text.Len() > 0 {
		d.emit()
	}
	d.reset()
	d.state = stateCompleted
	d.obs.OnComplete()
}

func (d *Decoder) emit() {
	d.obs.OnMessage(Message{
		ID:        d.msgID,
		Role:      RoleAssistant,
		Content:   d.text.String(),
		CreatedAt: d.now(),
	})
}

func (d *Decoder) reset() {
	d.msgID = ""
	d.text.Reset()
}
