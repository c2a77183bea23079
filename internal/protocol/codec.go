package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single line read by Reader.
const MaxFrameSize = 1 << 20

var (
	ErrEmptyFrame     = errors.New("empty frame")
	ErrMalformedFrame = errors.New("malformed frame")
)

// Encode serializes m as a single JSON object followed by '\n'.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("encode: nil message")
	}

	// Nil slices would encode as null; members expect arrays.
	switch v := m.(type) {
	case LobbyUpdate:
		if v.Clients == nil {
			v.Clients = []string{}
		}
		m = v
	case LevelStarted:
		if v.Mobs == nil {
			v.Mobs = []Mob{}
		}
		m = v
	}

	kind, err := json.Marshal(string(m.Type()))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}

	var body []byte
	if _, ok := m.(Unknown); ok {
		body = []byte("{}")
	} else if body, err = json.Marshal(m); err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}

	var buf bytes.Buffer
	buf.Grow(len(kind) + len(body) + 12)
	buf.WriteString(`{"type":`)
	buf.Write(kind)
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1 : len(body)-1])
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

// Parse decodes one line (without its terminator). Blank lines return
// ErrEmptyFrame; anything that is not a JSON object with string fields of
// the expected shape returns ErrMalformedFrame.
func Parse(line []byte) (Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, ErrEmptyFrame
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var m Message
	var err error
	switch Type(head.Type) {
	case TypeJoin:
		m, err = unmarshalAs[Join](line)
	case TypeJoined:
		m, err = unmarshalAs[Joined](line)
	case TypeError:
		m, err = unmarshalAs[Error](line)
	case TypeLobbyUpdate:
		m, err = unmarshalAs[LobbyUpdate](line)
	case TypeStartLevel:
		m, err = unmarshalAs[StartLevel](line)
	case TypeLevelStarted:
		m, err = unmarshalAs[LevelStarted](line)
	case TypeLeave:
		m = Leave{}
	default:
		m = Unknown{Kind: head.Type}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, head.Type, err)
	}
	return m, nil
}

func unmarshalAs[T Message](line []byte) (Message, error) {
	var v T
	if err := json.Unmarshal(line, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Decode consumes complete lines from buf and returns the first message that
// parses, along with the unconsumed remainder. Blank and malformed lines are
// skipped. When no complete line parses, it returns nil and the trailing
// partial line (possibly empty), which the caller keeps until more bytes
// arrive.
func Decode(buf []byte) (Message, []byte) {
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			return nil, buf
		}
		line := buf[:i]
		buf = buf[i+1:]
		if m, err := Parse(line); err == nil {
			return m, buf
		}
	}
}

// Reader reads frames from a byte stream, skipping lines that do not parse.
type Reader struct {
	sc *bufio.Scanner

	// OnSkip, if set, is called for every dropped line.
	OnSkip func(line []byte, err error)
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), MaxFrameSize)
	return &Reader{sc: sc}
}

// Read blocks until a message is available. It returns io.EOF when the
// stream ends cleanly and any other error when the stream cannot be read,
// including bufio.ErrTooLong for a line over MaxFrameSize.
func (r *Reader) Read() (Message, error) {
	for r.sc.Scan() {
		line := r.sc.Bytes()
		m, err := Parse(line)
		if err != nil {
			if r.OnSkip != nil && !errors.Is(err, ErrEmptyFrame) {
				r.OnSkip(line, err)
			}
			continue
		}
		return m, nil
	}
	if err := r.sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
