package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Framing selects how a response body is split into fragments.
type Framing int

const (
	// FramingNDJSON treats every non-blank line as one JSON fragment (Ollama).
	FramingNDJSON Framing = iota
	// FramingSSE treats the data lines of one server-sent event as one
	// fragment (OpenAI-compatible APIs, Gemini with alt=sse).
	FramingSSE
)

// DefaultSentinel is the fragment OpenAI-compatible APIs send at the end of a stream.
const DefaultSentinel = "[DONE]"

// MaxFragmentSize bounds the bytes buffered while waiting for a delimiter,
// including the joined data lines of one SSE event.
const MaxFragmentSize = 1 << 20

// ErrFragmentTooLarge is returned when a fragment grows past MaxFragmentSize
// without a delimiter.
var ErrFragmentTooLarge = errors.New("stream fragment exceeds maximum size")

// Delta is the text decoded from a single fragment.
type Delta struct {
	Content string
	Done    bool
}

// ExtractFunc decodes one complete fragment. A plain error marks the fragment
// as malformed and it is skipped; an *UpstreamError aborts the stream.
type ExtractFunc func(fragment []byte) (Delta, error)

// EmitFunc receives every non-empty delta in stream order. Returning an error
// stops the read.
type EmitFunc func(Delta) error

// Accumulator collects streamed text. It is safe to read while a stream is
// still appending to it.
type Accumulator struct {
	mu sync.RWMutex
	b  strings.Builder
}

// Append adds s to the accumulated text.
func (a *Accumulator) Append(s string) {
	a.mu.Lock()
	a.b.WriteString(s)
	a.mu.Unlock()
}

// String returns the text accumulated so far.
func (a *Accumulator) String() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.b.String()
}

// Len returns the number of bytes accumulated so far.
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.b.Len()
}

// Reader turns a streaming response body into text deltas.
type Reader struct {
	framing  Framing
	extract  ExtractFunc
	sentinel string
	bufSize  int
	log      *zap.Logger
}

// ReaderOption customizes a Reader.
type ReaderOption func(*Reader)

// WithSentinel overrides the end-of-stream marker. An empty string disables it.
func WithSentinel(s string) ReaderOption { return func(r *Reader) { r.sentinel = s } }

// WithReadBufferSize sets how many bytes are requested per read.
func WithReadBufferSize(n int) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.bufSize = n
		}
	}
}

// WithReaderLogger sets the logger used for skipped fragments.
func WithReaderLogger(log *zap.Logger) ReaderOption {
	return func(r *Reader) {
		if log != nil {
			r.log = log
		}
	}
}

// NewReader creates a Reader for the given framing and fragment decoder.
func NewReader(framing Framing, extract ExtractFunc, opts ...ReaderOption) *Reader {
	r := &Reader{
		framing:  framing,
		extract:  extract,
		sentinel: DefaultSentinel,
		bufSize:  4096,
		log:      zap.L(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read consumes body until EOF, the sentinel, a Done delta, or ctx is
// cancelled. Each decoded delta is appended to acc (which may be nil) and
// passed to emit (which may be nil).
//
// When body is an io.Closer, cancelling ctx closes it so a blocked read
// returns promptly; Read then reports ctx.Err().
func (r *Reader) Read(ctx context.Context, body io.Reader, acc *Accumulator, emit EmitFunc) error {
	if acc == nil {
		acc = &Accumulator{}
	}
	if c, ok := body.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}

	s := &readState{r: r, acc: acc, emit: emit}
	buf := make([]byte, r.bufSize)
	var pending []byte

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				line := trimCR(pending[:i])
				pending = pending[i+1:]
				done, err := s.handleLine(line)
				if err != nil || done {
					return err
				}
			}
			if len(pending) > MaxFragmentSize {
				return ErrFragmentTooLarge
			}
		}

		if readErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if !errors.Is(readErr, io.EOF) {
				return fmt.Errorf("read stream: %w", readErr)
			}
			// Dispatch whatever the server left unterminated.
			if len(pending) > 0 {
				if done, err := s.handleLine(trimCR(pending)); err != nil || done {
					return err
				}
			}
			_, err := s.flushEvent()
			return err
		}
	}
}

// readState is the per-call parsing state, so one Reader can serve
// concurrent streams.
type readState struct {
	r    *Reader
	acc  *Accumulator
	emit EmitFunc
	data [][]byte
	// dataLen is the size of the pending event once its lines are joined.
	dataLen int
}

func (s *readState) handleLine(line []byte) (bool, error) {
	if s.r.framing != FramingSSE {
		return s.dispatch(line)
	}

	if len(line) == 0 {
		return s.flushEvent()
	}
	if line[0] == ':' {
		return false, nil
	}
	field, value, found := bytes.Cut(line, []byte(":"))
	if !found {
		return false, nil
	}
	if string(field) == "data" {
		value = bytes.TrimPrefix(value, []byte(" "))
		if len(s.data) > 0 {
			s.dataLen++
		}
		s.dataLen += len(value)
		if s.dataLen > MaxFragmentSize {
			return true, ErrFragmentTooLarge
		}
		s.data = append(s.data, append([]byte(nil), value...))
	}
	// event:, id: and retry: carry nothing the decoders need.
	return false, nil
}

func (s *readState) flushEvent() (bool, error) {
	if len(s.data) == 0 {
		return false, nil
	}
	payload := bytes.Join(s.data, []byte("\n"))
	s.data = s.data[:0]
	s.dataLen = 0
	return s.dispatch(payload)
}

func (s *readState) dispatch(fragment []byte) (bool, error) {
	fragment = bytes.TrimSpace(fragment)
	if len(fragment) == 0 {
		return false, nil
	}
	if s.r.sentinel != "" && string(fragment) == s.r.sentinel {
		return true, nil
	}

	d, err := s.r.extract(fragment)
	if err != nil {
		var upstream *UpstreamError
		if errors.As(err, &upstream) {
			return true, err
		}
		s.r.log.Warn("Skipping malformed stream fragment", zap.Error(err), zap.Int("bytes", len(fragment)))
		return false, nil
	}

	if d.Content != "" {
		s.acc.Append(d.Content)
		if s.emit != nil {
			if err := s.emit(d); err != nil {
				return true, err
			}
		}
	}
	return d.Done, nil
}

func trimCR(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\r' {
		return b[:n-1]
	}
	return b
}
