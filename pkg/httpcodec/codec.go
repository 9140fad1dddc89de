// Package httpcodec implements a sans-I/O HTTP/1.1 server-role parser and
// serializer. It accepts arbitrary byte chunks and emits a stream of
// events; it performs no I/O of its own so it can sit behind either a
// plaintext socket or a decrypted HAP frame stream.
//
// The header- and chunked-body-parsing shape (accumulate a line at a
// time, fold continuation lines, read chunk-size/chunk-data/trailer in
// sequence) is adapted from the teacher's blocking bufio.Reader-based
// response parser (pkg/client.Client.readHeaders / readChunkedBody),
// rewritten as incremental state transitions over a byte slice so no
// state is held hostage on a blocking read.
package httpcodec

import (
	"bytes"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/haldor/go-hapcore/pkg/constants"
	"github.com/haldor/go-hapcore/pkg/errors"
)

// EventType identifies the kind of event Next returns.
type EventType int

const (
	// NeedData means the codec made all the progress it can with the
	// bytes buffered so far; the caller must Feed more before calling
	// Next again.
	NeedData EventType = iota
	// Request carries a fully-parsed request line and header block.
	Request
	// Data carries one chunk of the request body, in order.
	Data
	// EndOfMessage signals the request (headers + body) is complete.
	EndOfMessage
	// Paused signals the codec is between messages; the caller must call
	// Cycle before the next Request can be parsed.
	Paused
	// MustClose signals a malformed or out-of-protocol byte sequence; the
	// connection must be closed, no further events will be produced.
	MustClose
)

func (t EventType) String() string {
	switch t {
	case NeedData:
		return "NeedData"
	case Request:
		return "Request"
	case Data:
		return "Data"
	case EndOfMessage:
		return "EndOfMessage"
	case Paused:
		return "Paused"
	case MustClose:
		return "MustClose"
	default:
		return "Unknown"
	}
}

// HeaderField is one header's name/value pair, preserved in wire order
// (including duplicates) rather than collapsed into a map.
type HeaderField struct {
	Name  string
	Value string
}

// Event is one unit of parser progress.
type Event struct {
	Type    EventType
	Method  string
	Target  string
	Headers []HeaderField
	Chunk   []byte
	Err     error
}

type parseState int

const (
	stateRequestLine parseState = iota
	stateHeaders
	stateBodyFixed
	stateChunkSize
	stateChunkData
	stateChunkCRLF
	stateChunkTrailer
	stateAwaitingCycle
	stateClosed
)

// Codec is one connection's HTTP/1.1 parsing state machine. It is reused
// across requests on a keep-alive connection via Cycle.
type Codec struct {
	addr string

	st  parseState
	buf []byte

	method  string
	target  string
	headers []HeaderField

	headerBytes int
	remaining   int64 // fixed-length body bytes left to read
	chunkLeft   int64 // current chunk's bytes left to read

	closeErr error
}

// New creates a codec for the connection at addr (used only for error
// context).
func New(addr string) *Codec {
	return &Codec{addr: addr, st: stateRequestLine}
}

// Feed appends newly-available bytes — plaintext from the socket, or
// plaintext drained from a CryptoSession — to the parse buffer.
func (c *Codec) Feed(b []byte) {
	c.buf = append(c.buf, b...)
}

// Cycle resets the codec to parse the next request-line, preserving any
// buffered leftover bytes. It is a no-op unless the codec is currently
// Paused between messages.
func (c *Codec) Cycle() {
	if c.st != stateAwaitingCycle {
		return
	}
	c.st = stateRequestLine
	c.method = ""
	c.target = ""
	c.headers = nil
	c.headerBytes = 0
	c.remaining = 0
	c.chunkLeft = 0
}

// Next advances parsing as far as the buffered bytes allow and returns the
// resulting event.
func (c *Codec) Next() Event {
	switch c.st {
	case stateClosed:
		return Event{Type: MustClose, Err: c.closeErr}
	case stateAwaitingCycle:
		return Event{Type: Paused}
	case stateRequestLine:
		return c.parseRequestLine()
	case stateHeaders:
		return c.parseHeaders()
	case stateBodyFixed:
		return c.parseBodyFixed()
	case stateChunkSize:
		return c.parseChunkSize()
	case stateChunkData:
		return c.parseChunkData()
	case stateChunkCRLF:
		return c.parseChunkCRLF()
	case stateChunkTrailer:
		return c.parseChunkTrailer()
	default:
		return Event{Type: NeedData}
	}
}

func (c *Codec) popLine() ([]byte, bool) {
	idx := bytes.Index(c.buf, []byte("\r\n"))
	if idx < 0 {
		return nil, false
	}
	line := c.buf[:idx]
	c.buf = c.buf[idx+2:]
	return line, true
}

func (c *Codec) fail(message string) Event {
	c.st = stateClosed
	c.closeErr = errors.NewCodecViolationError(c.addr, message, nil)
	return Event{Type: MustClose, Err: c.closeErr}
}

func (c *Codec) parseRequestLine() Event {
	line, ok := c.popLine()
	if !ok {
		return Event{Type: NeedData}
	}
	parts := strings.SplitN(string(line), " ", 3)
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "HTTP/1.") {
		return c.fail("malformed request line")
	}
	c.method = parts[0]
	c.target = parts[1]
	c.st = stateHeaders
	return c.parseHeaders()
}

func (c *Codec) parseHeaders() Event {
	for {
		line, ok := c.popLine()
		if !ok {
			return Event{Type: NeedData}
		}

		c.headerBytes += len(line) + 2
		if c.headerBytes > constants.MaxHeaderBytes {
			return c.fail("header section exceeds maximum size")
		}

		if len(line) == 0 {
			return c.finishHeaders()
		}

		if (line[0] == ' ' || line[0] == '\t') && len(c.headers) > 0 {
			last := &c.headers[len(c.headers)-1]
			last.Value += " " + strings.TrimSpace(string(line))
			continue
		}

		name, value, ok := splitHeaderLine(line)
		if !ok {
			return c.fail("malformed header line")
		}
		c.headers = append(c.headers, HeaderField{
			Name:  textproto.CanonicalMIMEHeaderKey(name),
			Value: value,
		})
	}
}

func splitHeaderLine(line []byte) (name, value string, ok bool) {
	idx := bytes.IndexByte(line, ':')
	if idx <= 0 {
		return "", "", false
	}
	name = strings.TrimSpace(string(line[:idx]))
	value = strings.TrimSpace(string(line[idx+1:]))
	return name, value, true
}

func (c *Codec) headerValue(name string) string {
	key := textproto.CanonicalMIMEHeaderKey(name)
	for _, h := range c.headers {
		if h.Name == key {
			return h.Value
		}
	}
	return ""
}

func (c *Codec) finishHeaders() Event {
	te := strings.ToLower(c.headerValue("Transfer-Encoding"))
	cl := c.headerValue("Content-Length")

	switch {
	case strings.Contains(te, "chunked"):
		c.st = stateChunkSize
	case cl != "":
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 || n > constants.MaxContentLength {
			return c.fail("invalid content-length")
		}
		c.remaining = n
		c.st = stateBodyFixed
	default:
		c.remaining = 0
		c.st = stateBodyFixed
	}

	return Event{Type: Request, Method: c.method, Target: c.target, Headers: c.headers}
}

func (c *Codec) parseBodyFixed() Event {
	if c.remaining == 0 {
		c.st = stateAwaitingCycle
		return Event{Type: EndOfMessage}
	}
	if len(c.buf) == 0 {
		return Event{Type: NeedData}
	}
	n := int64(len(c.buf))
	if n > c.remaining {
		n = c.remaining
	}
	chunk := c.buf[:n]
	c.buf = c.buf[n:]
	c.remaining -= n
	return Event{Type: Data, Chunk: chunk}
}

func (c *Codec) parseChunkSize() Event {
	line, ok := c.popLine()
	if !ok {
		return Event{Type: NeedData}
	}
	sizeStr := strings.TrimSpace(strings.SplitN(string(line), ";", 2)[0])
	n, err := strconv.ParseInt(sizeStr, 16, 64)
	if err != nil || n < 0 {
		return c.fail("invalid chunk size")
	}
	if n == 0 {
		c.st = stateChunkTrailer
		return c.parseChunkTrailer()
	}
	c.chunkLeft = n
	c.st = stateChunkData
	return c.parseChunkData()
}

func (c *Codec) parseChunkData() Event {
	if c.chunkLeft == 0 {
		c.st = stateChunkCRLF
		return c.parseChunkCRLF()
	}
	if len(c.buf) == 0 {
		return Event{Type: NeedData}
	}
	n := int64(len(c.buf))
	if n > c.chunkLeft {
		n = c.chunkLeft
	}
	chunk := c.buf[:n]
	c.buf = c.buf[n:]
	c.chunkLeft -= n
	return Event{Type: Data, Chunk: chunk}
}

func (c *Codec) parseChunkCRLF() Event {
	if len(c.buf) < 2 {
		return Event{Type: NeedData}
	}
	if c.buf[0] != '\r' || c.buf[1] != '\n' {
		return c.fail("malformed chunk terminator")
	}
	c.buf = c.buf[2:]
	c.st = stateChunkSize
	return c.parseChunkSize()
}

func (c *Codec) parseChunkTrailer() Event {
	for {
		line, ok := c.popLine()
		if !ok {
			return Event{Type: NeedData}
		}
		if len(line) == 0 {
			c.st = stateAwaitingCycle
			return Event{Type: EndOfMessage}
		}
		if name, value, ok := splitHeaderLine(line); ok {
			c.headers = append(c.headers, HeaderField{
				Name:  textproto.CanonicalMIMEHeaderKey(name),
				Value: value,
			})
		}
	}
}
