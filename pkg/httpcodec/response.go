package httpcodec

import (
	"bytes"
	"fmt"
	"net/textproto"
)

// WriteResponse serializes a complete response with a canonical
// Content-Length framing, unless the caller already supplied one.
func WriteResponse(status int, reason string, headers []HeaderField, body []byte) []byte {
	var buf bytes.Buffer
	writeStatusLine(&buf, status, reason)

	hasContentLength := false
	for _, h := range headers {
		if textproto.CanonicalMIMEHeaderKey(h.Name) == "Content-Length" {
			hasContentLength = true
		}
		writeHeaderLine(&buf, h)
	}
	if !hasContentLength {
		fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(body))
	}
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes()
}

// WriteChunkedResponse serializes a response framed with Transfer-Encoding:
// chunked instead of Content-Length, used for bodies whose size isn't known
// up front (a camera snapshot still being captured). The Transfer-Encoding
// header is added unless the caller already supplied one.
func WriteChunkedResponse(status int, reason string, headers []HeaderField, body []byte) []byte {
	var buf bytes.Buffer
	writeStatusLine(&buf, status, reason)
	hasTransferEncoding := false
	for _, h := range headers {
		if textproto.CanonicalMIMEHeaderKey(h.Name) == "Transfer-Encoding" {
			hasTransferEncoding = true
		}
		writeHeaderLine(&buf, h)
	}
	if !hasTransferEncoding {
		buf.WriteString("Transfer-Encoding: chunked\r\n")
	}
	buf.WriteString("\r\n")

	if len(body) > 0 {
		fmt.Fprintf(&buf, "%x\r\n", len(body))
		buf.Write(body)
		buf.WriteString("\r\n")
	}
	buf.WriteString("0\r\n\r\n")
	return buf.Bytes()
}

// WriteEventFrame serializes a server-initiated out-of-band notification
// using HAP's EVENT/1.0 status line in place of a request/response pair.
func WriteEventFrame(contentType string, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("EVENT/1.0 200 OK\r\n")
	fmt.Fprintf(&buf, "Content-Type: %s\r\n", contentType)
	fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", len(payload))
	buf.Write(payload)
	return buf.Bytes()
}

func writeStatusLine(buf *bytes.Buffer, status int, reason string) {
	fmt.Fprintf(buf, "HTTP/1.1 %d %s\r\n", status, reason)
}

func writeHeaderLine(buf *bytes.Buffer, h HeaderField) {
	fmt.Fprintf(buf, "%s: %s\r\n", h.Name, h.Value)
}
