package httpcodec

import (
	"bytes"
	"testing"
)

func drainUntil(t *testing.T, c *Codec, want EventType) Event {
	t.Helper()
	for i := 0; i < 1000; i++ {
		ev := c.Next()
		if ev.Type == want {
			return ev
		}
		if ev.Type == NeedData {
			t.Fatalf("hit NeedData before %s", want)
		}
		if ev.Type == MustClose {
			t.Fatalf("codec closed before %s: %v", want, ev.Err)
		}
	}
	t.Fatalf("never reached %s", want)
	return Event{}
}

func TestSimpleRequestNoBody(t *testing.T) {
	c := New("test")
	c.Feed([]byte("GET /accessories HTTP/1.1\r\nHost: x\r\n\r\n"))

	req := drainUntil(t, c, Request)
	if req.Method != "GET" || req.Target != "/accessories" {
		t.Fatalf("got method=%q target=%q", req.Method, req.Target)
	}

	end := drainUntil(t, c, EndOfMessage)
	_ = end
}

func TestRequestSplitAcrossFeeds(t *testing.T) {
	c := New("test")
	full := "PUT /characteristics HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello"

	var gotBody []byte
	for i := 0; i < len(full); i++ {
		c.Feed([]byte{full[i]})
		ev := c.Next()
		if ev.Type == MustClose {
			t.Fatalf("closed mid-stream: %v", ev.Err)
		}
		if ev.Type == Data {
			gotBody = append(gotBody, ev.Chunk...)
		}
	}

	for {
		ev := c.Next()
		if ev.Type == Data {
			gotBody = append(gotBody, ev.Chunk...)
			continue
		}
		if ev.Type == EndOfMessage {
			break
		}
		if ev.Type == NeedData {
			t.Fatal("ran out of data before EndOfMessage")
		}
	}
	if string(gotBody) != "hello" {
		t.Fatalf("got body %q, want %q", gotBody, "hello")
	}
}

func TestChunkedBody(t *testing.T) {
	c := New("test")
	c.Feed([]byte("POST /resource HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"))

	drainUntil(t, c, Request)

	var body bytes.Buffer
	for {
		ev := c.Next()
		if ev.Type == Data {
			body.Write(ev.Chunk)
			continue
		}
		if ev.Type == EndOfMessage {
			break
		}
		if ev.Type == NeedData || ev.Type == MustClose {
			t.Fatalf("unexpected event %v", ev.Type)
		}
	}
	if body.String() != "Wikipedia" {
		t.Fatalf("got %q, want %q", body.String(), "Wikipedia")
	}
}

func TestChunkBoundarySplitAtEveryOffset(t *testing.T) {
	full := []byte("POST /x HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"3\r\nabc\r\n2\r\nde\r\n0\r\n\r\n")

	for split := 0; split <= len(full); split++ {
		c := New("test")
		c.Feed(full[:split])

		var body bytes.Buffer
		fed := split
		for {
			ev := c.Next()
			switch ev.Type {
			case Data:
				body.Write(ev.Chunk)
			case EndOfMessage:
				goto done
			case NeedData:
				if fed >= len(full) {
					t.Fatalf("split=%d: ran dry before EndOfMessage", split)
				}
				c.Feed(full[fed : fed+1])
				fed++
			case MustClose:
				t.Fatalf("split=%d: closed: %v", split, ev.Err)
			}
		}
	done:
		if body.String() != "abcde" {
			t.Fatalf("split=%d: got %q", split, body.String())
		}
	}
}

func TestKeepAliveTwoRequests(t *testing.T) {
	c := New("test")
	c.Feed([]byte("GET /a HTTP/1.1\r\n\r\nGET /b HTTP/1.1\r\n\r\n"))

	req1 := drainUntil(t, c, Request)
	if req1.Target != "/a" {
		t.Fatalf("got %q", req1.Target)
	}
	drainUntil(t, c, EndOfMessage)

	paused := drainUntil(t, c, Paused)
	_ = paused
	c.Cycle()

	req2 := drainUntil(t, c, Request)
	if req2.Target != "/b" {
		t.Fatalf("got %q", req2.Target)
	}
	drainUntil(t, c, EndOfMessage)
}

func TestMalformedRequestLineMustClose(t *testing.T) {
	c := New("test")
	c.Feed([]byte("NOT A REQUEST\r\n\r\n"))
	ev := c.Next()
	if ev.Type != MustClose {
		t.Fatalf("got %v, want MustClose", ev.Type)
	}
}

func TestWriteResponseAddsContentLength(t *testing.T) {
	out := WriteResponse(200, "OK", nil, []byte("hi"))
	want := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"
	if string(out) != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestWriteChunkedResponseFraming(t *testing.T) {
	out := WriteChunkedResponse(200, "OK", []HeaderField{{Name: "Transfer-Encoding", Value: "chunked"}}, []byte("fakesnap"))
	want := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n8\r\nfakesnap\r\n0\r\n\r\n"
	if string(out) != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}
