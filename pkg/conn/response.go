package conn

import (
	"github.com/haldor/go-hapcore/pkg/handler"
	"github.com/haldor/go-hapcore/pkg/httpcodec"
)

func serializeResponse(resp handler.Response, body []byte) []byte {
	headers := toCodecHeaders(resp.Headers)
	reason := resp.Reason
	if reason == "" {
		reason = reasonFor(resp.Status)
	}
	if resp.Chunked {
		return httpcodec.WriteChunkedResponse(resp.Status, reason, headers, body)
	}
	return httpcodec.WriteResponse(resp.Status, reason, headers, body)
}

// reasonFor covers the status codes an accessory handler plausibly
// returns; anything else falls back to a generic phrase rather than
// pulling in net/http just for its status-text table.
func reasonFor(status int) string {
	switch status {
	case 200:
		return "OK"
	case 204:
		return "No Content"
	case 207:
		return "Multi-Status"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 422:
		return "Unprocessable Entity"
	case 500:
		return "Internal Server Error"
	case 503:
		return "Service Unavailable"
	default:
		return "HAP"
	}
}
