package toolclient

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
)

const maxSSELine = 8 << 20

// parseSSE extracts the authoritative JSON-RPC envelope from an event-stream
// body. Each data line is decoded on its own; among valid 2.0 envelopes the
// last one answering requestID wins, falling back to the last valid one.
func parseSSE(body []byte, requestID string) (*envelope, error) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)

	var (
		dataLines int
		lastValid *envelope
		lastMatch *envelope
	)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		dataLines++
		payload = strings.TrimPrefix(payload, " ")

		var env envelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil || env.JSONRPC != jsonRPCVersion {
			continue
		}
		lastValid = &env
		if env.hasID(requestID) {
			lastMatch = &env
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &Error{Kind: KindProtocol, Message: "read event stream", Err: err}
	}

	switch {
	case dataLines == 0:
		return nil, &Error{Kind: KindProtocol, Message: "no data in SSE response"}
	case lastMatch != nil:
		return lastMatch, nil
	case lastValid != nil:
		return lastValid, nil
	default:
		return nil, &Error{Kind: KindProtocol, Message: "no valid JSON-RPC response in SSE stream"}
	}
}
