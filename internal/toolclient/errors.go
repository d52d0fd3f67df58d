package toolclient

import (
	"fmt"
	"strings"
)

// Kind classifies tool-call failures.
type Kind string

const (
	KindHTTP     Kind = "http"
	KindRPC      Kind = "rpc"
	KindProtocol Kind = "protocol"
	KindTool     Kind = "tool"
	KindTimeout  Kind = "timeout"
	KindNetwork  Kind = "network"
)

// Error is the single error type returned by CallTool.
type Error struct {
	Kind    Kind
	Tool    string
	Status  int // HTTP status, KindHTTP only
	Code    int // JSON-RPC error code, KindRPC only
	Message string
	Body    string // raw response body, KindHTTP only
	Err     error
}

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrHTTP     = &Error{Kind: KindHTTP}
	ErrRPC      = &Error{Kind: KindRPC}
	ErrProtocol = &Error{Kind: KindProtocol}
	ErrTool     = &Error{Kind: KindTool}
	ErrTimeout  = &Error{Kind: KindTimeout}
	ErrNetwork  = &Error{Kind: KindNetwork}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("tool call")
	if e.Tool != "" {
		b.WriteString(" ")
		b.WriteString(e.Tool)
	}
	b.WriteString(": ")
	switch e.Kind {
	case KindHTTP:
		fmt.Fprintf(&b, "http status %d", e.Status)
		if body := strings.TrimSpace(e.Body); body != "" {
			b.WriteString(": ")
			b.WriteString(truncate(body, 512))
		}
	case KindRPC:
		fmt.Fprintf(&b, "rpc error %d: %s", e.Code, e.Message)
	default:
		b.WriteString(string(e.Kind))
		if e.Message != "" {
			b.WriteString(": ")
			b.WriteString(e.Message)
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Tool == "" && t.Message == "" && t.Err == nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
