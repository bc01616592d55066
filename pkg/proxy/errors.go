package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Upstream failure categories. Each maps to a fixed user-visible message
// so transport faults never surface as raw errors or 5xx responses.
type errorKind string

const (
	errConnect errorKind = "connect"
	errTimeout errorKind = "timeout"
	errRead    errorKind = "read"
	errServer  errorKind = "server"
	errUnknown errorKind = "unknown"
)

var friendlyMessages = map[errorKind]string{
	errConnect: "网络连接异常，正在重试...",
	errTimeout: "AI 响应超时，请稍后重试",
	errRead:    "网络波动，数据读取中断",
	errServer:  "AI 服务暂时繁忙，请稍后再试",
	errUnknown: "出了一点小问题，请稍后重试",
}

// upstreamStatusError marks an HTTP error status from the gateway.
type upstreamStatusError struct {
	status int
}

func (e *upstreamStatusError) Error() string {
	return fmt.Sprintf("upstream status %d", e.status)
}

// classifyRequestErr categorizes a failure raised before any response
// body was read. Errors during body streaming are classified errRead by
// the caller.
func classifyRequestErr(err error) errorKind {
	var statusErr *upstreamStatusError
	if errors.As(err, &statusErr) {
		if statusErr.status >= 500 {
			return errServer
		}
		return errUnknown
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return errConnect
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errTimeout
	}
	return errUnknown
}
