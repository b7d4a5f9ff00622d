//go:build linux

package wsconn

import (
	"net"
	"syscall"
)

// SetTCPOptions tunes a TCP connection for many long-lived, low-latency
// WebSocket streams, grounded on the teacher's pkg/websocket/netpoll.go.
// Only the per-connection tuning is carried forward here: the gateway
// listens via net/http.Server + the gorilla upgrader, so the teacher's
// hand-rolled CreateOptimizedListener/EpollServer (manual socket/accept
// loop) has no caller and is not adapted (see DESIGN.md).
func SetTCPOptions(conn *net.TCPConn) error {
	file, err := conn.File()
	if err != nil {
		return err
	}
	defer file.Close()

	fd := int(file.Fd())

	syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1)
	syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_KEEPALIVE, 1)
	syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_KEEPIDLE, 30)
	syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_KEEPINTVL, 10)
	syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_KEEPCNT, 3)
	syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_RCVBUF, 262144)
	syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_SNDBUF, 262144)

	return nil
}
