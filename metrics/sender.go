package metrics

import (
	"net"
	"sync/atomic"
)

type sender struct {
	stats   *clientStats
	address string
	conn    net.Conn
}

func newSender(address string, stats *clientStats) *sender {
	return &sender{
		stats:   stats,
		address: address,
	}
}

// SendPacket writes one datagram, dialing lazily. A failed write drops the
// connection so the next packet redials.
func (s *sender) SendPacket(packet []byte) {
	if len(packet) == 0 {
		return
	}
	if s.conn == nil {
		conn, err := net.Dial("unixgram", s.address)
		if err != nil {
			atomic.AddInt64(&s.stats.dialError, 1)
			return
		}
		s.conn = conn
	}
	if _, err := s.conn.Write(packet); err != nil {
		_ = s.conn.Close()
		s.conn = nil
		atomic.AddInt64(&s.stats.writeError, 1)
	}
}

func (s *sender) Close() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}
