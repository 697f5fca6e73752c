package connectivity

import (
	"context"
	"fmt"
	"net"
)

// TCPProber: połączenie TCP na host:port (np. bramka albo serwer centralny).
type TCPProber struct {
	Addr string
}

func (p TCPProber) Ping(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.Addr, err)
	}
	return conn.Close()
}
