/*
Transport session

One session is one UDP endpoint towards one server. Owned by single sync attempt and
closed on every exit path.
*/
package sntpclock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"
)

const (
	DefaultNetwork = "udp6"
	RECEIVEBUFSIZE = 512 //Room for extensions and MAC, only header is used
)

//PacketConn is what upstream network layer must provide
type PacketConn interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

//Dialer opens endpoint bound to ephemeral local port, connected to address
type Dialer interface {
	Dial(ctx context.Context, network string, address string) (PacketConn, error)
}

//NetDialer is default Dialer on top of net package
type NetDialer struct {
	LocalAddress string //Optional, like "[fe80::1%eth0]:0"
}

func (p NetDialer) Dial(ctx context.Context, network string, address string) (PacketConn, error) {
	d := net.Dialer{}
	if p.LocalAddress != "" {
		local, errLocal := net.ResolveUDPAddr(network, p.LocalAddress)
		if errLocal != nil {
			return nil, fmt.Errorf("invalid local address %s err=%w", p.LocalAddress, errLocal)
		}
		d.LocalAddr = local
	}
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

//ServerAddress with default port
func ServerAddress(addr netip.Addr) netip.AddrPort {
	return netip.AddrPortFrom(addr, DefaultPort)
}

type Session struct {
	server  netip.AddrPort
	conn    PacketConn
	closeMu sync.Mutex
	closed  bool
	buf     [RECEIVEBUFSIZE]byte
}

//Response is raw datagram and local monotonic instants around the exchange
type Response struct {
	Data       []byte
	SentAt     time.Time
	ReceivedAt time.Time
}

//Elapsed is local round trip including server processing
func (p Response) Elapsed() time.Duration {
	return p.ReceivedAt.Sub(p.SentAt)
}

//Open acquires UDP endpoint towards server. Network "" means udp6
func Open(ctx context.Context, dialer Dialer, network string, server netip.AddrPort) (*Session, error) {
	if network == "" {
		network = DefaultNetwork
	}
	if dialer == nil {
		dialer = NetDialer{}
	}
	if !server.IsValid() {
		return nil, &ConnectError{Address: server.String(), Err: fmt.Errorf("invalid address")}
	}
	if server.Port() == 0 {
		server = netip.AddrPortFrom(server.Addr(), DefaultPort)
	}
	conn, err := dialer.Dial(ctx, network, server.String())
	if err != nil {
		return nil, &ConnectError{Address: server.String(), Err: err}
	}
	return &Session{server: server, conn: conn}, nil
}

func (p *Session) Server() netip.AddrPort {
	return p.server
}

//Close releases endpoint. Safe to call many times
func (p *Session) Close() error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.conn.Close()
}

//Exchange sends request as one datagram and waits response until timeout
func (p *Session) Exchange(ctx context.Context, request []byte, timeout time.Duration) (Response, error) {
	if errCtx := ctx.Err(); errCtx != nil {
		return Response{}, &CancelledError{Err: errCtx}
	}

	//Unblocks Read when caller gives up
	stop := context.AfterFunc(ctx, func() {
		p.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	sentAt := time.Now()
	if errDeadline := p.conn.SetReadDeadline(sentAt.Add(timeout)); errDeadline != nil {
		return Response{}, &IoError{Op: "set deadline", Err: errDeadline}
	}
	if errCtx := ctx.Err(); errCtx != nil { //AfterFunc might have run before deadline was set
		return Response{}, &CancelledError{Err: errCtx}
	}
	_, errWrite := p.conn.Write(request)
	if errWrite != nil {
		return Response{}, &IoError{Op: "send", Err: errWrite}
	}

	for {
		n, from, errRead := p.read()
		receivedAt := time.Now()
		if errRead != nil {
			if errCtx := ctx.Err(); errCtx != nil {
				return Response{}, &CancelledError{Err: errCtx}
			}
			if isTimeout(errRead) {
				return Response{}, &TimeoutError{Timeout: timeout}
			}
			return Response{}, &IoError{Op: "receive", Err: errRead}
		}
		if from.IsValid() && !sameEndpoint(from, p.server) {
			continue //Not from our server
		}
		data := make([]byte, n)
		copy(data, p.buf[:n])
		return Response{Data: data, SentAt: sentAt, ReceivedAt: receivedAt}, nil
	}
}

type addrPortReader interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
}

func (p *Session) read() (int, netip.AddrPort, error) {
	if r, ok := p.conn.(addrPortReader); ok {
		n, from, err := r.ReadFromUDPAddrPort(p.buf[:])
		return n, netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), err
	}
	n, err := p.conn.Read(p.buf[:])
	return n, netip.AddrPort{}, err
}

func sameEndpoint(a netip.AddrPort, b netip.AddrPort) bool {
	return a.Port() == b.Port() && a.Addr().Unmap().WithZone("") == b.Addr().Unmap().WithZone("")
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
