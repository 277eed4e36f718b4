package sntpclock

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//startUDPServer answers every request with reply(req). Returns server address
func startUDPServer(t *testing.T, network string, listen string, reply func(req []byte) []byte) netip.AddrPort {
	conn, err := net.ListenPacket(network, listen)
	if err != nil {
		t.Skipf("can not listen %s %s: %v", network, listen, err)
	}
	t.Cleanup(func() { conn.Close() })
	go func() {
		buf := make([]byte, 512)
		for {
			n, from, errRead := conn.ReadFrom(buf)
			if errRead != nil {
				return
			}
			if reply == nil {
				continue
			}
			if out := reply(buf[:n]); out != nil {
				conn.WriteTo(out, from)
			}
		}
	}()
	return conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func TestExchangeLoopbackIPv4(t *testing.T) {
	server := startUDPServer(t, "udp4", "127.0.0.1:0", serverReply(nil))
	sess, err := Open(context.Background(), NetDialer{}, "udp4", server)
	require.NoError(t, err)
	defer sess.Close()

	req := EncodeRequest(RequestOptions{TransmitTime: Timestamp{Seconds: 77}})
	resp, errExchange := sess.Exchange(context.Background(), req[:], time.Second)
	require.NoError(t, errExchange)
	assert.Equal(t, PACKETSIZE, len(resp.Data))
	assert.True(t, resp.Elapsed() >= 0)

	pkt, errDecode := DecodeResponse(resp.Data)
	require.NoError(t, errDecode)
	assert.Equal(t, Timestamp{Seconds: 77}, pkt.OriginTime)
}

func TestExchangeLoopbackIPv6(t *testing.T) {
	server := startUDPServer(t, "udp6", "[::1]:0", serverReply(nil))
	ctrl, err := NewSyncController(Config{
		Server:         server,
		Network:        "udp6",
		Version:        4,
		Timeout:        time.Second,
		MaxRetries:     0,
		TransmitUptime: true,
	}, WithUptime(fixedUptime(time.Hour)))
	require.NoError(t, err)

	res := ctrl.Sync(context.Background())
	require.NoError(t, res.Err)
	assert.True(t, testServerTime.Equal(res.Time.Time()))
}

func TestExchangeTimeout(t *testing.T) {
	server := startUDPServer(t, "udp4", "127.0.0.1:0", nil)
	sess, err := Open(context.Background(), NetDialer{}, "udp4", server)
	require.NoError(t, err)
	defer sess.Close()

	req := EncodeRequest(RequestOptions{})
	start := time.Now()
	_, errExchange := sess.Exchange(context.Background(), req[:], 50*time.Millisecond)
	assert.ErrorIs(t, errExchange, ErrTimeout)
	var te *TimeoutError
	require.True(t, errors.As(errExchange, &te))
	assert.Equal(t, 50*time.Millisecond, te.Timeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExchangeCancel(t *testing.T) {
	dialer := &fakeDialer{}
	sess, err := Open(context.Background(), dialer, "", testServer)
	require.NoError(t, err)
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := EncodeRequest(RequestOptions{})
	_, errExchange := sess.Exchange(ctx, req[:], time.Second)
	assert.ErrorIs(t, errExchange, ErrCancelled)
	assert.ErrorIs(t, errExchange, context.Canceled)
}

func TestSessionCloseTwice(t *testing.T) {
	dialer := &fakeDialer{}
	sess, err := Open(context.Background(), dialer, "", testServer)
	require.NoError(t, err)
	assert.Equal(t, testServer, sess.Server())
	assert.NoError(t, sess.Close())
	assert.NoError(t, sess.Close())
	assert.Equal(t, int32(1), dialer.closes.Load())
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(context.Background(), &fakeDialer{}, "", netip.AddrPort{})
	assert.ErrorIs(t, err, ErrNoRoute)

	cause := errors.New("connect: network is unreachable")
	_, err = Open(context.Background(), &fakeDialer{dialErr: cause}, "", testServer)
	assert.ErrorIs(t, err, ErrNoRoute)
	assert.ErrorIs(t, err, cause)
}

func TestSameEndpoint(t *testing.T) {
	a := netip.MustParseAddrPort("[::ffff:127.0.0.1]:123")
	b := netip.MustParseAddrPort("127.0.0.1:123")
	assert.True(t, sameEndpoint(a, b))
	assert.False(t, sameEndpoint(a, netip.MustParseAddrPort("127.0.0.1:124")))
	assert.True(t, sameEndpoint(netip.MustParseAddrPort("[fe80::1%eth0]:123"), netip.MustParseAddrPort("[fe80::1]:123")))
}

type datagram struct {
	from netip.AddrPort
	data []byte
}

//peerConn is unconnected socket look-alike, reports sender of every datagram
type peerConn struct {
	queue []datagram
	reads int
}

func (c *peerConn) Write(b []byte) (int, error)       { return len(b), nil }
func (c *peerConn) SetReadDeadline(t time.Time) error { return nil }
func (c *peerConn) Close() error                      { return nil }

func (c *peerConn) Read(b []byte) (int, error) {
	n, _, err := c.ReadFromUDPAddrPort(b)
	return n, err
}

func (c *peerConn) ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error) {
	c.reads++
	if len(c.queue) == 0 {
		return 0, netip.AddrPort{}, os.ErrDeadlineExceeded
	}
	d := c.queue[0]
	c.queue = c.queue[1:]
	return copy(b, d.data), d.from, nil
}

type peerDialer struct {
	conn *peerConn
}

func (p peerDialer) Dial(ctx context.Context, network string, address string) (PacketConn, error) {
	return p.conn, nil
}

func TestExchangeSkipsOtherPeers(t *testing.T) {
	reply := serverReply(nil)(make([]byte, PACKETSIZE))
	conn := &peerConn{queue: []datagram{
		{from: netip.MustParseAddrPort("[2001:db8::99]:123"), data: []byte("spoofed")},
		{from: netip.AddrPortFrom(testServer.Addr(), 4123), data: []byte("wrong port")},
		{from: testServer, data: reply},
	}}
	sess, err := Open(context.Background(), peerDialer{conn: conn}, "", testServer)
	require.NoError(t, err)
	defer sess.Close()

	resp, errExchange := sess.Exchange(context.Background(), make([]byte, PACKETSIZE), time.Second)
	require.NoError(t, errExchange)
	assert.Equal(t, reply, resp.Data)
	assert.Equal(t, 3, conn.reads)
}

func TestExchangeOnlyOtherPeersTimesOut(t *testing.T) {
	conn := &peerConn{queue: []datagram{
		{from: netip.MustParseAddrPort("[2001:db8::99]:123"), data: []byte("spoofed")},
	}}
	sess, err := Open(context.Background(), peerDialer{conn: conn}, "", testServer)
	require.NoError(t, err)
	defer sess.Close()

	_, errExchange := sess.Exchange(context.Background(), make([]byte, PACKETSIZE), time.Second)
	assert.ErrorIs(t, errExchange, ErrTimeout)
}
