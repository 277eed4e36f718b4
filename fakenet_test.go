package sntpclock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

//fakeDialer hands out in-memory connections. handler nil means server never answers
type fakeDialer struct {
	handler func(req []byte) []byte
	dialErr error
	sendErr error

	dials  atomic.Int32
	closes atomic.Int32
}

func (p *fakeDialer) Dial(ctx context.Context, network string, address string) (PacketConn, error) {
	if p.dialErr != nil {
		return nil, p.dialErr
	}
	p.dials.Add(1)
	return &fakeConn{
		dialer: p,
		kick:   make(chan struct{}, 1),
		inbox:  make(chan []byte, 4),
	}, nil
}

func (p *fakeDialer) open() int32 {
	return p.dials.Load() - p.closes.Load()
}

type fakeConn struct {
	dialer *fakeDialer

	mu       sync.Mutex
	deadline time.Time
	closed   bool
	kick     chan struct{}
	inbox    chan []byte
}

func (c *fakeConn) Write(b []byte) (int, error) {
	if c.dialer.sendErr != nil {
		return 0, c.dialer.sendErr
	}
	if c.dialer.handler != nil {
		req := make([]byte, len(b))
		copy(req, b)
		if reply := c.dialer.handler(req); reply != nil {
			c.inbox <- reply
		}
	}
	return len(b), nil
}

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	select {
	case c.kick <- struct{}{}:
	default:
	}
	return nil
}

func (c *fakeConn) Read(b []byte) (int, error) {
	for {
		c.mu.Lock()
		dl := c.deadline
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return 0, errors.New("use of closed connection")
		}
		var timeout <-chan time.Time
		var timer *time.Timer
		if !dl.IsZero() {
			wait := time.Until(dl)
			if wait <= 0 {
				return 0, os.ErrDeadlineExceeded
			}
			timer = time.NewTimer(wait)
			timeout = timer.C
		}
		select {
		case d := <-c.inbox:
			if timer != nil {
				timer.Stop()
			}
			return copy(b, d), nil
		case <-timeout:
			return 0, os.ErrDeadlineExceeded
		case <-c.kick:
			if timer != nil {
				timer.Stop()
			}
		}
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("already closed")
	}
	c.closed = true
	c.dialer.closes.Add(1)
	return nil
}

var testServerTime = time.Date(2026, 10, 19, 12, 34, 56, 250000000, time.UTC)

//serverReply answers like SNTP server would, mutate can break the reply
func serverReply(mutate func(pkt *NtpPacket)) func(req []byte) []byte {
	return func(req []byte) []byte {
		var reqPkt NtpPacket
		if len(req) == PACKETSIZE {
			reqPkt.TransmitTime = getTimestamp(req[40:48])
		}
		tx := FromCalendarTime(testServerTime)
		pkt := NtpPacket{
			Version:        4,
			Mode:           ModeServer,
			Stratum:        2,
			Poll:           6,
			Precision:      -20,
			RootDelay:      0x00000100,
			RootDispersion: 0x00000200,
			ReferenceID:    0x0a000001,
			ReferenceTime:  FromCalendarTime(testServerTime.Add(-time.Minute)),
			OriginTime:     reqPkt.TransmitTime,
			ReceiveTime:    tx,
			TransmitTime:   tx,
		}
		if mutate != nil {
			mutate(&pkt)
		}
		b := pkt.Encode()
		return b[:]
	}
}

type fixedUptime NsUptime

func (p fixedUptime) UptimeNano(time.Time) (NsUptime, error) {
	return NsUptime(p), nil
}
