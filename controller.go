/*
SyncController runs one synchronization at a time

Idle -> Requesting -> AwaitingResponse -> Validating -> Converting -> Done
Done carries either calendar time or error. Timeouts and io errors are retried with fresh
endpoint, everything else ends the call.
*/
package sntpclock

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SyncState int

const (
	StateIdle SyncState = iota
	StateRequesting
	StateAwaitingResponse
	StateValidating
	StateConverting
	StateDone
)

func (s SyncState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateAwaitingResponse:
		return "awaiting response"
	case StateValidating:
		return "validating"
	case StateConverting:
		return "converting"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

//Sink receives every finished result. RTC and display side implements this
type Sink interface {
	SyncDone(res SyncResult)
}

//SyncResult is outcome of one Synchronize call. Time fields are set only when Err is nil
type SyncResult struct {
	ID       string
	Server   netip.AddrPort
	State    SyncState
	Attempts int
	Err      error

	Time           CalendarTime //Server transmit timestamp
	Stratum        uint8
	Precision      int8
	Poll           int8
	Leap           LeapIndicator
	ReferenceID    uint32
	RootDelay      time.Duration
	RootDispersion time.Duration

	Delay      time.Duration //Round trip without server processing
	SentAt     time.Time     //Local monotonic instants
	ReceivedAt time.Time

	KissCode   string        //Set on kiss-of-death
	RetryAfter time.Duration //Set on kiss-of-death
}

func (p *SyncResult) OK() bool {
	return p.Err == nil && p.State == StateDone
}

//Estimate is server time at ReceivedAt. Assumes symmetric path
func (p *SyncResult) Estimate() time.Time {
	return p.Time.Time().Add(p.Delay / 2)
}

//ClockOffset is how much local clock should be moved. local is wall clock reading at ReceivedAt
func (p *SyncResult) ClockOffset(local time.Time) time.Duration {
	return p.Estimate().Sub(local)
}

type Option func(*SyncController)

func WithDialer(d Dialer) Option {
	return func(p *SyncController) { p.dialer = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *SyncController) { p.log = l }
}

func WithUptime(u UptimeSource) Option {
	return func(p *SyncController) { p.uptime = u }
}

func WithSink(s Sink) Option {
	return func(p *SyncController) { p.sink = s }
}

type SyncController struct {
	conf   Config
	dialer Dialer
	log    *zap.Logger
	uptime UptimeSource
	sink   Sink

	mu sync.Mutex //One attempt at time
}

func NewSyncController(conf Config, opts ...Option) (*SyncController, error) {
	if errValid := conf.Validate(); errValid != nil {
		return nil, errValid
	}
	result := &SyncController{
		conf:   conf,
		dialer: NetDialer{},
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(result)
	}
	return result, nil
}

func (p *SyncController) Config() Config {
	return p.conf
}

//Sync runs Synchronize with configured server, timeout and retries
func (p *SyncController) Sync(ctx context.Context) SyncResult {
	return p.Synchronize(ctx, p.conf.Server, p.conf.Timeout, p.conf.MaxRetries)
}

//Synchronize makes at most maxRetries+1 attempts. Overlapping calls are serialized
func (p *SyncController) Synchronize(ctx context.Context, server netip.AddrPort, timeout time.Duration, maxRetries int) SyncResult {
	res := p.synchronize(ctx, server, timeout, maxRetries)
	if p.sink != nil {
		p.sink.SyncDone(res)
	}
	return res
}

func (p *SyncController) synchronize(ctx context.Context, server netip.AddrPort, timeout time.Duration, maxRetries int) SyncResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if server.IsValid() && server.Port() == 0 {
		server = ServerAddress(server.Addr())
	}
	res := SyncResult{ID: uuid.NewString(), Server: server, State: StateIdle}
	log := p.log.With(zap.String("id", res.ID), zap.Stringer("server", server))

	if maxRetries < 0 {
		maxRetries = 0
	}
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if 0 < attempt && 0 < p.conf.RetryInterval {
			if errWait := sleepCtx(ctx, p.conf.RetryInterval); errWait != nil {
				return p.fail(log, res, &CancelledError{Err: errWait})
			}
		}
		res.Attempts = attempt + 1
		smp, errAttempt := p.attempt(ctx, log, &res, server, timeout)
		if errAttempt == nil {
			smp.fill(&res)
			p.transition(log, &res, StateDone)
			log.Info("sync done",
				zap.Time("time", res.Time.Time()),
				zap.Duration("delay", res.Delay),
				zap.Uint8("stratum", res.Stratum),
				zap.Int("attempts", res.Attempts))
			return res
		}
		if !IsTransient(errAttempt) || attempt == maxRetries {
			return p.fail(log, res, errAttempt)
		}
		log.Warn("sync attempt failed, retrying", zap.Int("attempt", res.Attempts), zap.Error(errAttempt))
	}
	return p.fail(log, res, fmt.Errorf("no attempts made")) //Not reached
}

func (p *SyncController) fail(log *zap.Logger, res SyncResult, err error) SyncResult {
	res.Err = err
	var de *DecodeError
	if errors.As(err, &de) && de.Kind == KissOfDeath {
		res.KissCode = de.Packet.KissCode()
		res.RetryAfter = KissOfDeathBackoff(err, p.conf.MinKissBackoff)
	}
	p.transition(log, &res, StateDone)
	log.Warn("sync failed", zap.Int("attempts", res.Attempts), zap.Error(err), zap.Duration("retryAfter", res.RetryAfter))
	return res
}

func (p *SyncController) transition(log *zap.Logger, res *SyncResult, s SyncState) {
	log.Debug("state", zap.Stringer("from", res.State), zap.Stringer("to", s))
	res.State = s
}

//sample is internal until conversion is complete
type sample struct {
	pkt  NtpPacket
	cal  CalendarTime
	resp Response
}

func (s *sample) fill(res *SyncResult) {
	res.Time = s.cal
	res.Stratum = s.pkt.Stratum
	res.Precision = s.pkt.Precision
	res.Poll = s.pkt.Poll
	res.Leap = s.pkt.Leap
	res.ReferenceID = s.pkt.ReferenceID
	res.RootDelay = ShortDuration(int64(s.pkt.RootDelay))
	res.RootDispersion = ShortDuration(int64(s.pkt.RootDispersion))
	res.SentAt = s.resp.SentAt
	res.ReceivedAt = s.resp.ReceivedAt

	res.Delay = s.resp.Elapsed()
	if !s.pkt.ReceiveTime.IsZero() {
		processing := s.pkt.TransmitTime.Sub(s.pkt.ReceiveTime)
		if 0 < processing && processing < res.Delay {
			res.Delay -= processing
		}
	}
	if res.Delay < 0 {
		res.Delay = 0
	}
}

func (p *SyncController) attempt(ctx context.Context, log *zap.Logger, res *SyncResult, server netip.AddrPort, timeout time.Duration) (sample, error) {
	p.transition(log, res, StateRequesting)
	var tx Timestamp
	if p.conf.TransmitUptime && p.uptime != nil {
		ut, errUt := p.uptime.UptimeNano(time.Now())
		if errUt != nil {
			log.Debug("no uptime for transmit timestamp", zap.Error(errUt))
		} else {
			tx = DurationToTimestamp(ut.Duration())
		}
	}
	req := EncodeRequest(RequestOptions{Version: p.conf.Version, TransmitTime: tx})

	sess, errOpen := Open(ctx, p.dialer, p.conf.Network, server)
	if errOpen != nil {
		return sample{}, errOpen
	}
	defer sess.Close()

	p.transition(log, res, StateAwaitingResponse)
	resp, errExchange := sess.Exchange(ctx, req[:], timeout)
	if errExchange != nil {
		return sample{}, errExchange
	}

	p.transition(log, res, StateValidating)
	pkt, errDecode := DecodeResponse(resp.Data)
	if errDecode != nil {
		return sample{}, errDecode
	}
	log.Debug("response", zap.Object("packet", &pkt))
	if errValid := validateResponse(&pkt, tx); errValid != nil {
		return sample{}, errValid
	}

	p.transition(log, res, StateConverting)
	cal, errConv := Converter{Pivot: p.conf.EraPivot}.ToCalendarTime(pkt.TransmitTime.Seconds, pkt.TransmitTime.Fraction)
	if errConv != nil {
		return sample{}, errConv
	}
	return sample{pkt: pkt, cal: cal, resp: resp}, nil
}

func validateResponse(pkt *NtpPacket, sent Timestamp) error {
	if pkt.TransmitTime.IsZero() {
		return &ValidationError{Reason: "transmit timestamp is zero"}
	}
	if pkt.Stratum < 1 || MaxStratum < pkt.Stratum {
		return &ValidationError{Reason: fmt.Sprintf("stratum %v out of range", pkt.Stratum)}
	}
	//LI=3 means server itself is unsynchronized (RFC 4330 section 5)
	if pkt.Leap == LeapAlarm {
		return &ValidationError{Reason: "server clock not synchronized"}
	}
	if !sent.IsZero() && pkt.OriginTime != sent {
		return &ValidationError{Reason: fmt.Sprintf("originate %016x does not match request %016x", pkt.OriginTime.Uint64(), sent.Uint64())}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
