package sntpclock

import (
	"errors"
	"fmt"
	"time"
)

//Sentinels for errors.Is. Concrete error types below carry details
var (
	ErrShortBuffer     = errors.New("short buffer")
	ErrInvalidMode     = errors.New("invalid mode")
	ErrKissOfDeath     = errors.New("kiss of death")
	ErrBeforeEpoch     = errors.New("timestamp before 1970")
	ErrNoRoute         = errors.New("no route to server")
	ErrTimeout         = errors.New("timeout")
	ErrIo              = errors.New("io error")
	ErrCancelled       = errors.New("cancelled")
	ErrInvalidResponse = errors.New("invalid response")
)

type DecodeErrorKind int

const (
	ShortBuffer DecodeErrorKind = iota
	InvalidMode
	KissOfDeath
)

func (k DecodeErrorKind) sentinel() error {
	switch k {
	case ShortBuffer:
		return ErrShortBuffer
	case InvalidMode:
		return ErrInvalidMode
	}
	return ErrKissOfDeath
}

//DecodeError is returned by DecodeResponse. Packet is populated for InvalidMode and KissOfDeath
type DecodeError struct {
	Kind   DecodeErrorKind
	Length int
	Packet NtpPacket
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case ShortBuffer:
		return fmt.Sprintf("decode: short buffer %v bytes (must be at least %v)", e.Length, PACKETSIZE)
	case InvalidMode:
		return fmt.Sprintf("decode: invalid mode %v (must be %v)", e.Packet.Mode, ModeServer)
	}
	return fmt.Sprintf("decode: kiss of death code=%q poll=%v", e.Packet.KissCode(), e.Packet.Poll)
}

func (e *DecodeError) Unwrap() error { return e.Kind.sentinel() }

//ConversionError, only BeforeEpoch kind exists
type ConversionError struct {
	Seconds uint32
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert: seconds %v is before 1970 epoch", e.Seconds)
}

func (e *ConversionError) Unwrap() error { return ErrBeforeEpoch }

//ConnectError happens when endpoint can not be opened towards server
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: no route: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() []error { return []error{ErrNoRoute, e.Err} }

type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no response within %v", e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

//IoError is lower layer send or receive failure
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IoError) Unwrap() []error { return []error{ErrIo, e.Err} }

type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("exchange cancelled: %v", e.Err)
}

func (e *CancelledError) Unwrap() []error { return []error{ErrCancelled, e.Err} }

//ValidationError is sanity check failure on decoded response
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid response: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrInvalidResponse }

//KissOfDeathBackoff is how long caller should hold off after kiss-of-death. Zero if err is not kiss
func KissOfDeathBackoff(err error, minimum time.Duration) time.Duration {
	var de *DecodeError
	if !errors.As(err, &de) || de.Kind != KissOfDeath {
		return 0
	}
	wait := de.Packet.PollInterval()
	if wait < minimum {
		return minimum
	}
	return wait
}

//IsTransient tells is error worth retrying with fresh endpoint
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrIo)
}
