/*
SNTP packet codec

Wire layout is 48 bytes, big endian, RFC 4330 / RFC 5905.
Fields are written one by one. Native struct layout is never used for the wire.
*/
package sntpclock

import (
	"encoding/binary"
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"
)

const (
	PACKETSIZE     = 48
	DefaultPort    = 123
	DefaultVersion = 4
	MaxStratum     = 15
)

type LeapIndicator uint8

const (
	LeapNoWarning LeapIndicator = iota
	LeapAddSecond
	LeapDelSecond
	LeapAlarm //Clock not synchronized
)

func (p LeapIndicator) String() string {
	switch p {
	case LeapNoWarning:
		return "none"
	case LeapAddSecond:
		return "+1s"
	case LeapDelSecond:
		return "-1s"
	case LeapAlarm:
		return "alarm"
	}
	return fmt.Sprintf("leap(%d)", uint8(p))
}

type Mode uint8

const (
	ModeReserved Mode = iota
	ModeSymmetricActive
	ModeSymmetricPassive
	ModeClient
	ModeServer
	ModeBroadcast
	ModeControl
	ModePrivate
)

func (p Mode) String() string {
	switch p {
	case ModeReserved:
		return "reserved"
	case ModeSymmetricActive:
		return "symmetric active"
	case ModeSymmetricPassive:
		return "symmetric passive"
	case ModeClient:
		return "client"
	case ModeServer:
		return "server"
	case ModeBroadcast:
		return "broadcast"
	case ModeControl:
		return "control"
	case ModePrivate:
		return "private"
	}
	return fmt.Sprintf("mode(%d)", uint8(p))
}

//Timestamp is 64bit fixed point, seconds since 1900 and fraction as numerator over 2^32
type Timestamp struct {
	Seconds  uint32
	Fraction uint32
}

func (p Timestamp) IsZero() bool {
	return p.Seconds == 0 && p.Fraction == 0
}

func (p Timestamp) Uint64() uint64 {
	return uint64(p.Seconds)<<32 | uint64(p.Fraction)
}

func TimestampFromUint64(v uint64) Timestamp {
	return Timestamp{Seconds: uint32(v >> 32), Fraction: uint32(v)}
}

//Sub returns p-o. Wraps correctly over era boundary if values are less than 68 years apart
func (p Timestamp) Sub(o Timestamp) time.Duration {
	d := int64(p.Uint64() - o.Uint64())
	sec := d >> 32
	frac := d & 0xFFFFFFFF
	return time.Duration(sec)*time.Second + time.Duration((frac*int64(time.Second))>>32)
}

//ShortDuration converts NTP short format (16.16 seconds) to duration
func ShortDuration(v int64) time.Duration {
	return time.Duration((v * int64(time.Second)) >> 16)
}

//NtpPacket is decoded form of 48 byte header. Multi-byte fields are in host representation
type NtpPacket struct {
	Leap      LeapIndicator
	Version   uint8
	Mode      Mode
	Stratum   uint8
	Poll      int8
	Precision int8

	RootDelay      int32 //16.16 seconds
	RootDispersion uint32
	ReferenceID    uint32

	ReferenceTime Timestamp
	OriginTime    Timestamp
	ReceiveTime   Timestamp
	TransmitTime  Timestamp
}

//Encode writes packet in wire format
func (p *NtpPacket) Encode() [PACKETSIZE]byte {
	var b [PACKETSIZE]byte
	b[0] = uint8(p.Leap&0x3)<<6 | (p.Version&0x7)<<3 | uint8(p.Mode&0x7)
	b[1] = p.Stratum
	b[2] = byte(p.Poll)
	b[3] = byte(p.Precision)
	binary.BigEndian.PutUint32(b[4:8], uint32(p.RootDelay))
	binary.BigEndian.PutUint32(b[8:12], p.RootDispersion)
	binary.BigEndian.PutUint32(b[12:16], p.ReferenceID)
	putTimestamp(b[16:24], p.ReferenceTime)
	putTimestamp(b[24:32], p.OriginTime)
	putTimestamp(b[32:40], p.ReceiveTime)
	putTimestamp(b[40:48], p.TransmitTime)
	return b
}

func putTimestamp(b []byte, t Timestamp) {
	binary.BigEndian.PutUint32(b[0:4], t.Seconds)
	binary.BigEndian.PutUint32(b[4:8], t.Fraction)
}

func getTimestamp(b []byte) Timestamp {
	return Timestamp{
		Seconds:  binary.BigEndian.Uint32(b[0:4]),
		Fraction: binary.BigEndian.Uint32(b[4:8]),
	}
}

//KissCode gives ASCII kiss code from reference id. Empty if packet is not kiss-of-death
func (p *NtpPacket) KissCode() string {
	if p.Stratum != 0 {
		return ""
	}
	var code [4]byte
	binary.BigEndian.PutUint32(code[:], p.ReferenceID)
	for _, c := range code {
		if c < 0x20 || 0x7e < c {
			return fmt.Sprintf("%08x", p.ReferenceID)
		}
	}
	return string(code[:])
}

//PollInterval is the 2^poll hint from server
func (p *NtpPacket) PollInterval() time.Duration {
	switch {
	case p.Poll < 0:
		return time.Second >> uint(-p.Poll)
	case 30 < p.Poll:
		return time.Second << 30
	}
	return time.Second << uint(p.Poll)
}

func (p *NtpPacket) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("leap", p.Leap.String())
	enc.AddUint8("version", p.Version)
	enc.AddString("mode", p.Mode.String())
	enc.AddUint8("stratum", p.Stratum)
	enc.AddInt8("poll", p.Poll)
	enc.AddInt8("precision", p.Precision)
	enc.AddDuration("rootDelay", ShortDuration(int64(p.RootDelay)))
	enc.AddDuration("rootDispersion", ShortDuration(int64(p.RootDispersion)))
	enc.AddUint32("referenceID", p.ReferenceID)
	enc.AddUint64("referenceTime", p.ReferenceTime.Uint64())
	enc.AddUint64("originTime", p.OriginTime.Uint64())
	enc.AddUint64("receiveTime", p.ReceiveTime.Uint64())
	enc.AddUint64("transmitTime", p.TransmitTime.Uint64())
	return nil
}

type RequestOptions struct {
	Version      uint8     //0 means DefaultVersion
	TransmitTime Timestamp //Optional, echoed back by server as originate timestamp
}

//EncodeRequest builds client mode request. Only transmit timestamp can be non-zero
func EncodeRequest(opt RequestOptions) [PACKETSIZE]byte {
	version := opt.Version
	if version == 0 {
		version = DefaultVersion
	}
	req := NtpPacket{
		Leap:         LeapNoWarning,
		Version:      version,
		Mode:         ModeClient,
		TransmitTime: opt.TransmitTime,
	}
	return req.Encode()
}

//DecodeResponse parses server response. Bytes after header (extensions, MAC) are ignored
func DecodeResponse(buf []byte) (NtpPacket, error) {
	if len(buf) < PACKETSIZE {
		return NtpPacket{}, &DecodeError{Kind: ShortBuffer, Length: len(buf)}
	}
	result := NtpPacket{
		Leap:           LeapIndicator(buf[0] >> 6),
		Version:        (buf[0] >> 3) & 0x7,
		Mode:           Mode(buf[0] & 0x7),
		Stratum:        buf[1],
		Poll:           int8(buf[2]),
		Precision:      int8(buf[3]),
		RootDelay:      int32(binary.BigEndian.Uint32(buf[4:8])),
		RootDispersion: binary.BigEndian.Uint32(buf[8:12]),
		ReferenceID:    binary.BigEndian.Uint32(buf[12:16]),
		ReferenceTime:  getTimestamp(buf[16:24]),
		OriginTime:     getTimestamp(buf[24:32]),
		ReceiveTime:    getTimestamp(buf[32:40]),
		TransmitTime:   getTimestamp(buf[40:48]),
	}
	if result.Mode != ModeServer {
		return result, &DecodeError{Kind: InvalidMode, Length: len(buf), Packet: result}
	}
	if result.Stratum == 0 {
		return result, &DecodeError{Kind: KissOfDeath, Length: len(buf), Packet: result}
	}
	return result, nil
}
