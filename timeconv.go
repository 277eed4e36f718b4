/*
Conversion between NTP 1900 based fixed point and unix epoch calendar time

Era handling:
32bit seconds field rolls over 2036-02-07 06:28:16 UTC. Zero pivot means strict era 0,
then anything below 1970 offset is error. Never guessed silently.
With pivot set (for example build date of firmware) readings before pivot are moved to era 1
*/
package sntpclock

import (
	"time"
)

const (
	NTPEPOCHOFFSET = 2208988800 //Seconds from 1900-01-01 to 1970-01-01
	ERASECONDS     = int64(1) << 32
)

//CalendarTime is unix epoch seconds and sub-second fraction as numerator over 2^32
type CalendarTime struct {
	Seconds  int64
	Fraction uint32
}

//Nanoseconds of fraction, rounded down
func (p CalendarTime) Nanoseconds() int64 {
	return int64((uint64(p.Fraction) * uint64(time.Second)) >> 32)
}

func (p CalendarTime) Time() time.Time {
	return time.Unix(p.Seconds, p.Nanoseconds()).UTC()
}

func (p CalendarTime) UnixNano() int64 {
	return p.Seconds*int64(time.Second) + p.Nanoseconds()
}

type Converter struct {
	Pivot time.Time //Zero is strict era 0
}

//ToCalendarTime with strict era 0 policy
func ToCalendarTime(secondsSince1900 uint32, fractionOfSecond uint32) (CalendarTime, error) {
	return Converter{}.ToCalendarTime(secondsSince1900, fractionOfSecond)
}

func (c Converter) ToCalendarTime(secondsSince1900 uint32, fractionOfSecond uint32) (CalendarTime, error) {
	era0 := int64(secondsSince1900) - NTPEPOCHOFFSET
	if c.Pivot.IsZero() {
		if era0 < 0 {
			return CalendarTime{}, &ConversionError{Seconds: secondsSince1900}
		}
		return CalendarTime{Seconds: era0, Fraction: fractionOfSecond}, nil
	}

	pivot := c.Pivot.Unix()
	if pivot <= era0 {
		if era0 < 0 {
			return CalendarTime{}, &ConversionError{Seconds: secondsSince1900}
		}
		return CalendarTime{Seconds: era0, Fraction: fractionOfSecond}, nil
	}
	era1 := era0 + ERASECONDS
	if era1 < pivot || era1 < 0 {
		return CalendarTime{}, &ConversionError{Seconds: secondsSince1900}
	}
	return CalendarTime{Seconds: era1, Fraction: fractionOfSecond}, nil
}

//ToTime helper, converts timestamp directly to time.Time
func (c Converter) ToTime(ts Timestamp) (time.Time, error) {
	cal, err := c.ToCalendarTime(ts.Seconds, ts.Fraction)
	if err != nil {
		return time.Time{}, err
	}
	return cal.Time(), nil
}

//FromCalendarTime converts to NTP fixed point. Fraction is rounded up so Nanoseconds() gives same value back
func FromCalendarTime(t time.Time) Timestamp {
	secs := t.Unix() + NTPEPOCHOFFSET
	nanos := uint64(t.Nanosecond())
	frac := ((nanos << 32) + uint64(time.Second) - 1) / uint64(time.Second)
	return Timestamp{Seconds: uint32(secs), Fraction: uint32(frac)}
}

//DurationToTimestamp encodes duration (like uptime) as fixed point seconds
func DurationToTimestamp(d time.Duration) Timestamp {
	if d < 0 {
		return Timestamp{}
	}
	sec := d / time.Second
	nanos := uint64(d % time.Second)
	return Timestamp{
		Seconds:  uint32(sec),
		Fraction: uint32(((nanos << 32) + uint64(time.Second) - 1) / uint64(time.Second)),
	}
}
