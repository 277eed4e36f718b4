/*
This module provides uptime.

"Algorithm" is based on fact that golang time.Time includes "hidden" monotonic clock that is used when doing time operations like diff.
https://pkg.go.dev/time#hdr-Monotonic_Clocks
So it is possible to resolve what time.Time uptime is. Assuming that it happens after latest kernel boot (uptime 0).

Uptime is used as SNTP request transmit timestamp. Server echoes it back as originate timestamp
and that links response to request without needing wall clock.

/proc/uptime have 0.01s granularity meaning that anything happening more frequently than 100Hz will have repeating timestamps
*/
package sntpclock

import (
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
)

type NsUptime int64

//Diff compares uptime, returns always positive
func (p NsUptime) Diff(ref NsUptime) NsUptime {
	if p < ref {
		return ref - p
	}
	return p - ref
}

func (p NsUptime) Duration() time.Duration {
	return time.Duration(p)
}

//UptimeSource resolves uptime at given instant
type UptimeSource interface {
	UptimeNano(tNow time.Time) (NsUptime, error)
}

type UptimeChecker struct {
	//Matching dates. Does not use inaccurate /proc/uptime in every call
	createdUptime NsUptime
	createdTime   time.Time //Get duration, it uses monotonic clock
}

//UptimeNano resolves what is uptime on specific timestamp
func (p *UptimeChecker) UptimeNano(tNow time.Time) (NsUptime, error) {
	if p.createdUptime == 0 { //It can not be 0
		return 0, fmt.Errorf("uptime checker not initialized propely") //Prevents some bugs
	}

	result := p.createdUptime + NsUptime(tNow.Sub(p.createdTime).Nanoseconds())
	if result < 0 {
		return result, fmt.Errorf("time %v is before boot", tNow)
	}
	return result, nil
}

func parseUptimeFile(content []byte) (NsUptime, error) {
	a := strings.Fields(string(content))
	if len(a) != 2 {
		return 0, fmt.Errorf("invalid uptime format %s", content)
	}
	f, errParse := strconv.ParseFloat(a[0], 64)
	if errParse != nil {
		return 0, fmt.Errorf("invalid uptime format %s  (err %v)", content, errParse.Error())
	}
	return NsUptime(f * float64(time.Second)), nil
}

//Replace this global variable at tests
var procFS fs.FS = os.DirFS("/proc")

//GetDirectUptime for reference, 10ms resolution only
func GetDirectUptime() (NsUptime, error) {
	raw, errRaw := fs.ReadFile(procFS, "uptime")
	if errRaw != nil {
		return 0, errRaw
	}
	return parseUptimeFile(raw)
}

//CreateUptimeChecker reads uptime and sets creation time
func CreateUptimeChecker() (UptimeChecker, error) {
	result := UptimeChecker{}
	//Average uptime around creation instant
	rawUptime0, errRawUptime0 := fs.ReadFile(procFS, "uptime")
	result.createdTime = time.Now()
	rawUptime1, errRawUptime1 := fs.ReadFile(procFS, "uptime")

	if errRawUptime0 != nil {
		return result, errRawUptime0
	}
	if errRawUptime1 != nil {
		return result, errRawUptime1
	}

	ut0, utErr0 := parseUptimeFile(rawUptime0)
	if utErr0 != nil {
		return result, utErr0
	}
	ut1, utErr1 := parseUptimeFile(rawUptime1)
	if utErr1 != nil {
		return result, utErr1
	}

	result.createdUptime = (ut0 + ut1) / 2
	return result, nil
}

//ProcessUptime is UptimeSource counting from given start. For platforms without /proc
type ProcessUptime struct {
	Start time.Time
}

func (p ProcessUptime) UptimeNano(tNow time.Time) (NsUptime, error) {
	d := tNow.Sub(p.Start)
	if d <= 0 {
		return 0, fmt.Errorf("time %v is before start %v", tNow, p.Start)
	}
	return NsUptime(d), nil
}
