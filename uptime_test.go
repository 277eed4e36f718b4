/*
Uptime tests run against fake /proc
*/

package sntpclock

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
)

func withProc(t *testing.T, content string) {
	orig := procFS
	procFS = fstest.MapFS{"uptime": &fstest.MapFile{Data: []byte(content)}}
	t.Cleanup(func() { procFS = orig })
}

func TestParseUptime(t *testing.T) {
	ut, err := parseUptimeFile([]byte("350735.5 234388.90\n"))
	assert.Equal(t, nil, err)
	assert.Equal(t, NsUptime(350735500000000), ut)

	_, err = parseUptimeFile([]byte("garbage"))
	assert.NotEqual(t, nil, err)
	_, err = parseUptimeFile([]byte("x y"))
	assert.NotEqual(t, nil, err)
}

func TestBasicUptime(t *testing.T) {
	withProc(t, "1000.00 900.00\n")
	tNow := time.Now()

	uptimeNow, errUptime := GetDirectUptime()
	assert.Equal(t, nil, errUptime)
	assert.Equal(t, NsUptime(1000*time.Second), uptimeNow)

	utChecker, errUtChecker := CreateUptimeChecker()
	assert.Equal(t, nil, errUtChecker)

	utNano, _ := utChecker.UptimeNano(tNow)
	if NsUptime(time.Millisecond) < uptimeNow.Diff(utNano) {
		t.Errorf("Something went wrong, direct uptime vs UptimeNano is %v", uptimeNow.Diff(utNano))
	}

	tNext := tNow.Add(time.Second * 42)
	nextNano, _ := utChecker.UptimeNano(tNext)
	assert.Equal(t, NsUptime(42000000000), nextNano-utNano)

	_, errBeforeBoot := utChecker.UptimeNano(tNow.Add(-time.Hour))
	assert.NotEqual(t, nil, errBeforeBoot)
}

func TestUninitializedChecker(t *testing.T) {
	var dut UptimeChecker
	_, err := dut.UptimeNano(time.Now())
	assert.NotEqual(t, nil, err)
}

func TestProcessUptime(t *testing.T) {
	start := time.Now()
	dut := ProcessUptime{Start: start}
	ut, err := dut.UptimeNano(start.Add(time.Second))
	assert.Equal(t, nil, err)
	assert.Equal(t, NsUptime(time.Second), ut)
	_, err = dut.UptimeNano(start)
	assert.NotEqual(t, nil, err)
}
