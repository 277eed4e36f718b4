//go:build !linux

package rtc

import (
	"fmt"
	"runtime"
	"time"
)

func SystemClockSynced() (bool, error) {
	return false, fmt.Errorf("system clock sync status not supported on %s", runtime.GOOS)
}

type SystemClock struct{}

func (SystemClock) SetTime(t time.Time) error {
	return fmt.Errorf("setting system clock not supported on %s", runtime.GOOS)
}

type HwClock struct{}

func (HwClock) SetTime(t time.Time) error {
	return fmt.Errorf("hardware clock not supported on %s", runtime.GOOS)
}
