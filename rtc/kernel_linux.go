/*
Helper functions for checking and setting system clock on Linux

Checking is linux wall clock in sync depends on installation and hardware configuration.
Initial guess is that Adjtimex should work.
*/
package rtc

import (
	"sync"
	"time"

	urtc "github.com/u-root/u-root/pkg/rtc"
	"golang.org/x/sys/unix"
)

// https://man7.org/linux/man-pages/man2/adjtimex.2.html
const (
	TIME_OK    = iota //Clock synchronized, no leap second adjustment pending.
	TIME_INS          //Leap second will be added at the end of the UTC day
	TIME_DEL          //Leap second will be deleted at the end of the UTC day.
	TIME_OOP          //Insertion of a leap second is in progress.
	TIME_WAIT         //Leap second insertion or deletion has been completed
	TIME_ERROR        //Not synchronized to reliable server
)

//SystemClockSynced asks kernel is wall clock disciplined by some sync daemon
func SystemClockSynced() (bool, error) {
	tx := unix.Timex{}
	state, err := unix.Adjtimex(&tx)
	if err != nil {
		return false, err
	}
	return (0 <= state) && (state != TIME_ERROR), nil
}

//SystemClock sets kernel wall clock. Requires CAP_SYS_TIME
type SystemClock struct{}

func (SystemClock) SetTime(t time.Time) error {
	tv := unix.NsecToTimeval(t.UnixNano())
	return unix.Settimeofday(&tv)
}

//rtc device can not be closed, one instance per process
var (
	hwClock     *urtc.RTC
	hwClockErr  error
	hwClockOnce sync.Once
)

//HwClock writes time to hardware RTC chip through /dev/rtc
type HwClock struct{}

func (HwClock) SetTime(t time.Time) error {
	hwClockOnce.Do(func() {
		hwClock, hwClockErr = urtc.OpenRTC()
	})
	if hwClockErr != nil {
		return hwClockErr
	}
	return hwClock.Set(t.UTC())
}
