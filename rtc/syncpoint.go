/*
Sync point

Pair of local uptime and server epoch at same instant. Wall clock between syncs is
solved from uptime with latest sync point
*/

package rtc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/hjkoskel/sntpclock"
)

type NsEpoch int64

//Used for sanity check
const EPOCH70S = 10 * 365 * 24 * 60 * 60 * 1000 * 1000 * 1000

const RECORDSIZE_SYNCPOINT = 17

type SyncPoint struct {
	Uptime  sntpclock.NsUptime
	Epoch   NsEpoch
	Stratum uint8
}

//Diff compares NsEpoch, returns always positive
func (p NsEpoch) Diff(ref NsEpoch) NsEpoch {
	if p < ref {
		return ref - p
	}
	return p - ref
}

func (p NsEpoch) Time() time.Time {
	return time.Unix(0, int64(p))
}

//Seconds for debug purposes
func (p NsEpoch) Seconds() float64 {
	return float64(p) / float64(time.Second)
}

//ToBinary creates fixed size record for SyncLog storage
func (p *SyncPoint) ToBinary() ([]byte, error) {
	if p.Uptime <= 0 {
		return nil, fmt.Errorf("ToBinary: Uptime is %v", p.Uptime)
	}
	if p.Epoch < EPOCH70S {
		return nil, fmt.Errorf("ToBinary: Missing epoch, 1970's not supported")
	}
	buf := new(bytes.Buffer)
	err := binary.Write(buf, binary.LittleEndian, p.Uptime)
	if err != nil {
		return nil, err
	}
	err = binary.Write(buf, binary.LittleEndian, p.Epoch)
	if err != nil {
		return nil, err
	}
	err = buf.WriteByte(p.Stratum)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

//ParseSyncPoint parses record written by ToBinary
func ParseSyncPoint(raw []byte) (SyncPoint, error) {
	if len(raw) != RECORDSIZE_SYNCPOINT {
		return SyncPoint{}, fmt.Errorf("invalid size %v for sync point", len(raw))
	}
	result := SyncPoint{
		Uptime:  sntpclock.NsUptime(binary.LittleEndian.Uint64(raw[0:8])),
		Epoch:   NsEpoch(binary.LittleEndian.Uint64(raw[8:16])),
		Stratum: raw[16],
	}
	if result.Uptime <= 0 {
		return result, fmt.Errorf("ParseSyncPoint: Uptime is %v", result.Uptime)
	}
	if result.Epoch < EPOCH70S { //Catch errors early but return result still
		return result, fmt.Errorf("ParseSyncPoint:Missing epoch, 1970's not supported")
	}
	return result, nil
}

//SolveEpoch calculates epoch at uptime, assuming local clock runs at same rate as server
func (p *SyncPoint) SolveEpoch(uptime sntpclock.NsUptime) (NsEpoch, error) {
	if p.Epoch < EPOCH70S {
		return 0, fmt.Errorf("SolveEpoch:Missing epoch, 1970's not supported")
	}
	if uptime <= 0 {
		return 0, fmt.Errorf("SolveEpoch: Uptime is invalid %v", uptime)
	}
	bootEpoch := p.Epoch - NsEpoch(p.Uptime)
	return bootEpoch + NsEpoch(uptime), nil
}

//SolveUptime calculates uptime at epoch
func (p *SyncPoint) SolveUptime(epoch NsEpoch) (sntpclock.NsUptime, error) {
	if p.Epoch < EPOCH70S {
		return 0, fmt.Errorf("SolveUptime:Missing epoch, 1970's not supported")
	}
	return p.Uptime + sntpclock.NsUptime(epoch-p.Epoch), nil
}

func (p *SyncPoint) Equal(u SyncPoint) bool {
	return p.Uptime == u.Uptime && p.Epoch == u.Epoch && p.Stratum == u.Stratum
}

//After by uptime, epoch is used only when uptime is missing
func (p *SyncPoint) After(u SyncPoint) bool {
	if 0 < p.Uptime && 0 < u.Uptime {
		return u.Uptime < p.Uptime
	}
	return u.Epoch < p.Epoch
}

//Before by uptime, same uptime is not before
func (p *SyncPoint) Before(u SyncPoint) bool {
	if 0 < p.Uptime && 0 < u.Uptime {
		return p.Uptime < u.Uptime
	}
	return p.Epoch < u.Epoch
}
