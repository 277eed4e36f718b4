/*
SyncLog keeps recent sync points in fixed record ring storage.

Memory ring is used. History is not persisted over restarts on purpose: after reboot uptime
starts from zero and old points are worthless for solving time
*/

package rtc

import (
	"fmt"

	"github.com/hjkoskel/fixregsto"
	"github.com/hjkoskel/sntpclock"
)

const DEFAULTSYNCLOGSIZE = 64

type SyncLog struct {
	sto fixregsto.FixRegSto
	mem SyncPointList //Primary place to keep values
	max int           //Same as ring size, 0 is unlimited
}

//CreateSyncLog restores content from storage
func CreateSyncLog(storage fixregsto.FixRegSto) (SyncLog, error) {
	raw, readErr := storage.ReadAll()
	if readErr != nil {
		return SyncLog{}, fmt.Errorf("error on ReadAll on CreateSyncLog err=%v", readErr.Error())
	}
	mem, errParse := ParseSyncPointList(raw)
	return SyncLog{sto: storage, mem: mem}, errParse
}

//NewMemSyncLog creates log on memory ring holding n latest points
func NewMemSyncLog(n int) (SyncLog, error) {
	if n <= 0 {
		n = DEFAULTSYNCLOGSIZE
	}
	memconf := fixregsto.MemloopConf{
		RecordSize: RECORDSIZE_SYNCPOINT,
		MaxRecords: int64(n),
	}
	mem, errMem := memconf.InitMemLoop()
	if errMem != nil {
		return SyncLog{}, fmt.Errorf("memloop init error %v", errMem)
	}
	result, errCreate := CreateSyncLog(&mem)
	result.max = n
	return result, errCreate
}

//Insert only increasing uptimes
func (p *SyncLog) Insert(t SyncPoint) error {
	binarr, errbin := t.ToBinary()
	if errbin != nil {
		return fmt.Errorf("Insert error, binary coding %#v failed %v", t, errbin)
	}
	n := p.mem.Len()
	if 0 < n {
		if !p.mem[n-1].Before(t) {
			return fmt.Errorf("inserted point %#v is not after latest entry %#v", t, p.mem[n-1])
		}
	}
	_, errWrite := p.sto.Write(binarr)
	if errWrite != nil {
		return errWrite
	}
	p.mem = append(p.mem, t)
	if 0 < p.max && p.max < p.mem.Len() {
		p.mem = p.mem[p.mem.Len()-p.max:]
	}
	return nil
}

func (p *SyncLog) GetLatestN(n int) (SyncPointList, error) {
	maxN := p.mem.Len()
	if maxN < n {
		return p.mem, nil
	}
	return p.mem[maxN-n:], nil
}

//Latest point, false if log is empty
func (p *SyncLog) Latest() (SyncPoint, bool) {
	if p.mem.Len() == 0 {
		return SyncPoint{}, false
	}
	return p.mem[p.mem.Len()-1], true
}

func (p *SyncLog) All() (SyncPointList, error) {
	return p.mem, nil
}

func (p *SyncLog) Len() (int, error) {
	return p.mem.Len(), nil
}

func (p *SyncLog) SolveEpoch(uptime sntpclock.NsUptime) (NsEpoch, error) {
	return p.mem.SolveEpoch(uptime)
}
