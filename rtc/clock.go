/*
Software RTC

Clock is the downstream collaborator of SyncController. It keeps sync points in SyncLog and
solves wall clock from uptime for the display. Failed sync keeps the previous value, deciding
what display shows on stale time is left to the caller (see LastResult and Synced).
*/
package rtc

import (
	"fmt"
	"sync"
	"time"

	"github.com/hjkoskel/sntpclock"
	"go.uber.org/zap"
)

const DEFAULTMAXDEVIATION = NsEpoch(50 * time.Millisecond)

//Setter applies time to some clock outside this process (system clock, hardware RTC)
type Setter interface {
	SetTime(t time.Time) error
}

type Clock struct {
	MaxDeviation NsEpoch //New sync point is recorded when prediction is off more than this

	synclog *SyncLog
	uptime  sntpclock.UptimeSource
	setters []Setter
	log     *zap.Logger

	mu   sync.RWMutex
	last sntpclock.SyncResult
}

//NewClock creates software RTC. Logger can be nil
func NewClock(synclog *SyncLog, uptime sntpclock.UptimeSource, log *zap.Logger, setters ...Setter) (*Clock, error) {
	if synclog == nil {
		return nil, fmt.Errorf("sync log required")
	}
	if uptime == nil {
		return nil, fmt.Errorf("uptime source required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Clock{
		MaxDeviation: DEFAULTMAXDEVIATION,
		synclog:      synclog,
		uptime:       uptime,
		setters:      setters,
		log:          log,
	}, nil
}

//SyncDone implements sntpclock.Sink
func (p *Clock) SyncDone(res sntpclock.SyncResult) {
	p.mu.Lock()
	p.last = res
	p.mu.Unlock()

	if !res.OK() {
		p.log.Warn("sync failed, keeping previous time", zap.String("id", res.ID), zap.Error(res.Err))
		return
	}
	updated, err := p.Apply(res)
	if err != nil {
		p.log.Error("applying sync result failed", zap.String("id", res.ID), zap.Error(err))
		return
	}
	p.log.Debug("sync result applied", zap.String("id", res.ID), zap.Bool("updated", updated))
}

//LastResult is latest result given to SyncDone, successful or not
func (p *Clock) LastResult() sntpclock.SyncResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

//Synced tells is there any sync point
func (p *Clock) Synced() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, _ := p.synclog.Len()
	return 0 < n
}

//Point converts successful result to sync point at local receive instant
func (p *Clock) Point(res sntpclock.SyncResult) (SyncPoint, error) {
	if !res.OK() {
		return SyncPoint{}, fmt.Errorf("result %s is not successful: %v", res.ID, res.Err)
	}
	ut, errUt := p.uptime.UptimeNano(res.ReceivedAt)
	if errUt != nil {
		return SyncPoint{}, fmt.Errorf("uptime at receive failed %v", errUt)
	}
	return SyncPoint{
		Uptime:  ut,
		Epoch:   NsEpoch(res.Estimate().UnixNano()),
		Stratum: res.Stratum,
	}, nil
}

//Apply records result if clock is not synced yet or deviation is too large. Returns true if recorded
func (p *Clock) Apply(res sntpclock.SyncResult) (bool, error) {
	point, errPoint := p.Point(res)
	if errPoint != nil {
		return false, errPoint
	}

	p.mu.Lock()
	n, _ := p.synclog.Len()
	needFresh := n == 0
	if !needFresh {
		predicted, errPredict := p.synclog.SolveEpoch(point.Uptime)
		if errPredict != nil {
			p.mu.Unlock()
			return false, fmt.Errorf("error getting deviation %v", errPredict)
		}
		deviation := predicted.Diff(point.Epoch)
		needFresh = p.MaxDeviation < deviation
		if needFresh {
			p.log.Info("clock deviation over limit", zap.Duration("deviation", time.Duration(deviation)))
		}
	}
	if !needFresh {
		p.mu.Unlock()
		return false, nil
	}
	errInsert := p.synclog.Insert(point)
	p.mu.Unlock()
	if errInsert != nil {
		return false, errInsert
	}

	//Setters get time extrapolated to this moment
	now := time.Now()
	t := res.Estimate().Add(now.Sub(res.ReceivedAt))
	for _, s := range p.setters {
		if errSet := s.SetTime(t); errSet != nil {
			p.log.Error("setting clock failed", zap.String("setter", fmt.Sprintf("%T", s)), zap.Error(errSet))
		}
	}
	return true, nil
}

//Now solves wall clock at t from latest sync
func (p *Clock) Now(t time.Time) (time.Time, error) {
	ut, errUt := p.uptime.UptimeNano(t)
	if errUt != nil {
		return time.Time{}, errUt
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	epoch, errEpoch := p.synclog.SolveEpoch(ut)
	if errEpoch != nil {
		return time.Time{}, errEpoch
	}
	return epoch.Time(), nil
}

//Deviation between software RTC prediction and given wall clock reading at t
func (p *Clock) Deviation(t time.Time, wall time.Time) (time.Duration, error) {
	predicted, err := p.Now(t)
	if err != nil {
		return 0, err
	}
	return wall.Sub(predicted), nil
}
