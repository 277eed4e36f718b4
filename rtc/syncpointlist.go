package rtc

import (
	"fmt"
	"strings"

	"github.com/hjkoskel/sntpclock"
)

type SyncPointList []SyncPoint

func (e SyncPointList) Len() int {
	return len(e)
}

//Less function for sorting
func (e SyncPointList) Less(i, j int) bool {
	return e[i].Uptime < e[j].Uptime
}

//Swap function for sorting
func (e SyncPointList) Swap(i, j int) {
	e[i], e[j] = e[j], e[i]
}

//SolveEpoch picks point just before or at uptime and uses that for solving epoch. If uptime is before all points, first is used
func (p SyncPointList) SolveEpoch(uptime sntpclock.NsUptime) (NsEpoch, error) {
	if len(p) == 0 {
		return 0, fmt.Errorf("no data in SyncPointList, solving uptime=%v", uptime)
	}
	index := 0
	for i, v := range p {
		if v.Uptime <= uptime {
			index = i
		}
	}
	return p[index].SolveEpoch(uptime)
}

//Nearest point by epoch
func (p SyncPointList) Nearest(epoch NsEpoch) (SyncPoint, error) {
	if len(p) == 0 {
		return SyncPoint{}, fmt.Errorf("no data, while searching epoch %v", epoch)
	}
	result := p[0]
	diff := result.Epoch.Diff(epoch)
	for _, v := range p[1:] {
		d := v.Epoch.Diff(epoch)
		if d < diff {
			result = v
			diff = d
		}
	}
	return result, nil
}

//String representation with newline at end
func (p SyncPointList) String() string {
	var sb strings.Builder
	for _, a := range p {
		sb.WriteString(fmt.Sprintf("%v\t%v\t%v\n", a.Uptime, a.Epoch, a.Stratum))
	}
	return sb.String()
}

//ParseSyncPointList parses from raw byte array. Check length validity
func ParseSyncPointList(raw []byte) (SyncPointList, error) {
	if len(raw)%RECORDSIZE_SYNCPOINT != 0 {
		return SyncPointList{}, fmt.Errorf("must be multiple of %v (len=%v)", RECORDSIZE_SYNCPOINT, len(raw))
	}

	result := make(SyncPointList, len(raw)/RECORDSIZE_SYNCPOINT)
	for i := range result {
		var errParse error
		arr := raw[i*RECORDSIZE_SYNCPOINT : (i+1)*RECORDSIZE_SYNCPOINT]
		result[i], errParse = ParseSyncPoint(arr)
		if errParse != nil {
			return result, errParse
		}
	}
	return result, nil
}
