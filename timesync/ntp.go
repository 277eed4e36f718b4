package timesync

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/ntp"
)

const DEFAULTQUERYTIMEOUT = time.Second * 30

//NtpSync queries full NTP from pool hostnames. Used as reference when verifying SntpSync
type NtpSync struct {
	Servers      []string
	QueryTimeout time.Duration
}

func GetDefaultPoolNTP() NtpSync {
	return NtpSync{
		Servers:      []string{"0.pool.ntp.org", "1.pool.ntp.org", "2.pool.ntp.org", "3.pool.ntp.org"},
		QueryTimeout: DEFAULTQUERYTIMEOUT,
	}
}

//ParseServerNames splits comma separated list, empty entries are dropped
func ParseServerNames(s string) []string {
	result := []string{}
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if 0 < len(name) {
			result = append(result, name)
		}
	}
	return result
}

func (p *NtpSync) GetOffset() (time.Duration, error) {
	if p.QueryTimeout < time.Millisecond*100 {
		p.QueryTimeout = DEFAULTQUERYTIMEOUT
	}
	if len(p.Servers) == 0 {
		return 0, fmt.Errorf("no NTP servers")
	}

	errList := []string{}
	for i, name := range shuffle(p.Servers) {
		resp, err := ntp.QueryWithOptions(name, ntp.QueryOptions{Timeout: p.QueryTimeout})
		if err != nil {
			errList = append(errList, fmt.Sprintf("server:%v name:%s error: %s", i, name, err))
			continue
		}
		errvalid := resp.Validate()
		if errvalid == nil {
			return resp.ClockOffset, nil
		}
		errList = append(errList, fmt.Sprintf("server:%v name:%s invalid: %s", i, name, errvalid))
	}

	return 0, fmt.Errorf("failed NTP servers [%s]", strings.Join(errList, ","))
}
