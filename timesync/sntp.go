package timesync

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/hjkoskel/sntpclock"
)

//SntpSync gets offset with single SNTP exchange. Servers are tried in random order until one answers
type SntpSync struct {
	Servers    []netip.AddrPort
	Controller *sntpclock.SyncController
}

//ParseServers parses comma separated addresses. Port is optional, default 123
func ParseServers(s string) ([]netip.AddrPort, error) {
	return ParseServersWithPort(s, sntpclock.DefaultPort)
}

//ParseServersWithPort uses defaultPort for entries without explicit port
func ParseServersWithPort(s string, defaultPort uint16) ([]netip.AddrPort, error) {
	result := []netip.AddrPort{}
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if len(item) == 0 {
			continue
		}
		if ap, err := netip.ParseAddrPort(item); err == nil {
			result = append(result, ap)
			continue
		}
		addr, errAddr := netip.ParseAddr(strings.Trim(item, "[]"))
		if errAddr != nil {
			return result, fmt.Errorf("invalid server %q: %v", item, errAddr)
		}
		result = append(result, netip.AddrPortFrom(addr, defaultPort))
	}
	return result, nil
}

func (p *SntpSync) GetOffset() (time.Duration, error) {
	return p.GetOffsetContext(context.Background())
}

//GetOffsetContext is GetOffset with cancel
func (p *SntpSync) GetOffsetContext(ctx context.Context) (time.Duration, error) {
	if p.Controller == nil {
		return 0, fmt.Errorf("no sync controller")
	}
	if len(p.Servers) == 0 {
		return 0, fmt.Errorf("no SNTP servers")
	}
	conf := p.Controller.Config()
	errList := []string{}
	for i, server := range shuffle(p.Servers) {
		res := p.Controller.Synchronize(ctx, server, conf.Timeout, conf.MaxRetries)
		if res.OK() {
			return res.ClockOffset(res.ReceivedAt), nil
		}
		if errors.Is(res.Err, sntpclock.ErrCancelled) {
			return 0, res.Err
		}
		errList = append(errList, fmt.Sprintf("server:%v addr:%s error: %s", i, server, res.Err))
	}
	return 0, fmt.Errorf("failed SNTP servers [%s]", strings.Join(errList, ","))
}
