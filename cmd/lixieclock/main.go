/*
Lixie clock

Six digit clock synchronized with SNTP over IPv6. Digits are printed to stdout, real
lixie driver would replace Display
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hjkoskel/sntpclock"
	"github.com/hjkoskel/sntpclock/rtc"
	"github.com/hjkoskel/sntpclock/timesync"
	"go.uber.org/zap"
)

const DEFAULTSERVER = "2610:20:6f15:15::27" //time.nist.gov

type settings struct {
	conf     sntpclock.Config
	servers  []netip.AddrPort
	interval time.Duration
	once     bool
	settime  bool
	hwclock  bool
	verify   []string
	location *time.Location
	debug    bool
}

func parseSettings(args []string) (settings, error) {
	result := settings{conf: sntpclock.DefaultConfig()}
	fs := flag.NewFlagSet("lixieclock", flag.ContinueOnError)

	pServer := fs.String("server", DEFAULTSERVER, "comma separated server addresses, IPv6 literal or [addr]:port")
	pPort := fs.Uint("port", sntpclock.DefaultPort, "port for servers given without port")
	pNetwork := fs.String("network", sntpclock.DefaultNetwork, "udp6, udp4 or udp")
	pVersion := fs.Uint("version", sntpclock.DefaultVersion, "NTP version number in request")
	pTimeout := fs.Duration("timeout", result.conf.Timeout, "response wait per attempt")
	pRetries := fs.Int("retries", result.conf.MaxRetries, "retries after timeout or io error")
	pInterval := fs.Duration("interval", time.Hour, "sync interval")
	pOnce := fs.Bool("once", false, "sync once, print result and exit")
	pSettime := fs.Bool("settime", false, "set system clock after sync (requires privileges)")
	pHwclock := fs.Bool("hwclock", false, "set hardware RTC after sync (requires privileges)")
	pVerify := fs.String("verify", "", "comma separated NTP pool hostnames for cross-checking offset")
	pTz := fs.String("tz", "Local", "time zone for display")
	pDebug := fs.Bool("debug", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return result, err
	}

	if *pPort == 0 || 0xFFFF < *pPort {
		return result, fmt.Errorf("invalid port %v", *pPort)
	}
	servers, errServers := timesync.ParseServersWithPort(*pServer, uint16(*pPort))
	if errServers != nil {
		return result, errServers
	}
	if len(servers) == 0 {
		return result, fmt.Errorf("no servers given")
	}
	result.servers = servers

	result.conf.Server = servers[0]
	result.conf.Network = *pNetwork
	result.conf.Version = uint8(*pVersion)
	result.conf.Timeout = *pTimeout
	result.conf.MaxRetries = *pRetries
	if errValid := result.conf.Validate(); errValid != nil {
		return result, errValid
	}

	if *pInterval < time.Second {
		return result, fmt.Errorf("sync interval %v too short", *pInterval)
	}
	result.interval = *pInterval
	result.once = *pOnce
	result.settime = *pSettime
	result.hwclock = *pHwclock
	result.verify = timesync.ParseServerNames(*pVerify)
	result.debug = *pDebug

	loc, errLoc := time.LoadLocation(*pTz)
	if errLoc != nil {
		return result, fmt.Errorf("invalid time zone %v", errLoc)
	}
	result.location = loc
	return result, nil
}

func createLogger(debug bool) (*zap.Logger, error) {
	conf := zap.NewProductionConfig()
	if debug {
		conf.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return conf.Build()
}

//syncAll tries servers in order until one succeeds. Returns wait time before next sync
func syncAll(ctx context.Context, ctrl *sntpclock.SyncController, s settings, log *zap.Logger) (sntpclock.SyncResult, time.Duration) {
	var res sntpclock.SyncResult
	wait := s.interval
	for _, server := range s.servers {
		res = ctrl.Synchronize(ctx, server, s.conf.Timeout, s.conf.MaxRetries)
		if res.OK() {
			return res, s.interval
		}
		if wait < res.RetryAfter {
			wait = res.RetryAfter
		}
		if ctx.Err() != nil {
			break
		}
	}
	if s.interval < wait {
		log.Warn("server requested backoff", zap.String("kiss", res.KissCode), zap.Duration("wait", wait))
	}
	return res, wait
}

func verifyOffset(ntpSync *timesync.NtpSync, res sntpclock.SyncResult, log *zap.Logger) {
	ntpOffset, err := ntpSync.GetOffset()
	if err != nil {
		log.Warn("verify failed", zap.Error(err))
		return
	}
	sntpOffset := res.ClockOffset(res.ReceivedAt)
	log.Info("verify", zap.Duration("sntpOffset", sntpOffset), zap.Duration("ntpOffset", ntpOffset), zap.Duration("difference", sntpOffset-ntpOffset))
}

func run(ctx context.Context, s settings, log *zap.Logger) error {
	synced, errSynced := rtc.SystemClockSynced()
	if errSynced != nil {
		log.Debug("system clock sync status not available", zap.Error(errSynced))
	} else {
		log.Info("system clock", zap.Bool("synced", synced))
	}

	var uptime sntpclock.UptimeSource
	uptimeChecker, errUptime := sntpclock.CreateUptimeChecker()
	if errUptime != nil {
		log.Warn("no system uptime, using process uptime", zap.Error(errUptime))
		uptime = sntpclock.ProcessUptime{Start: time.Now().Add(-time.Second)}
	} else {
		uptime = &uptimeChecker
	}

	synclog, errSynclog := rtc.NewMemSyncLog(rtc.DEFAULTSYNCLOGSIZE)
	if errSynclog != nil {
		return errSynclog
	}
	setters := []rtc.Setter{}
	if s.settime {
		setters = append(setters, rtc.SystemClock{})
	}
	if s.hwclock {
		setters = append(setters, rtc.HwClock{})
	}
	clk, errClk := rtc.NewClock(&synclog, uptime, log.Named("rtc"), setters...)
	if errClk != nil {
		return errClk
	}

	ctrl, errCtrl := sntpclock.NewSyncController(s.conf,
		sntpclock.WithLogger(log.Named("sntp")),
		sntpclock.WithUptime(uptime),
		sntpclock.WithSink(clk))
	if errCtrl != nil {
		return errCtrl
	}

	var ntpSync *timesync.NtpSync
	if 0 < len(s.verify) {
		ntpSync = &timesync.NtpSync{Servers: s.verify, QueryTimeout: s.conf.Timeout}
	}

	if s.once {
		res, _ := syncAll(ctx, ctrl, s, log)
		if !res.OK() {
			return res.Err
		}
		fmt.Printf("%s stratum=%v delay=%v offset=%v\n", res.Estimate().In(s.location).Format(time.RFC3339Nano), res.Stratum, res.Delay, res.ClockOffset(res.ReceivedAt))
		if ntpSync != nil {
			verifyOffset(ntpSync, res, log)
		}
		return nil
	}

	go func() {
		for {
			res, wait := syncAll(ctx, ctrl, s, log)
			if res.OK() && ntpSync != nil {
				verifyOffset(ntpSync, res, log)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}()

	display := Display{Out: os.Stdout}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case tNow := <-ticker.C:
			if !clk.Synced() {
				display.Blank()
				continue
			}
			t, errNow := clk.Now(tNow)
			if errNow != nil {
				log.Error("solving time failed", zap.Error(errNow))
				display.Blank()
				continue
			}
			display.Show(FormatDigits(t.In(s.location)))
		}
	}
}

func main() {
	s, errSettings := parseSettings(os.Args[1:])
	if errSettings != nil {
		fmt.Fprintf(os.Stderr, "%v\n", errSettings)
		os.Exit(2)
	}
	log, errLog := createLogger(s.debug)
	if errLog != nil {
		fmt.Fprintf(os.Stderr, "logger init failed %v\n", errLog)
		os.Exit(2)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, s, log); err != nil {
		log.Error("lixieclock failed", zap.Error(err))
		stop()
		log.Sync()
		os.Exit(1)
	}
}
