package sntpclock

import (
	"fmt"
	"net/netip"
	"time"
)

//Config is supplied by caller. Only read during sync
type Config struct {
	Server         netip.AddrPort //Pre-resolved address. Port 0 means 123
	Network        string         //"udp6" by default
	Version        uint8
	Timeout        time.Duration //Per attempt
	MaxRetries     int           //Retries after first attempt on timeout or io error
	RetryInterval  time.Duration //Wait between retries
	MinKissBackoff time.Duration //Minimum holdoff after kiss-of-death
	EraPivot       time.Time     //See Converter
	TransmitUptime bool          //Put uptime to request transmit timestamp
}

func DefaultConfig() Config {
	return Config{
		Network:        DefaultNetwork,
		Version:        DefaultVersion,
		Timeout:        time.Second * 2,
		MaxRetries:     3,
		RetryInterval:  0,
		MinKissBackoff: time.Minute,
		TransmitUptime: true,
	}
}

func (p *Config) Validate() error {
	if p.Version < 1 || 4 < p.Version {
		return fmt.Errorf("invalid NTP version %v", p.Version)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", p.Timeout)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %v", p.MaxRetries)
	}
	if p.RetryInterval < 0 {
		return fmt.Errorf("retry interval must not be negative, got %v", p.RetryInterval)
	}
	if !p.EraPivot.IsZero() && p.EraPivot.Before(time.Unix(0, 0)) {
		return fmt.Errorf("era pivot %v is before 1970", p.EraPivot)
	}
	switch p.Network {
	case "", "udp", "udp6", "udp4":
	default:
		return fmt.Errorf("unsupported network %q", p.Network)
	}
	return nil
}
