package discovery

import "time"

// Device is one discovered peer, assembled from PTR/SRV/TXT answers.
type Device struct {
	DeviceID     string
	InstanceName string
	ServiceType  string
	Hostname     string
	Port         uint16
	Priority     uint16
	Weight       uint16
	Capabilities map[string]string
	FirstSeen    time.Time
	LastSeen     time.Time
}

func (d *Device) expired(timeout time.Duration) bool {
	return time.Since(d.LastSeen) > timeout
}
