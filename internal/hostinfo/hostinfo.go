// Package hostinfo collects host metadata attached to session registration.
package hostinfo

import (
	"os"

	"github.com/shirou/gopsutil/v4/host"
)

// Info identifies the machine an instrumented application runs on.
type Info struct {
	Hostname  string `json:"hostname,omitempty"`
	MachineID string `json:"machine_id,omitempty"`
	OS        string `json:"os,omitempty"`
	Platform  string `json:"platform,omitempty"`
}

// Collect gathers best-effort host metadata. Fields that cannot be
// determined are left empty; Collect never fails.
func Collect() Info {
	var in Info
	if hn, err := os.Hostname(); err == nil {
		in.Hostname = hn
	}
	if hi, err := host.Info(); err == nil {
		in.MachineID = hi.HostID
		in.OS = hi.OS
		in.Platform = hi.Platform
		if in.Hostname == "" {
			in.Hostname = hi.Hostname
		}
	}
	return in
}
