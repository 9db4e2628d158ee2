package wire

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/host"
)

// HostBootID returns a stable identifier for the current boot of this
// machine, combining the host ID with the kernel boot time. The value
// survives process restarts and changes only across reboots.
func HostBootID() (string, error) {
	info, err := host.Info()
	if err != nil {
		return "", fmt.Errorf("host info: %w", err)
	}
	return fmt.Sprintf("%s-%d", info.HostID, info.BootTime), nil
}

// HostUptime returns the seconds since the machine booted.
func HostUptime() (int64, error) {
	info, err := host.Info()
	if err != nil {
		return 0, fmt.Errorf("host info: %w", err)
	}
	return int64(info.Uptime), nil
}
