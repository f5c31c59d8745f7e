package cache

import (
	"fmt"
	"time"
)

// Key identifies one cached history window.
type Key struct {
	DeviceID string
	Start    time.Time
	End      time.Time
}

// String generates a deterministic cache key string.
// Format: wxm:history:<device>:<start unix>:<end unix>
//
// Instants are used so the same window in different zones maps to one key.
func (k Key) String() string {
	return fmt.Sprintf("wxm:history:%s:%d:%d", k.DeviceID, k.Start.Unix(), k.End.Unix())
}

// devicePattern matches every key of k.DeviceID for SCAN.
func (k Key) devicePattern() string {
	return fmt.Sprintf("wxm:history:%s:*", k.DeviceID)
}
