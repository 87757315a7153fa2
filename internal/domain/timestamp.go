package domain

import (
	"fmt"
	"regexp"
	"time"
)

// StampPattern matches stamps produced by Stamp, with an optional collision suffix.
var StampPattern = regexp.MustCompile(`^\d{8}_\d{6}_\d{3}(_\d+)?$`)

// Stamp formats t as yyyyMMdd_HHmmss_fff in UTC. Stamps sort lexicographically in time order.
func Stamp(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s_%03d", t.Format("20060102_150405"), t.Nanosecond()/int(time.Millisecond))
}
