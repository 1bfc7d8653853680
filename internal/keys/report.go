package keys

import (
	"fmt"
	"time"
)

// Report returns the canonical S3 key for an invocation report, partitioned
// by the UTC day the invocation started.
func Report(id string, started time.Time) string {
	started = started.UTC()
	return fmt.Sprintf("reports/%04d/%02d/%02d/%s.json",
		started.Year(),
		int(started.Month()),
		started.Day(),
		id,
	)
}
