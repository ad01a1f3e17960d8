package scheduler

import (
	"fmt"
	"strings"
)

// FormatReminder renders the text pushed to a group when a prayer time arrives.
func FormatReminder(prayer, location, localTime string) string {
	return fmt.Sprintf("It's time to %s in %s, Time : %s",
		strings.ToUpper(prayer), strings.ToUpper(location), localTime)
}
