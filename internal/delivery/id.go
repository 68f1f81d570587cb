package delivery

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewDeliveryID mints an identifier in the DEL-YYYYMMDD-XXXXXXXX format: the
// creation date plus eight uppercase hex characters of randomness.
func NewDeliveryID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("DEL-%s-%s", now.UTC().Format("20060102"), suffix)
}
