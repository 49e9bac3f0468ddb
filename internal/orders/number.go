package orders

import (
	"fmt"
	"math/rand/v2"
	"time"
)

const numberAttempts = 20

// RandomNumber formats LV-YYYYMMDD-NNNN with a random four digit suffix.
func RandomNumber(now time.Time) string {
	return fmt.Sprintf("LV-%s-%04d", now.Format("20060102"), rand.IntN(10000))
}
