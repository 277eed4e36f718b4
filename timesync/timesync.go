/*
Timesync library for syncing from external sources like NTP
*/
package timesync

import (
	"math/rand"
	"time"
)

type TimeSync interface {
	//Get difference to time now
	GetOffset() (time.Duration, error)
}

//shuffle spreads load between servers
func shuffle[T any](lst []T) []T {
	shuffled := make([]T, len(lst))
	copy(shuffled, lst)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled
}
