// Package capacity turns provider send allowances into per-step recipient caps.
package capacity

import (
	"math"

	"campaignservice/internal/models"
)

// Allowance is the remaining send budget keyed by uppercase channel
type Allowance map[models.Channel]int

// Cost is the number of sends one recipient consumes per channel
type Cost map[models.Channel]int

// Result is the outcome of a capacity computation
type Result struct {
	PerChannel map[models.Channel]int
	// Limit is the binding constraint across channels. Meaningless when Unlimited.
	Limit     int
	Unlimited bool
}

// Calculate returns floor(allowance/cost) per channel and the minimum over
// the channels used. No channels means no limit.
func Calculate(channels []models.Channel, allowance Allowance, cost Cost) Result {
	res := Result{PerChannel: make(map[models.Channel]int, len(channels))}
	if len(channels) == 0 {
		res.Unlimited = true
		res.Limit = math.MaxInt
		return res
	}

	res.Limit = math.MaxInt
	for _, ch := range channels {
		c := cost[ch]
		if c <= 0 {
			c = 1
		}
		avail := allowance[ch]
		if avail < 0 {
			avail = 0
		}
		perChannel := avail / c
		res.PerChannel[ch] = perChannel
		if perChannel < res.Limit {
			res.Limit = perChannel
		}
	}
	return res
}

// UserCap is Calculate for a single-channel step with unit cost
func UserCap(channel models.Channel, allowance Allowance) int {
	return Calculate([]models.Channel{channel}, allowance, nil).Limit
}
