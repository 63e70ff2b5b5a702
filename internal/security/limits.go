package security

import "time"

type Limits struct {
	RuleTimeout      time.Duration
	MaxOffendingRows int
	MaxScanRows      int
}

func DefaultLimits() Limits {
	return Limits{
		RuleTimeout:      5 * time.Minute,
		MaxOffendingRows: 1000,
		MaxScanRows:      100000,
	}
}
