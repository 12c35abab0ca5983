package models

import "time"

// Contributor is a platform account identified by its login
type Contributor struct {
	Login        string     `json:"login"`
	Location     *string    `json:"location"`
	TooBig       bool       `json:"too_big"`
	LastFullScan *time.Time `json:"last_full_scan"`
}

func NewContributor(login string) *Contributor {
	return &Contributor{Login: login}
}

// ShouldScan reports whether the contributor's repositories should be
// crawled again at now, given the rescan interval.
func (c *Contributor) ShouldScan(now time.Time, interval time.Duration) bool {
	if c.TooBig {
		return false
	}
	if c.LastFullScan == nil {
		return true
	}
	return now.Sub(*c.LastFullScan) >= interval
}
