package models

import "strings"

// Email is a commit identity address. Once marked unknown it is never looked up again.
type Email struct {
	Address          string  `json:"address"`
	ContributorLogin *string `json:"contributor_login"`
	Unknown          bool    `json:"unknown"`
}

func NewEmail(address string) *Email {
	return &Email{Address: NormalizeEmail(address)}
}

// NeedsLookup reports whether the address still has to be resolved to a login
func (e *Email) NeedsLookup() bool {
	return e.ContributorLogin == nil && !e.Unknown
}

// NormalizeEmail trims and lower-cases an address
func NormalizeEmail(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
