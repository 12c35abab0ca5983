package models

type Organization struct {
	Login string `json:"login"`
	URL   string `json:"url"`
}

func NewOrganization(login, url string) *Organization {
	return &Organization{Login: login, URL: url}
}
