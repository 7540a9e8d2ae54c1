package models

import "strings"

// ProviderType identifies one of the supported CRM platforms.
type ProviderType string

const (
	ProviderSalesforce ProviderType = "SALESFORCE"
	ProviderHubSpot    ProviderType = "HUBSPOT"
	ProviderPipedrive  ProviderType = "PIPEDRIVE"
	ProviderZoho       ProviderType = "ZOHO"
)

// ProviderTypes lists every supported provider in a stable order.
var ProviderTypes = []ProviderType{ProviderSalesforce, ProviderHubSpot, ProviderPipedrive, ProviderZoho}

func (p ProviderType) IsValid() bool {
	switch p {
	case ProviderSalesforce, ProviderHubSpot, ProviderPipedrive, ProviderZoho:
		return true
	}
	return false
}

func (p ProviderType) String() string {
	return string(p)
}

// ParseProviderType accepts any casing of a provider name.
func ParseProviderType(value string) (ProviderType, bool) {
	p := ProviderType(strings.ToUpper(strings.TrimSpace(value)))
	return p, p.IsValid()
}
