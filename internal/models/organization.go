package models

import "time"

// Organization is the tenant (society) that owns conferences and member codes.
type Organization struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	GatewayProvider  string    `json:"gateway_provider"`
	GatewaySecretKey string    `json:"-"`
	GatewayClientKey string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Conference belongs to one organization.
type Conference struct {
	ID           string     `json:"id"`
	OrgID        string     `json:"org_id"`
	Title        string     `json:"title"`
	StartDate    *time.Time `json:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	BadgeBaseURL string     `json:"badge_base_url,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
