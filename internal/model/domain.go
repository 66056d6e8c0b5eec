package model

import (
	"time"
)

// AllowedDomain is a keyword that keeps a scoped conversation on topic.
// Keyword is stored lower-cased and is unique.
type AllowedDomain struct {
	Keyword     string    `json:"keyword"`
	Category    string    `json:"category,omitempty"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CreateDomainRequest is the request to register a new allowed keyword.
type CreateDomainRequest struct {
	Keyword     string `json:"keyword"`
	Category    string `json:"category"`
	Description string `json:"description"`
}
