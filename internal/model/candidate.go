package model

import "time"

// Candidate is a ballot option.  Candidates are soft deleted so historical
// tallies keep resolving their names.
type Candidate struct {
    ID          uint64     `json:"id"`
    OrderNumber int        `json:"orderNumber"`
    Name        string     `json:"name"`
    Vision      *string    `json:"vision,omitempty"`
    Mission     *string    `json:"mission,omitempty"`
    PhotoURL    *string    `json:"photoUrl,omitempty"`
    CreatedAt   time.Time  `json:"createdAt"`
    DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}
