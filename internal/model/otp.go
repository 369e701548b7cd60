package model

import "time"

// OTPCode is an outstanding one-time code.  Several may exist per email;
// a successful verification removes all of them.
type OTPCode struct {
    ID        uint64
    Email     string
    Code      string
    ExpiresAt time.Time
    CreatedAt time.Time
}

// ActionLog is an audit entry written after a successful mutation.
type ActionLog struct {
    ID        uint64
    ActorID   *uint64
    ActorName string
    Action    string
    Target    string
    Details   string
    IPAddress string
    UserAgent string
    CreatedAt time.Time
}
