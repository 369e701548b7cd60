package model

import "time"

// Channel names the way a voter may cast, or did cast, a ballot.
type Channel string

const (
    ChannelOnline  Channel = "online"
    ChannelOffline Channel = "offline"
)

// User represents a row in the `users` table.  Voters and operators share
// the table; Role tells them apart.  Only operators carry a password hash,
// voters authenticate with a one-time code sent to Email.
//
// Fields:
//  NIM         – unique roll number.
//  AccessType  – channel the voter is eligible to use.
//  HasVoted    – whether the voting right has been consumed.
//  VoteMethod  – channel actually used; nil until HasVoted is set.
//  CheckedInAt – offline check-in timestamp; CheckedInBy is the operator.
//  DeletedAt   – soft delete marker; deleted users cannot vote.
type User struct {
    ID           uint64     // users.id
    NIM          string     // users.nim
    Name         string     // users.name
    Email        *string    // users.email (nullable)
    Angkatan     *string    // users.angkatan (cohort, nullable)
    Role         Role       // users.role
    PasswordHash *string    // users.password_hash (operators only)
    AccessType   Channel    // users.access_type
    HasVoted     bool       // users.has_voted
    VoteMethod   *Channel   // users.vote_method (nullable)
    VotedAt      *time.Time // users.voted_at
    CheckedInAt  *time.Time // users.checked_in_at
    CheckedInBy  *uint64    // users.checked_in_by
    CreatedAt    time.Time  // users.created_at
    UpdatedAt    time.Time  // users.updated_at
    DeletedAt    *time.Time // users.deleted_at
}

// EmailAddr returns the email or "" when the user has none.
func (u User) EmailAddr() string {
    if u.Email == nil {
        return ""
    }
    return *u.Email
}

// CheckedIn reports whether the voter has an active offline check-in.
func (u User) CheckedIn() bool {
    return u.HasVoted && u.VoteMethod != nil && *u.VoteMethod == ChannelOffline
}

// VoterFilter selects one page of the voter register.  Search matches name,
// roll number or email, case-insensitively.
type VoterFilter struct {
    Search         string
    Page           int // 1-based
    Limit          int
    IncludeDeleted bool
}

// Offset is the row offset of the page.
func (f VoterFilter) Offset() int {
    if f.Page < 1 {
        return 0
    }
    return (f.Page - 1) * f.Limit
}
