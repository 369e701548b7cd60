package model

import "time"

// Vote is an append-only ledger entry.  It deliberately has no voter column.
type Vote struct {
    ID          uint64    // votes.id
    CandidateID uint64    // votes.candidate_id
    Source      Channel   // votes.source
    CreatedAt   time.Time // votes.created_at
}

// OfflineVoteLog records who entered how many paper ballots for which
// candidate.  One log row precedes Count vote rows.
type OfflineVoteLog struct {
    ID          uint64
    CandidateID uint64
    Count       int
    InputBy     uint64
    CreatedAt   time.Time
}

// Stats is the turnout summary served by GET /votes/stats.
type Stats struct {
    TotalVoters  int64  `json:"totalVoters"`
    VotesCast    int64  `json:"votesCast"`
    Turnout      string `json:"turnout"`
    OnlineVotes  int64  `json:"onlineVotes"`
    OfflineVotes int64  `json:"offlineVotes"`
    CheckedIn    int64  `json:"checkedIn"`
}

// CandidateResult is one row of the per-candidate breakdown.
type CandidateResult struct {
    ID           uint64 `json:"id"`
    Name         string `json:"name"`
    OrderNumber  int    `json:"orderNumber"`
    OnlineVotes  int64  `json:"onlineVotes"`
    OfflineVotes int64  `json:"offlineVotes"`
    Votes        int64  `json:"votes"`
}

// Activity is an entry of the recent-votes feed.
type Activity struct {
    ID            uint64    `json:"id"`
    Timestamp     time.Time `json:"timestamp"`
    CandidateID   uint64    `json:"candidateId"`
    CandidateName string    `json:"candidateName"`
    Source        Channel   `json:"source"`
}
