package model

// Role is stored verbatim in users.role and carried in session tokens.
type Role string

const (
    RoleSuperAdmin    Role = "super_admin"
    RolePanitia       Role = "panitia"
    RoleOperatorTPS   Role = "operator_tps"
    RoleOperatorSuara Role = "operator_suara"
    RoleOperatorChat  Role = "operator_chat"
    RoleVoter         Role = "voter"
)

// Capability is a named permission an operation requires.
type Capability string

const (
    CapCastVote          Capability = "CastVote"
    CapCheckInVoters     Capability = "CheckInVoters"
    CapEnterOfflineTally Capability = "EnterOfflineTally"
    CapDeleteVotes       Capability = "DeleteVotes"
    CapManageVoters      Capability = "ManageVoters"
    CapViewActivity      Capability = "ViewActivity"
    CapSendBroadcast     Capability = "SendBroadcast"
    CapIssueManualOTP    Capability = "IssueManualOTP"
)

var roleCapabilities = map[Role][]Capability{
    RoleSuperAdmin: {
        CapCheckInVoters, CapEnterOfflineTally, CapDeleteVotes, CapManageVoters,
        CapViewActivity, CapSendBroadcast, CapIssueManualOTP,
    },
    RolePanitia: {
        CapCheckInVoters, CapEnterOfflineTally, CapManageVoters, CapViewActivity,
        CapSendBroadcast, CapIssueManualOTP,
    },
    RoleOperatorTPS:   {CapCheckInVoters, CapViewActivity},
    RoleOperatorSuara: {CapEnterOfflineTally, CapViewActivity},
    RoleOperatorChat:  {CapIssueManualOTP},
    RoleVoter:         {CapCastVote},
}

// Capabilities returns the capability set granted to r.  Unknown roles get
// none.
func (r Role) Capabilities() []Capability {
    return roleCapabilities[r]
}

// Can reports whether r grants c.
func (r Role) Can(c Capability) bool {
    for _, have := range roleCapabilities[r] {
        if have == c {
            return true
        }
    }
    return false
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
    _, ok := roleCapabilities[r]
    return ok
}

// IsOperator reports whether r is a staff role that logs in with a password.
func (r Role) IsOperator() bool {
    return r.Valid() && r != RoleVoter
}
