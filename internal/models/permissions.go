package models

// Permissions is what a user may do with payout requests.
type Permissions struct {
	CanView   bool `json:"canView"`
	CanCreate bool `json:"canCreate"`
	CanEdit   bool `json:"canEdit"`
}

var (
	// ApproverPermissions can review and transition requests.
	ApproverPermissions = Permissions{CanView: true, CanEdit: true}
	// RequesterPermissions can file requests and view them.
	RequesterPermissions = Permissions{CanView: true, CanCreate: true}
	// NoPermissions is the fail-closed default.
	NoPermissions = Permissions{}
)

// AuthorizationGroup is a rank threshold: a user qualifies when their rank
// in GroupID is at least MinRank.
type AuthorizationGroup struct {
	GroupID int64 `yaml:"id" json:"id" validate:"required,gt=0"`
	MinRank int   `yaml:"min_rank" json:"min_rank" validate:"gte=0,lte=255"`
}
