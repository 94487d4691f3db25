// Package authz maps a user to the permissions their group ranks grant.
package authz

import (
	"context"

	"finsys/internal/directory"
	"finsys/internal/models"
)

// GroupPolicy supplies the current rank thresholds. *config.PolicyStore
// satisfies it, so edits to the policy file apply on the next resolution.
type GroupPolicy interface {
	ApproverGroups() []models.AuthorizationGroup
	RequesterGroups() []models.AuthorizationGroup
}

// rule is one entry of the ordered role table. The first rule whose match
// returns true decides the permissions.
type rule struct {
	name  string
	match func(r *Resolver, ctx context.Context, userID int64) (bool, error)
	perms models.Permissions
}

var rules = []rule{
	{name: "approver", match: (*Resolver).isApprover, perms: models.ApproverPermissions},
	{name: "non_member", match: (*Resolver).outsidePayoutGroup, perms: models.NoPermissions},
	{name: "requester", match: (*Resolver).isRequester, perms: models.RequesterPermissions},
}

// Resolver evaluates the role table against a directory.
type Resolver struct {
	policy        GroupPolicy
	dir           directory.Directory
	payoutGroupID int64
}

// NewResolver creates a resolver. payoutGroupID is the group a requester must
// belong to (rank at least 1) regardless of requester group thresholds.
func NewResolver(policy GroupPolicy, dir directory.Directory, payoutGroupID int64) *Resolver {
	return &Resolver{policy: policy, dir: dir, payoutGroupID: payoutGroupID}
}

// Resolve returns userID's permissions. Approver outranks requester. On a
// directory error it returns NoPermissions together with the error.
func (r *Resolver) Resolve(ctx context.Context, userID int64) (models.Permissions, error) {
	perms, _, err := r.resolve(ctx, userID)
	return perms, err
}

// Role returns the name of the matching rule, or "" when none matched.
func (r *Resolver) Role(ctx context.Context, userID int64) (string, error) {
	_, role, err := r.resolve(ctx, userID)
	return role, err
}

func (r *Resolver) resolve(ctx context.Context, userID int64) (models.Permissions, string, error) {
	for _, rl := range rules {
		ok, err := rl.match(r, ctx, userID)
		if err != nil {
			return models.NoPermissions, "", err
		}
		if ok {
			return rl.perms, rl.name, nil
		}
	}
	return models.NoPermissions, "", nil
}

func (r *Resolver) isApprover(ctx context.Context, userID int64) (bool, error) {
	return r.qualifiesForAny(ctx, userID, r.policy.ApproverGroups())
}

func (r *Resolver) outsidePayoutGroup(ctx context.Context, userID int64) (bool, error) {
	rank, err := r.dir.RankOf(ctx, r.payoutGroupID, userID)
	if err != nil {
		return false, err
	}
	return rank < 1, nil
}

func (r *Resolver) isRequester(ctx context.Context, userID int64) (bool, error) {
	return r.qualifiesForAny(ctx, userID, r.policy.RequesterGroups())
}

func (r *Resolver) qualifiesForAny(ctx context.Context, userID int64, groups []models.AuthorizationGroup) (bool, error) {
	for _, g := range groups {
		rank, err := r.dir.RankOf(ctx, g.GroupID, userID)
		if err != nil {
			return false, err
		}
		if rank >= g.MinRank {
			return true, nil
		}
	}
	return false, nil
}
