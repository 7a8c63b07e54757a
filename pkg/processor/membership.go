package processor

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/wisbric/sitebridge/pkg/backendapi"
	"github.com/wisbric/sitebridge/pkg/cache"
	"github.com/wisbric/sitebridge/pkg/controlplane"
	"github.com/wisbric/sitebridge/pkg/notify"
	"github.com/wisbric/sitebridge/pkg/username"
)

// MembershipProcessor implements spec.md §4.6: syncing team membership,
// resource status, and limits between the backend and the control plane.
type MembershipProcessor struct {
	Offering  backendapi.Offering
	Control   MembershipControlPlane
	Driver    backendapi.Driver
	Logger    *slog.Logger
	Notifier  *notify.Notifier
	Usernames *username.Manager
}

func (p *MembershipProcessor) log() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// newPassCache builds the PerCycleCache for one process_offering call
// (spec.md §4.4) along with a hint setter: the team-members read is
// exposed by the control plane per resource, not per project, so the
// cache's project-keyed entry is populated from whichever resource in
// that project is processed first in the pass, and reused for the rest
// (a project's team membership does not vary by resource).
func (p *MembershipProcessor) newPassCache() (*cache.Cache, func(uuid.UUID)) {
	var resourceHint uuid.UUID
	var c *cache.Cache
	c = &cache.Cache{
		FetchOfferingUsers: func(ctx context.Context) ([]backendapi.OfferingUser, error) {
			restrict := false
			return p.Control.ListOfferingUsers(ctx, controlplane.OfferingUserFilter{
				OfferingUUID:         p.Offering.UUID,
				RestrictMemberAccess: &restrict,
			})
		},
		FetchTeamMembers: func(ctx context.Context, _ uuid.UUID) ([]string, error) {
			team, err := p.Control.TeamList(ctx, resourceHint)
			if err != nil {
				return nil, err
			}
			offeringUsers, err := c.OfferingUsers(ctx)
			if err != nil {
				return nil, err
			}
			byUser := make(map[uuid.UUID]backendapi.OfferingUser, len(offeringUsers))
			for _, u := range offeringUsers {
				byUser[u.UserUUID] = u
			}
			usernames := make([]string, 0, len(team))
			for _, t := range team {
				if t.Username != "" {
					usernames = append(usernames, t.Username)
				} else if ou, ok := byUser[t.UserUUID]; ok && ou.Username != "" {
					usernames = append(usernames, ou.Username)
				}
			}
			return usernames, nil
		},
		FetchServiceAccounts: p.Control.ListServiceAccounts,
		FetchCourseAccounts:  p.Control.ListCourseAccounts,
	}
	return c, func(resourceUUID uuid.UUID) { resourceHint = resourceUUID }
}

// resolveUsernames drives spec.md §4.2's get_or_create_username for every
// offering user still missing a username (requested, pending_account_linking,
// or creating). It is invoked once per pass with its own offering-user read,
// independent of the per-cycle cache, whose read is limited to users
// without restrict_member_access and applies no state filter.
func (p *MembershipProcessor) resolveUsernames(ctx context.Context) {
	if p.Usernames == nil {
		return
	}
	users, err := p.Control.ListOfferingUsers(ctx, controlplane.OfferingUserFilter{OfferingUUID: p.Offering.UUID})
	if err != nil {
		p.log().Error("listing offering users for username resolution", "offering", p.Offering.Name, "error", err)
		return
	}
	for _, u := range users {
		if !u.NeedsGeneration() {
			continue
		}
		result := p.Usernames.GetOrCreate(ctx, u)
		state, name, comment, commentURL := username.NextState(u.State, result)
		var applyErr error
		switch state {
		case backendapi.UserCreating:
			applyErr = p.Control.BeginCreatingOfferingUser(ctx, u.UUID, name)
		case backendapi.UserPendingAccountLinking:
			applyErr = p.Control.SetOfferingUserPendingAccountLinking(ctx, u.UUID, comment, commentURL)
		case backendapi.UserPendingAdditionalValidation:
			applyErr = p.Control.SetOfferingUserPendingAdditionalValidation(ctx, u.UUID, comment, commentURL)
		default:
			if result.Kind == username.ResultError {
				p.log().Error("resolving username", "offering_user", u.UUID, "error", result.Err)
			}
			continue
		}
		if applyErr != nil {
			p.log().Error("persisting offering user state", "offering_user", u.UUID, "state", state, "error", applyErr)
		}
	}
}

// ProcessOffering runs the full membership sync over every OK or Erred
// resource with a non-empty backend id (spec.md §4.6).
func (p *MembershipProcessor) ProcessOffering(ctx context.Context) error {
	p.resolveUsernames(ctx)

	resources, err := p.Control.ListResources(ctx, p.Offering.UUID, []backendapi.ResourceState{
		backendapi.ResourceOK, backendapi.ResourceErred,
	})
	if err != nil {
		return err
	}

	c, setHint := p.newPassCache()
	for _, resource := range resources {
		if ctx.Err() != nil {
			p.log().Info("membership pass cancelled, skipping remaining resources", "offering", p.Offering.Name)
			return nil
		}
		if resource.BackendID == "" {
			continue
		}
		setHint(resource.UUID)
		p.processOneResource(ctx, resource, c)
	}
	return nil
}

// ProcessResourceByUUID is the targeted, event-driven variant dispatched
// on a "resource-updated" event.
func (p *MembershipProcessor) ProcessResourceByUUID(ctx context.Context, resourceUUID uuid.UUID) error {
	p.resolveUsernames(ctx)
	resource, err := p.Control.GetResource(ctx, resourceUUID)
	if err != nil {
		return err
	}
	c, setHint := p.newPassCache()
	setHint(resource.UUID)
	p.processOneResource(ctx, *resource, c)
	return nil
}

// ProcessUserRoleChanged handles a "user-role-changed" event by re-running
// the membership sync for every resource of the affected project.
func (p *MembershipProcessor) ProcessUserRoleChanged(ctx context.Context, userUUID, projectUUID uuid.UUID, granted bool) error {
	return p.ProcessProjectUserSync(ctx, projectUUID)
}

// ProcessProjectUserSync re-runs the membership sync for every resource
// belonging to projectUUID.
func (p *MembershipProcessor) ProcessProjectUserSync(ctx context.Context, projectUUID uuid.UUID) error {
	p.resolveUsernames(ctx)
	resources, err := p.Control.ListResources(ctx, p.Offering.UUID, []backendapi.ResourceState{
		backendapi.ResourceOK, backendapi.ResourceErred,
	})
	if err != nil {
		return err
	}
	c, setHint := p.newPassCache()
	for _, resource := range resources {
		if resource.ProjectUUID != projectUUID || resource.BackendID == "" {
			continue
		}
		setHint(resource.UUID)
		p.processOneResource(ctx, resource, c)
	}
	return nil
}

func (p *MembershipProcessor) processOneResource(ctx context.Context, resource backendapi.MarketplaceResource, c *cache.Cache) {
	if err := p.syncResource(ctx, resource, c); err != nil {
		message, traceback := captureFailure(err)
		if setErr := p.Control.SetResourceErred(ctx, resource.UUID, message, traceback); setErr != nil {
			p.log().Error("marking resource erred", "resource", resource.UUID, "error", setErr)
		}
		if p.Notifier != nil {
			p.Notifier.ReconciliationFailure(ctx, p.Offering.Name, "membership", resource.UUID.String(), err)
		}
	}
}

func (p *MembershipProcessor) syncResource(ctx context.Context, resource backendapi.MarketplaceResource, c *cache.Cache) error {
	info, err := p.Driver.PullResource(ctx, resource)
	if err != nil {
		return err
	}
	if info == nil {
		return backendapi.NotFound("pull_resource", nil)
	}

	teamUsernames, err := c.TeamMembers(ctx, resource.ProjectUUID)
	if err != nil {
		return err
	}
	offeringUsers, err := c.OfferingUsers(ctx)
	if err != nil {
		return err
	}
	byUsername := make(map[string]backendapi.OfferingUser, len(offeringUsers))
	for _, u := range offeringUsers {
		if u.Username != "" {
			byUsername[u.Username] = u
		}
	}

	team := make(map[string]bool, len(teamUsernames))
	for _, u := range teamUsernames {
		team[u] = true
	}
	backendUsernames := make(map[string]bool, len(info.Usernames))
	for _, u := range info.Usernames {
		backendUsernames[u] = true
	}

	var existing, newUsers, stale []string
	for u := range team {
		if backendUsernames[u] {
			existing = append(existing, u)
		} else {
			newUsers = append(newUsers, u)
		}
	}
	for u := range backendUsernames {
		if !team[u] {
			stale = append(stale, u)
		}
	}

	if resource.RestrictMemberAccess {
		if len(existing) > 0 {
			if err := p.Driver.RemoveUsersFromResource(ctx, resource.BackendID, existing); err != nil {
				return err
			}
		}
		return p.finishSync(ctx, resource)
	}

	added, err := p.Driver.AddUsersToResource(ctx, resource.BackendID, newUsers, backendapi.AddUsersOptions{})
	if err != nil {
		return err
	}
	if err := p.Driver.RemoveUsersFromResource(ctx, resource.BackendID, stale); err != nil {
		return err
	}
	active := append(existing, added...)

	// spec.md §4.2 state diagram: a user only reaches "ok" once the core
	// has confirmed their username was actually added to a resource's
	// backend team.
	for _, u := range added {
		if ou, ok := byUsername[u]; ok && ou.State == backendapi.UserCreating {
			if err := p.Control.SetOfferingUserOK(ctx, ou.UUID); err != nil {
				p.log().Error("confirming offering user", "offering_user", ou.UUID, "error", err)
			}
		}
	}

	if err := p.syncStatus(ctx, resource); err != nil {
		return err
	}
	if err := p.syncLimits(ctx, resource, info); err != nil {
		return err
	}
	if err := p.syncPerUserLimits(ctx, resource, active, byUsername); err != nil {
		return err
	}
	if err := p.syncProjectAccounts(ctx, resource, c); err != nil {
		return err
	}

	return p.finishSync(ctx, resource)
}

// syncStatus applies exactly one of pause/downscale/restore, then writes
// backend metadata back (spec.md §4.6 step 5).
func (p *MembershipProcessor) syncStatus(ctx context.Context, resource backendapi.MarketplaceResource) error {
	var err error
	switch {
	case resource.Paused:
		err = p.Driver.PauseResource(ctx, resource.BackendID)
	case resource.Downscaled:
		err = p.Driver.DownscaleResource(ctx, resource.BackendID)
	default:
		err = p.Driver.RestoreResource(ctx, resource.BackendID)
	}
	if err != nil {
		return err
	}

	metadata, err := p.Driver.GetResourceMetadata(ctx, resource.BackendID)
	if err != nil {
		return err
	}
	return p.Control.SetResourceBackendMetadata(ctx, resource.UUID, metadata)
}

// syncLimits compares backend-reported limits with control-plane limits
// and writes the backend values back when they differ (spec.md §4.6
// step 6: the backend is authoritative in this direction).
func (p *MembershipProcessor) syncLimits(ctx context.Context, resource backendapi.MarketplaceResource, info *backendapi.BackendResourceInfo) error {
	if len(info.Limits) == 0 {
		return nil
	}
	controlLimits := p.Offering.Mapper().ConvertLimitsToControl(info.Limits)
	if limitsEqual(controlLimits, resource.Limits) {
		return nil
	}
	return p.Control.SetResourceLimits(ctx, resource.UUID, controlLimits)
}

func limitsEqual(a, b map[string]int64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// syncPerUserLimits implements spec.md §4.6 step 7: for each active user,
// compare their control-plane override against what the backend reports
// and reconcile in the direction the control plane dictates.
func (p *MembershipProcessor) syncPerUserLimits(ctx context.Context, resource backendapi.MarketplaceResource, usernames []string, byUsername map[string]backendapi.OfferingUser) error {
	if len(usernames) == 0 {
		return nil
	}
	backendLimits, err := p.Driver.GetResourceUserLimits(ctx, resource.BackendID)
	if err != nil {
		return err
	}

	for _, username := range usernames {
		override := byUsername[username].Limits
		current := backendLimits[username]

		switch {
		case len(override) == 0 && len(current) == 0:
			continue
		case limitsEqual(override, current):
			continue
		case len(override) == 0:
			if err := p.Driver.SetResourceUserLimits(ctx, resource.BackendID, username, map[string]int64{}); err != nil {
				return err
			}
		default:
			if err := p.Driver.SetResourceUserLimits(ctx, resource.BackendID, username, override); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *MembershipProcessor) syncProjectAccounts(ctx context.Context, resource backendapi.MarketplaceResource, c *cache.Cache) error {
	serviceAccounts, err := c.ServiceAccounts(ctx, resource.ProjectUUID)
	if err != nil {
		return err
	}
	courseAccounts, err := c.CourseAccounts(ctx, resource.ProjectUUID)
	if err != nil {
		return err
	}
	if len(serviceAccounts) > 0 {
		if _, err := p.Driver.AddUsersToResource(ctx, resource.BackendID, serviceAccounts, backendapi.AddUsersOptions{}); err != nil {
			return err
		}
	}
	if len(courseAccounts) > 0 {
		if _, err := p.Driver.AddUsersToResource(ctx, resource.BackendID, courseAccounts, backendapi.AddUsersOptions{}); err != nil {
			return err
		}
	}
	return nil
}

func (p *MembershipProcessor) finishSync(ctx context.Context, resource backendapi.MarketplaceResource) error {
	if err := p.Control.RefreshResourceLastSync(ctx, resource.UUID); err != nil {
		return err
	}
	if resource.State == backendapi.ResourceErred {
		return p.Control.SetResourceOK(ctx, resource.UUID)
	}
	return nil
}
