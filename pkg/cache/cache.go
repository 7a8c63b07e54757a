// Package cache implements a one-pass memoization layer over the hot
// control-plane reads the reconciliation processors share within a single
// process_offering call (spec.md §4.4). It replaces the source's implicit
// instance-attribute memoization with an explicit context object a
// processor constructs once per pass and discards at the end of it
// (spec.md §9): no cache ever survives past the call that created it, and
// none is shared across processor instances.
package cache

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/wisbric/sitebridge/pkg/backendapi"
)

// OfferingUsersFunc fetches the OfferingUsers for the offering. The cache
// memoizes whatever it returns and applies no state filter of its own.
type OfferingUsersFunc func(ctx context.Context) ([]backendapi.OfferingUser, error)

// ProjectUsersFunc fetches the team usernames for one project.
type ProjectUsersFunc func(ctx context.Context, projectUUID uuid.UUID) ([]string, error)

// Cache is a per-pass, per-processor-instance memoization layer. A zero
// Cache with its function fields set is ready to use; it is not safe to
// reuse across passes because Invalidate* would leak stale state forward.
type Cache struct {
	FetchOfferingUsers OfferingUsersFunc
	FetchTeamMembers   ProjectUsersFunc
	FetchServiceAccounts ProjectUsersFunc
	FetchCourseAccounts  ProjectUsersFunc

	mu sync.Mutex

	offeringUsers     []backendapi.OfferingUser
	offeringUsersLoaded bool

	teamMembers  map[uuid.UUID][]string
	serviceAccts map[uuid.UUID][]string
	courseAccts  map[uuid.UUID][]string
}

// OfferingUsers returns the cached offering-user list, fetching it on
// first call within this pass.
func (c *Cache) OfferingUsers(ctx context.Context) ([]backendapi.OfferingUser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offeringUsersLoaded {
		return c.offeringUsers, nil
	}
	users, err := c.FetchOfferingUsers(ctx)
	if err != nil {
		return nil, err
	}
	c.offeringUsers = users
	c.offeringUsersLoaded = true
	return users, nil
}

// InvalidateOfferingUsers discards the cached offering-user list. Callers
// invoke this after any write that actually changed offering-user state
// (a write that reports no change must not invalidate, per spec.md §4.4).
func (c *Cache) InvalidateOfferingUsers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offeringUsers = nil
	c.offeringUsersLoaded = false
}

// TeamMembers returns the cached team usernames for projectUUID, fetching
// them on first call for that project within this pass.
func (c *Cache) TeamMembers(ctx context.Context, projectUUID uuid.UUID) ([]string, error) {
	return c.projectScoped(ctx, projectUUID, &c.teamMembers, c.FetchTeamMembers)
}

// InvalidateTeamMembers discards the cached team for one project.
func (c *Cache) InvalidateTeamMembers(projectUUID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.teamMembers, projectUUID)
}

// ServiceAccounts returns the cached service-account usernames for a project.
func (c *Cache) ServiceAccounts(ctx context.Context, projectUUID uuid.UUID) ([]string, error) {
	return c.projectScoped(ctx, projectUUID, &c.serviceAccts, c.FetchServiceAccounts)
}

// InvalidateServiceAccounts discards the cached service accounts for one project.
func (c *Cache) InvalidateServiceAccounts(projectUUID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.serviceAccts, projectUUID)
}

// CourseAccounts returns the cached course-account usernames for a project.
func (c *Cache) CourseAccounts(ctx context.Context, projectUUID uuid.UUID) ([]string, error) {
	return c.projectScoped(ctx, projectUUID, &c.courseAccts, c.FetchCourseAccounts)
}

// InvalidateCourseAccounts discards the cached course accounts for one project.
func (c *Cache) InvalidateCourseAccounts(projectUUID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.courseAccts, projectUUID)
}

func (c *Cache) projectScoped(ctx context.Context, projectUUID uuid.UUID, store *map[uuid.UUID][]string, fetch ProjectUsersFunc) ([]string, error) {
	c.mu.Lock()
	if *store == nil {
		*store = make(map[uuid.UUID][]string)
	}
	if v, ok := (*store)[projectUUID]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err := fetch(ctx, projectUUID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	(*store)[projectUUID] = v
	return v, nil
}
