package backendapi

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/wisbric/sitebridge/pkg/component"
)

// EvaluateResult is the verdict a driver's evaluate_pending_order hook
// returns for a pending-provider order (spec.md §4.1).
type EvaluateResult string

const (
	EvaluateAccept  EvaluateResult = "ACCEPT"
	EvaluateReject  EvaluateResult = "REJECT"
	EvaluatePending EvaluateResult = "PENDING"
)

// AddUsersOptions carries optional behavior for add_users_to_resource,
// e.g. whether the first user added becomes the backend's default
// association.
type AddUsersOptions struct {
	DefaultUsername string
}

// Driver is the higher-level, orchestration capability set the
// reconciliation processors call (spec.md §4.1). A concrete plugin wires
// a Client and any of the optional pipeline phases; everything it does
// not override falls back to BaseDriver's defaults.
type Driver interface {
	Ping(ctx context.Context, raise bool) error
	Diagnostics(ctx context.Context) (map[string]string, error)
	ListComponents(ctx context.Context) ([]component.Component, error)

	CreateResource(ctx context.Context, uc UserContext) (backendID string, err error)
	DeleteResource(ctx context.Context, r MarketplaceResource) error
	PullResource(ctx context.Context, r MarketplaceResource) (*BackendResourceInfo, error)
	PullResources(ctx context.Context, rs []MarketplaceResource) (map[string]*BackendResourceInfo, error)

	GetUsageReport(ctx context.Context, backendIDs []string) (map[string]map[string]float64, error)
	GetUserUsage(ctx context.Context, backendID string) (map[string]map[string]float64, error)
	SetResourceLimits(ctx context.Context, backendID string, limits map[string]int64) error

	AddUsersToResource(ctx context.Context, backendID string, usernames []string, opts AddUsersOptions) ([]string, error)
	RemoveUsersFromResource(ctx context.Context, backendID string, usernames []string) error

	GetResourceUserLimits(ctx context.Context, backendID string) (map[string]map[string]int64, error)
	SetResourceUserLimits(ctx context.Context, backendID, username string, limits map[string]int64) error

	DownscaleResource(ctx context.Context, backendID string) error
	PauseResource(ctx context.Context, backendID string) error
	RestoreResource(ctx context.Context, backendID string) error

	GetResourceMetadata(ctx context.Context, backendID string) (map[string]string, error)

	EvaluatePendingOrder(ctx context.Context, o Order) (EvaluateResult, error)
}

// PreCreateFunc runs external side effects before the backend resource
// itself is created (e.g. provisioning a parent group or IAM group). It
// returns an opaque rollback token the base pipeline passes to Rollback
// on a later phase's failure.
type PreCreateFunc func(ctx context.Context, uc UserContext) (rollbackToken string, err error)

// CreateInBackendFunc must be idempotent given the generated name and
// must return the backend id.
type CreateInBackendFunc func(ctx context.Context, uc UserContext, name string) (backendID string, err error)

// SetupLimitsFunc converts marketplace limits via the component.Mapper
// and applies them to the newly created backend id.
type SetupLimitsFunc func(ctx context.Context, backendID string, limits map[string]int64) error

// RollbackFunc releases whatever PreCreate created, given its token.
type RollbackFunc func(ctx context.Context, rollbackToken string) error

// CreateResourcePipeline composes the three phases of create_resource
// (spec.md §4.1, and §9's "dynamic mixin" re-architecture note: a record
// of function fields a driver supplies whichever phases it needs, instead
// of overriding virtual methods on a class hierarchy).
type CreateResourcePipeline struct {
	PreCreate       PreCreateFunc       // optional; nil skips this phase
	CreateInBackend CreateInBackendFunc // required
	SetupLimits     SetupLimitsFunc     // optional; nil skips this phase
	Rollback        RollbackFunc        // optional; nil means nothing to roll back
}

// nameSanitizer restricts generated backend ids to a conservative,
// broadly-portable character class (lowercase alphanumerics, dash,
// underscore), matching the kind of identifier every supported backend
// (batch schedulers, S3-style buckets, k8s namespaces, registries) accepts.
var nameSanitizer = regexp.MustCompile(`[^a-z0-9_-]+`)

// sanitizeSlug lowercases s and strips every character outside the
// allowed class, collapsing runs of separators.
func sanitizeSlug(s string) string {
	s = strings.ToLower(s)
	s = nameSanitizer.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-_")
	if s == "" {
		s = "resource"
	}
	return s
}

const maxNamingAttempts = 10

// BaseDriver implements Driver with sensible defaults for every optional
// capability and drives CreateResourcePipeline for resource creation,
// including the prefix+slug naming scheme with bounded collision retry
// and rollback of external side effects on a later phase's failure.
type BaseDriver struct {
	Client     Client
	NamePrefix string
	Pipeline   CreateResourcePipeline
	Logger     *slog.Logger

	// Exists is used during naming collision detection: it reports
	// whether backendID is already occupied in the backend.
	Exists func(ctx context.Context, backendID string) (bool, error)
}

func (d *BaseDriver) log() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Ping checks backend reachability. raise controls whether a failure is
// returned as an error (true) or only logged (false).
func (d *BaseDriver) Ping(ctx context.Context, raise bool) error {
	_, err := d.Client.ListResources(ctx)
	if err != nil && raise {
		return Transient("ping", err)
	}
	if err != nil {
		d.log().Warn("ping failed", "error", err)
	}
	return nil
}

func (d *BaseDriver) Diagnostics(ctx context.Context) (map[string]string, error) {
	return map[string]string{}, nil
}

func (d *BaseDriver) ListComponents(ctx context.Context) ([]component.Component, error) {
	return nil, nil
}

// generateBackendID builds "<prefix><slug>" and appends a numeric suffix
// on collision, up to maxNamingAttempts, per spec.md §4.1.
func (d *BaseDriver) generateBackendID(ctx context.Context, slug string) (string, error) {
	base := d.NamePrefix + sanitizeSlug(slug)
	if d.Exists == nil {
		return base, nil
	}
	for attempt := 0; attempt < maxNamingAttempts; attempt++ {
		candidate := base
		if attempt > 0 {
			candidate = fmt.Sprintf("%s%d", base, attempt+1)
		}
		taken, err := d.Exists(ctx, candidate)
		if err != nil {
			return "", Transient("generate_backend_id", err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", Collision("generate_backend_id", fmt.Errorf("exhausted %d naming attempts for slug %q", maxNamingAttempts, slug))
}

// CreateResource runs the three-phase pipeline. If any phase after
// PreCreate fails, PreCreate's externally-created side effects are
// rolled back before the error is returned (spec.md §4.1).
func (d *BaseDriver) CreateResource(ctx context.Context, uc UserContext) (string, error) {
	var rollbackToken string
	var haveRollback bool

	if d.Pipeline.PreCreate != nil {
		token, err := d.Pipeline.PreCreate(ctx, uc)
		if err != nil {
			return "", Permanent("pre_create", err)
		}
		rollbackToken = token
		haveRollback = true
	}

	rollback := func(cause error) error {
		if haveRollback && d.Pipeline.Rollback != nil {
			if rbErr := d.Pipeline.Rollback(ctx, rollbackToken); rbErr != nil {
				d.log().Error("rollback after failed create_resource", "error", rbErr, "cause", cause)
			}
		}
		return cause
	}

	slug := uc.Resource.ResourceSlug
	if slug == "" {
		slug = uc.Resource.UUID.String()
	}
	backendID, err := d.generateBackendID(ctx, slug)
	if err != nil {
		return "", rollback(err)
	}

	name := backendID
	backendID, err = d.Pipeline.CreateInBackend(ctx, uc, name)
	if err != nil {
		if IsAlreadyExists(err) {
			// idempotent no-op: the backend already has this resource.
		} else {
			return "", rollback(Permanent("create_in_backend", err))
		}
	}

	if d.Pipeline.SetupLimits != nil {
		if err := d.Pipeline.SetupLimits(ctx, backendID, uc.Resource.Limits); err != nil {
			return "", rollback(Permanent("setup_limits", err))
		}
	}

	return backendID, nil
}

func (d *BaseDriver) DeleteResource(ctx context.Context, r MarketplaceResource) error {
	if r.BackendID == "" {
		return nil
	}
	if err := d.Client.DeleteResource(ctx, r.BackendID); err != nil {
		if IsNotFound(err) {
			return nil
		}
		return Transient("delete_resource", err)
	}
	return nil
}

// PullResource returns nil if the resource does not exist in the backend
// (spec.md §4.1).
func (d *BaseDriver) PullResource(ctx context.Context, r MarketplaceResource) (*BackendResourceInfo, error) {
	if r.BackendID == "" {
		return nil, nil
	}
	info, err := d.Client.GetResource(ctx, r.BackendID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, Transient("pull_resource", err)
	}
	if info == nil {
		return nil, nil
	}
	if info.Usage == nil {
		info.Usage = map[string]float64{}
	}
	if _, ok := info.Usage[TotalUsageKey]; !ok {
		info.Usage[TotalUsageKey] = 0
	}
	return info, nil
}

func (d *BaseDriver) PullResources(ctx context.Context, rs []MarketplaceResource) (map[string]*BackendResourceInfo, error) {
	out := make(map[string]*BackendResourceInfo, len(rs))
	for _, r := range rs {
		info, err := d.PullResource(ctx, r)
		if err != nil {
			return nil, err
		}
		if info != nil {
			out[r.BackendID] = info
		}
	}
	return out, nil
}

func (d *BaseDriver) GetUsageReport(ctx context.Context, backendIDs []string) (map[string]map[string]float64, error) {
	report, err := d.Client.GetUsageReport(ctx, backendIDs)
	if err != nil {
		return nil, Transient("get_usage_report", err)
	}
	return report, nil
}

func (d *BaseDriver) GetUserUsage(ctx context.Context, backendID string) (map[string]map[string]float64, error) {
	usage, err := d.Client.GetUserUsage(ctx, backendID)
	if err != nil {
		return nil, Transient("get_user_usage", err)
	}
	return usage, nil
}

func (d *BaseDriver) SetResourceLimits(ctx context.Context, backendID string, limits map[string]int64) error {
	if err := d.Client.SetResourceLimits(ctx, backendID, limits); err != nil {
		return Transient("set_resource_limits", err)
	}
	return nil
}

// AddUsersToResource returns the subset of usernames actually added;
// partial failure is tolerated and logged per-user (spec.md §4.1).
func (d *BaseDriver) AddUsersToResource(ctx context.Context, backendID string, usernames []string, opts AddUsersOptions) ([]string, error) {
	added := make([]string, 0, len(usernames))
	for _, u := range usernames {
		isDefault := opts.DefaultUsername != "" && opts.DefaultUsername == u
		err := d.Client.CreateAssociation(ctx, u, backendID, isDefault)
		if err != nil && !IsAlreadyExists(err) {
			d.log().Error("add user to resource", "username", u, "backend_id", backendID, "error", err)
			continue
		}
		added = append(added, u)
	}
	return added, nil
}

func (d *BaseDriver) RemoveUsersFromResource(ctx context.Context, backendID string, usernames []string) error {
	for _, u := range usernames {
		if err := d.Client.DeleteAssociation(ctx, u, backendID); err != nil && !IsNotFound(err) {
			d.log().Error("remove user from resource", "username", u, "backend_id", backendID, "error", err)
		}
	}
	return nil
}

func (d *BaseDriver) GetResourceUserLimits(ctx context.Context, backendID string) (map[string]map[string]int64, error) {
	limits, err := d.Client.GetResourceUserLimits(ctx, backendID)
	if err != nil {
		return nil, Transient("get_resource_user_limits", err)
	}
	return limits, nil
}

func (d *BaseDriver) SetResourceUserLimits(ctx context.Context, backendID, username string, limits map[string]int64) error {
	if err := d.Client.SetResourceUserLimits(ctx, backendID, username, limits); err != nil {
		return Transient("set_resource_user_limits", err)
	}
	return nil
}

func (d *BaseDriver) DownscaleResource(ctx context.Context, backendID string) error { return nil }
func (d *BaseDriver) PauseResource(ctx context.Context, backendID string) error     { return nil }
func (d *BaseDriver) RestoreResource(ctx context.Context, backendID string) error   { return nil }

func (d *BaseDriver) GetResourceMetadata(ctx context.Context, backendID string) (map[string]string, error) {
	return map[string]string{}, nil
}

// EvaluatePendingOrder defaults to ACCEPT, per spec.md §4.1 ("if omitted,
// default is ACCEPT").
func (d *BaseDriver) EvaluatePendingOrder(ctx context.Context, o Order) (EvaluateResult, error) {
	return EvaluateAccept, nil
}
