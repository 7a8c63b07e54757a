package controlplane

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/wisbric/sitebridge/pkg/backendapi"
)

// OfferingUserFilter narrows ListOfferingUsers; zero-value fields are omitted.
type OfferingUserFilter struct {
	OfferingUUID         uuid.UUID
	Username             string
	UserUUID             uuid.UUID
	RestrictMemberAccess *bool
}

type offeringUser struct {
	UUID         uuid.UUID        `json:"uuid"`
	UserUUID     uuid.UUID        `json:"user_uuid"`
	OfferingUUID uuid.UUID        `json:"offering_uuid"`
	Username     string           `json:"username"`
	State        string           `json:"state"`
	Comment      string           `json:"comment,omitempty"`
	CommentURL   string           `json:"comment_url,omitempty"`
	Limits       map[string]int64 `json:"limits,omitempty"`
}

func (u offeringUser) toDomain() backendapi.OfferingUser {
	return backendapi.OfferingUser{
		UUID:         u.UUID,
		UserUUID:     u.UserUUID,
		OfferingUUID: u.OfferingUUID,
		Username:     u.Username,
		State:        backendapi.OfferingUserState(u.State),
		Comment:      u.Comment,
		CommentURL:   u.CommentURL,
		Limits:       u.Limits,
	}
}

// ListOfferingUsers lists offering-user bindings matching filter.
func (c *Client) ListOfferingUsers(ctx context.Context, filter OfferingUserFilter) ([]backendapi.OfferingUser, error) {
	q := map[string]string{"offering_uuid": filter.OfferingUUID.String()}
	if filter.Username != "" {
		q["username"] = filter.Username
	}
	if filter.UserUUID != uuid.Nil {
		q["user_uuid"] = filter.UserUUID.String()
	}
	if filter.RestrictMemberAccess != nil {
		if *filter.RestrictMemberAccess {
			q["restrict_member_access"] = "true"
		} else {
			q["restrict_member_access"] = "false"
		}
	}
	var out []offeringUser
	if err := c.do(ctx, http.MethodGet, "/api/marketplace-provider-offering-users/"+query(q), nil, &out); err != nil {
		return nil, err
	}
	users := make([]backendapi.OfferingUser, len(out))
	for i, u := range out {
		users[i] = u.toDomain()
	}
	return users, nil
}

// PatchOfferingUser applies partial field updates to an offering user.
func (c *Client) PatchOfferingUser(ctx context.Context, userUUID uuid.UUID, fields map[string]any) error {
	return c.do(ctx, http.MethodPatch, "/api/marketplace-provider-offering-users/"+userUUID.String()+"/", fields, nil)
}

// BeginCreatingOfferingUser transitions an offering user to the creating
// state with its newly generated username.
func (c *Client) BeginCreatingOfferingUser(ctx context.Context, userUUID uuid.UUID, username string) error {
	body := map[string]string{"username": username}
	return c.do(ctx, http.MethodPost, "/api/marketplace-provider-offering-users/"+userUUID.String()+"/begin_creating/", body, nil)
}

// SetOfferingUserOK transitions an offering user to ok.
func (c *Client) SetOfferingUserOK(ctx context.Context, userUUID uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/api/marketplace-provider-offering-users/"+userUUID.String()+"/set_ok/", nil, nil)
}

// SetOfferingUserPendingAccountLinking transitions an offering user to
// pending_account_linking with a user-facing message and optional URL.
func (c *Client) SetOfferingUserPendingAccountLinking(ctx context.Context, userUUID uuid.UUID, comment, commentURL string) error {
	body := map[string]string{"comment": comment, "comment_url": commentURL}
	return c.do(ctx, http.MethodPost, "/api/marketplace-provider-offering-users/"+userUUID.String()+"/set_pending_account_linking/", body, nil)
}

// SetOfferingUserPendingAdditionalValidation transitions an offering user
// to pending_additional_validation with a user-facing message and
// optional URL.
func (c *Client) SetOfferingUserPendingAdditionalValidation(ctx context.Context, userUUID uuid.UUID, comment, commentURL string) error {
	body := map[string]string{"comment": comment, "comment_url": commentURL}
	return c.do(ctx, http.MethodPost, "/api/marketplace-provider-offering-users/"+userUUID.String()+"/set_pending_additional_validation/", body, nil)
}
