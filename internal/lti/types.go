// internal/lti/types.go
package lti

import (
	"context"
	"time"
)

// LTI claim URIs (IMS LTI 1.3 core + AGS).
const (
	ClaimMessageType   = "https://purl.imsglobal.org/spec/lti/claim/message_type"
	ClaimVersion       = "https://purl.imsglobal.org/spec/lti/claim/version"
	ClaimDeploymentID  = "https://purl.imsglobal.org/spec/lti/claim/deployment_id"
	ClaimTargetLinkURI = "https://purl.imsglobal.org/spec/lti/claim/target_link_uri"
	ClaimRoles         = "https://purl.imsglobal.org/spec/lti/claim/roles"
	ClaimResourceLink  = "https://purl.imsglobal.org/spec/lti/claim/resource_link"
	ClaimAGSEndpoint   = "https://purl.imsglobal.org/spec/lti-ags/claim/endpoint"
)

// AGS scopes (per IMS AGS 2.0 spec).
const (
	ScopeLineItem         = "https://purl.imsglobal.org/spec/lti-ags/scope/lineitem"
	ScopeLineItemReadonly = "https://purl.imsglobal.org/spec/lti-ags/scope/lineitem.readonly"
	ScopeScore            = "https://purl.imsglobal.org/spec/lti-ags/scope/score"
	ScopeResultReadonly   = "https://purl.imsglobal.org/spec/lti-ags/scope/result.readonly"
)

const clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// Local roles assigned at provisioning time.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Platform is an external identity-and-grading authority, registered by an
// administrator. The issuer is the only lookup key the core uses.
type Platform struct {
	Issuer    string `json:"issuer"`
	ClientID  string `json:"client_id"` // assigned to this LMS by the platform
	AuthURL   string `json:"auth_url"`
	TokenURL  string `json:"token_url"`
	KeySetURL string `json:"keyset_url"`

	// DeploymentID, when set, must match the launch claim.
	DeploymentID string `json:"deployment_id,omitempty"`

	// ClientSecret, when set, switches the token exchange for this platform
	// to client_secret_post instead of private_key_jwt.
	ClientSecret string `json:"client_secret,omitempty"`
}

// PlatformRegistry looks up a platform by issuer. A nil platform with a nil
// error means the issuer is not registered.
type PlatformRegistry interface {
	GetPlatform(ctx context.Context, issuer string) (*Platform, error)
}

// VerifiedClaims is the claim set extracted from a verified id_token.
type VerifiedClaims struct {
	Issuer        string
	Subject       string
	Email         string
	Name          string
	Roles         []string
	Nonce         string
	MessageType   string
	DeploymentID  string
	TargetLinkURI string

	ResourceLinkID string

	// From the AGS endpoint claim, when the platform grants grade passback.
	LineItemURL  string
	LineItemsURL string
	Scopes       []string
}

// LocalUser is the provisioned application user.
type LocalUser struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"` // RoleTeacher or RoleStudent
}

// UserStore persists provisioned users. FindUserByEmail returns nil, nil when
// no user exists for that email.
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (*LocalUser, error)
	CreateUser(ctx context.Context, u LocalUser, passwordHash string) error
	ListUsers(ctx context.Context) ([]LocalUser, error)
}

// LaunchContext is one record per successful launch, written right after a
// launch verifies and read later by grade sync. A newer launch for the same
// (issuer, subject, resource link) supersedes the older row.
type LaunchContext struct {
	ID             string
	UserID         string
	PlatformIssuer string
	Subject        string // platform-side sub
	DeploymentID   string
	ResourceLinkID string
	TargetLinkURI  string
	CourseID       string // parsed from the target URI when it references a course
	LineItemURL    string
	LineItemsURL   string
	CreatedAt      time.Time
}

// LaunchStore persists launch contexts. ListLaunchesByUser returns rows
// newest first.
type LaunchStore interface {
	UpsertLaunch(ctx context.Context, lc LaunchContext) error
	ListLaunchesByUser(ctx context.Context, userID string) ([]LaunchContext, error)
}

// SessionIssuer mints the application session credential for a provisioned
// user. Implemented outside this package.
type SessionIssuer interface {
	IssueSession(sub, role string) (string, error)
}
