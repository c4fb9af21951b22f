// internal/lti/provision.go
package lti

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// Provisioner maps a verified launch onto a local user, records the launch
// context, and issues the session the browser continues with.
type Provisioner struct {
	users    UserStore
	launches LaunchStore
	sessions SessionIssuer
	log      zerolog.Logger

	// Now is overridable in tests.
	Now func() time.Time
}

func NewProvisioner(users UserStore, launches LaunchStore, sessions SessionIssuer, log zerolog.Logger) *Provisioner {
	return &Provisioner{users: users, launches: launches, sessions: sessions, log: log, Now: time.Now}
}

// Provision resolves (creating if needed) the local user for the launch,
// upserts the launch context, and returns a session token plus the user.
// Lookup is by email; platforms that withhold email get a stable synthetic
// address derived from the subject, so repeat launches land on the same user.
func (p *Provisioner) Provision(ctx context.Context, claims VerifiedClaims) (string, *LocalUser, error) {
	email := claims.Email
	if email == "" {
		email = claims.Subject + "@lti.user"
	}

	user, err := p.users.FindUserByEmail(ctx, email)
	if err != nil {
		return "", nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		user, err = p.createUser(ctx, email, claims)
		if err != nil {
			return "", nil, fmt.Errorf("create user: %w", err)
		}
		p.log.Info().Str("email", email).Str("role", user.Role).Msg("provisioned lti user")
	}

	launch := LaunchContext{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		PlatformIssuer: claims.Issuer,
		Subject:        claims.Subject,
		DeploymentID:   claims.DeploymentID,
		ResourceLinkID: claims.ResourceLinkID,
		TargetLinkURI:  claims.TargetLinkURI,
		CourseID:       courseIDFromTarget(claims.TargetLinkURI),
		LineItemURL:    claims.LineItemURL,
		LineItemsURL:   claims.LineItemsURL,
		CreatedAt:      p.Now(),
	}
	if err := p.launches.UpsertLaunch(ctx, launch); err != nil {
		return "", nil, fmt.Errorf("record launch: %w", err)
	}

	session, err := p.sessions.IssueSession(user.ID, user.Role)
	if err != nil {
		return "", nil, fmt.Errorf("issue session: %w", err)
	}
	return session, user, nil
}

func (p *Provisioner) createUser(ctx context.Context, email string, claims VerifiedClaims) (*LocalUser, error) {
	first, last := splitName(claims.Name)
	// LTI users never authenticate with a password; the account still gets a
	// random one so the row satisfies the same constraints as direct signups.
	hash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := LocalUser{
		ID:        uuid.NewString(),
		Email:     email,
		FirstName: first,
		LastName:  last,
		Role:      roleFromLTI(claims.Roles),
	}
	if err := p.users.CreateUser(ctx, user, string(hash)); err != nil {
		return nil, err
	}
	return &user, nil
}

// roleFromLTI maps platform role URIs to local roles. Any role naming an
// instructor wins; everything else is a student.
func roleFromLTI(roles []string) string {
	for _, r := range roles {
		if strings.Contains(r, "Instructor") {
			return RoleTeacher
		}
	}
	return RoleStudent
}

func splitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "LTI", "User"
	}
	parts := strings.SplitN(full, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// MatchesCourse reports whether the launch belongs to the course, by the
// recorded course id or by the course segment of the target link URI. The
// segment must match in full, so course "4" does not claim "/courses/42".
func (l LaunchContext) MatchesCourse(courseID string) bool {
	if courseID == "" {
		return false
	}
	return l.CourseID == courseID || courseIDFromTarget(l.TargetLinkURI) == courseID
}

// courseIDFromTarget pulls the course id out of target link URIs shaped like
// ".../courses/{id}/...". Launches without one keep an empty course id and
// are matched through the target URI instead.
func courseIDFromTarget(target string) string {
	const marker = "/courses/"
	i := strings.Index(target, marker)
	if i < 0 {
		return ""
	}
	rest := target[i+len(marker):]
	if j := strings.IndexAny(rest, "/?#"); j >= 0 {
		rest = rest[:j]
	}
	return rest
}
