// Package apperr defines the user-facing failure types shared by the
// orchestrators: missing identity and strictly invalid model output.
package apperr

import (
	"fmt"
	"strings"
)

// AnonymousUser is the identity used when no user is signed in.
const AnonymousUser = "anonymous"

// IsAnonymous reports whether userID carries no signed-in identity.
func IsAnonymous(userID string) bool {
	id := strings.TrimSpace(userID)
	return id == "" || id == AnonymousUser
}

// IdentityError reports an action attempted without a signed-in user.
type IdentityError struct {
	Action string
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("%s requires a signed-in user", e.Action)
}

// RequireUser returns an IdentityError for action when userID is anonymous.
func RequireUser(userID, action string) error {
	if IsAnonymous(userID) {
		return &IdentityError{Action: action}
	}
	return nil
}

// InvalidShapeError reports model output that failed strict validation.
type InvalidShapeError struct {
	What     string
	Problems []string
}

func (e *InvalidShapeError) Error() string {
	if len(e.Problems) == 0 {
		return fmt.Sprintf("invalid %s", e.What)
	}
	return fmt.Sprintf("invalid %s: %s", e.What, strings.Join(e.Problems, "; "))
}
