// Package attribution identifies the actor behind a write or chat turn when
// the caller does not name one.
package attribution

import (
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// ActorHeader is the request header that names the acting user.
const ActorHeader = "X-Actor-ID"

var (
	cachedName string
	once       sync.Once
)

// DetectActor returns the best available local actor name.
// Checks in order: PETMIND_ACTOR env, PETMIND_USER env, git config user.name, "anonymous".
// The git config result is cached after first call.
func DetectActor() string {
	once.Do(func() {
		cachedName = detectActorUncached()
	})
	return cachedName
}

// FromRequest returns the actor named by the request header, falling back
// to DetectActor.
func FromRequest(r *http.Request) string {
	if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
		return actor
	}
	return DetectActor()
}

// detectActorUncached performs detection without caching. Used for testing.
func detectActorUncached() string {
	if name := os.Getenv("PETMIND_ACTOR"); name != "" {
		return name
	}
	if name := os.Getenv("PETMIND_USER"); name != "" {
		return name
	}
	if name := gitUserName(); name != "" {
		return name
	}
	return "anonymous"
}

// gitUserName runs `git config --get user.name` and returns the trimmed result.
// Returns empty string on any error.
func gitUserName() string {
	out, err := exec.Command("git", "config", "--get", "user.name").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
