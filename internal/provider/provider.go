package provider

import (
	"strings"
	"time"

	"novelarr/internal/challenge"
	"novelarr/internal/domain"
	"novelarr/internal/logger"
	"novelarr/internal/session"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	Sfacg    = "sfacg"
	Ciweimao = "ciweimao"
)

// Names lists the supported providers. The set is closed; there is no
// registration mechanism.
var Names = []string{Sfacg, Ciweimao}

type Deps struct {
	Sessions *session.Store
	Bridge   *challenge.Bridge
	Log      logger.Logger

	// ChallengeTimeout bounds one interactive verification round.
	ChallengeTimeout time.Duration
}

// New constructs the adapter for a known provider name.
func New(name string, deps Deps) (domain.Provider, error) {
	if deps.ChallengeTimeout == 0 {
		deps.ChallengeTimeout = 3 * time.Minute
	}

	switch name {
	case Sfacg:
		return NewSfacg(deps)
	case Ciweimao:
		return NewCiweimao(deps)
	default:
		return nil, errors.Errorf("unknown provider: %s", name)
	}
}

// fingerprint reuses the device fingerprint of an existing session so a
// provider keeps seeing the same device across restarts.
func fingerprint(sess *domain.Session) string {
	if sess != nil && sess.Fingerprint != "" {
		return sess.Fingerprint
	}

	return strings.ToUpper(uuid.New().String())
}

func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}

	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}

	return time.Time{}
}
