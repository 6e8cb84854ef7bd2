package session

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"novelarr/internal/domain"
	"novelarr/internal/logger"

	"github.com/pkg/errors"
	"github.com/zalando/go-keyring"
)

const keyringService = "novelarr"

// Store persists per-provider sessions in the embedded database and
// credential secrets in the OS keyring; only the account reference ever
// reaches disk. Access is serialized per provider so one provider's
// login never blocks another's requests.
type Store struct {
	db  *sql.DB
	log logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func NewStore(db *sql.DB, log logger.Logger) *Store {
	return &Store{
		db:    db,
		log:   log,
		locks: make(map[string]*sync.RWMutex),
	}
}

func (s *Store) lock(provider string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[provider]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[provider] = l
	}

	return l
}

// Get returns the stored session for a provider, or nil when none
// exists or the stored one is past its expiry hint.
func (s *Store) Get(provider string) (*domain.Session, error) {
	l := s.lock(provider)
	l.RLock()
	defer l.RUnlock()

	row := s.db.QueryRow(`SELECT cookies, token_vals, fingerprint, expires_at, updated_at FROM sessions WHERE provider = ?`, provider)

	var (
		cookiesRaw, valsRaw  []byte
		fingerprint          string
		expiresAt, updatedAt int64
	)

	if err := row.Scan(&cookiesRaw, &valsRaw, &fingerprint, &expiresAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read session")
	}

	sess := &domain.Session{
		Provider:    provider,
		Fingerprint: fingerprint,
		UpdatedAt:   time.Unix(updatedAt, 0),
	}
	if expiresAt > 0 {
		sess.ExpiresAt = time.Unix(expiresAt, 0)
		if sess.ExpiresAt.Before(time.Now()) {
			return nil, nil
		}
	}

	if err := json.Unmarshal(cookiesRaw, &sess.Cookies); err != nil {
		return nil, errors.Wrap(err, "failed to decode session cookies")
	}
	if err := json.Unmarshal(valsRaw, &sess.Values); err != nil {
		return nil, errors.Wrap(err, "failed to decode session values")
	}

	return sess, nil
}

// Save writes the session snapshot, replacing any previous one for the
// provider.
func (s *Store) Save(sess *domain.Session) error {
	l := s.lock(sess.Provider)
	l.Lock()
	defer l.Unlock()

	if sess.Values == nil {
		sess.Values = map[string]string{}
	}

	cookiesRaw, err := json.Marshal(sess.Cookies)
	if err != nil {
		return errors.Wrap(err, "failed to encode session cookies")
	}
	valsRaw, err := json.Marshal(sess.Values)
	if err != nil {
		return errors.Wrap(err, "failed to encode session values")
	}

	var expiresAt int64
	if !sess.ExpiresAt.IsZero() {
		expiresAt = sess.ExpiresAt.Unix()
	}

	_, err = s.db.Exec(`INSERT INTO sessions (provider, cookies, token_vals, fingerprint, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider) DO UPDATE SET
			cookies = excluded.cookies,
			token_vals = excluded.token_vals,
			fingerprint = excluded.fingerprint,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		sess.Provider, cookiesRaw, valsRaw, sess.Fingerprint, expiresAt, time.Now().Unix())

	return errors.Wrap(err, "failed to save session")
}

// Invalidate drops the session but leaves the credential intact so the
// provider adapter can silently re-authenticate.
func (s *Store) Invalidate(provider string) error {
	l := s.lock(provider)
	l.Lock()
	defer l.Unlock()

	_, err := s.db.Exec(`DELETE FROM sessions WHERE provider = ?`, provider)

	return errors.Wrap(err, "failed to invalidate session")
}

// Credential returns the stored credential for a provider, with the
// secret read back from the OS keyring.
func (s *Store) Credential(provider string) (domain.Credential, error) {
	l := s.lock(provider)
	l.RLock()
	defer l.RUnlock()

	var account string
	err := s.db.QueryRow(`SELECT account FROM credentials WHERE provider = ?`, provider).Scan(&account)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Credential{}, domain.ErrCredentialNotFound
		}
		return domain.Credential{}, errors.Wrap(err, "failed to read credential")
	}

	secret, err := keyring.Get(keyringService+"-"+provider, account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return domain.Credential{}, domain.ErrCredentialNotFound
		}
		return domain.Credential{}, errors.Wrap(err, "failed to read secret from keyring")
	}

	return domain.Credential{Provider: provider, Account: account, Secret: secret}, nil
}

// SaveCredential stores the account reference in the database and the
// secret in the OS keyring.
func (s *Store) SaveCredential(cred domain.Credential) error {
	l := s.lock(cred.Provider)
	l.Lock()
	defer l.Unlock()

	if err := keyring.Set(keyringService+"-"+cred.Provider, cred.Account, cred.Secret); err != nil {
		return errors.Wrap(err, "failed to store secret in keyring")
	}

	_, err := s.db.Exec(`INSERT INTO credentials (provider, account) VALUES (?, ?)
		ON CONFLICT (provider) DO UPDATE SET account = excluded.account`,
		cred.Provider, cred.Account)

	return errors.Wrap(err, "failed to save credential reference")
}

// DeleteCredential removes both the keyring secret and the reference.
func (s *Store) DeleteCredential(provider string) error {
	l := s.lock(provider)
	l.Lock()
	defer l.Unlock()

	var account string
	err := s.db.QueryRow(`SELECT account FROM credentials WHERE provider = ?`, provider).Scan(&account)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return errors.Wrap(err, "failed to read credential")
	}

	if err := keyring.Delete(keyringService+"-"+provider, account); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return errors.Wrap(err, "failed to delete secret from keyring")
	}

	_, err = s.db.Exec(`DELETE FROM credentials WHERE provider = ?`, provider)

	return errors.Wrap(err, "failed to delete credential reference")
}

// Jar builds a cookie jar primed from the stored session for the given
// provider host. A nil session yields an empty jar.
func Jar(sess *domain.Session, host *url.URL) (http.CookieJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cookie jar")
	}

	if sess == nil {
		return jar, nil
	}

	cookies := make([]*http.Cookie, 0, len(sess.Cookies))
	for _, c := range sess.Cookies {
		cookies = append(cookies, &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	jar.SetCookies(host, cookies)

	return jar, nil
}

// SnapshotJar captures the jar's cookies for the provider host into a
// persistable form.
func SnapshotJar(jar http.CookieJar, host *url.URL) []domain.SessionCookie {
	cookies := jar.Cookies(host)

	snapshot := make([]domain.SessionCookie, 0, len(cookies))
	for _, c := range cookies {
		snapshot = append(snapshot, domain.SessionCookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: host.Hostname(),
			Path:   "/",
		})
	}

	return snapshot
}
