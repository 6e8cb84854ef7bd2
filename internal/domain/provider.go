package domain

import (
	"context"
	"net/url"
	"time"
)

// Provider is the capability surface shared by both remote content
// services. Implementations are stateless strategy objects; cookies,
// tokens and cached content live in the session store and content cache.
type Provider interface {
	Name() string

	// Login authenticates with the given credential and returns a fresh
	// session. Providers that require interactive verification resolve it
	// internally through the challenge bridge.
	Login(ctx context.Context, cred Credential) (*Session, error)

	Categories(ctx context.Context) ([]Category, error)
	NovelInfo(ctx context.Context, novelID string) (*NovelInfo, error)
	Chapters(ctx context.Context, novelID string) ([]VolumeInfo, error)

	// ChapterText returns the raw chapter text. An expired or missing
	// session surfaces as ErrSessionExpired, paid or blocked chapters as
	// ErrAccessRestricted.
	ChapterText(ctx context.Context, ref ChapterRef) (string, error)

	// ParseContent splits raw chapter text into text lines and inline
	// image references.
	ParseContent(text string) []ContentInfo

	// ResolveImageURL turns a provider-scoped image reference into an
	// absolute URL fetchable through the shared transport.
	ResolveImageURL(ref string) (*url.URL, error)

	Search(ctx context.Context, keyword string, page, size int) ([]string, error)
}

type Credential struct {
	Provider string
	Account  string
	Secret   string
}

// Session is the authenticated state for one provider. Cookies holds a
// cookie jar snapshot, Values carries provider token material such as
// account and login_token.
type Session struct {
	Provider    string
	Cookies     []SessionCookie
	Values      map[string]string
	Fingerprint string
	ExpiresAt   time.Time
	UpdatedAt   time.Time
}

type SessionCookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

type Category struct {
	ID   int
	Name string
}

type NovelInfo struct {
	ID         string
	Title      string
	AuthorName string
	CoverURL   string
	Intro      []string
	WordCount  int
	Finished   bool
	UpdatedAt  time.Time
	Category   string
	Tags       []string
}

type VolumeInfo struct {
	Title    string
	Chapters []ChapterRef
}

// ChapterRef identifies one chapter within a provider. Ordinal is the
// position across all volumes, starting at 1.
type ChapterRef struct {
	NovelID    string
	ID         string
	Title      string
	Ordinal    int
	WordCount  int
	UpdatedAt  time.Time
	Restricted bool
}

type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentImage ContentKind = "image"
)

type ContentInfo struct {
	Kind  ContentKind
	Value string
}

type CacheKind string

const (
	KindChapterText CacheKind = "chapter_text"
	KindImage       CacheKind = "image"
)

// CacheRecord marks one successfully fetched piece of content. Records
// are superseded by new writes, never mutated in place.
type CacheRecord struct {
	Provider  string
	ContentID string
	Kind      CacheKind
	Hash      string
	Size      int64
	FetchedAt time.Time
}
