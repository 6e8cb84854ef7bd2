package fetch

import (
	"context"
	"net/http"
	"sync"
	"time"

	"novelarr/internal/cache"
	"novelarr/internal/domain"
	"novelarr/internal/images"
	"novelarr/internal/logger"
	"novelarr/internal/session"
	"novelarr/internal/sharedhttp"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// itemGrace bounds how long an in-flight item may keep running after
// the batch context is cancelled.
const itemGrace = 30 * time.Second

// Orchestrator drives batch chapter downloads: chapter text comes in
// sequentially with a rate delay between requests, inline images fan
// out over a bounded worker pool, and everything goes through the
// content cache so a re-run only fetches what is missing.
type Orchestrator struct {
	provider domain.Provider
	cache    *cache.Store
	sessions *session.Store
	client   *sharedhttp.Client
	log      logger.Logger

	imageWorkers int
	maxAttempts  uint
	rateLimit    time.Duration
	grace        time.Duration
}

type Options struct {
	ImageWorkers int
	MaxAttempts  int
	RateLimit    time.Duration
}

func NewOrchestrator(provider domain.Provider, cacheStore *cache.Store, sessions *session.Store, log logger.Logger, opts Options) *Orchestrator {
	if opts.ImageWorkers < 1 {
		opts.ImageWorkers = 4
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}

	return &Orchestrator{
		provider:     provider,
		cache:        cacheStore,
		sessions:     sessions,
		client:       sharedhttp.NewClient(nil, 60*time.Second),
		log:          log,
		imageWorkers: opts.ImageWorkers,
		maxAttempts:  uint(opts.MaxAttempts),
		rateLimit:    opts.RateLimit,
		grace:        itemGrace,
	}
}

// reloginGuard makes sure a batch re-authenticates at most once. Every
// expired-session failure after the first re-login attempt is final.
type reloginGuard struct {
	mu   sync.Mutex
	done bool
	err  error
}

// withAuth runs op and, on the first expired session of the batch,
// re-authenticates with the stored credential and retries op once.
func (o *Orchestrator) withAuth(ctx context.Context, guard *reloginGuard, op func(ctx context.Context) error) error {
	err := op(ctx)
	if !errors.Is(err, domain.ErrSessionExpired) {
		return err
	}

	if err := o.relogin(ctx, guard); err != nil {
		return err
	}

	return op(ctx)
}

func (o *Orchestrator) relogin(ctx context.Context, guard *reloginGuard) error {
	guard.mu.Lock()
	defer guard.mu.Unlock()

	if guard.done {
		if guard.err != nil {
			return guard.err
		}
		return domain.ErrSessionExpired
	}
	guard.done = true

	name := o.provider.Name()
	o.log.Info().Str("provider", name).Msg("session expired, re-authenticating")

	if err := o.sessions.Invalidate(name); err != nil {
		guard.err = err
		return err
	}

	cred, err := o.sessions.Credential(name)
	if err != nil {
		guard.err = err
		return err
	}

	sess, err := o.provider.Login(ctx, cred)
	if err != nil {
		guard.err = err
		return err
	}

	if err := o.sessions.Save(sess); err != nil {
		guard.err = err
		return err
	}

	return nil
}

// FetchChapters downloads the given chapters and returns one result per
// requested chapter, in input order. Restricted chapters are reported
// without touching the network, and a cancelled context marks the
// not-yet-started remainder instead of abandoning finished work.
func (o *Orchestrator) FetchChapters(ctx context.Context, refs []domain.ChapterRef) []domain.ItemResult {
	results := make([]domain.ItemResult, len(refs))
	guard := &reloginGuard{}
	name := o.provider.Name()

	for i, ref := range refs {
		results[i].Ref = ref

		if err := ctx.Err(); err != nil {
			results[i].Err = errors.Wrap(err, "batch cancelled")
			continue
		}

		if ref.Restricted {
			results[i].Err = domain.ErrAccessRestricted
			continue
		}

		if i > 0 && o.rateLimit > 0 {
			timer := time.NewTimer(o.rateLimit)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				results[i].Err = errors.Wrap(ctx.Err(), "batch cancelled")
				continue
			}
		}

		itemCtx, cancel := o.itemContext(ctx)
		results[i] = o.fetchOne(itemCtx, guard, ref)
		cancel()

		if results[i].Err != nil {
			o.log.Warn().Err(results[i].Err).Str("provider", name).Str("chapter_id", ref.ID).Msg("chapter fetch failed")
		}
	}

	return results
}

// itemContext follows the batch context while it is live. Once the
// batch is cancelled, a started item gets the grace window to finish
// before it is cut off.
func (o *Orchestrator) itemContext(ctx context.Context) (context.Context, context.CancelFunc) {
	itemCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	stop := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(o.grace)
		defer timer.Stop()

		select {
		case <-timer.C:
			cancel()
		case <-itemCtx.Done():
		}
	})

	return itemCtx, func() {
		stop()
		cancel()
	}
}

func (o *Orchestrator) fetchOne(ctx context.Context, guard *reloginGuard, ref domain.ChapterRef) domain.ItemResult {
	res := domain.ItemResult{Ref: ref}

	raw, err := o.cache.GetOrFetch(ctx, o.provider.Name(), ref.ID, domain.KindChapterText, func(ctx context.Context) ([]byte, error) {
		var text string
		err := o.withAuth(ctx, guard, func(ctx context.Context) error {
			var err error
			text, err = o.provider.ChapterText(ctx, ref)
			return err
		})
		if err != nil {
			return nil, err
		}
		return []byte(text), nil
	})
	if err != nil {
		res.Err = err
		return res
	}

	res.Content = o.provider.ParseContent(string(raw))

	imageRefs := make([]string, 0)
	for _, info := range res.Content {
		if info.Kind == domain.ContentImage {
			imageRefs = append(imageRefs, info.Value)
		}
	}
	if len(imageRefs) == 0 {
		return res
	}

	res.Images = make(map[string][]byte, len(imageRefs))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(o.imageWorkers)

	for _, imageRef := range imageRefs {
		imageRef := imageRef
		g.Go(func() error {
			data, err := o.fetchImage(ctx, imageRef)
			if err != nil {
				// a failed illustration is left out of the result; the
				// chapter and the remaining images still go through
				o.log.Warn().Err(err).Str("provider", o.provider.Name()).Str("image_ref", imageRef).Msg("image fetch failed")
				return nil
			}

			mu.Lock()
			res.Images[imageRef] = data
			mu.Unlock()

			return nil
		})
	}

	_ = g.Wait()

	return res
}

func (o *Orchestrator) fetchImage(ctx context.Context, imageRef string) ([]byte, error) {
	return o.cache.GetOrFetch(ctx, o.provider.Name(), imageRef, domain.KindImage, func(ctx context.Context) ([]byte, error) {
		u, err := o.provider.ResolveImageURL(imageRef)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create request")
		}
		sharedhttp.ApplyHeaders(req, sharedhttp.ProfileImage)

		raw, err := o.client.DoBody(ctx, req, int(o.maxAttempts))
		if err != nil {
			return nil, err
		}

		return images.Reencode(raw)
	})
}
