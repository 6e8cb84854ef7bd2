package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"novelarr/internal/domain"
	"novelarr/internal/logger"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// Params carries the provider-supplied opaque parameters for one
// verification round.
type Params struct {
	GT         string
	Challenge  string
	NewCaptcha bool
}

type Result struct {
	ID    string
	Token string
}

// Bridge resolves interactive verification challenges by serving the
// provider's verification script from an ephemeral loopback server and
// waiting for the script to post its validation token back. At most one
// resolution runs per provider; concurrent callers share its outcome.
type Bridge struct {
	log   logger.Logger
	group singleflight.Group

	// OpenPage launches the verification page, defaulting to the system
	// browser. Tests swap it out.
	OpenPage func(url string) error
}

func NewBridge(log logger.Logger) *Bridge {
	return &Bridge{
		log:      log,
		OpenPage: browser.OpenURL,
	}
}

var pageTemplate = template.Must(template.New("verify").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Verification</title></head>
<body>
<div id="captcha"></div>
<script src="https://static.geetest.com/static/tools/gt.js"></script>
<script>
initGeetest({
	gt: "{{.GT}}",
	challenge: "{{.Challenge}}",
	new_captcha: {{.NewCaptcha}},
	offline: false,
	product: "popup",
	width: "300px"
}, function (captchaObj) {
	captchaObj.appendTo("#captcha");
	captchaObj.onSuccess(function () {
		var result = captchaObj.getValidate();
		fetch("/callback", {
			method: "POST",
			headers: {"Content-Type": "application/json"},
			body: JSON.stringify({id: "{{.ID}}", token: result.geetest_validate})
		}).then(function () {
			document.body.innerHTML = "Verification successful, you can close this tab now.";
		});
	});
});
</script>
</body>
</html>`))

type callbackPayload struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

// Resolve runs one verification round and blocks until the script posts
// its token, the payload turns out malformed, or the absolute deadline
// passes. The loopback server is torn down before returning, so late
// callbacks are refused at the connection level rather than silently
// accepted.
func (b *Bridge) Resolve(ctx context.Context, provider string, params Params, deadline time.Time) (Result, error) {
	v, err, _ := b.group.Do(provider, func() (interface{}, error) {
		return b.resolve(ctx, provider, params, deadline)
	})
	if err != nil {
		return Result{}, err
	}

	return v.(Result), nil
}

func (b *Bridge) resolve(ctx context.Context, provider string, params Params, deadline time.Time) (Result, error) {
	id := uuid.New().String()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to bind challenge server")
	}

	resultCh := make(chan Result, 1)
	failCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/verify", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = pageTemplate.Execute(w, struct {
			Params
			ID string
		}{params, id})
	})
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var payload callbackPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Token == "" {
			// any shape other than {"id", "token"} resolves as failure
			// immediately instead of waiting for the deadline
			http.Error(w, "bad payload", http.StatusBadRequest)
			select {
			case failCh <- domain.ErrChallengeFailed:
			default:
			}
			return
		}

		if payload.ID != id {
			// stale result from a previous round, discard
			b.log.Debug().Str("provider", provider).Str("id", payload.ID).Msg("discarding challenge result with unknown id")
			http.Error(w, "unknown challenge id", http.StatusGone)
			return
		}

		w.WriteHeader(http.StatusOK)
		select {
		case resultCh <- Result{ID: id, Token: payload.Token}:
		default:
		}
	})

	srv := &http.Server{Handler: mux}
	go srv.Serve(ln) //nolint:errcheck // returns ErrServerClosed on teardown

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		srv.Close()
	}()

	pageURL := fmt.Sprintf("http://%s/verify", ln.Addr().String())
	b.log.Info().Str("provider", provider).Msgf("waiting for verification at %s", pageURL)

	if err := b.OpenPage(pageURL); err != nil {
		b.log.Warn().Err(err).Msgf("failed to open browser, open %s manually", pageURL)
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case res := <-resultCh:
		return res, nil
	case err := <-failCh:
		return Result{}, err
	case <-timer.C:
		return Result{}, domain.ErrChallengeTimeout
	case <-ctx.Done():
		return Result{}, errors.Wrap(ctx.Err(), "challenge cancelled")
	}
}
