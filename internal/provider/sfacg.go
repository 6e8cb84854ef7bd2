package provider

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"novelarr/internal/domain"
	"novelarr/internal/logger"
	"novelarr/internal/session"
	"novelarr/internal/sharedhttp"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	sfacgHost      = "https://api.sfacg.com"
	sfacgAccept    = "application/vnd.sfacg.api+json;version=1"
	sfacgAPIUser   = "apiuser"
	sfacgAPISecret = "3s#1-yt6e*Acv@qer"
	sfacgSalt      = "FMLxgOdsfxmN!Dt4"
)

// SignFunc produces the value of the request-signing header. The exact
// scheme is provider-controlled, so it is injectable rather than baked
// into the request path.
type SignFunc func(deviceToken string) string

type sfacg struct {
	host     string
	client   *sharedhttp.Client
	jar      http.CookieJar
	sessions *session.Store
	log      logger.Logger

	deviceToken string
	sign        SignFunc
}

func NewSfacg(deps Deps) (domain.Provider, error) {
	sess, err := deps.Sessions.Get(Sfacg)
	if err != nil {
		return nil, err
	}

	host, _ := url.Parse(sfacgHost)
	jar, err := session.Jar(sess, host)
	if err != nil {
		return nil, err
	}

	return &sfacg{
		host:        sfacgHost,
		client:      sharedhttp.NewClient(jar, 60*time.Second),
		jar:         jar,
		sessions:    deps.Sessions,
		log:         deps.Log,
		deviceToken: fingerprint(sess),
		sign:        sfacgSign,
	}, nil
}

func (s *sfacg) Name() string {
	return Sfacg
}

// sfacgSign builds the sfsecurity header: a nonce, a timestamp, the
// device token and an MD5 signature over all three plus a static salt.
func sfacgSign(deviceToken string) string {
	nonce := strings.ToUpper(uuid.New().String())
	timestamp := time.Now().Unix()

	sum := md5.Sum([]byte(fmt.Sprintf("%s%d%s%s", nonce, timestamp, deviceToken, sfacgSalt)))

	return fmt.Sprintf("nonce=%s&timestamp=%d&devicetoken=%s&sign=%s",
		nonce, timestamp, deviceToken, strings.ToUpper(hex.EncodeToString(sum[:])))
}

type sfacgStatus struct {
	HTTPCode  int    `json:"httpCode"`
	ErrorCode int    `json:"errorCode"`
	Msg       string `json:"msg"`
}

type sfacgEnvelope struct {
	Status sfacgStatus     `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func (st sfacgStatus) check() error {
	switch {
	case st.HTTPCode == http.StatusOK && st.ErrorCode == http.StatusOK:
		return nil
	case st.HTTPCode == http.StatusUnauthorized:
		return domain.ErrSessionExpired
	case st.HTTPCode == http.StatusNotFound:
		return domain.ErrNotFound
	default:
		return errors.Errorf("sfacg api error %d: %s", st.ErrorCode, strings.TrimSpace(st.Msg))
	}
}

func (s *sfacg) request(ctx context.Context, method, path string, query url.Values, body interface{}) (json.RawMessage, error) {
	u := s.host + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode request body")
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	req.SetBasicAuth(sfacgAPIUser, sfacgAPISecret)
	req.Header.Set("Accept", sfacgAccept)
	req.Header.Set("sfsecurity", s.sign(s.deviceToken))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	sharedhttp.ApplyHeaders(req, sharedhttp.ProfileAPI)

	raw, err := s.client.DoBody(ctx, req, 3)
	if err != nil {
		var statusErr *domain.StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusUnauthorized {
			return nil, domain.ErrSessionExpired
		}
		return nil, err
	}

	var envelope sfacgEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, errors.Wrap(err, "failed to decode response")
	}

	if err := envelope.Status.check(); err != nil {
		return nil, err
	}

	return envelope.Data, nil
}

func (s *sfacg) Login(ctx context.Context, cred domain.Credential) (*domain.Session, error) {
	login := struct {
		UserName string `json:"userName"`
		PassWord string `json:"passWord"`
	}{cred.Account, cred.Secret}

	if _, err := s.request(ctx, http.MethodPost, "/sessions", nil, login); err != nil {
		if errors.Is(err, domain.ErrSessionExpired) {
			return nil, errors.Wrap(domain.ErrInvalidCredential, "login rejected")
		}
		return nil, err
	}

	// the session cookie is only activated once position has been fetched
	if _, err := s.request(ctx, http.MethodGet, "/position", nil, nil); err != nil {
		return nil, err
	}

	host, _ := url.Parse(s.host)

	return &domain.Session{
		Provider:    Sfacg,
		Cookies:     session.SnapshotJar(s.jar, host),
		Values:      map[string]string{},
		Fingerprint: s.deviceToken,
		UpdatedAt:   time.Now(),
	}, nil
}

func (s *sfacg) Categories(ctx context.Context) ([]domain.Category, error) {
	data, err := s.request(ctx, http.MethodGet, "/noveltypes", nil, nil)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		TypeID   int    `json:"typeId"`
		TypeName string `json:"typeName"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode categories")
	}

	categories := make([]domain.Category, 0, len(raw))
	for _, c := range raw {
		categories = append(categories, domain.Category{ID: c.TypeID, Name: strings.TrimSpace(c.TypeName)})
	}

	return categories, nil
}

func (s *sfacg) NovelInfo(ctx context.Context, novelID string) (*domain.NovelInfo, error) {
	query := url.Values{"expand": []string{"intro,typeName,sysTags"}}

	data, err := s.request(ctx, http.MethodGet, "/novels/"+novelID, query, nil)
	if err != nil {
		return nil, err
	}

	var raw struct {
		NovelName      string `json:"novelName"`
		AuthorName     string `json:"authorName"`
		NovelCover     string `json:"novelCover"`
		CharCount      int    `json:"charCount"`
		IsFinish       bool   `json:"isFinish"`
		LastUpdateTime string `json:"lastUpdateTime"`
		Expand         struct {
			TypeName string `json:"typeName"`
			Intro    string `json:"intro"`
			SysTags  []struct {
				TagName string `json:"tagName"`
			} `json:"sysTags"`
		} `json:"expand"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode novel info")
	}

	if raw.NovelName == "" {
		return nil, errors.Errorf("missing novel name for id %s", novelID)
	}

	info := &domain.NovelInfo{
		ID:         novelID,
		Title:      strings.TrimSpace(raw.NovelName),
		AuthorName: strings.TrimSpace(raw.AuthorName),
		CoverURL:   raw.NovelCover,
		WordCount:  raw.CharCount,
		Finished:   raw.IsFinish,
		UpdatedAt:  parseTimestamp(raw.LastUpdateTime),
		Category:   strings.TrimSpace(raw.Expand.TypeName),
		Intro:      splitLines(raw.Expand.Intro),
	}
	for _, tag := range raw.Expand.SysTags {
		info.Tags = append(info.Tags, strings.TrimSpace(tag.TagName))
	}

	return info, nil
}

func (s *sfacg) Chapters(ctx context.Context, novelID string) ([]domain.VolumeInfo, error) {
	data, err := s.request(ctx, http.MethodGet, "/novels/"+novelID+"/dirs", nil, nil)
	if err != nil {
		return nil, err
	}

	var raw struct {
		VolumeList []struct {
			Title       string `json:"title"`
			ChapterList []struct {
				ChapID        int    `json:"chapId"`
				Title         string `json:"title"`
				CharCount     int    `json:"charCount"`
				UpdateTime    string `json:"updateTime"`
				AddTime       string `json:"AddTime"`
				NeedFireMoney int    `json:"needFireMoney"`
			} `json:"chapterList"`
		} `json:"volumeList"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode chapter list")
	}

	var volumes []domain.VolumeInfo
	ordinal := 0
	for _, v := range raw.VolumeList {
		volume := domain.VolumeInfo{Title: strings.TrimSpace(v.Title)}

		for _, c := range v.ChapterList {
			ordinal++

			updated := c.UpdateTime
			if updated == "" {
				updated = c.AddTime
			}

			volume.Chapters = append(volume.Chapters, domain.ChapterRef{
				NovelID:    novelID,
				ID:         strconv.Itoa(c.ChapID),
				Title:      strings.TrimSpace(c.Title),
				Ordinal:    ordinal,
				WordCount:  c.CharCount,
				UpdatedAt:  parseTimestamp(updated),
				Restricted: c.NeedFireMoney > 0,
			})
		}

		volumes = append(volumes, volume)
	}

	return volumes, nil
}

func (s *sfacg) ChapterText(ctx context.Context, ref domain.ChapterRef) (string, error) {
	if ref.Restricted {
		return "", domain.ErrAccessRestricted
	}

	query := url.Values{"expand": []string{"content"}}

	data, err := s.request(ctx, http.MethodGet, "/Chaps/"+ref.ID, query, nil)
	if err != nil {
		return "", err
	}

	var raw struct {
		NeedFireMoney int `json:"needFireMoney"`
		Expand        struct {
			Content string `json:"content"`
		} `json:"expand"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", errors.Wrap(err, "failed to decode chapter content")
	}

	if raw.Expand.Content == "" {
		if raw.NeedFireMoney > 0 {
			return "", domain.ErrAccessRestricted
		}
		return "", errors.Errorf("missing content for chapter %s", ref.ID)
	}

	return raw.Expand.Content, nil
}

// ParseContent splits chapter text into lines and [img=...] references.
func (s *sfacg) ParseContent(text string) []domain.ContentInfo {
	var infos []domain.ContentInfo

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[img=") {
			infos = append(infos, domain.ContentInfo{Kind: domain.ContentImage, Value: line})
			continue
		}

		infos = append(infos, domain.ContentInfo{Kind: domain.ContentText, Value: line})
	}

	return infos
}

func (s *sfacg) ResolveImageURL(ref string) (*url.URL, error) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(ref, "[img="), "]")
	trimmed = strings.TrimSpace(trimmed)

	u, err := url.Parse(trimmed)
	if err != nil || !u.IsAbs() {
		return nil, errors.Errorf("invalid image reference: %s", ref)
	}

	return u, nil
}

func (s *sfacg) Search(ctx context.Context, keyword string, page, size int) ([]string, error) {
	query := url.Values{
		"q":    []string{keyword},
		"page": []string{strconv.Itoa(page)},
		"size": []string{strconv.Itoa(size)},
	}

	data, err := s.request(ctx, http.MethodGet, "/search/novels/result/new", query, nil)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Novels []struct {
			NovelID int `json:"novelId"`
		} `json:"novels"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode search result")
	}

	ids := make([]string, 0, len(raw.Novels))
	for _, n := range raw.Novels {
		ids = append(ids, strconv.Itoa(n.NovelID))
	}

	return ids, nil
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	return lines
}
