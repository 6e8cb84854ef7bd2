package provider

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"novelarr/internal/challenge"
	"novelarr/internal/domain"
	"novelarr/internal/logger"
	"novelarr/internal/session"
	"novelarr/internal/sharedhttp"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const (
	ciweimaoHost        = "https://app.hbooker.com"
	ciweimaoAppVersion  = "2.9.293"
	ciweimaoDevicePref  = "ciweimao_"
	ciweimaoAppKey      = "zG2nSeEfSHfvTCHy5LCcqtBbQehKNLXn"
	ciweimaoCodeOK      = "100000"
	ciweimaoCodeExpired = "200100"
	ciweimaoCodeMissing = "320001"

	ciweimaoVerifyNone = "0"
	ciweimaoVerifySMS  = "2"
)

// DecryptFunc decrypts a provider response body. The scheme is
// provider-controlled, so it is injectable like the sfacg signer.
type DecryptFunc func(key, data []byte) ([]byte, error)

type ciweimao struct {
	host     string
	client   *sharedhttp.Client
	sessions *session.Store
	bridge   *challenge.Bridge
	log      logger.Logger

	deviceToken      string
	decrypt          DecryptFunc
	challengeTimeout time.Duration
}

func NewCiweimao(deps Deps) (domain.Provider, error) {
	sess, err := deps.Sessions.Get(Ciweimao)
	if err != nil {
		return nil, err
	}

	return &ciweimao{
		host:             ciweimaoHost,
		client:           sharedhttp.NewClient(nil, 60*time.Second),
		sessions:         deps.Sessions,
		bridge:           deps.Bridge,
		log:              deps.Log,
		deviceToken:      ciweimaoDevicePref + strings.ToLower(fingerprint(sess)),
		decrypt:          aesCBCBase64Decrypt,
		challengeTimeout: deps.ChallengeTimeout,
	}, nil
}

func (c *ciweimao) Name() string {
	return Ciweimao
}

func ciweimaoDefaultKey() []byte {
	sum := sha256.Sum256([]byte(ciweimaoAppKey))
	return sum[:]
}

// aesCBCBase64Decrypt reverses the provider's response encoding:
// base64, then AES-256-CBC with a zero IV and PKCS#7 padding.
func aesCBCBase64Decrypt(key, data []byte) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode base64 body")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cipher")
	}

	if len(decoded) == 0 || len(decoded)%aes.BlockSize != 0 {
		return nil, errors.New("ciphertext is not block aligned")
	}

	out := make([]byte, len(decoded))
	cipher.NewCBCDecrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(out, decoded)

	padding := int(out[len(out)-1])
	if padding < 1 || padding > aes.BlockSize || padding > len(out) {
		return nil, errors.New("invalid padding")
	}

	return out[:len(out)-padding], nil
}

// authValues returns the stored token material, or ErrSessionExpired
// when no usable session exists.
func (c *ciweimao) authValues() (account, token string, err error) {
	sess, err := c.sessions.Get(Ciweimao)
	if err != nil {
		return "", "", err
	}
	if sess == nil || sess.Values["account"] == "" || sess.Values["login_token"] == "" {
		return "", "", domain.ErrSessionExpired
	}

	return sess.Values["account"], sess.Values["login_token"], nil
}

func (c *ciweimao) post(ctx context.Context, path string, form url.Values, authed bool) (gjson.Result, error) {
	if form == nil {
		form = url.Values{}
	}
	form.Set("app_version", ciweimaoAppVersion)
	form.Set("device_token", c.deviceToken)

	if authed {
		account, token, err := c.authValues()
		if err != nil {
			return gjson.Result{}, err
		}
		form.Set("account", account)
		form.Set("login_token", token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, strings.NewReader(form.Encode()))
	if err != nil {
		return gjson.Result{}, errors.Wrap(err, "failed to create request")
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	sharedhttp.ApplyHeaders(req, sharedhttp.ProfileAPI)

	raw, err := c.client.DoBody(ctx, req, 3)
	if err != nil {
		return gjson.Result{}, err
	}

	plain, err := c.decrypt(ciweimaoDefaultKey(), raw)
	if err != nil {
		return gjson.Result{}, errors.Wrap(err, "failed to decrypt response")
	}

	res := gjson.ParseBytes(plain)

	switch code := res.Get("code").String(); code {
	case ciweimaoCodeOK:
		return res, nil
	case ciweimaoCodeExpired:
		return gjson.Result{}, domain.ErrSessionExpired
	case ciweimaoCodeMissing:
		return gjson.Result{}, domain.ErrNotFound
	default:
		return gjson.Result{}, errors.Errorf("ciweimao api error %s: %s", code, strings.TrimSpace(res.Get("tip").String()))
	}
}

func (c *ciweimao) Login(ctx context.Context, cred domain.Credential) (*domain.Session, error) {
	form := url.Values{
		"login_name": []string{cred.Account},
		"passwd":     []string{cred.Secret},
	}

	mode, err := c.verificationMode(ctx, cred.Account)
	if err != nil {
		return nil, err
	}

	switch mode {
	case ciweimaoVerifyNone:
	case ciweimaoVerifySMS:
		return nil, errors.New("account requires sms verification, which is not supported")
	default:
		validate, geetestChallenge, err := c.resolveChallenge(ctx, cred.Account)
		if err != nil {
			return nil, err
		}

		form.Set("geetest_challenge", geetestChallenge)
		form.Set("geetest_validate", validate)
		form.Set("geetest_seccode", validate+"|jordan")
	}

	res, err := c.post(ctx, "/signup/login", form, false)
	if err != nil {
		if errors.Is(err, domain.ErrSessionExpired) || errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if domain.Retryable(err) {
			return nil, err
		}
		return nil, errors.Wrap(domain.ErrInvalidCredential, err.Error())
	}

	account := res.Get("data.reader_info.account").String()
	token := res.Get("data.login_token").String()
	if account == "" || token == "" {
		return nil, errors.New("login response missing account or token")
	}

	return &domain.Session{
		Provider: Ciweimao,
		Values: map[string]string{
			"account":     account,
			"login_token": token,
		},
		Fingerprint: strings.TrimPrefix(c.deviceToken, ciweimaoDevicePref),
		UpdatedAt:   time.Now(),
	}, nil
}

// verificationMode reports which extra verification the provider wants
// for this account before it accepts a login.
func (c *ciweimao) verificationMode(ctx context.Context, account string) (string, error) {
	res, err := c.post(ctx, "/signup/use_geetest", url.Values{"login_name": []string{account}}, false)
	if err != nil {
		return "", err
	}

	return res.Get("data.need_use_geetest").String(), nil
}

// resolveChallenge fetches the verification parameters and runs them
// through the challenge bridge.
func (c *ciweimao) resolveChallenge(ctx context.Context, account string) (validate, geetestChallenge string, err error) {
	query := url.Values{
		"t":       []string{strconv.FormatInt(time.Now().Unix(), 10)},
		"user_id": []string{account},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/signup/geetest_first_register?"+query.Encode(), nil)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to create request")
	}
	sharedhttp.ApplyHeaders(req, sharedhttp.ProfileAPI)

	// this one endpoint answers in plain JSON
	raw, err := c.client.DoBody(ctx, req, 3)
	if err != nil {
		return "", "", err
	}

	info := gjson.ParseBytes(raw)
	if info.Get("success").Int() != 1 {
		return "", "", errors.New("challenge registration failed")
	}

	params := challenge.Params{
		GT:         info.Get("gt").String(),
		Challenge:  info.Get("challenge").String(),
		NewCaptcha: info.Get("new_captcha").Bool(),
	}

	result, err := c.bridge.Resolve(ctx, Ciweimao, params, time.Now().Add(c.challengeTimeout))
	if err != nil {
		return "", "", err
	}

	return result.Token, params.Challenge, nil
}

func (c *ciweimao) Categories(ctx context.Context) ([]domain.Category, error) {
	res, err := c.post(ctx, "/meta/get_meta_data", nil, true)
	if err != nil {
		return nil, err
	}

	var categories []domain.Category
	res.Get("data.category_list").ForEach(func(_, group gjson.Result) bool {
		group.Get("category_detail").ForEach(func(_, detail gjson.Result) bool {
			categories = append(categories, domain.Category{
				ID:   int(detail.Get("category_index").Int()),
				Name: strings.TrimSpace(detail.Get("category_name").String()),
			})
			return true
		})
		return true
	})

	return categories, nil
}

func (c *ciweimao) NovelInfo(ctx context.Context, novelID string) (*domain.NovelInfo, error) {
	form := url.Values{"book_id": []string{novelID}}

	res, err := c.post(ctx, "/book/get_info_by_id", form, true)
	if err != nil {
		return nil, err
	}

	book := res.Get("data.book_info")
	if !book.Exists() || book.Get("book_name").String() == "" {
		return nil, errors.Errorf("missing book info for id %s", novelID)
	}

	info := &domain.NovelInfo{
		ID:         novelID,
		Title:      strings.TrimSpace(book.Get("book_name").String()),
		AuthorName: strings.TrimSpace(book.Get("author_name").String()),
		CoverURL:   book.Get("cover").String(),
		WordCount:  int(book.Get("total_word_count").Int()),
		Finished:   book.Get("up_status").String() == "1",
		UpdatedAt:  parseTimestamp(book.Get("uptime").String()),
		Intro:      splitLines(book.Get("description").String()),
	}
	for _, tag := range strings.Split(book.Get("tag").String(), ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			info.Tags = append(info.Tags, tag)
		}
	}

	return info, nil
}

func (c *ciweimao) Chapters(ctx context.Context, novelID string) ([]domain.VolumeInfo, error) {
	form := url.Values{"book_id": []string{novelID}}

	res, err := c.post(ctx, "/chapter/get_updated_chapter_by_division_new", form, true)
	if err != nil {
		return nil, err
	}

	var volumes []domain.VolumeInfo
	ordinal := 0
	res.Get("data.chapter_list").ForEach(func(_, division gjson.Result) bool {
		volume := domain.VolumeInfo{Title: strings.TrimSpace(division.Get("division_name").String())}

		division.Get("chapter_list").ForEach(func(_, chapter gjson.Result) bool {
			ordinal++

			volume.Chapters = append(volume.Chapters, domain.ChapterRef{
				NovelID:    novelID,
				ID:         chapter.Get("chapter_id").String(),
				Title:      strings.TrimSpace(chapter.Get("chapter_title").String()),
				Ordinal:    ordinal,
				WordCount:  int(chapter.Get("word_count").Int()),
				UpdatedAt:  parseTimestamp(chapter.Get("mtime").String()),
				Restricted: chapter.Get("auth_access").String() == "0",
			})
			return true
		})

		volumes = append(volumes, volume)
		return true
	})

	return volumes, nil
}

func (c *ciweimao) ChapterText(ctx context.Context, ref domain.ChapterRef) (string, error) {
	if ref.Restricted {
		return "", domain.ErrAccessRestricted
	}

	cmdRes, err := c.post(ctx, "/chapter/get_chapter_cmd", url.Values{"chapter_id": []string{ref.ID}}, true)
	if err != nil {
		return "", err
	}

	command := cmdRes.Get("data.command").String()
	if command == "" {
		return "", errors.Errorf("missing chapter command for chapter %s", ref.ID)
	}

	form := url.Values{
		"chapter_id":      []string{ref.ID},
		"chapter_command": []string{command},
	}

	res, err := c.post(ctx, "/chapter/get_cpt_ifm", form, true)
	if err != nil {
		return "", err
	}

	encrypted := res.Get("data.chapter_info.txt_content").String()
	if encrypted == "" {
		return "", errors.Errorf("missing content for chapter %s", ref.ID)
	}

	// the chapter body is encrypted once more with a per-chapter key
	// derived from the chapter command
	chapterKey := sha256.Sum256([]byte(command))
	plain, err := c.decrypt(chapterKey[:], []byte(encrypted))
	if err != nil {
		return "", errors.Wrap(err, "failed to decrypt chapter content")
	}

	return string(plain), nil
}

// ParseContent splits chapter text into lines and inline <img> tags.
func (c *ciweimao) ParseContent(text string) []domain.ContentInfo {
	var infos []domain.ContentInfo

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "<img") {
			infos = append(infos, domain.ContentInfo{Kind: domain.ContentImage, Value: line})
			continue
		}

		infos = append(infos, domain.ContentInfo{Kind: domain.ContentText, Value: line})
	}

	return infos
}

func (c *ciweimao) ResolveImageURL(ref string) (*url.URL, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(ref))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse image fragment")
	}

	src, ok := doc.Find("img").First().Attr("src")
	if !ok {
		return nil, errors.Errorf("no img src in reference: %s", ref)
	}

	u, err := url.Parse(strings.TrimSpace(src))
	if err != nil || !u.IsAbs() {
		return nil, errors.Errorf("invalid image url: %s", src)
	}

	return u, nil
}

func (c *ciweimao) Search(ctx context.Context, keyword string, page, size int) ([]string, error) {
	form := url.Values{
		"key":   []string{keyword},
		"count": []string{strconv.Itoa(size)},
		"page":  []string{strconv.Itoa(page)},
	}

	res, err := c.post(ctx, "/bookcity/get_filter_search_book_list", form, true)
	if err != nil {
		return nil, err
	}

	var ids []string
	res.Get("data.book_list").ForEach(func(_, book gjson.Result) bool {
		if id := book.Get("book_id").String(); id != "" {
			ids = append(ids, id)
		}
		return true
	})

	return ids, nil
}
