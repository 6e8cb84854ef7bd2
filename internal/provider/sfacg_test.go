package provider

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"novelarr/internal/domain"
	"novelarr/internal/logger"
	"novelarr/internal/sharedhttp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSfacg(t *testing.T, host string) *sfacg {
	t.Helper()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &sfacg{
		host:        host,
		client:      sharedhttp.NewClient(jar, 5*time.Second),
		jar:         jar,
		log:         logger.Mock(),
		deviceToken: "TEST-DEVICE-TOKEN",
		sign:        sfacgSign,
	}
}

func sfacgOK(data string) string {
	return fmt.Sprintf(`{"status":{"httpCode":200,"errorCode":200,"msg":""},"data":%s}`, data)
}

func TestSfacgSign(t *testing.T) {
	header := sfacgSign("DEVICE")

	values := map[string]string{}
	for _, pair := range strings.Split(header, "&") {
		kv := strings.SplitN(pair, "=", 2)
		require.Len(t, kv, 2)
		values[kv[0]] = kv[1]
	}

	require.NotEmpty(t, values["nonce"])
	require.NotEmpty(t, values["timestamp"])
	assert.Equal(t, "DEVICE", values["devicetoken"])
	assert.Equal(t, strings.ToUpper(values["nonce"]), values["nonce"])

	sum := md5.Sum([]byte(values["nonce"] + values["timestamp"] + "DEVICE" + sfacgSalt))
	assert.Equal(t, strings.ToUpper(hex.EncodeToString(sum[:])), values["sign"])
}

func TestSfacg_RequestHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, sfacgAPIUser, user)
		assert.Equal(t, sfacgAPISecret, pass)

		assert.Equal(t, sfacgAccept, r.Header.Get("Accept"))
		assert.Contains(t, r.Header.Get("sfsecurity"), "devicetoken=TEST-DEVICE-TOKEN")
		assert.NotEmpty(t, r.Header.Get("User-Agent"))

		fmt.Fprint(w, sfacgOK(`{}`))
	}))
	defer srv.Close()

	s := testSfacg(t, srv.URL)

	_, err := s.request(context.Background(), http.MethodGet, "/position", nil, nil)
	require.NoError(t, err)
}

func TestSfacg_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{name: "expired", body: `{"status":{"httpCode":401,"errorCode":502,"msg":"need login"}}`, want: domain.ErrSessionExpired},
		{name: "missing", body: `{"status":{"httpCode":404,"errorCode":404,"msg":"no such novel"}}`, want: domain.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			s := testSfacg(t, srv.URL)

			_, err := s.request(context.Background(), http.MethodGet, "/position", nil, nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSfacg_TransportUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := testSfacg(t, srv.URL)

	_, err := s.request(context.Background(), http.MethodGet, "/position", nil, nil)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
}

func TestSfacg_Login(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sessions":
			assert.Equal(t, http.MethodPost, r.Method)

			var body struct {
				UserName string `json:"userName"`
				PassWord string `json:"passWord"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "someone", body.UserName)
			assert.Equal(t, "hunter2", body.PassWord)

			http.SetCookie(w, &http.Cookie{Name: ".SFCommunity", Value: "session-token", Path: "/"})
			fmt.Fprint(w, sfacgOK(`{}`))
		case "/position":
			cookie, err := r.Cookie(".SFCommunity")
			require.NoError(t, err)
			assert.Equal(t, "session-token", cookie.Value)

			fmt.Fprint(w, sfacgOK(`{}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	s := testSfacg(t, srv.URL)

	sess, err := s.Login(context.Background(), domain.Credential{Provider: Sfacg, Account: "someone", Secret: "hunter2"})
	require.NoError(t, err)

	assert.Equal(t, Sfacg, sess.Provider)
	assert.Equal(t, "TEST-DEVICE-TOKEN", sess.Fingerprint)

	require.Len(t, sess.Cookies, 1)
	assert.Equal(t, ".SFCommunity", sess.Cookies[0].Name)
	assert.Equal(t, "session-token", sess.Cookies[0].Value)
}

func TestSfacg_LoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status":{"httpCode":401,"errorCode":502,"msg":"bad password"}}`)
	}))
	defer srv.Close()

	s := testSfacg(t, srv.URL)

	_, err := s.Login(context.Background(), domain.Credential{Provider: Sfacg, Account: "someone", Secret: "wrong"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)
}

func TestSfacg_Categories(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/noveltypes", r.URL.Path)

		fmt.Fprint(w, sfacgOK(`[{"typeId": 21, "typeName": " 魔幻 "}, {"typeId": 22, "typeName": "古风"}]`))
	}))
	defer srv.Close()

	s := testSfacg(t, srv.URL)

	categories, err := s.Categories(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 2)

	assert.Equal(t, domain.Category{ID: 21, Name: "魔幻"}, categories[0])
	assert.Equal(t, domain.Category{ID: 22, Name: "古风"}, categories[1])
}

func TestSfacg_NovelInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/novels/12345", r.URL.Path)
		assert.Equal(t, "intro,typeName,sysTags", r.URL.Query().Get("expand"))

		fmt.Fprint(w, sfacgOK(`{
			"novelName": "Test Novel",
			"authorName": "Author",
			"novelCover": "https://img.example.com/cover.jpg",
			"charCount": 120000,
			"isFinish": true,
			"lastUpdateTime": "2024-03-12 10:00:00",
			"expand": {
				"typeName": "Fantasy",
				"intro": "first line\nsecond line",
				"sysTags": [{"tagName": "magic"}, {"tagName": "academy"}]
			}
		}`))
	}))
	defer srv.Close()

	s := testSfacg(t, srv.URL)

	info, err := s.NovelInfo(context.Background(), "12345")
	require.NoError(t, err)

	assert.Equal(t, "Test Novel", info.Title)
	assert.Equal(t, "Author", info.AuthorName)
	assert.Equal(t, 120000, info.WordCount)
	assert.True(t, info.Finished)
	assert.Equal(t, "Fantasy", info.Category)
	assert.Equal(t, []string{"first line", "second line"}, info.Intro)
	assert.Equal(t, []string{"magic", "academy"}, info.Tags)
	assert.Equal(t, 2024, info.UpdatedAt.Year())
}

func TestSfacg_NovelInfoMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, sfacgOK(`{}`))
	}))
	defer srv.Close()

	s := testSfacg(t, srv.URL)

	_, err := s.NovelInfo(context.Background(), "12345")
	assert.Error(t, err)
}

func TestSfacg_Chapters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/novels/12345/dirs", r.URL.Path)

		fmt.Fprint(w, sfacgOK(`{
			"volumeList": [
				{
					"title": "Volume 1",
					"chapterList": [
						{"chapId": 1, "title": "One", "charCount": 3000, "updateTime": "2024-01-01 08:00:00", "needFireMoney": 0},
						{"chapId": 2, "title": "Two", "charCount": 3100, "updateTime": "2024-01-02 08:00:00", "needFireMoney": 0}
					]
				},
				{
					"title": "Volume 2",
					"chapterList": [
						{"chapId": 3, "title": "Three", "charCount": 2900, "updateTime": "2024-01-03 08:00:00", "needFireMoney": 15}
					]
				}
			]
		}`))
	}))
	defer srv.Close()

	s := testSfacg(t, srv.URL)

	volumes, err := s.Chapters(context.Background(), "12345")
	require.NoError(t, err)
	require.Len(t, volumes, 2)

	assert.Equal(t, "Volume 1", volumes[0].Title)
	require.Len(t, volumes[0].Chapters, 2)
	assert.Equal(t, 1, volumes[0].Chapters[0].Ordinal)
	assert.Equal(t, 2, volumes[0].Chapters[1].Ordinal)
	assert.False(t, volumes[0].Chapters[0].Restricted)

	// ordinals keep counting across volumes
	require.Len(t, volumes[1].Chapters, 1)
	assert.Equal(t, 3, volumes[1].Chapters[0].Ordinal)
	assert.True(t, volumes[1].Chapters[0].Restricted)
}

func TestSfacg_ChapterText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Chaps/7", r.URL.Path)
		assert.Equal(t, "content", r.URL.Query().Get("expand"))

		fmt.Fprint(w, sfacgOK(`{"needFireMoney": 0, "expand": {"content": "chapter body"}}`))
	}))
	defer srv.Close()

	s := testSfacg(t, srv.URL)

	text, err := s.ChapterText(context.Background(), domain.ChapterRef{NovelID: "12345", ID: "7"})
	require.NoError(t, err)
	assert.Equal(t, "chapter body", text)
}

func TestSfacg_ChapterTextRestricted(t *testing.T) {
	s := testSfacg(t, "http://127.0.0.1:0")

	// a restricted ref never reaches the network
	_, err := s.ChapterText(context.Background(), domain.ChapterRef{ID: "7", Restricted: true})
	assert.ErrorIs(t, err, domain.ErrAccessRestricted)
}

func TestSfacg_ChapterTextPaidButNotMarked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, sfacgOK(`{"needFireMoney": 20, "expand": {"content": ""}}`))
	}))
	defer srv.Close()

	s := testSfacg(t, srv.URL)

	_, err := s.ChapterText(context.Background(), domain.ChapterRef{ID: "7"})
	assert.ErrorIs(t, err, domain.ErrAccessRestricted)
}

func TestSfacg_ParseContent(t *testing.T) {
	s := testSfacg(t, "")

	infos := s.ParseContent("first paragraph\n\n[img=https://img.example.com/1.jpg]\nsecond paragraph")
	require.Len(t, infos, 3)

	assert.Equal(t, domain.ContentText, infos[0].Kind)
	assert.Equal(t, "first paragraph", infos[0].Value)
	assert.Equal(t, domain.ContentImage, infos[1].Kind)
	assert.Equal(t, domain.ContentText, infos[2].Kind)
}

func TestSfacg_ResolveImageURL(t *testing.T) {
	s := testSfacg(t, "")

	u, err := s.ResolveImageURL("[img=https://img.example.com/1.jpg]")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/1.jpg", u.String())

	_, err = s.ResolveImageURL("[img=not a url]")
	assert.Error(t, err)
}

func TestSfacg_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/novels/result/new", r.URL.Path)
		assert.Equal(t, "sword", r.URL.Query().Get("q"))
		assert.Equal(t, "0", r.URL.Query().Get("page"))
		assert.Equal(t, "12", r.URL.Query().Get("size"))

		fmt.Fprint(w, sfacgOK(`{"novels": [{"novelId": 11}, {"novelId": 22}]}`))
	}))
	defer srv.Close()

	s := testSfacg(t, srv.URL)

	ids, err := s.Search(context.Background(), "sword", 0, 12)
	require.NoError(t, err)
	assert.Equal(t, []string{"11", "22"}, ids)
}

