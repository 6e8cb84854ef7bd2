package provider

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"novelarr/internal/challenge"
	"novelarr/internal/database"
	"novelarr/internal/domain"
	"novelarr/internal/logger"
	"novelarr/internal/session"
	"novelarr/internal/sharedhttp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

// encryptBody applies the provider's response encoding in reverse:
// PKCS#7 padding, AES-256-CBC with a zero IV, then base64.
func encryptBody(t *testing.T, key []byte, plain string) string {
	t.Helper()

	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	padding := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append([]byte(plain), bytes.Repeat([]byte{byte(padding)}, padding)...)

	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(out)
}

func testSessions(t *testing.T) *session.Store {
	t.Helper()

	keyring.MockInit()

	db, err := database.Open(filepath.Join(t.TempDir(), "novelarr.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return session.NewStore(db, logger.Mock())
}

func testCiweimao(t *testing.T, host string, sessions *session.Store) *ciweimao {
	t.Helper()

	return &ciweimao{
		host:             host,
		client:           sharedhttp.NewClient(nil, 5*time.Second),
		sessions:         sessions,
		bridge:           challenge.NewBridge(logger.Mock()),
		log:              logger.Mock(),
		deviceToken:      ciweimaoDevicePref + "test-device",
		decrypt:          aesCBCBase64Decrypt,
		challengeTimeout: 5 * time.Second,
	}
}

func saveCiweimaoSession(t *testing.T, sessions *session.Store) {
	t.Helper()

	require.NoError(t, sessions.Save(&domain.Session{
		Provider: Ciweimao,
		Values: map[string]string{
			"account":     "reader-1",
			"login_token": "token-1",
		},
		UpdatedAt: time.Now(),
	}))
}

func TestAESCBCBase64Decrypt_Roundtrip(t *testing.T) {
	key := ciweimaoDefaultKey()

	encoded := encryptBody(t, key, `{"code":"100000"}`)

	plain, err := aesCBCBase64Decrypt(key, []byte(encoded))
	require.NoError(t, err)
	assert.Equal(t, `{"code":"100000"}`, string(plain))
}

func TestAESCBCBase64Decrypt_BadInput(t *testing.T) {
	key := ciweimaoDefaultKey()

	_, err := aesCBCBase64Decrypt(key, []byte("not base64 at all!!!"))
	assert.Error(t, err)

	// valid base64 but not block aligned
	_, err = aesCBCBase64Decrypt(key, []byte(base64.StdEncoding.EncodeToString([]byte("short"))))
	assert.Error(t, err)
}

func TestCiweimao_PostSendsAuthForm(t *testing.T) {
	sessions := testSessions(t)
	saveCiweimaoSession(t, sessions)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())

		assert.Equal(t, ciweimaoAppVersion, r.PostForm.Get("app_version"))
		assert.Equal(t, ciweimaoDevicePref+"test-device", r.PostForm.Get("device_token"))
		assert.Equal(t, "reader-1", r.PostForm.Get("account"))
		assert.Equal(t, "token-1", r.PostForm.Get("login_token"))

		fmt.Fprint(w, encryptBody(t, ciweimaoDefaultKey(), `{"code":"100000","data":{"ok":true}}`))
	}))
	defer srv.Close()

	c := testCiweimao(t, srv.URL, sessions)

	res, err := c.post(context.Background(), "/meta/get_meta_data", nil, true)
	require.NoError(t, err)
	assert.True(t, res.Get("data.ok").Bool())
}

func TestCiweimao_PostWithoutSession(t *testing.T) {
	c := testCiweimao(t, "http://127.0.0.1:0", testSessions(t))

	// no stored session means no network call at all
	_, err := c.post(context.Background(), "/meta/get_meta_data", nil, true)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
}

func TestCiweimao_CodeMapping(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{name: "expired", body: `{"code":"200100","tip":"login again"}`, want: domain.ErrSessionExpired},
		{name: "missing", body: `{"code":"320001","tip":"no such book"}`, want: domain.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, encryptBody(t, ciweimaoDefaultKey(), tt.body))
			}))
			defer srv.Close()

			c := testCiweimao(t, srv.URL, testSessions(t))

			_, err := c.post(context.Background(), "/signup/login", nil, false)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCiweimao_CodeUnknownCarriesTip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, encryptBody(t, ciweimaoDefaultKey(), `{"code":"310001","tip":"wrong password"}`))
	}))
	defer srv.Close()

	c := testCiweimao(t, srv.URL, testSessions(t))

	_, err := c.post(context.Background(), "/signup/login", nil, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrong password")
}

func TestCiweimao_Login(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())

		switch r.URL.Path {
		case "/signup/use_geetest":
			assert.Equal(t, "reader-1", r.PostForm.Get("login_name"))
			fmt.Fprint(w, encryptBody(t, ciweimaoDefaultKey(), `{"code":"100000","data":{"need_use_geetest":"0"}}`))
		case "/signup/login":
			assert.Equal(t, "reader-1", r.PostForm.Get("login_name"))
			assert.Equal(t, "hunter2", r.PostForm.Get("passwd"))
			assert.Empty(t, r.PostForm.Get("geetest_seccode"))

			fmt.Fprint(w, encryptBody(t, ciweimaoDefaultKey(),
				`{"code":"100000","data":{"login_token":"fresh-token","reader_info":{"account":"书友1"}}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := testCiweimao(t, srv.URL, testSessions(t))

	sess, err := c.Login(context.Background(), domain.Credential{Provider: Ciweimao, Account: "reader-1", Secret: "hunter2"})
	require.NoError(t, err)

	assert.Equal(t, Ciweimao, sess.Provider)
	assert.Equal(t, "书友1", sess.Values["account"])
	assert.Equal(t, "fresh-token", sess.Values["login_token"])
	assert.Equal(t, "test-device", sess.Fingerprint)
}

func TestCiweimao_LoginWithChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/signup/use_geetest":
			fmt.Fprint(w, encryptBody(t, ciweimaoDefaultKey(), `{"code":"100000","data":{"need_use_geetest":"1"}}`))
		case "/signup/geetest_first_register":
			assert.Equal(t, "reader-1", r.URL.Query().Get("user_id"))

			// this endpoint answers in plain JSON
			fmt.Fprint(w, `{"success":1,"gt":"gt-key","challenge":"round-challenge","new_captcha":true}`)
		case "/signup/login":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "round-challenge", r.PostForm.Get("geetest_challenge"))
			assert.Equal(t, "validate-token", r.PostForm.Get("geetest_validate"))
			assert.Equal(t, "validate-token|jordan", r.PostForm.Get("geetest_seccode"))

			fmt.Fprint(w, encryptBody(t, ciweimaoDefaultKey(),
				`{"code":"100000","data":{"login_token":"tok","reader_info":{"account":"reader-1"}}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := testCiweimao(t, srv.URL, testSessions(t))
	c.bridge.OpenPage = func(pageURL string) error {
		go func() {
			resp, err := http.Get(pageURL)
			if err != nil {
				return
			}
			page, _ := io.ReadAll(resp.Body)
			resp.Body.Close()

			const marker = `{id: "`
			idx := strings.Index(string(page), marker)
			if idx < 0 {
				return
			}
			rest := string(page)[idx+len(marker):]
			id := rest[:strings.Index(rest, `"`)]

			callback := strings.Replace(pageURL, "/verify", "/callback", 1)
			body := fmt.Sprintf(`{"id":%q,"token":"validate-token"}`, id)
			resp, err = http.Post(callback, "application/json", strings.NewReader(body))
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}

	sess, err := c.Login(context.Background(), domain.Credential{Provider: Ciweimao, Account: "reader-1", Secret: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, "tok", sess.Values["login_token"])
}

func TestCiweimao_LoginSMSVerificationUnsupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/signup/use_geetest":
			fmt.Fprint(w, encryptBody(t, ciweimaoDefaultKey(), `{"code":"100000","data":{"need_use_geetest":"2"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := testCiweimao(t, srv.URL, testSessions(t))

	// mode 2 means sms verification, which gets rejected before any
	// interactive challenge or login attempt
	_, err := c.Login(context.Background(), domain.Credential{Provider: Ciweimao, Account: "reader-1", Secret: "hunter2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sms verification")
}

func TestCiweimao_Categories(t *testing.T) {
	sessions := testSessions(t)
	saveCiweimaoSession(t, sessions)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/meta/get_meta_data", r.URL.Path)

		fmt.Fprint(w, encryptBody(t, ciweimaoDefaultKey(), `{"code":"100000","data":{"category_list":[
			{"category_detail":[
				{"category_index":"1","category_name":"奇幻"},
				{"category_index":"2","category_name":"武侠"}
			]},
			{"category_detail":[
				{"category_index":"3","category_name":"科幻"}
			]}
		]}}`))
	}))
	defer srv.Close()

	c := testCiweimao(t, srv.URL, sessions)

	categories, err := c.Categories(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 3)

	// category groups are flattened in order
	assert.Equal(t, domain.Category{ID: 1, Name: "奇幻"}, categories[0])
	assert.Equal(t, domain.Category{ID: 3, Name: "科幻"}, categories[2])
}

func TestCiweimao_Chapters(t *testing.T) {
	sessions := testSessions(t)
	saveCiweimaoSession(t, sessions)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/chapter/get_updated_chapter_by_division_new", r.URL.Path)
		assert.Equal(t, "100194379", r.PostForm.Get("book_id"))

		fmt.Fprint(w, encryptBody(t, ciweimaoDefaultKey(), `{"code":"100000","data":{"chapter_list":[
			{"division_name":"第一卷","chapter_list":[
				{"chapter_id":"101","chapter_title":"第一章","word_count":"2500","mtime":"2024-01-01 08:00:00","auth_access":"1"},
				{"chapter_id":"102","chapter_title":"第二章","word_count":"2600","mtime":"2024-01-02 08:00:00","auth_access":"1"}
			]},
			{"division_name":"第二卷","chapter_list":[
				{"chapter_id":"103","chapter_title":"第三章","word_count":"2700","mtime":"2024-01-03 08:00:00","auth_access":"0"}
			]}
		]}}`))
	}))
	defer srv.Close()

	c := testCiweimao(t, srv.URL, sessions)

	volumes, err := c.Chapters(context.Background(), "100194379")
	require.NoError(t, err)
	require.Len(t, volumes, 2)

	assert.Equal(t, "第一卷", volumes[0].Title)
	require.Len(t, volumes[0].Chapters, 2)
	assert.Equal(t, 1, volumes[0].Chapters[0].Ordinal)
	assert.False(t, volumes[0].Chapters[0].Restricted)

	require.Len(t, volumes[1].Chapters, 1)
	assert.Equal(t, 3, volumes[1].Chapters[0].Ordinal)
	assert.True(t, volumes[1].Chapters[0].Restricted)
}

func TestCiweimao_ChapterText(t *testing.T) {
	sessions := testSessions(t)
	saveCiweimaoSession(t, sessions)

	const command = "ZxNkFeH8vN"
	chapterKey := sha256.Sum256([]byte(command))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())

		switch r.URL.Path {
		case "/chapter/get_chapter_cmd":
			assert.Equal(t, "101", r.PostForm.Get("chapter_id"))
			fmt.Fprint(w, encryptBody(t, ciweimaoDefaultKey(),
				fmt.Sprintf(`{"code":"100000","data":{"command":%q}}`, command)))
		case "/chapter/get_cpt_ifm":
			assert.Equal(t, command, r.PostForm.Get("chapter_command"))

			// the chapter body is encrypted a second time with the
			// command-derived key
			inner := encryptBody(t, chapterKey[:], "正文第一行\n正文第二行")
			fmt.Fprint(w, encryptBody(t, ciweimaoDefaultKey(),
				fmt.Sprintf(`{"code":"100000","data":{"chapter_info":{"txt_content":%q}}}`, inner)))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := testCiweimao(t, srv.URL, sessions)

	text, err := c.ChapterText(context.Background(), domain.ChapterRef{NovelID: "100194379", ID: "101"})
	require.NoError(t, err)
	assert.Equal(t, "正文第一行\n正文第二行", text)
}

func TestCiweimao_ChapterTextRestricted(t *testing.T) {
	c := testCiweimao(t, "http://127.0.0.1:0", testSessions(t))

	_, err := c.ChapterText(context.Background(), domain.ChapterRef{ID: "101", Restricted: true})
	assert.ErrorIs(t, err, domain.ErrAccessRestricted)
}

func TestCiweimao_ParseContent(t *testing.T) {
	c := testCiweimao(t, "", testSessions(t))

	infos := c.ParseContent("第一段\n<img src=\"https://img.example.com/1.png\">\n第二段")
	require.Len(t, infos, 3)

	assert.Equal(t, domain.ContentText, infos[0].Kind)
	assert.Equal(t, domain.ContentImage, infos[1].Kind)
	assert.Equal(t, domain.ContentText, infos[2].Kind)
}

func TestCiweimao_ResolveImageURL(t *testing.T) {
	c := testCiweimao(t, "", testSessions(t))

	u, err := c.ResolveImageURL(`<img src="https://img.example.com/1.png" alt="">`)
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/1.png", u.String())

	_, err = c.ResolveImageURL("<p>no image here</p>")
	assert.Error(t, err)
}

func TestCiweimao_Search(t *testing.T) {
	sessions := testSessions(t)
	saveCiweimaoSession(t, sessions)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/bookcity/get_filter_search_book_list", r.URL.Path)
		assert.Equal(t, "仙剑", r.PostForm.Get("key"))
		assert.Equal(t, "0", r.PostForm.Get("page"))

		fmt.Fprint(w, encryptBody(t, ciweimaoDefaultKey(),
			`{"code":"100000","data":{"book_list":[{"book_id":"100001"},{"book_id":"100002"}]}}`))
	}))
	defer srv.Close()

	c := testCiweimao(t, srv.URL, sessions)

	ids, err := c.Search(context.Background(), "仙剑", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"100001", "100002"}, ids)
}
