package xiaohongshu

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AI-static/Aether/internal/connector"
	"github.com/AI-static/Aether/internal/content"
)

// fakePage scripts per-call behavior and records what the connector did.
type fakePage struct {
	mu        sync.Mutex
	navigated []string
	cookies   []content.Cookie
	acts      []string
	extracts  []string

	evalResult  map[string]any
	evalErr     error
	extractData map[string]any
	extractErr  error
	waitErr     error
}

func (p *fakePage) Navigate(_ context.Context, pageURL string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, pageURL)
	return nil
}

func (p *fakePage) WaitVisible(_ context.Context, _ string, _ time.Duration) error {
	return p.waitErr
}

func (p *fakePage) SetCookies(_ context.Context, cookies []content.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append(p.cookies, cookies...)
	return nil
}

func (p *fakePage) EvaluateInto(_ context.Context, _ string, out any) error {
	if p.evalErr != nil {
		return p.evalErr
	}
	if m, ok := out.(*map[string]any); ok && p.evalResult != nil {
		*m = p.evalResult
	}
	return nil
}

func (p *fakePage) Extract(_ context.Context, instruction string, _ map[string]any) (map[string]any, error) {
	p.mu.Lock()
	p.extracts = append(p.extracts, instruction)
	p.mu.Unlock()
	if p.extractErr != nil {
		return nil, p.extractErr
	}
	return p.extractData, nil
}

func (p *fakePage) Act(_ context.Context, instruction string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acts = append(p.acts, instruction)
	return nil
}

func (p *fakePage) Location(context.Context) (string, error) { return "", nil }

func (p *fakePage) Close() {}

func (p *fakePage) navList() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigated...)
}

func (p *fakePage) extractList() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.extracts...)
}

func (p *fakePage) actList() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.acts...)
}

func (p *fakePage) cookieList() []content.Cookie {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]content.Cookie(nil), p.cookies...)
}

type fakeSession struct {
	page *fakePage

	mu     sync.Mutex
	closes int
}

func (s *fakeSession) ID() string                                    { return "sess-1" }
func (s *fakeSession) ContextID() string                             { return "" }
func (s *fakeSession) NewPage(context.Context) (content.Page, error) { return s.page, nil }

func (s *fakeSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
}

func (s *fakeSession) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes > 0
}

type fakeOpener struct {
	mu      sync.Mutex
	opened  []content.SessionOptions
	session *fakeSession
}

func (o *fakeOpener) OpenSession(_ context.Context, opts content.SessionOptions) (content.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, opts)
	return o.session, nil
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}

func (o *fakeOpener) options(i int) content.SessionOptions {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened[i]
}

type fixedIDs struct{}

func (fixedIDs) NewID() (string, error)        { return "id-1", nil }
func (fixedIDs) NewContextID() (string, error) { return "ctx-1", nil }

func newTestConnector(page *fakePage) (*Connector, *fakeOpener) {
	sess := &fakeSession{page: page}
	opener := &fakeOpener{session: sess}
	conn := New(content.SessionOptions{ViewportWidth: 1920, ViewportHeight: 1080}, connector.Deps{
		Opener: opener,
		IDs:    fixedIDs{},
	})
	return conn, opener
}

func collect(t *testing.T, stream <-chan content.ExtractionResult) []content.ExtractionResult {
	t.Helper()
	var out []content.ExtractionResult
	deadline := time.After(5 * time.Second)
	for {
		select {
		case res, ok := <-stream:
			if !ok {
				return out
			}
			out = append(out, res)
		case <-deadline:
			t.Fatal("stream did not close in time")
		}
	}
}

func TestExtractUsesInitialStateFastPath(t *testing.T) {
	t.Parallel()
	page := &fakePage{evalResult: map[string]any{
		"note": map[string]any{
			"noteId": "n1",
			"title":  "钓鱼装备清单",
			"desc":   "周末去水库实测",
			"type":   "normal",
			"time":   float64(1717000000),
			"user": map[string]any{
				"userId":   "u1",
				"nickname": "渔人甲",
				"avatar":   "https://img.example.com/a.png",
			},
			"interactInfo": map[string]any{
				"likedCount":     "120",
				"commentCount":   "8",
				"sharedCount":    "3",
				"collectedCount": "44",
			},
			"imageList": []any{
				map[string]any{"urlDefault": "https://img.example.com/1.png", "width": float64(1080), "height": float64(1440)},
			},
		},
	}}
	conn, _ := newTestConnector(page)

	stream, err := conn.ExtractContentStream(context.Background(), []string{"https://www.xiaohongshu.com/explore/n1"}, 1)
	require.NoError(t, err)
	results := collect(t, stream)

	require.Len(t, results, 1)
	res := results[0]
	require.True(t, res.Success)
	require.Equal(t, "n1", res.Data["note_id"])
	require.Equal(t, "钓鱼装备清单", res.Data["title"])
	user, ok := res.Data["user"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "渔人甲", user["nickname"])
	images, ok := res.Data["images"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, images, 1)
	require.Equal(t, "https://img.example.com/1.png", images[0]["url"])
	require.Empty(t, page.extractList(), "fast path must not spend an AI extraction")
}

func TestExtractFallsBackWhenStateMissing(t *testing.T) {
	t.Parallel()
	page := &fakePage{extractData: map[string]any{"title": "某篇笔记"}}
	conn, _ := newTestConnector(page)

	stream, err := conn.ExtractContentStream(context.Background(), []string{"https://www.xiaohongshu.com/explore/n2"}, 1)
	require.NoError(t, err)
	results := collect(t, stream)

	require.Len(t, results, 1)
	require.True(t, results[0].Success)
	require.Equal(t, "某篇笔记", results[0].Data["title"])
	require.Equal(t, []string{noteInstruction}, page.extractList())
}

func TestExtractFallsBackWhenEvaluateFails(t *testing.T) {
	t.Parallel()
	page := &fakePage{
		evalErr:     errors.New("execution context destroyed"),
		extractData: map[string]any{"title": "fallback"},
	}
	conn, _ := newTestConnector(page)

	stream, err := conn.ExtractContentStream(context.Background(), []string{"https://www.xiaohongshu.com/explore/n3"}, 1)
	require.NoError(t, err)
	results := collect(t, stream)

	require.Len(t, results, 1)
	require.True(t, results[0].Success)
	require.Equal(t, []string{noteInstruction}, page.extractList())
}

func TestExtractRoutesByURLShape(t *testing.T) {
	t.Parallel()
	page := &fakePage{extractData: map[string]any{"notes": []any{}}}
	conn, _ := newTestConnector(page)

	stream, err := conn.ExtractContentStream(context.Background(), []string{"https://www.xiaohongshu.com/user/profile/u7"}, 1)
	require.NoError(t, err)
	collect(t, stream)
	require.Equal(t, []string{userNotesInstruction}, page.extractList())

	page2 := &fakePage{extractData: map[string]any{"title": "页面"}}
	conn2, _ := newTestConnector(page2)
	stream, err = conn2.ExtractContentStream(context.Background(), []string{"https://www.xiaohongshu.com/goods/123"}, 1)
	require.NoError(t, err)
	collect(t, stream)
	require.Equal(t, []string{generalInstruction}, page2.extractList())
}

func TestHarvestNavigatesProfileAndClamps(t *testing.T) {
	t.Parallel()
	page := &fakePage{extractData: map[string]any{
		"notes": []any{
			map[string]any{"title": "一"},
			map[string]any{"title": "二"},
			map[string]any{"title": "三"},
		},
	}}
	conn, opener := newTestConnector(page)

	notes, err := conn.HarvestUserContent(context.Background(), "u1", content.HarvestOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, notes, 2)
	require.Equal(t, "一", notes[0]["title"])
	require.Equal(t, []string{"https://www.xiaohongshu.com/user/profile/u1"}, page.navList())
	require.True(t, opener.session.closed(), "harvest must release its session")
}

func TestHarvestRequiresUserID(t *testing.T) {
	t.Parallel()
	page := &fakePage{}
	conn, opener := newTestConnector(page)

	_, err := conn.HarvestUserContent(context.Background(), "", content.HarvestOptions{})
	require.ErrorIs(t, err, content.ErrInvalidInput)
	require.Zero(t, opener.openCount())
}

func TestSearchEscapesKeyword(t *testing.T) {
	t.Parallel()
	page := &fakePage{extractData: map[string]any{
		"results": []any{
			map[string]any{"title": "路亚入门"},
			map[string]any{"title": "装备评测"},
		},
	}}
	conn, _ := newTestConnector(page)

	results, err := conn.SearchAndExtract(context.Background(), "钓鱼 装备", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	want := fmt.Sprintf(searchURLFormat, url.QueryEscape("钓鱼 装备"))
	require.Equal(t, []string{want}, page.navList())
}

func TestExtractByCreatorIsHarvest(t *testing.T) {
	t.Parallel()
	page := &fakePage{extractData: map[string]any{
		"notes": []any{map[string]any{"title": "唯一"}},
	}}
	conn, _ := newTestConnector(page)

	items, err := conn.ExtractByCreator(context.Background(), "creator-9", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Contains(t, page.navList()[0], "/user/profile/creator-9")
}

func TestPublishBindsLoginContext(t *testing.T) {
	t.Parallel()
	page := &fakePage{}
	conn, opener := newTestConnector(page)

	receipt, err := conn.PublishContent(context.Background(), content.PublishRequest{
		Kind:      "image",
		Title:     "春季开钓",
		Body:      "水库实测三小时",
		Images:    []string{"https://img.example.com/1.png"},
		Tags:      []string{"钓鱼"},
		ContextID: "ctx-99",
	})
	require.NoError(t, err)
	require.True(t, receipt.Success)
	require.Equal(t, "ctx-99", opener.options(0).ContextID)
	require.Equal(t, []string{publishURL}, page.navList())

	acts := page.actList()
	require.Len(t, acts, 1)
	require.Contains(t, acts[0], "图文")
	require.Contains(t, acts[0], "https://img.example.com/1.png")
	require.Contains(t, acts[0], "钓鱼")
	require.True(t, opener.session.closed(), "publish must release its session")
}

func TestPublishInstructionVariants(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		req  content.PublishRequest
		want string
	}{
		{"image", content.PublishRequest{Kind: "image", Images: []string{"a.png"}}, "图文笔记"},
		{"video", content.PublishRequest{Kind: "video"}, "视频笔记"},
		{"text", content.PublishRequest{Kind: "text"}, "文字笔记"},
		{"image without media degrades to text", content.PublishRequest{Kind: "image"}, "文字笔记"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Contains(t, publishInstruction(tc.req), tc.want)
		})
	}
}

func TestLoginDefaultsCookieDomain(t *testing.T) {
	t.Parallel()
	page := &fakePage{}
	conn, opener := newTestConnector(page)

	contextID, err := conn.LoginWithCookies(context.Background(), content.LoginCredentials{
		Cookies: []content.Cookie{
			{Name: "web_session", Value: "abc"},
			{Name: "other", Value: "def", Domain: "cdn.example.com"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "ctx-1", contextID)

	cookies := page.cookieList()
	require.Len(t, cookies, 2)
	require.Equal(t, cookieDomain, cookies[0].Domain)
	require.Equal(t, "cdn.example.com", cookies[1].Domain)
	require.Equal(t, []string{homeURL}, page.navList())
	require.Equal(t, "ctx-1", opener.options(0).ContextID)
	require.True(t, opener.session.closed(), "login must release its session")
}

func TestLoginReportsVerificationFailure(t *testing.T) {
	t.Parallel()
	page := &fakePage{waitErr: errors.New("selector never appeared")}
	conn, _ := newTestConnector(page)

	_, err := conn.LoginWithCookies(context.Background(), content.LoginCredentials{
		Cookies: []content.Cookie{{Name: "web_session", Value: "expired"}},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "login verification failed")
}

func TestCapabilitiesListEverything(t *testing.T) {
	t.Parallel()
	conn, _ := newTestConnector(&fakePage{})
	require.ElementsMatch(t, []content.Capability{
		content.CapExtract, content.CapMonitor, content.CapHarvest,
		content.CapPublish, content.CapLogin, content.CapSearch,
	}, conn.Capabilities())
}

func TestProcessNoteDetail(t *testing.T) {
	t.Parallel()
	require.Nil(t, processNoteDetail(nil))
	require.Nil(t, processNoteDetail(map[string]any{"comments": map[string]any{}}))

	// Some payload variants carry nickName instead of nickname.
	out := processNoteDetail(map[string]any{
		"note": map[string]any{
			"noteId": "n9",
			"title":  "t",
			"user":   map[string]any{"userId": "u9", "nickName": "备用昵称"},
		},
	})
	require.NotNil(t, out)
	user, ok := out["user"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "备用昵称", user["nickname"])
	require.Equal(t, "u9", user["user_id"])
}

func TestMonitorRoutesThroughNoteExtraction(t *testing.T) {
	t.Parallel()
	page := &fakePage{evalResult: map[string]any{
		"note": map[string]any{"noteId": "n1", "title": "t",
			"interactInfo": map[string]any{"likedCount": "10"}},
	}}
	conn, opener := newTestConnector(page)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := conn.MonitorChanges(ctx, []string{"https://www.xiaohongshu.com/explore/n1"}, 30*time.Second)
	require.NoError(t, err)

	// Baseline sweep runs immediately; cancel and wait for teardown.
	require.Eventually(t, func() bool { return len(page.navList()) > 0 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	for range stream {
	}
	require.True(t, opener.session.closed(), "monitor teardown must release the session")
}
