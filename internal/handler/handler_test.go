package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/bitspanel/ebs/internal/auth"
	"github.com/bitspanel/ebs/internal/handler"
	"github.com/bitspanel/ebs/internal/model"
	"github.com/bitspanel/ebs/internal/relay"
	"github.com/bitspanel/ebs/internal/repository"
	"github.com/bitspanel/ebs/internal/router"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// --- fakes -----------------------------------------------------------------

type fakeBroadcasters struct {
	rows map[int64]*model.Broadcaster
}

func (f *fakeBroadcasters) Ensure(_ context.Context, id int64) (*model.Broadcaster, error) {
	if b, ok := f.rows[id]; ok {
		return b, nil
	}
	b := &model.Broadcaster{ID: id}
	f.rows[id] = b
	return b, nil
}

func (f *fakeBroadcasters) GetByID(_ context.Context, id int64) (*model.Broadcaster, error) {
	b, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return b, nil
}

func (f *fakeBroadcasters) SetCurrentLayout(ctx context.Context, broadcasterID, layoutID int64) error {
	b, _ := f.Ensure(ctx, broadcasterID)
	b.CurrentLayoutID = &layoutID
	return nil
}

func (f *fakeBroadcasters) SetEditingLayout(ctx context.Context, broadcasterID, layoutID int64) error {
	b, _ := f.Ensure(ctx, broadcasterID)
	b.EditingLayoutID = &layoutID
	return nil
}

type fakeLayouts struct {
	rows    map[int64]*model.Layout
	nextID  int64
	deleted []int64
}

func (f *fakeLayouts) Create(_ context.Context, l *model.Layout) error {
	f.nextID++
	l.ID = f.nextID
	f.rows[l.ID] = l
	return nil
}

func (f *fakeLayouts) GetByID(_ context.Context, id int64) (*model.Layout, error) {
	l, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return l, nil
}

func (f *fakeLayouts) ListByBroadcaster(_ context.Context, broadcasterID int64) ([]*model.Layout, error) {
	var out []*model.Layout
	for _, l := range f.rows {
		if l.BroadcasterID == broadcasterID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeLayouts) Update(_ context.Context, l *model.Layout) error {
	if _, ok := f.rows[l.ID]; !ok {
		return repository.ErrNotFound
	}
	f.rows[l.ID] = l
	return nil
}

func (f *fakeLayouts) Delete(_ context.Context, id int64) error {
	if _, ok := f.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.rows, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeElements struct {
	byLayout map[int64][]*model.Element
	webhooks map[int64]*model.Webhook
	images   map[int64]*model.Image
	nextID   int64
}

func (f *fakeElements) ListByLayout(_ context.Context, layoutID int64) ([]*model.Element, error) {
	return f.byLayout[layoutID], nil
}

func (f *fakeElements) GetElement(_ context.Context, id int64) (*model.Element, error) {
	for _, els := range f.byLayout {
		for _, el := range els {
			if el.ID == id {
				return el, nil
			}
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeElements) GetImage(_ context.Context, id int64) (*model.Image, error) {
	img, ok := f.images[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return img, nil
}

func (f *fakeElements) WebhookByID(_ context.Context, id int64) (*model.Webhook, error) {
	wh, ok := f.webhooks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return wh, nil
}

func (f *fakeElements) add(layoutID int64, typ model.ElementType) *model.Element {
	f.nextID++
	el := &model.Element{
		ID:       f.nextID,
		LayoutID: layoutID,
		Type:     typ,
		Position: len(f.byLayout[layoutID]),
	}
	f.byLayout[layoutID] = append(f.byLayout[layoutID], el)
	return el
}

func (f *fakeElements) CreateText(_ context.Context, layoutID int64, text string) (*model.Element, error) {
	el := f.add(layoutID, model.ElementText)
	el.Text = &model.Text{ID: el.ID, ElementID: el.ID, Text: text}
	return el, nil
}

func (f *fakeElements) CreateImage(_ context.Context, layoutID int64, filename string, data []byte) (*model.Element, error) {
	el := f.add(layoutID, model.ElementImage)
	img := &model.Image{ID: el.ID, ElementID: el.ID, Filename: filename, Data: data, DateModified: time.Now()}
	el.Image = img
	f.images[img.ID] = img
	return el, nil
}

func (f *fakeElements) CreateWebhook(_ context.Context, layoutID int64, w *model.Webhook) (*model.Element, error) {
	el := f.add(layoutID, model.ElementWebhook)
	w.ID = el.ID
	w.ElementID = el.ID
	el.Webhook = w
	f.webhooks[w.ID] = w
	return el, nil
}

func (f *fakeElements) UpdateText(ctx context.Context, textID int64, text string) error {
	el, err := f.GetElement(ctx, textID)
	if err != nil || el.Text == nil {
		return repository.ErrNotFound
	}
	el.Text.Text = text
	return nil
}

func (f *fakeElements) UpdateImage(_ context.Context, imageID int64, filename string, data []byte) error {
	img, ok := f.images[imageID]
	if !ok {
		return repository.ErrNotFound
	}
	img.Filename = filename
	img.Data = data
	img.DateModified = time.Now()
	return nil
}

func (f *fakeElements) UpdateWebhook(_ context.Context, w *model.Webhook) error {
	old, ok := f.webhooks[w.ID]
	if !ok {
		return repository.ErrNotFound
	}
	*old = *w
	return nil
}

func (f *fakeElements) DeleteElement(_ context.Context, elementID int64) (int64, error) {
	for layoutID, els := range f.byLayout {
		for i, el := range els {
			if el.ID != elementID {
				continue
			}
			f.byLayout[layoutID] = append(els[:i], els[i+1:]...)
			for pos, rest := range f.byLayout[layoutID] {
				rest.Position = pos
			}
			return layoutID, nil
		}
	}
	return 0, repository.ErrNotFound
}

func (f *fakeElements) Reorder(_ context.Context, layoutID int64, order []int) error {
	els := f.byLayout[layoutID]
	if len(order) != len(els) {
		return repository.ErrInvalidOrder
	}
	seen := make(map[int]bool, len(order))
	for _, rank := range order {
		if rank < 0 || rank >= len(els) || seen[rank] {
			return repository.ErrInvalidOrder
		}
		seen[rank] = true
	}
	reordered := make([]*model.Element, len(els))
	for slot, rank := range order {
		reordered[slot] = els[rank]
		reordered[slot].Position = slot
	}
	f.byLayout[layoutID] = reordered
	return nil
}

type fakeResolver struct {
	owners map[string]int64
}

func (f *fakeResolver) OwnerOf(_ context.Context, kind model.ResourceKind, id int64) (int64, error) {
	owner, ok := f.owners[fmt.Sprintf("%s/%d", kind, id)]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return owner, nil
}

type recordingNotifier struct {
	channels []int64
}

func (n *recordingNotifier) NotifyRefresh(_ context.Context, channelID int64) error {
	n.channels = append(n.channels, channelID)
	return nil
}

// --- harness ---------------------------------------------------------------

type app struct {
	e            *echo.Echo
	broadcasters *fakeBroadcasters
	layouts      *fakeLayouts
	elements     *fakeElements
	resolver     *fakeResolver
	notifier     *recordingNotifier
}

func newApp(t *testing.T) *app {
	t.Helper()
	a := &app{
		broadcasters: &fakeBroadcasters{rows: map[int64]*model.Broadcaster{}},
		layouts:      &fakeLayouts{rows: map[int64]*model.Layout{}, nextID: 100},
		elements: &fakeElements{
			byLayout: map[int64][]*model.Element{},
			webhooks: map[int64]*model.Webhook{},
			images:   map[int64]*model.Image{},
			nextID:   500,
		},
		resolver: &fakeResolver{owners: map[string]int64{}},
		notifier: &recordingNotifier{},
	}
	v := auth.NewVerifier(testSecret)
	rl := relay.New(a.elements, v, time.Second, nil)
	h := handler.New(a.broadcasters, a.layouts, a.elements, a.notifier, rl)

	a.e = echo.New()
	router.Register(a.e, h, v, a.resolver, false)
	return a
}

func (a *app) own(kind model.ResourceKind, id, broadcasterID int64) {
	a.resolver.owners[fmt.Sprintf("%s/%d", kind, id)] = broadcasterID
}

func token(t *testing.T, channelID int64, role string) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"channel_id": strconv.FormatInt(channelID, 10),
		"role":       role,
		"exp":        time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func receipt(t *testing.T, exp time.Time) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
	}).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign receipt: %v", err)
	}
	return raw
}

func do(e *echo.Echo, method, path, tok string, body any) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if tok != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

// --- tests -----------------------------------------------------------------

func TestDeleteOwnedLayout(t *testing.T) {
	a := newApp(t)
	a.layouts.rows[7] = &model.Layout{ID: 7, BroadcasterID: 111, Name: "main"}
	a.own(model.KindLayout, 7, 111)

	rec := do(a.e, http.MethodDelete, "/layout/7", token(t, 111, auth.RoleBroadcaster), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if _, ok := a.layouts.rows[7]; ok {
		t.Fatal("layout 7 still present after delete")
	}
}

func TestDeleteForeignLayoutIsForbidden(t *testing.T) {
	a := newApp(t)
	a.layouts.rows[8] = &model.Layout{ID: 8, BroadcasterID: 222, Name: "someone else's"}
	a.own(model.KindLayout, 8, 222)

	rec := do(a.e, http.MethodDelete, "/layout/8", token(t, 111, auth.RoleBroadcaster), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body)
	}
	if len(a.layouts.deleted) != 0 {
		t.Fatalf("delete must not execute on a foreign layout, deleted=%v", a.layouts.deleted)
	}
}

func TestViewerCannotUseBroadcasterRoutes(t *testing.T) {
	a := newApp(t)

	rec := do(a.e, http.MethodPost, "/layout", token(t, 111, auth.RoleViewer), map[string]any{"name": "x"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d: %s", rec.Code, rec.Body)
	}
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	a := newApp(t)

	rec := do(a.e, http.MethodGet, "/layout", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body)
	}
}

func TestGetCurrentLayoutWithZeroElements(t *testing.T) {
	a := newApp(t)
	layoutID := int64(7)
	a.layouts.rows[7] = &model.Layout{ID: 7, BroadcasterID: 111, Name: "main", Title: "Hi", ShowTitle: true}
	a.broadcasters.rows[111] = &model.Broadcaster{ID: 111, CurrentLayoutID: &layoutID}

	rec := do(a.e, http.MethodGet, "/layout", token(t, 111, auth.RoleViewer), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var body struct {
		Layout *struct {
			ID       int64             `json:"id"`
			Elements []json.RawMessage `json:"elements"`
		} `json:"layout"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Layout == nil || body.Layout.ID != 7 {
		t.Fatalf("expected layout 7, got %s", rec.Body)
	}
	if len(body.Layout.Elements) != 0 {
		t.Fatalf("expected no elements, got %d", len(body.Layout.Elements))
	}
}

func TestGetCurrentLayoutWithoutActiveLayout(t *testing.T) {
	a := newApp(t)

	rec := do(a.e, http.MethodGet, "/layout", token(t, 111, auth.RoleViewer), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"layout":null`) {
		t.Fatalf("expected null layout, got %s", rec.Body)
	}
}

func TestRedeemExpiredReceiptMakesNoUpstreamCall(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer upstream.Close()

	a := newApp(t)
	a.elements.webhooks[5] = &model.Webhook{ID: 5, URL: upstream.URL, Data: map[string]any{}}
	a.own(model.KindWebhook, 5, 111)

	body := map[string]any{"transaction": map[string]any{
		"transactionReceipt": receipt(t, time.Now().Add(-time.Minute)),
	}}
	rec := do(a.e, http.MethodPost, "/webhook/5", token(t, 111, auth.RoleViewer), body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("expired receipt must not reach the webhook, got %d calls", calls)
	}
}

func TestRedeemUpstreamFailureIsSurfacedWithoutRetry(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	a := newApp(t)
	a.elements.webhooks[5] = &model.Webhook{ID: 5, URL: upstream.URL, Data: map[string]any{}}
	a.own(model.KindWebhook, 5, 111)

	body := map[string]any{"transaction": map[string]any{
		"transactionReceipt": receipt(t, time.Now().Add(time.Minute)),
	}}
	rec := do(a.e, http.MethodPost, "/webhook/5", token(t, 111, auth.RoleViewer), body)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), "webhook failed") {
		t.Fatalf("expected generic failure message, got %s", rec.Body)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly one delivery attempt, got %d", calls)
	}
}

func TestRedeemForeignWebhookIsForbidden(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer upstream.Close()

	a := newApp(t)
	a.elements.webhooks[5] = &model.Webhook{ID: 5, URL: upstream.URL, Data: map[string]any{}}
	a.own(model.KindWebhook, 5, 222)

	body := map[string]any{"transaction": map[string]any{
		"transactionReceipt": receipt(t, time.Now().Add(time.Minute)),
	}}
	rec := do(a.e, http.MethodPost, "/webhook/5", token(t, 111, auth.RoleViewer), body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("foreign webhook must not be called, got %d calls", calls)
	}
}

func TestCreateLayoutMarksEditing(t *testing.T) {
	a := newApp(t)

	rec := do(a.e, http.MethodPost, "/layout", token(t, 111, auth.RoleBroadcaster), map[string]any{
		"name": "new", "title": "Rewards", "show_title": true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	b := a.broadcasters.rows[111]
	if b == nil || b.EditingLayoutID == nil {
		t.Fatal("broadcaster row missing or editing layout not set")
	}
	if _, ok := a.layouts.rows[*b.EditingLayoutID]; !ok {
		t.Fatalf("editing layout %d does not exist", *b.EditingLayoutID)
	}
}

func TestActivateLayoutNotifiesViewers(t *testing.T) {
	a := newApp(t)
	a.layouts.rows[7] = &model.Layout{ID: 7, BroadcasterID: 111}
	a.own(model.KindLayout, 7, 111)

	rec := do(a.e, http.MethodPost, "/layout/7/activate", token(t, 111, auth.RoleBroadcaster), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	b := a.broadcasters.rows[111]
	if b == nil || b.CurrentLayoutID == nil || *b.CurrentLayoutID != 7 {
		t.Fatal("current layout not updated")
	}
	if len(a.notifier.channels) != 1 || a.notifier.channels[0] != 111 {
		t.Fatalf("expected one refresh for channel 111, got %v", a.notifier.channels)
	}
}

func TestReorderRejectsBadPermutation(t *testing.T) {
	a := newApp(t)
	a.layouts.rows[7] = &model.Layout{ID: 7, BroadcasterID: 111}
	a.own(model.KindLayout, 7, 111)
	first, _ := a.elements.CreateText(context.Background(), 7, "a")
	second, _ := a.elements.CreateText(context.Background(), 7, "b")

	rec := do(a.e, http.MethodPost, "/layout/7/order", token(t, 111, auth.RoleBroadcaster), map[string]any{
		"order": []int{0, 5},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body)
	}
	if first.Position != 0 || second.Position != 1 {
		t.Fatalf("order changed despite invalid request: %d, %d", first.Position, second.Position)
	}

	rec = do(a.e, http.MethodPost, "/layout/7/order", token(t, 111, auth.RoleBroadcaster), map[string]any{
		"order": []int{1, 0},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if second.Position != 0 || first.Position != 1 {
		t.Fatalf("swap not applied: %d, %d", first.Position, second.Position)
	}
}

func TestCreateWebhookValidation(t *testing.T) {
	a := newApp(t)
	a.layouts.rows[7] = &model.Layout{ID: 7, BroadcasterID: 111}
	a.own(model.KindLayout, 7, 111)
	tok := token(t, 111, auth.RoleBroadcaster)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"plain http url", map[string]any{"name": "w", "url": "http://example.com/hook", "bits_product": "reward_100bits"}},
		{"unknown product", map[string]any{"name": "w", "url": "https://example.com/hook", "bits_product": "reward_3bits"}},
		{"negative cooldown", map[string]any{"name": "w", "url": "https://example.com/hook", "bits_product": "reward_100bits", "cooldown": -1}},
	}
	for _, tc := range cases {
		rec := do(a.e, http.MethodPost, "/layout/7/webhook", tok, tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d: %s", tc.name, rec.Code, rec.Body)
		}
	}

	rec := do(a.e, http.MethodPost, "/layout/7/webhook", tok, map[string]any{
		"name": "w", "url": "https://example.com/hook", "bits_product": "reward_100bits",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
}

func TestPublicImageServing(t *testing.T) {
	a := newApp(t)
	png := []byte{0x89, 'P', 'N', 'G'}
	a.elements.images[9] = &model.Image{ID: 9, Filename: "logo.png", Data: png, DateModified: time.Now()}

	rec := do(a.e, http.MethodGet, "/element/image/9", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get(echo.HeaderContentType); got != "image/png" {
		t.Fatalf("expected image/png, got %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=86400" {
		t.Fatalf("unexpected cache header %q", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), png) {
		t.Fatal("image bytes mangled in transit")
	}
}
