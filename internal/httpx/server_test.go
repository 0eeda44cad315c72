package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ariefcatur/canteen-queue/internal/alerting"
	"github.com/ariefcatur/canteen-queue/internal/analytics"
	"github.com/ariefcatur/canteen-queue/internal/booking"
	"github.com/ariefcatur/canteen-queue/internal/canteen"
	"github.com/ariefcatur/canteen-queue/internal/memstore"
	"github.com/ariefcatur/canteen-queue/internal/menu"
	"github.com/ariefcatur/canteen-queue/internal/queue"
	"github.com/ariefcatur/canteen-queue/internal/redisx"
	"github.com/ariefcatur/canteen-queue/internal/slots"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

var testNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type fakeStatus struct {
	raw  map[string][]byte
	puts int
}

func (f *fakeStatus) GetStatus(_ context.Context, id string) ([]byte, bool, error) {
	b, ok := f.raw[id]
	return b, ok, nil
}

func (f *fakeStatus) PutStatus(_ context.Context, v booking.View) error {
	f.puts++
	b, err := json.Marshal(redisx.StatusOf(v))
	if err != nil {
		return err
	}
	f.raw[v.ID] = b
	return nil
}

type testAPI struct {
	t       *testing.T
	handler http.Handler
	auth    *Authenticator
	policy  *alerting.Policy
	board   *Board
	status  *fakeStatus
}

type apiOpts struct {
	capacity int
	limiter  *RateLimiter
	checks   map[string]func(ctx context.Context) error
}

func newTestAPI(t *testing.T, o apiOpts) *testAPI {
	t.Helper()
	if o.capacity == 0 {
		o.capacity = 5
	}
	reg, err := slots.NewRegistry(
		canteen.Slot{ID: "lunch", Name: "Lunch", Start: 11 * 60, End: 14 * 60, Capacity: o.capacity, Active: true},
		canteen.Slot{ID: "dinner", Name: "Dinner", Start: 18 * 60, End: 20 * 60, Capacity: o.capacity, Active: true},
	)
	require.NoError(t, err)
	cat, err := menu.NewCatalog(
		canteen.MenuItem{ID: "rice", Name: "Rice", PriceCents: 1500, SlotIDs: []string{"lunch", "dinner"}, Available: true},
		canteen.MenuItem{ID: "tea", Name: "Tea", PriceCents: 500, SlotIDs: []string{"lunch"}, Available: true},
	)
	require.NoError(t, err)

	clock := func() time.Time { return testNow }
	store := memstore.New()
	log := zap.NewNop()
	engine := queue.NewEngine(reg, store, queue.WithClock(clock), queue.WithLocation(time.UTC))
	board := NewBoard(engine, []string{"*"}, log)
	svc := booking.NewService(engine, cat, store, log, booking.WithNotifier(board))
	occupancy := analytics.New(reg, store, engine, analytics.WithClock(clock), analytics.WithLocation(time.UTC))
	policy := alerting.NewPolicy(store, occupancy, reg, log, alerting.WithClock(clock))
	agg := analytics.New(reg, store, engine, analytics.WithClock(clock), analytics.WithLocation(time.UTC), analytics.WithAlertCounter(policy))

	status := &fakeStatus{raw: map[string][]byte{}}
	auth := NewAuthenticator(testSecret)
	router := NewRouter(RouterConfig{
		Log:         log,
		CORSOrigins: []string{"*"},
		Auth:        auth,
		Limiter:     o.limiter,
		Board:       board,
		Checks:      o.checks,
	},
		&BookingsHandler{Service: svc, Status: status, Log: log},
		&SlotsHandler{Slots: reg, Menu: cat, Store: store, Bookings: svc, Analytics: agg, Log: log},
		&AdminHandler{Analytics: agg, Alerts: policy, Log: log},
	)
	return &testAPI{t: t, handler: router, auth: auth, policy: policy, board: board, status: status}
}

func (a *testAPI) token(sub string, role canteen.Role) string {
	tok, err := a.auth.Issue(sub, role, time.Hour)
	require.NoError(a.t, err)
	return tok
}

func (a *testAPI) do(method, path, sub string, role canteen.Role, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+a.token(sub, role))
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) book(student, slotID string) booking.View {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/bookings", student, canteen.RoleStudent, CreateBookingReq{
		SlotID: slotID,
		Items:  []canteen.ItemQty{{MenuItemID: "rice", Qty: 2}},
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	var v booking.View
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t, apiOpts{})
	rec := api.do(http.MethodGet, "/healthz", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestHealthz_FailingDependency(t *testing.T) {
	redisUp := true
	api := newTestAPI(t, apiOpts{checks: map[string]func(ctx context.Context) error{
		"postgres": func(context.Context) error { return nil },
		"redis": func(context.Context) error {
			if redisUp {
				return nil
			}
			return errors.New("connection refused")
		},
	}})

	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/healthz", "", "", nil).Code)

	redisUp = false
	rec := api.do(http.MethodGet, "/healthz", "", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "redis unavailable", rec.Body.String())
}

func TestAuth_MissingAndInvalidToken(t *testing.T) {
	api := newTestAPI(t, apiOpts{})

	rec := api.do(http.MethodGet, "/api/slots", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/slots", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := NewAuthenticator("other-secret").Issue("s1", canteen.RoleStudent, time.Hour)
	require.NoError(t, err)
	_, err = api.auth.Parse(other)
	assert.Error(t, err)
}

func TestAuth_ParseRejectsUnknownRole(t *testing.T) {
	auth := NewAuthenticator(testSecret)
	tok, err := auth.Issue("u1", canteen.Role("guest"), time.Hour)
	require.NoError(t, err)

	_, err = auth.Parse(tok)
	assert.Error(t, err)

	tok, err = auth.Issue("u1", canteen.RoleStaff, time.Hour)
	require.NoError(t, err)
	actor, err := auth.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, booking.Actor{ID: "u1", Role: canteen.RoleStaff}, actor)
}

func TestCreateBooking(t *testing.T) {
	api := newTestAPI(t, apiOpts{})

	v := api.book("s1", "lunch")
	assert.Equal(t, "s1", v.StudentID)
	assert.Equal(t, "L001", v.TokenNumber)
	assert.Equal(t, 1, v.QueuePosition)
	assert.Equal(t, canteen.StatusPending, v.Status)
	assert.Equal(t, 3000, v.TotalCents)

	rec := api.do(http.MethodPost, "/api/bookings", "staff-1", canteen.RoleStaff, CreateBookingReq{
		SlotID: "lunch", Items: []canteen.ItemQty{{MenuItemID: "rice", Qty: 1}},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateBooking_ErrorMapping(t *testing.T) {
	api := newTestAPI(t, apiOpts{capacity: 1})
	api.book("s1", "lunch")

	cases := []struct {
		name    string
		student string
		req     CreateBookingReq
		code    int
	}{
		{"capacity", "s2", CreateBookingReq{SlotID: "lunch", Items: []canteen.ItemQty{{MenuItemID: "rice", Qty: 1}}}, http.StatusConflict},
		{"duplicate", "s1", CreateBookingReq{SlotID: "lunch", Items: []canteen.ItemQty{{MenuItemID: "rice", Qty: 1}}}, http.StatusConflict},
		{"item not on slot menu", "s3", CreateBookingReq{SlotID: "dinner", Items: []canteen.ItemQty{{MenuItemID: "tea", Qty: 1}}}, http.StatusBadRequest},
		{"no items", "s3", CreateBookingReq{SlotID: "dinner"}, http.StatusBadRequest},
		{"missing slot", "s3", CreateBookingReq{Items: []canteen.ItemQty{{MenuItemID: "rice", Qty: 1}}}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := api.do(http.MethodPost, "/api/bookings", tc.student, canteen.RoleStudent, tc.req)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/bookings", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+api.token("s9", canteen.RoleStudent))
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookingOwnership(t *testing.T) {
	api := newTestAPI(t, apiOpts{})
	v := api.book("s1", "lunch")

	rec := api.do(http.MethodGet, "/api/bookings/"+v.ID, "s2", canteen.RoleStudent, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodGet, "/api/bookings/"+v.ID, "staff-1", canteen.RoleStaff, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(http.MethodDelete, "/api/bookings/"+v.ID, "s2", canteen.RoleStudent, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodGet, "/api/students/s1/bookings", "s2", canteen.RoleStudent, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodGet, "/api/students/s1/bookings", "s1", canteen.RoleStudent, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []booking.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = api.do(http.MethodGet, "/api/bookings/missing", "s1", canteen.RoleStudent, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestModifyAndCancel(t *testing.T) {
	api := newTestAPI(t, apiOpts{})
	first := api.book("s1", "lunch")
	second := api.book("s2", "lunch")

	rec := api.do(http.MethodPut, "/api/bookings/"+second.ID, "s2", canteen.RoleStudent, ModifyBookingReq{
		Items: []canteen.ItemQty{{MenuItemID: "tea", Qty: 1}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var v booking.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, 500, v.TotalCents)
	assert.Equal(t, 2, v.QueuePosition)

	rec = api.do(http.MethodPut, "/api/bookings/"+second.ID, "s2", canteen.RoleStudent, ModifyBookingReq{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodDelete, "/api/bookings/"+first.ID, "s1", canteen.RoleStudent, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, canteen.StatusCancelled, v.Status)

	rec = api.do(http.MethodGet, "/api/bookings/"+second.ID, "s2", canteen.RoleStudent, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, 1, v.QueuePosition)

	rec = api.do(http.MethodDelete, "/api/bookings/"+first.ID, "s1", canteen.RoleStudent, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStaffQueueFlow(t *testing.T) {
	api := newTestAPI(t, apiOpts{})
	a := api.book("s1", "lunch")
	api.book("s2", "lunch")

	rec := api.do(http.MethodPost, "/api/slots/lunch/call-next", "s1", canteen.RoleStudent, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodPost, "/api/slots/lunch/call-next", "staff-1", canteen.RoleStaff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var v booking.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, a.ID, v.ID)
	assert.Equal(t, canteen.StatusServing, v.Status)

	rec = api.do(http.MethodGet, "/api/slots/lunch/queue", "staff-1", canteen.RoleStaff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var q []booking.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	require.Len(t, q, 2)
	assert.Equal(t, 0, q[0].QueuePosition)
	assert.Equal(t, 1, q[1].QueuePosition)

	rec = api.do(http.MethodPut, "/api/bookings/"+a.ID+"/mark-served", "staff-1", canteen.RoleStaff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, canteen.StatusServed, v.Status)

	rec = api.do(http.MethodPut, "/api/bookings/"+a.ID+"/mark-served", "staff-1", canteen.RoleStaff, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(http.MethodPost, "/api/slots/lunch/call-next", "staff-1", canteen.RoleStaff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(http.MethodPost, "/api/slots/lunch/call-next", "staff-1", canteen.RoleStaff, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStatusEndpoint_ReadThrough(t *testing.T) {
	api := newTestAPI(t, apiOpts{})
	v := api.book("s1", "lunch")

	rec := api.do(http.MethodGet, "/api/bookings/"+v.ID+"/status", "s1", canteen.RoleStudent, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st redisx.TokenStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "L001", st.TokenNumber)
	assert.Equal(t, 1, api.status.puts)

	// served from the cache now
	rec = api.do(http.MethodGet, "/api/bookings/"+v.ID+"/status", "s1", canteen.RoleStudent, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, api.status.puts)

	rec = api.do(http.MethodGet, "/api/bookings/"+v.ID+"/status", "s2", canteen.RoleStudent, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSlotsAndMenuAdmin(t *testing.T) {
	api := newTestAPI(t, apiOpts{})

	rec := api.do(http.MethodPut, "/api/slots/snacks", "admin-1", canteen.RoleAdmin, PutSlotReq{
		Name: "Snacks", Start: "16:00", End: "17:30", Capacity: 30,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var s SlotResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, "S", s.TokenPrefix)
	assert.Equal(t, "16:00", s.Start)
	assert.True(t, s.Active)

	rec = api.do(http.MethodPut, "/api/slots/bad", "admin-1", canteen.RoleAdmin, PutSlotReq{
		Name: "Bad", Start: "17:00", End: "16:00", Capacity: 1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodPut, "/api/slots/snacks", "staff-1", canteen.RoleStaff, PutSlotReq{})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodGet, "/api/slots", "s1", canteen.RoleStudent, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []SlotResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 3)
	assert.Equal(t, "lunch", list[0].ID)
	assert.Equal(t, "snacks", list[1].ID)

	rec = api.do(http.MethodPut, "/api/menu/samosa", "admin-1", canteen.RoleAdmin, PutMenuItemReq{
		Name: "Samosa", PriceCents: 300, SlotIDs: []string{"snacks"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(http.MethodPut, "/api/menu/ghost", "admin-1", canteen.RoleAdmin, PutMenuItemReq{
		Name: "Ghost", PriceCents: 100, SlotIDs: []string{"brunch"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodGet, "/api/menu?slot_id=snacks", "s1", canteen.RoleStudent, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var items []canteen.MenuItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "samosa", items[0].ID)
}

func TestAnalyticsAndOccupancy(t *testing.T) {
	api := newTestAPI(t, apiOpts{capacity: 4})
	api.book("s1", "lunch")
	api.book("s2", "lunch")

	rec := api.do(http.MethodGet, "/api/slots/lunch/occupancy", "s1", canteen.RoleStudent, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var occ OccupancyResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &occ))
	assert.Equal(t, 50.0, occ.Occupancy)
	assert.Equal(t, canteen.CrowdMedium, occ.CrowdLevel)

	rec = api.do(http.MethodGet, "/api/analytics", "s1", canteen.RoleStudent, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodGet, "/api/analytics?days=0", "admin-1", canteen.RoleAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = api.do(http.MethodGet, "/api/analytics?days=abc", "admin-1", canteen.RoleAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodGet, "/api/analytics", "admin-1", canteen.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap analytics.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, analytics.DefaultDays, snap.Days)
	require.Len(t, snap.Slots, 2)
	assert.Equal(t, 2, snap.Slots[0].ActiveBookings)
}

func TestAlertsResolve(t *testing.T) {
	api := newTestAPI(t, apiOpts{capacity: 2})
	api.book("s1", "lunch")
	api.book("s2", "lunch")

	raised, err := api.policy.EvaluateAll(context.Background())
	require.NoError(t, err)
	require.Len(t, raised, 1)
	assert.Equal(t, canteen.SeverityCritical, raised[0].Severity)

	rec := api.do(http.MethodGet, "/api/alerts?resolved=false", "admin-1", canteen.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var alerts []canteen.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)

	path := "/api/alerts/" + alerts[0].ID + "/resolve"
	rec = api.do(http.MethodPost, path, "admin-1", canteen.RoleAdmin, ResolveAlertReq{Note: "opened counter 2"})
	require.Equal(t, http.StatusOK, rec.Code)
	var a canteen.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	assert.True(t, a.Resolved)
	assert.Equal(t, "admin-1", a.ResolvedBy)

	rec = api.do(http.MethodPost, path, "admin-2", canteen.RoleAdmin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(http.MethodGet, "/api/alerts?resolved=maybe", "admin-1", canteen.RoleAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodGet, "/api/alerts?resolved=false", "admin-1", canteen.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	assert.Empty(t, alerts)
}

func TestRateLimit(t *testing.T) {
	api := newTestAPI(t, apiOpts{limiter: NewRateLimiter(0.001, 1)})

	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/healthz", "", "", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, api.do(http.MethodGet, "/healthz", "", "", nil).Code)
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.getLimiter("10.0.0.1")
	rl.getLimiter("10.0.0.2")
	rl.visitors["10.0.0.1"].lastSeen = time.Now().Add(-2 * time.Hour)

	assert.Equal(t, 1, rl.Sweep(time.Hour))
	assert.Len(t, rl.visitors, 1)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(canteen.ErrNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(canteen.ErrEmptyQueue))
	assert.Equal(t, http.StatusConflict, statusFor(canteen.ErrSlotClosed))
	assert.Equal(t, http.StatusBadRequest, statusFor(canteen.ErrInvalidItem))
	assert.Equal(t, http.StatusForbidden, statusFor(canteen.ErrForbidden))
	assert.Equal(t, http.StatusInternalServerError, statusFor(context.DeadlineExceeded))
}

func TestBoard_PushesQueueChanges(t *testing.T) {
	api := newTestAPI(t, apiOpts{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go api.board.Run(ctx)

	srv := httptest.NewServer(api.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/slots/lunch"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var msg BoardMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "lunch", msg.SlotID)
	assert.Empty(t, msg.Tokens)

	require.Eventually(t, func() bool { return api.board.Watchers("lunch") == 1 }, 2*time.Second, 10*time.Millisecond)
	api.book("s1", "lunch")

	require.NoError(t, conn.ReadJSON(&msg))
	require.Len(t, msg.Tokens, 1)
	assert.Equal(t, "L001", msg.Tokens[0].Token)
	assert.Equal(t, 1, msg.Tokens[0].Position)
}

func TestBoard_DropsWatcherThatFallsBehind(t *testing.T) {
	b := NewBoard(nil, nil, zap.NewNop())
	slow := &watcher{send: make(chan []byte, 1)}
	fast := &watcher{send: make(chan []byte, 2)}
	b.subscribers["lunch"] = map[*watcher]struct{}{slow: {}, fast: {}}

	b.broadcast("lunch", []byte("one"))
	b.broadcast("lunch", []byte("two"))

	assert.Equal(t, 1, b.Watchers("lunch"))
	assert.Equal(t, []byte("one"), <-slow.send)
	_, open := <-slow.send
	assert.False(t, open)
	assert.Equal(t, []byte("one"), <-fast.send)
	assert.Equal(t, []byte("two"), <-fast.send)

	// a later disconnect of the dropped watcher is a no-op
	b.drop("lunch", slow)
	assert.Equal(t, 1, b.Watchers("lunch"))
}
