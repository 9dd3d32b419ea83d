package moodle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/null2264/MoodleBot/internal/domain/shared"
	"github.com/null2264/MoodleBot/pkg/circuitbreaker"
)

// fakeMoodle answers web-service calls from a table keyed by wsfunction.
type fakeMoodle struct {
	t         *testing.T
	responses map[string]string
	calls     atomic.Int32

	mu       sync.Mutex
	lastForm url.Values
}

func newFakeMoodle(t *testing.T, responses map[string]string) (*fakeMoodle, *Client) {
	t.Helper()

	f := &fakeMoodle{t: t, responses: responses}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig(srv.URL)
	cfg.RequestsPerSecond = 0
	cfg.Breaker = circuitbreaker.New("test", circuitbreaker.WithFailureThreshold(100))
	return f, NewClient(cfg)
}

func (f *fakeMoodle) serve(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	assert.NoError(f.t, r.ParseForm())
	f.mu.Lock()
	f.lastForm = r.PostForm
	f.mu.Unlock()

	key := r.URL.Path
	if fn := r.URL.Query().Get("wsfunction"); fn != "" {
		key = fn
		if v := r.PostForm.Get("value"); v != "" {
			key += ":" + v
		}
	}

	body, ok := f.responses[key]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if body == "500" {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func (f *fakeMoodle) form(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastForm.Get(key)
}

func TestNewClient_NormalisesBaseURL(t *testing.T) {
	c := NewClient(DefaultClientConfig("https://moodle.example.com"))
	assert.Equal(t, "https://moodle.example.com/", c.BaseURL())
}

func TestAcquireToken_Success(t *testing.T) {
	f, c := newFakeMoodle(t, map[string]string{
		"/login/token.php": `{"token":"tok-123","privatetoken":null}`,
	})

	token, ok, err := c.AcquireToken(context.Background(), "alice", "p&ss word")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok-123", token)
	assert.Equal(t, "alice", f.form("username"))
	assert.Equal(t, "p&ss word", f.form("password"))
}

func TestAcquireToken_InvalidLogin(t *testing.T) {
	_, c := newFakeMoodle(t, map[string]string{
		"/login/token.php": `{"error":"Invalid login, please try again","errorcode":"invalidlogin"}`,
	})

	token, ok, err := c.AcquireToken(context.Background(), "alice", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, token)
}

func TestAcquireToken_TransportFailure(t *testing.T) {
	_, c := newFakeMoodle(t, map[string]string{
		"/login/token.php": "500",
	})

	_, ok, err := c.AcquireToken(context.Background(), "alice", "secret1")
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, shared.IsExternalService(err))
	assert.NotContains(t, err.Error(), "secret1")
}

func TestCallFunction_Exception(t *testing.T) {
	_, c := newFakeMoodle(t, map[string]string{
		FuncSiteInfo: `{"exception":"moodle_exception","errorcode":"invalidtoken","message":"Invalid token - token not found"}`,
	})

	_, err := c.CallFunction(context.Background(), "bad", FuncSiteInfo, nil)
	require.Error(t, err)
	var exc *Exception
	require.ErrorAs(t, err, &exc)
	assert.Equal(t, "invalidtoken", exc.ErrorCode)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestCallFunction_SendsTokenInBody(t *testing.T) {
	f, c := newFakeMoodle(t, map[string]string{
		FuncSiteInfo: `{"userid":7}`,
	})

	raw, err := c.CallFunction(context.Background(), "tok-123", FuncSiteInfo, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"userid":7}`, string(raw))
	assert.Equal(t, "tok-123", f.form("wstoken"))
}

func TestGetUserID(t *testing.T) {
	_, c := newFakeMoodle(t, map[string]string{
		FuncSiteInfo: `{"sitename":"E-Learning","username":"alice","fullname":"Alice A","userid":4242}`,
	})

	id, ok, err := c.GetUserID(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "4242", id)
}

func TestGetUserID_Missing(t *testing.T) {
	_, c := newFakeMoodle(t, map[string]string{
		FuncSiteInfo: `{"sitename":"E-Learning"}`,
	})

	id, ok, err := c.GetUserID(context.Background(), "tok")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestGetCourseInfo_EmptyListIsNotFound(t *testing.T) {
	_, c := newFakeMoodle(t, map[string]string{
		FuncCoursesByField + ":9": `{"courses":[],"warnings":[]}`,
	})

	_, err := c.GetCourseInfo(context.Background(), 9, "tok")
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrCourseNotFound)
	assert.True(t, shared.IsNotFound(err))
}

const enrolledCourses = `[
	{"id":1,"fullname":"Algorithms","displayname":"Algorithms","progress":50,"startdate":1600000000,"enddate":4102444800},
	{"id":2,"fullname":"Old Course","displayname":"Old Course","progress":100,"startdate":1500000000,"enddate":1510000000},
	{"id":3,"fullname":"Databases &amp; SQL","displayname":"","progress":null,"startdate":1600000000,"enddate":0}
]`

func courseDetail(id, end string, contacts string) string {
	return `{"courses":[{"id":` + id + `,"fullname":"c` + id + `","displayname":"Course ` + id +
		`","startdate":1600000000,"enddate":` + end + `,"contacts":` + contacts + `}],"warnings":[]}`
}

func TestGetRawEnrolledCourses_MergesDetail(t *testing.T) {
	f, c := newFakeMoodle(t, map[string]string{
		FuncUsersCourses:          enrolledCourses,
		FuncCoursesByField + ":1": courseDetail("1", "4102444800", `[{"id":10,"fullname":"Ada Lovelace"},{"id":11,"fullname":"Alan Turing"}]`),
		FuncCoursesByField + ":2": courseDetail("2", "1510000000", `[]`),
		FuncCoursesByField + ":3": courseDetail("3", "0", `[]`),
	})

	courses, err := c.GetRawEnrolledCourses(context.Background(), "4242", "tok")
	require.NoError(t, err)
	require.Len(t, courses, 3)
	assert.Equal(t, int32(4), f.calls.Load())

	assert.Equal(t, "Course 1", courses[0].DisplayName)
	assert.Equal(t, []string{"Ada Lovelace", "Alan Turing"}, courses[0].LecturerNames())
	require.NotNil(t, courses[0].Progress)
	assert.Equal(t, 50.0, *courses[0].Progress)
	assert.Equal(t, c.BaseURL()+"course/view.php?id=1", courses[0].ViewURL)

	assert.Nil(t, courses[2].Progress)
	assert.Equal(t, "Databases & SQL", courses[2].FullName)
	assert.False(t, courses[2].HasEndDate())
}

func TestGetEnrolledCourses_FiltersEnded(t *testing.T) {
	_, c := newFakeMoodle(t, map[string]string{
		FuncUsersCourses:          enrolledCourses,
		FuncCoursesByField + ":1": courseDetail("1", "4102444800", `[]`),
		FuncCoursesByField + ":2": courseDetail("2", "1510000000", `[]`),
		FuncCoursesByField + ":3": courseDetail("3", "0", `[]`),
	})

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	courses, err := c.GetEnrolledCourses(context.Background(), "4242", "tok", now)
	require.NoError(t, err)
	require.Len(t, courses, 2)
	assert.Equal(t, int64(1), courses[0].ID)
	assert.Equal(t, int64(3), courses[1].ID)
}

func TestGetRawEnrolledCourses_DetailFailureAborts(t *testing.T) {
	_, c := newFakeMoodle(t, map[string]string{
		FuncUsersCourses:          enrolledCourses,
		FuncCoursesByField + ":1": courseDetail("1", "4102444800", `[]`),
		FuncCoursesByField + ":2": `{"courses":[]}`,
	})

	courses, err := c.GetRawEnrolledCourses(context.Background(), "4242", "tok")
	assert.Nil(t, courses)
	assert.ErrorIs(t, err, shared.ErrCourseNotFound)
	assert.ErrorIs(t, err, shared.ErrRemoteUnavailable)
	assert.Contains(t, err.Error(), "course 2")
}

func TestGetUpcomingEvents(t *testing.T) {
	_, c := newFakeMoodle(t, map[string]string{
		FuncUpcomingView: `{"events":[
			{"id":5,"name":"Essay is due","description":"<p>Write <strong>2</strong> pages</p>","url":"https://m/mod/assign/view.php?id=5",
			 "course":{"id":1,"fullname":"Writing","viewurl":"https://m/course/view.php?id=1"},"timemodified":1700000000,"timesort":1700100000},
			{"id":6,"name":"Quiz closes","description":"","url":"u","timemodified":0,"timesort":1700200000}
		]}`,
	})

	events, err := c.GetUpcomingEvents(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "Essay is due", events[0].Name)
	assert.Equal(t, "Writing", events[0].Course.FullName)
	assert.Equal(t, int64(1700100000), events[0].Deadline.Unix())
	assert.Equal(t, int64(6), events[1].ID)
	assert.True(t, events[1].TimeModified.IsZero())
}

func TestGetUpcomingEvents_MissingField(t *testing.T) {
	_, c := newFakeMoodle(t, map[string]string{
		FuncUpcomingView: `{"defaulteventcontext":1}`,
	})

	events, err := c.GetUpcomingEvents(context.Background(), "tok")
	assert.Nil(t, events)
	assert.ErrorIs(t, err, shared.ErrRemoteUnavailable)
}

func TestClient_CircuitOpensAfterFailures(t *testing.T) {
	f, c := newFakeMoodle(t, map[string]string{FuncSiteInfo: "500"})
	c.breaker = circuitbreaker.New("test", circuitbreaker.WithFailureThreshold(2), circuitbreaker.WithTimeout(time.Hour))

	for i := 0; i < 3; i++ {
		_, _, err := c.GetUserID(context.Background(), "tok")
		require.Error(t, err)
	}

	assert.Equal(t, int32(2), f.calls.Load())
	assert.Equal(t, circuitbreaker.StateOpen, c.BreakerState())

	_, _, err := c.GetUserID(context.Background(), "tok")
	assert.True(t, errors.Is(err, circuitbreaker.ErrCircuitOpen))
}

func TestTokenResponseDTO_Parsing(t *testing.T) {
	var dto TokenResponseDTO
	require.NoError(t, json.Unmarshal([]byte(`{"token":"abc","privatetoken":"def"}`), &dto))
	assert.Equal(t, "abc", dto.Token)
	assert.Equal(t, "def", dto.PrivateToken)
}
