package query

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/null2264/MoodleBot/internal/domain/account"
	"github.com/null2264/MoodleBot/internal/domain/coursework"
	"github.com/null2264/MoodleBot/internal/domain/shared"
	"github.com/null2264/MoodleBot/internal/infrastructure/external/moodle"
)

type mapStore map[account.UserID]string

func (m mapStore) Get(_ context.Context, userID account.UserID) (account.Token, bool, error) {
	v, ok := m[userID]
	if !ok {
		return account.Token{}, false, nil
	}
	return account.Token{UserID: userID, Value: v}, true, nil
}

func (m mapStore) Put(_ context.Context, token account.Token) error {
	m[token.UserID] = token.Value
	return nil
}

type fakeGateway struct {
	userID     string
	userIDOK   bool
	courses    []coursework.Course
	events     []coursework.Event
	err        error
	calls      int
	lastToken  string
	lastNow    time.Time
	lastUserID string
}

func (f *fakeGateway) GetUserID(_ context.Context, token string) (string, bool, error) {
	f.calls++
	f.lastToken = token
	return f.userID, f.userIDOK, f.err
}

func (f *fakeGateway) GetEnrolledCourses(_ context.Context, userID, token string, now time.Time) ([]coursework.Course, error) {
	f.calls++
	f.lastToken = token
	f.lastUserID = userID
	f.lastNow = now
	return f.courses, f.err
}

func (f *fakeGateway) GetUpcomingEvents(_ context.Context, token string) ([]coursework.Event, error) {
	f.calls++
	f.lastToken = token
	return f.events, f.err
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(store account.TokenStore, gw MoodleGateway) *CourseworkService {
	return NewCourseworkService(store, gw, func() time.Time { return fixedNow }, nil)
}

func TestFetchToken(t *testing.T) {
	svc := newService(mapStore{"u1": "tok"}, &fakeGateway{})

	token, ok, err := svc.FetchToken(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok", token)

	_, ok, err = svc.FetchToken(context.Background(), "u2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFetchUserID_Unregistered(t *testing.T) {
	gw := &fakeGateway{}
	svc := newService(mapStore{}, gw)

	_, ok, err := svc.FetchUserID(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, gw.calls)
}

func TestIsRegistered(t *testing.T) {
	svc := newService(mapStore{"u1": "tok"}, &fakeGateway{})

	ok, err := svc.IsRegistered(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.IsRegistered(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetHomework_NotRegistered(t *testing.T) {
	gw := &fakeGateway{}
	svc := newService(mapStore{}, gw)

	_, err := svc.GetHomework(context.Background(), "u1")
	assert.ErrorIs(t, err, shared.ErrNotRegistered)
	assert.Equal(t, 0, gw.calls, "no Moodle call for unregistered users")
}

func TestGetHomework_UsesStoredToken(t *testing.T) {
	gw := &fakeGateway{events: []coursework.Event{{ID: 1, Name: "Essay is due"}}}
	svc := newService(mapStore{"u1": "tok-123"}, gw)

	events, err := svc.GetHomework(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, "tok-123", gw.lastToken)
}

func TestGetCourses_PassesClock(t *testing.T) {
	gw := &fakeGateway{userID: "42", userIDOK: true, courses: []coursework.Course{{ID: 7}}}
	svc := newService(mapStore{"u1": "tok"}, gw)

	courses, err := svc.GetCourses(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, courses, 1)
	assert.Equal(t, "42", gw.lastUserID)
	assert.Equal(t, fixedNow, gw.lastNow)
}

func TestGetCourses_UnresolvedUserID(t *testing.T) {
	gw := &fakeGateway{userIDOK: false}
	svc := newService(mapStore{"u1": "tok"}, gw)

	_, err := svc.GetCourses(context.Background(), "u1")
	assert.ErrorIs(t, err, shared.ErrRemoteUnavailable)
}

func TestGetMoodleUserID(t *testing.T) {
	gw := &fakeGateway{userID: "42", userIDOK: true}
	svc := newService(mapStore{"u1": "tok"}, gw)

	res, err := svc.GetMoodleUserID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "42", res.MoodleUserID)

	_, err = svc.GetMoodleUserID(context.Background(), "u2")
	assert.ErrorIs(t, err, shared.ErrNotRegistered)
}

func TestGetMoodleUserID_RemoteError(t *testing.T) {
	gw := &fakeGateway{err: errors.New("boom")}
	svc := newService(mapStore{"u1": "tok"}, gw)

	_, err := svc.GetMoodleUserID(context.Background(), "u1")
	assert.Error(t, err)
}

func TestGetHomework_MissingEventsAgainstMoodle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, moodle.FuncUpcomingView, r.URL.Query().Get("wsfunction"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"date":{}}`))
	}))
	defer srv.Close()

	cfg := moodle.DefaultClientConfig(srv.URL)
	cfg.RequestsPerSecond = 0
	client := moodle.NewClient(cfg)

	svc := newService(mapStore{"u1": "tok"}, client)

	_, err := svc.GetHomework(context.Background(), "u1")
	assert.ErrorIs(t, err, shared.ErrRemoteUnavailable)
}
