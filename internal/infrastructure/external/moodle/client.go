// Package moodle implements the Moodle web-service client.
// It exchanges credentials for a mobile-app token and calls REST functions
// with that token. The client holds no user data and never retries.
package moodle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/null2264/MoodleBot/internal/domain/account"
	"github.com/null2264/MoodleBot/internal/domain/coursework"
	"github.com/null2264/MoodleBot/internal/domain/shared"
	"github.com/null2264/MoodleBot/internal/infrastructure/metrics"
	"github.com/null2264/MoodleBot/pkg/circuitbreaker"
	"github.com/null2264/MoodleBot/pkg/logger"
)

// Web-service functions used by the bot.
const (
	FuncSiteInfo       = "core_webservice_get_site_info"
	FuncUsersCourses   = "core_enrol_get_users_courses"
	FuncCoursesByField = "core_course_get_courses_by_field"
	FuncUpcomingView   = "core_calendar_get_calendar_upcoming_view"
)

const (
	tokenPath = "login/token.php"
	restPath  = "webservice/rest/server.php"

	// DefaultService is the external service the mobile app token is issued for.
	DefaultService = "moodle_mobile_app"

	maxResponseSize = 10 << 20
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the Moodle client.
type ClientConfig struct {
	// BaseURL is the Moodle site root, e.g. https://elearning.example.ac.id/
	BaseURL string

	// Service is the external service name passed to login/token.php.
	Service string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// RequestsPerSecond limits outbound requests to the site.
	RequestsPerSecond float64

	// Burst is the limiter burst size.
	Burst int

	// Breaker overrides the default circuit breaker.
	Breaker *circuitbreaker.CircuitBreaker

	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:           baseURL,
		Service:           DefaultService,
		Timeout:           15 * time.Second,
		RequestsPerSecond: 10,
		Burst:             20,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the Moodle web-service client.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	breaker    *circuitbreaker.CircuitBreaker
	mapper     *Mapper
}

// NewClient creates a new Moodle client.
func NewClient(config ClientConfig) *Client {
	config.BaseURL = normalizeBaseURL(config.BaseURL)
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Service == "" {
		config.Service = DefaultService
	}

	log := config.Logger.With(logger.Component("moodle"))

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}

	breaker := config.Breaker
	if breaker == nil {
		breaker = circuitbreaker.MoodleAPIBreaker(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			if to == circuitbreaker.StateOpen {
				metrics.MoodleCircuitOpen.Set(1)
			} else {
				metrics.MoodleCircuitOpen.Set(0)
			}
		})
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     log,
		limiter:    rate.NewLimiter(limit, burst),
		breaker:    breaker,
		mapper:     NewMapper(config.BaseURL),
	}
}

// BaseURL returns the normalised site root.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// BreakerState returns the circuit breaker state. It is reported by /stats.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION
// ══════════════════════════════════════════════════════════════════════════════

// AcquireToken exchanges credentials for a web-service token.
// ok is false when Moodle answers without a token, e.g. on invalid login.
// Transport failures are returned as errors.
func (c *Client) AcquireToken(ctx context.Context, username, password string) (token string, ok bool, err error) {
	query := url.Values{"service": {c.config.Service}}
	form := url.Values{
		"username": {username},
		"password": {password},
	}

	body, err := c.post(ctx, "login", tokenPath, query, form)
	if err != nil {
		return "", false, err
	}

	var resp TokenResponseDTO
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", false, fmt.Errorf("decode token response: %w: %w", shared.ErrRemoteUnavailable, err)
	}

	if resp.Token == "" {
		c.logger.Info("moodle login rejected", "errorcode", resp.ErrorCode)
		return "", false, nil
	}

	return resp.Token, true, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GENERIC FUNCTION CALL
// ══════════════════════════════════════════════════════════════════════════════

// CallFunction invokes a web-service function and returns the raw JSON.
// A Moodle exception payload is returned as *Exception.
func (c *Client) CallFunction(ctx context.Context, token, function string, params url.Values) (json.RawMessage, error) {
	query := url.Values{
		"moodlewsrestformat": {"json"},
		"wsfunction":         {function},
	}
	form := url.Values{"wstoken": {token}}
	for k, vs := range params {
		form[k] = vs
	}

	body, err := c.post(ctx, function, restPath, query, form)
	if err != nil {
		return nil, err
	}

	if exc := parseException(body); exc != nil {
		metrics.MoodleRequestsTotal.WithLabelValues(function, "exception").Inc()
		return nil, fmt.Errorf("%s: %w", function, exc)
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("%s: invalid json: %w", function, shared.ErrRemoteUnavailable)
	}

	return json.RawMessage(body), nil
}

func (c *Client) callInto(ctx context.Context, token, function string, params url.Values, out any) error {
	raw, err := c.CallFunction(ctx, token, function, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w: %w", function, shared.ErrRemoteUnavailable, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// USER OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetProfile returns the token owner's site info.
func (c *Client) GetProfile(ctx context.Context, token string) (*account.Profile, error) {
	var info SiteInfoDTO
	if err := c.callInto(ctx, token, FuncSiteInfo, nil, &info); err != nil {
		return nil, fmt.Errorf("get site info: %w", err)
	}

	profile := &account.Profile{
		Username: info.Username,
		FullName: info.FullName,
		SiteName: info.SiteName,
	}
	if info.UserID != nil {
		profile.UserID = strconv.FormatInt(*info.UserID, 10)
	}
	return profile, nil
}

// GetUserID returns the Moodle user id of the token owner.
// ok is false when the response carries no userid.
func (c *Client) GetUserID(ctx context.Context, token string) (userID string, ok bool, err error) {
	profile, err := c.GetProfile(ctx, token)
	if err != nil {
		return "", false, err
	}
	if profile.UserID == "" {
		return "", false, nil
	}
	return profile.UserID, true, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COURSE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetCourseInfo fetches course detail by id.
// Returns shared.ErrCourseNotFound when Moodle returns no course.
func (c *Client) GetCourseInfo(ctx context.Context, courseID int64, token string) (*coursework.CourseDetail, error) {
	params := url.Values{
		"field": {"id"},
		"value": {strconv.FormatInt(courseID, 10)},
	}

	var resp CoursesByFieldDTO
	if err := c.callInto(ctx, token, FuncCoursesByField, params, &resp); err != nil {
		return nil, fmt.Errorf("get course %d: %w", courseID, err)
	}

	if len(resp.Courses) == 0 {
		return nil, fmt.Errorf("get course %d: %w", courseID, shared.ErrCourseNotFound)
	}

	detail := c.mapper.CourseDetailFromDTO(resp.Courses[0])
	return &detail, nil
}

// GetRawEnrolledCourses returns every course the user is enrolled in, merged
// with its detail. It makes one request for the enrolment list and one per
// course. The first failing detail request aborts the whole listing.
func (c *Client) GetRawEnrolledCourses(ctx context.Context, userID, token string) ([]coursework.Course, error) {
	var enrolled []EnrolledCourseDTO
	params := url.Values{"userid": {userID}}
	if err := c.callInto(ctx, token, FuncUsersCourses, params, &enrolled); err != nil {
		return nil, fmt.Errorf("get enrolled courses: %w", err)
	}

	courses := make([]coursework.Course, 0, len(enrolled))
	for _, dto := range enrolled {
		detail, err := c.GetCourseInfo(ctx, dto.ID, token)
		if err != nil {
			if errors.Is(err, shared.ErrUnauthorized) {
				return nil, fmt.Errorf("get enrolled courses: %w", err)
			}
			// A partial listing is never returned.
			return nil, fmt.Errorf("get enrolled courses: %w: %w", shared.ErrRemoteUnavailable, err)
		}
		course := c.mapper.CourseFromEnrolment(dto)
		courses = append(courses, course.Merge(*detail))
	}

	return courses, nil
}

// GetEnrolledCourses returns enrolled courses that have not ended at now,
// in enrolment order.
func (c *Client) GetEnrolledCourses(ctx context.Context, userID, token string, now time.Time) ([]coursework.Course, error) {
	courses, err := c.GetRawEnrolledCourses(ctx, userID, token)
	if err != nil {
		return nil, err
	}
	return coursework.FilterActive(courses, now), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CALENDAR OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetUpcomingEvents returns the user's upcoming calendar events in the order
// Moodle returns them. A response without an events field is reported as
// shared.ErrRemoteUnavailable.
func (c *Client) GetUpcomingEvents(ctx context.Context, token string) ([]coursework.Event, error) {
	var view UpcomingViewDTO
	if err := c.callInto(ctx, token, FuncUpcomingView, nil, &view); err != nil {
		return nil, fmt.Errorf("get upcoming events: %w", err)
	}

	if view.Events == nil {
		return nil, fmt.Errorf("get upcoming events: missing events field: %w", shared.ErrRemoteUnavailable)
	}

	return c.mapper.EventsFromDTO(*view.Events), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSPORT
// ══════════════════════════════════════════════════════════════════════════════

// post sends a form POST through the limiter and circuit breaker.
// Secrets travel in the form body only so they never appear in URLs or errors.
func (c *Client) post(ctx context.Context, label, path string, query, form url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("moodle rate limit wait: %w", err)
	}

	start := time.Now()
	var body []byte
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		body, err = c.doSingleRequest(ctx, path, query, form)
		return err
	})
	latency := time.Since(start)

	metrics.MoodleRequestDurationSeconds.WithLabelValues(label).Observe(latency.Seconds())

	if err != nil {
		outcome := "error"
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			outcome = "circuit_open"
		}
		metrics.MoodleRequestsTotal.WithLabelValues(label, outcome).Inc()
		c.logger.Warn("moodle request failed",
			logger.WSFunction(label),
			logger.Latency(latency),
			logger.Err(err),
		)
		return nil, shared.WrapError("moodle", label, shared.ErrServiceUnavailable, "request failed", err)
	}

	metrics.MoodleRequestsTotal.WithLabelValues(label, "ok").Inc()
	c.logger.Debug("moodle request", logger.WSFunction(label), logger.Latency(latency))

	return body, nil
}

func (c *Client) doSingleRequest(ctx context.Context, path string, query, form url.Values) ([]byte, error) {
	fullURL := c.config.BaseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("moodle returned status %d", resp.StatusCode)
	}

	return body, nil
}
