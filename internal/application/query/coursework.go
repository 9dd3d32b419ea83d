// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"log/slog"
	"time"

	"github.com/null2264/MoodleBot/internal/domain/account"
	"github.com/null2264/MoodleBot/internal/domain/coursework"
	"github.com/null2264/MoodleBot/internal/domain/shared"
	"github.com/null2264/MoodleBot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// COURSEWORK SERVICE
// Запросы пользователя к Moodle от его имени: идентификатор, предстоящие
// события (/homework) и активные курсы (/courses).
// ══════════════════════════════════════════════════════════════════════════════

// MoodleGateway - операции Moodle, нужные запросам.
type MoodleGateway interface {
	GetUserID(ctx context.Context, token string) (userID string, ok bool, err error)
	GetEnrolledCourses(ctx context.Context, userID, token string, now time.Time) ([]coursework.Course, error)
	GetUpcomingEvents(ctx context.Context, token string) ([]coursework.Event, error)
}

// CourseworkService выполняет запросы к Moodle с токеном пользователя.
type CourseworkService struct {
	tokens account.TokenStore
	moodle MoodleGateway
	now    func() time.Time
	logger *slog.Logger
}

// NewCourseworkService создаёт сервис. nil now заменяется на time.Now.
func NewCourseworkService(tokens account.TokenStore, moodle MoodleGateway, now func() time.Time, log *slog.Logger) *CourseworkService {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &CourseworkService{
		tokens: tokens,
		moodle: moodle,
		now:    now,
		logger: log.With(logger.Component("coursework")),
	}
}

// FetchToken возвращает токен пользователя. ok == false, если пользователь не зарегистрирован.
func (s *CourseworkService) FetchToken(ctx context.Context, userID account.UserID) (string, bool, error) {
	token, ok, err := s.tokens.Get(ctx, userID)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token.Value, true, nil
}

// FetchUserID возвращает идентификатор пользователя в Moodle.
// ok == false, если пользователь не зарегистрирован или Moodle не вернул userid.
func (s *CourseworkService) FetchUserID(ctx context.Context, userID account.UserID) (string, bool, error) {
	token, ok, err := s.FetchToken(ctx, userID)
	if err != nil || !ok {
		return "", false, err
	}
	return s.moodle.GetUserID(ctx, token)
}

// IsRegistered сообщает, есть ли у пользователя сохранённый токен.
func (s *CourseworkService) IsRegistered(ctx context.Context, userID account.UserID) (bool, error) {
	_, ok, err := s.tokens.Get(ctx, userID)
	return ok, err
}

// GetHomework возвращает предстоящие события календаря пользователя.
func (s *CourseworkService) GetHomework(ctx context.Context, userID account.UserID) ([]coursework.Event, error) {
	token, err := s.requireToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	events, err := s.moodle.GetUpcomingEvents(ctx, token)
	if err != nil {
		s.logger.Warn("failed to get upcoming events", logger.Operation("GetHomework"), logger.UserID(userID.String()), logger.Err(err))
		return nil, err
	}
	return events, nil
}

// GetCourses возвращает активные курсы пользователя.
func (s *CourseworkService) GetCourses(ctx context.Context, userID account.UserID) ([]coursework.Course, error) {
	token, err := s.requireToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	moodleID, ok, err := s.moodle.GetUserID(ctx, token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, shared.ErrRemoteUnavailable
	}

	courses, err := s.moodle.GetEnrolledCourses(ctx, moodleID, token, s.now())
	if err != nil {
		s.logger.Warn("failed to get enrolled courses", logger.Operation("GetCourses"), logger.UserID(userID.String()), logger.Err(err))
		return nil, err
	}
	return courses, nil
}

// UserIDResult - ответ для /id.
type UserIDResult struct {
	MoodleUserID string
}

// GetMoodleUserID возвращает идентификатор Moodle или ErrNotRegistered.
func (s *CourseworkService) GetMoodleUserID(ctx context.Context, userID account.UserID) (UserIDResult, error) {
	token, err := s.requireToken(ctx, userID)
	if err != nil {
		return UserIDResult{}, err
	}

	moodleID, ok, err := s.moodle.GetUserID(ctx, token)
	if err != nil {
		return UserIDResult{}, err
	}
	if !ok {
		return UserIDResult{}, shared.ErrRemoteUnavailable
	}
	return UserIDResult{MoodleUserID: moodleID}, nil
}

func (s *CourseworkService) requireToken(ctx context.Context, userID account.UserID) (string, error) {
	token, ok, err := s.FetchToken(ctx, userID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", shared.ErrNotRegistered
	}
	return token, nil
}
