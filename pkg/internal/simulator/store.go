package simulator

import (
	"errors"
	"fmt"
	"time"

	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/tutorlink/calling/pkg/internal/models"
)

// Error messages double as the wire vocabulary the client classifies on,
// so their wording is part of the contract.
var (
	ErrNoActiveCall        = errors.New("No active call")
	ErrSubscriptionExpired = errors.New("Your subscription has expired")
	ErrNoSubscription      = errors.New("You have no active subscription")
	ErrTutorUnavailable    = errors.New("This tutor is not available right now")
	ErrAlreadyInCall       = errors.New("You already have an active call")
	ErrBadCredentials      = errors.New("invalid username or password")
)

// ActiveSession is one live call as the backend sees it. Both parties map
// to the same session; the backend enforces at most one per user.
type ActiveSession struct {
	ID         string
	RoomName   string
	StudentID  string
	TeacherID  string
	StartedAt  time.Time
	LastBeatAt time.Time
}

// Store is the simulator's in-memory source of truth: accounts, metered
// subscription balances, and active sessions. Finished calls go to the
// archive.
type Store struct {
	clk     clock.Clock
	archive Archive

	mu        sync.Mutex
	accounts  map[string]*models.Account
	passwords map[string]string
	balances  map[string]int
	sessions  map[string]*ActiveSession
}

func NewStore(clk clock.Clock, archive Archive) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{
		clk:       clk,
		archive:   archive,
		accounts:  make(map[string]*models.Account),
		passwords: make(map[string]string),
		balances:  make(map[string]int),
		sessions:  make(map[string]*ActiveSession),
	}
}

func (s *Store) AddAccount(account models.Account, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = &account
	s.passwords[account.ID] = password
}

func (s *Store) SetBalance(userID string, seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = seconds
}

func (s *Store) Balance(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID]
}

func (s *Store) Account(userID string) (models.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[userID]; ok {
		return *acc, true
	}
	return models.Account{}, false
}

func (s *Store) Authenticate(username, password string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, acc := range s.accounts {
		if acc.Name == username && s.passwords[id] == password {
			return *acc, nil
		}
	}
	return models.Account{}, ErrBadCredentials
}

// StartCall opens a session between a student and an available tutor,
// enforcing the single-active-call rule for both parties.
func (s *Store) StartCall(studentID, teacherID string) (*ActiveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	student, ok := s.accounts[studentID]
	if !ok || student.Role != models.RoleStudent {
		return nil, fmt.Errorf("only students can start calls")
	}
	if s.balances[studentID] <= 0 {
		return nil, ErrNoSubscription
	}
	teacher, ok := s.accounts[teacherID]
	if !ok || teacher.Role != models.RoleTeacher || !teacher.IsAvailable {
		return nil, ErrTutorUnavailable
	}
	if _, busy := s.sessions[studentID]; busy {
		return nil, ErrAlreadyInCall
	}
	if _, busy := s.sessions[teacherID]; busy {
		return nil, ErrTutorUnavailable
	}

	now := s.clk.Now()
	sess := &ActiveSession{
		ID:         uuid.NewString(),
		RoomName:   fmt.Sprintf("lesson-%s", uuid.NewString()[:8]),
		StudentID:  studentID,
		TeacherID:  teacherID,
		StartedAt:  now,
		LastBeatAt: now,
	}
	s.sessions[studentID] = sess
	s.sessions[teacherID] = sess

	log.Info().Str("session", sess.ID).Str("student", studentID).Str("teacher", teacherID).
		Msg("Call session started.")
	return sess, nil
}

// Heartbeat records liveness and bills the student for the time since the
// previous beat. Exhaustion of the balance ends the session authoritatively.
func (s *Store) Heartbeat(userID string) (*int, error) {
	s.mu.Lock()

	sess, ok := s.sessions[userID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNoActiveCall
	}

	now := s.clk.Now()
	billed := int(now.Sub(sess.LastBeatAt).Seconds())
	sess.LastBeatAt = now
	s.balances[sess.StudentID] -= billed

	if s.balances[sess.StudentID] <= 0 {
		s.balances[sess.StudentID] = 0
		s.endLocked(sess, "expiry")
		s.mu.Unlock()
		return nil, ErrSubscriptionExpired
	}

	var remaining *int
	if userID == sess.StudentID {
		remaining = lo.ToPtr(s.balances[sess.StudentID])
	}
	s.mu.Unlock()
	return remaining, nil
}

// EndCall closes the caller's session and returns it with the final
// duration, in seconds.
func (s *Store) EndCall(userID, endedBy string) (*ActiveSession, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return nil, 0, ErrNoActiveCall
	}

	duration := s.endLocked(sess, endedBy)
	return sess, duration, nil
}

func (s *Store) Active(userID string) (*ActiveSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	return sess, ok
}

// Elapsed reports how long the session has run so far.
func (s *Store) Elapsed(sess *ActiveSession) int {
	return int(s.clk.Now().Sub(sess.StartedAt).Seconds())
}

// CounterpartyOf resolves the other side of the session from the caller's
// perspective: a teacher sees the student, and vice versa.
func (s *Store) CounterpartyOf(userID string, sess *ActiveSession) models.Account {
	otherID := sess.TeacherID
	if userID == sess.TeacherID {
		otherID = sess.StudentID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[otherID]; ok {
		return *acc
	}
	return models.Account{ID: otherID}
}

func (s *Store) ListTutors() []models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	tutors := lo.FilterMap(lo.Values(s.accounts), func(acc *models.Account, _ int) (models.Account, bool) {
		return *acc, acc.Role == models.RoleTeacher
	})
	return tutors
}

func (s *Store) ToggleTutor(userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[userID]
	if !ok || acc.Role != models.RoleTeacher {
		return false, fmt.Errorf("only tutors can toggle availability")
	}
	acc.IsAvailable = !acc.IsAvailable
	return acc.IsAvailable, nil
}

// endLocked finalizes the session: bills the remaining slice, removes both
// parties, and archives the record. Returns the final duration in seconds.
func (s *Store) endLocked(sess *ActiveSession, endedBy string) int {
	now := s.clk.Now()

	billed := int(now.Sub(sess.LastBeatAt).Seconds())
	if billed > 0 {
		s.balances[sess.StudentID] -= billed
		if s.balances[sess.StudentID] < 0 {
			s.balances[sess.StudentID] = 0
		}
		sess.LastBeatAt = now
	}

	delete(s.sessions, sess.StudentID)
	delete(s.sessions, sess.TeacherID)

	duration := int(now.Sub(sess.StartedAt).Seconds())
	if s.archive != nil {
		rec := models.CallRecord{
			SessionID:       sess.ID,
			StudentID:       sess.StudentID,
			TeacherID:       sess.TeacherID,
			StartedAt:       sess.StartedAt,
			EndedAt:         now,
			DurationSeconds: duration,
			EndedBy:         endedBy,
		}
		if err := s.archive.Save(rec); err != nil {
			log.Error().Err(err).Msg("An error occurred when archiving the call record.")
		}
	}

	log.Info().Str("session", sess.ID).Str("ended_by", endedBy).Int("duration", duration).
		Msg("Call session ended.")
	return duration
}

// Sweep ends sessions whose parties stopped heartbeating, and sessions
// whose student balance has run dry between beats. Wired to a cron entry.
func (s *Store) Sweep(livenessTimeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	seen := make(map[string]bool)
	stale := make(map[*ActiveSession]string)
	for _, sess := range s.sessions {
		if seen[sess.ID] {
			continue
		}
		seen[sess.ID] = true
		if now.Sub(sess.LastBeatAt) > livenessTimeout {
			stale[sess] = "timeout"
		} else if s.balances[sess.StudentID] <= 0 {
			stale[sess] = "expiry"
		}
	}

	for sess, endedBy := range stale {
		s.endLocked(sess, endedBy)
	}
	if len(stale) > 0 {
		log.Debug().Int("affected", len(stale)).Msg("Swept stale call sessions.")
	}
}
