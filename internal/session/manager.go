package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smartattend/internal/audit"
	"smartattend/internal/metrics"
	"smartattend/internal/recognize"
	"smartattend/internal/reconcile"
	"smartattend/internal/roster"
	"smartattend/internal/token"
)

// Manager coordinates session lifecycle, check-in evidence and photo
// evidence, and hands the merged inputs to the reconciliation policy at
// finalize time.
type Manager struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	bySchedule map[string]string

	issuer   *token.Issuer
	rosters  roster.Provider
	policy   reconcile.Policy
	archiver Archiver
	audit    *audit.Recorder
	log      *zap.Logger

	matchThreshold float64
	ttl            time.Duration
	now            func() time.Time
}

// Config bundles manager construction options.
type Config struct {
	Issuer         *token.Issuer
	Rosters        roster.Provider
	Policy         reconcile.Policy
	Archiver       Archiver
	Audit          *audit.Recorder
	Log            *zap.Logger
	MatchThreshold float64
	SessionTTL     time.Duration
}

// NewManager creates a session manager.
func NewManager(cfg Config) *Manager {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 15 * time.Minute
	}
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = 0.75
	}
	return &Manager{
		sessions:       make(map[string]*Session),
		bySchedule:     make(map[string]string),
		issuer:         cfg.Issuer,
		rosters:        cfg.Rosters,
		policy:         cfg.Policy,
		archiver:       cfg.Archiver,
		audit:          cfg.Audit,
		log:            cfg.Log,
		matchThreshold: cfg.MatchThreshold,
		ttl:            cfg.SessionTTL,
		now:            time.Now,
	}
}

// Open starts a session for a schedule slot, freezing the roster and
// issuing the first check-in code atomically.
func (m *Manager) Open(ctx context.Context, scheduleID, teacherID string) (Status, token.Token, error) {
	owns, err := m.rosters.Owns(ctx, scheduleID, teacherID)
	if err != nil {
		return Status{}, token.Token{}, fmt.Errorf("schedule lookup: %w", err)
	}
	if !owns {
		return Status{}, token.Token{}, ErrNotOwner
	}
	students, err := m.rosters.Roster(ctx, scheduleID)
	if err != nil {
		return Status{}, token.Token{}, fmt.Errorf("roster lookup: %w", err)
	}

	now := m.now().UTC()
	s := &Session{
		ID:         uuid.NewString(),
		ScheduleID: scheduleID,
		TeacherID:  teacherID,
		OpenedAt:   now,
		ExpiresAt:  now.Add(m.ttl),
		state:      StateOpen,
		roster:     students,
		checkIns:   make(map[string]CheckInRecord),
	}

	m.mu.Lock()
	if prevID, ok := m.bySchedule[scheduleID]; ok {
		if prev := m.sessions[prevID]; prev != nil {
			prev.mu.Lock()
			m.expireLocked(prev)
			busy := !prev.state.Terminal()
			prev.mu.Unlock()
			if busy {
				m.mu.Unlock()
				return Status{}, token.Token{}, ErrScheduleBusy
			}
		}
	}
	m.sessions[s.ID] = s
	m.bySchedule[scheduleID] = s.ID
	m.mu.Unlock()

	tok, err := m.issuer.Issue(ctx, s.ID)
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, s.ID)
		delete(m.bySchedule, scheduleID)
		m.mu.Unlock()
		return Status{}, token.Token{}, fmt.Errorf("issue token: %w", err)
	}

	metrics.SessionsOpened.Inc()
	m.log.Info("attendance session opened",
		zap.String("session_id", s.ID),
		zap.String("schedule_id", scheduleID),
		zap.String("teacher_id", teacherID),
		zap.Int("roster_size", len(students)))

	s.mu.Lock()
	st := s.statusLocked()
	s.mu.Unlock()
	return st, tok, nil
}

// Reissue replaces the session's check-in code; only the new code is valid
// afterwards. Already-confirmed records are untouched.
func (m *Manager) Reissue(ctx context.Context, sessionID, teacherID string) (token.Token, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return token.Token{}, err
	}
	s.mu.Lock()
	m.expireLocked(s)
	if s.state.Terminal() {
		s.mu.Unlock()
		return token.Token{}, ErrSessionClosed
	}
	if s.TeacherID != teacherID {
		s.mu.Unlock()
		return token.Token{}, ErrNotOwner
	}
	s.mu.Unlock()

	return m.issuer.Issue(ctx, sessionID)
}

// ValidateToken answers a student's pre-flight code scan.
func (m *Manager) ValidateToken(ctx context.Context, value, studentID string) (token.Status, error) {
	status, _, err := m.issuer.Validate(ctx, value, studentID)
	return status, err
}

// RecordCheckIn records the code+face check-in path for one student. The
// confidence comes from the live face verifier; the threshold decides
// CONFIRMED versus REJECTED. Confirmed check-ins are idempotent per student:
// a repeat attempt returns the existing confirmation.
func (m *Manager) RecordCheckIn(ctx context.Context, sessionID, studentID, tokenValue string, confidence float64) (CheckInResult, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return CheckInResult{}, err
	}

	s.mu.Lock()
	m.expireLocked(s)
	if s.state.Terminal() {
		s.mu.Unlock()
		return CheckInResult{}, ErrSessionClosed
	}
	if !s.onRosterLocked(studentID) {
		s.mu.Unlock()
		return CheckInResult{}, ErrNotOnRoster
	}
	if rec, ok := s.checkIns[studentID]; ok {
		s.mu.Unlock()
		return CheckInResult{Outcome: OutcomeConfirmed, Confidence: rec.Confidence, RedeemedAt: rec.RedeemedAt}, nil
	}
	s.mu.Unlock()

	// Token validation does store I/O, so it runs outside the session lock.
	status, tok, err := m.issuer.Validate(ctx, tokenValue, studentID)
	if err != nil {
		return CheckInResult{}, fmt.Errorf("validate token: %w", err)
	}
	if status == token.StatusUnknown || status == token.StatusExpired {
		return CheckInResult{}, fmt.Errorf("%w: %s", ErrInvalidToken, status)
	}
	if status == token.StatusOK && tok.SessionID != sessionID {
		return CheckInResult{}, fmt.Errorf("%w: wrong session", ErrInvalidToken)
	}

	if confidence < m.matchThreshold {
		metrics.CheckInsRejected.Inc()
		m.audit.Record(ctx, audit.Event{
			Kind: audit.KindCheckIn, SessionID: sessionID, StudentID: studentID,
			Confidence: confidence, Outcome: string(OutcomeRejected),
		})
		return CheckInResult{Outcome: OutcomeRejected, Confidence: confidence}, nil
	}

	s.mu.Lock()
	m.expireLocked(s)
	if s.state.Terminal() {
		s.mu.Unlock()
		return CheckInResult{}, ErrSessionClosed
	}
	if rec, ok := s.checkIns[studentID]; ok {
		// concurrent duplicate lost the race; hand back the winner's record
		s.mu.Unlock()
		return CheckInResult{Outcome: OutcomeConfirmed, Confidence: rec.Confidence, RedeemedAt: rec.RedeemedAt}, nil
	}
	if status == token.StatusAlreadyUsed {
		// redeemed earlier yet no confirmed record survived; force a rescan
		s.mu.Unlock()
		return CheckInResult{}, fmt.Errorf("%w: %s", ErrInvalidToken, status)
	}
	rec := CheckInRecord{StudentID: studentID, RedeemedAt: m.now().UTC(), Confidence: confidence}
	s.checkIns[studentID] = rec
	s.mu.Unlock()

	if _, err := m.issuer.MarkRedeemed(ctx, sessionID, studentID); err != nil {
		m.log.Warn("redemption mark failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	metrics.CheckInsConfirmed.Inc()
	m.audit.Record(ctx, audit.Event{
		Kind: audit.KindCheckIn, SessionID: sessionID, StudentID: studentID,
		Confidence: confidence, Outcome: string(OutcomeConfirmed),
	})
	m.log.Info("check-in confirmed",
		zap.String("session_id", sessionID),
		zap.String("student_id", studentID),
		zap.Float64("confidence", confidence))
	return CheckInResult{Outcome: OutcomeConfirmed, Confidence: confidence, RedeemedAt: rec.RedeemedAt}, nil
}

// SubmitPhoto attaches one group photo's detections, replacing any prior
// batch. Resubmission before finalize fully replaces the detection set.
func (m *Manager) SubmitPhoto(ctx context.Context, sessionID, teacherID string, dets []recognize.Detection) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	m.expireLocked(s)
	if s.state.Terminal() {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.TeacherID != teacherID {
		s.mu.Unlock()
		return ErrNotOwner
	}
	s.detections = append([]recognize.Detection(nil), dets...)
	s.hasPhoto = true
	s.state = StatePhotoSubmitted
	s.mu.Unlock()

	metrics.PhotoSubmissions.Inc()
	m.audit.Record(ctx, audit.Event{
		Kind: audit.KindPhotoSubmit, SessionID: sessionID, Outcome: "stored",
	})
	m.log.Info("group photo detections stored",
		zap.String("session_id", sessionID),
		zap.Int("detections", len(dets)))
	return nil
}

// Finalize reconciles all evidence into the final attendance roll and
// freezes the session. Finalizing an already-finalized session returns the
// frozen roll; a session with zero evidence sources is rejected.
func (m *Manager) Finalize(ctx context.Context, sessionID, teacherID string) ([]reconcile.Record, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	m.expireLocked(s)
	if s.state == StateFinalized {
		roll := append([]reconcile.Record(nil), s.roll...)
		s.mu.Unlock()
		return roll, nil
	}
	if s.state.Terminal() {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.TeacherID != teacherID {
		s.mu.Unlock()
		return nil, ErrNotOwner
	}
	if len(s.checkIns) == 0 && !s.hasPhoto {
		s.mu.Unlock()
		return nil, ErrNoEvidence
	}

	checkIns := make([]reconcile.CheckInEvidence, 0, len(s.checkIns))
	for _, rec := range s.checkIns {
		checkIns = append(checkIns, reconcile.CheckInEvidence{
			StudentID:  rec.StudentID,
			RedeemedAt: rec.RedeemedAt,
			Confidence: rec.Confidence,
		})
	}
	photo := make([]reconcile.PhotoEvidence, 0, len(s.detections))
	for _, d := range s.detections {
		photo = append(photo, reconcile.PhotoEvidence{StudentID: d.StudentID, Confidence: d.Confidence})
	}

	roll := reconcile.Finalize(s.roster, checkIns, photo, m.policy)
	s.roll = roll
	s.state = StateFinalized
	out := append([]reconcile.Record(nil), roll...)
	s.mu.Unlock()

	if err := m.issuer.Invalidate(ctx, sessionID); err != nil {
		m.log.Warn("token invalidate failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	if m.archiver != nil {
		if err := m.archiver.SaveRoll(ctx, sessionID, s.ScheduleID, m.now().UTC(), roll); err != nil {
			m.log.Error("final roll archive failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	metrics.SessionsFinalized.Inc()
	m.log.Info("session finalized",
		zap.String("session_id", sessionID),
		zap.Int("roster_size", len(roll)))
	return out, nil
}

// Cancel moves the session to CANCELLED and invalidates its code.
func (m *Manager) Cancel(ctx context.Context, sessionID, teacherID string) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	m.expireLocked(s)
	if s.state.Terminal() {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.TeacherID != teacherID {
		s.mu.Unlock()
		return ErrNotOwner
	}
	s.state = StateCancelled
	s.mu.Unlock()

	if err := m.issuer.Invalidate(ctx, sessionID); err != nil {
		m.log.Warn("token invalidate failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	metrics.SessionsCancelled.Inc()
	m.log.Info("session cancelled", zap.String("session_id", sessionID))
	return nil
}

// Status is safe to call at any time, including after finalize.
func (m *Manager) Status(_ context.Context, sessionID string) (Status, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return Status{}, err
	}
	s.mu.Lock()
	m.expireLocked(s)
	st := s.statusLocked()
	s.mu.Unlock()
	return st, nil
}

// Roll returns the frozen final roll of a finalized session.
func (m *Manager) Roll(_ context.Context, sessionID string) ([]reconcile.Record, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateFinalized {
		return nil, ErrSessionClosed
	}
	return append([]reconcile.Record(nil), s.roll...), nil
}

// StartSweeper expires overdue sessions on a timer. Expiry is also checked
// lazily on every operation, so the sweep only keeps status queries and
// metrics honest for idle sessions.
func (m *Manager) StartSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(ctx)
			}
		}
	}()
}

func (m *Manager) sweep(ctx context.Context) {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	for _, s := range all {
		s.mu.Lock()
		expired := m.expireLocked(s)
		s.mu.Unlock()
		if expired {
			if err := m.issuer.Invalidate(ctx, s.ID); err != nil {
				m.log.Warn("token invalidate failed", zap.String("session_id", s.ID), zap.Error(err))
			}
		}
	}
}

func (m *Manager) get(sessionID string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// expireLocked transitions an overdue session to EXPIRED. Caller holds the
// session lock. Reports whether the transition happened now.
func (m *Manager) expireLocked(s *Session) bool {
	if s.state.Terminal() {
		return false
	}
	if m.now().Before(s.ExpiresAt) {
		return false
	}
	s.state = StateExpired
	metrics.SessionsExpired.Inc()
	m.log.Info("session expired", zap.String("session_id", s.ID))
	return true
}

func (s *Session) onRosterLocked(studentID string) bool {
	for _, id := range s.roster {
		if id == studentID {
			return true
		}
	}
	return false
}
