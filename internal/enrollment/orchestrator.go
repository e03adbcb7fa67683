// Package enrollment runs the side effects of a completed payment:
// marking the enrollment paid and registering the student for the course's
// upcoming sessions. Enrollments and sessions themselves are owned by
// course management; this package only consumes their service interfaces.
package enrollment

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/learnsphere/payments-api/internal/ledger"
)

type Enrollment struct {
	ID           uuid.UUID
	CourseID     uuid.UUID
	StudentEmail string
	StudentName  string
	Paid         bool
}

type Session struct {
	ID       uuid.UUID
	CourseID uuid.UUID
	Title    string
	StartsAt time.Time
}

// EnrollmentService marks enrollments paid. CompletePayment is idempotent
// on the provider transaction id.
type EnrollmentService interface {
	CompletePayment(ctx context.Context, enrollmentID uuid.UUID, providerTransactionID string) (Enrollment, error)
}

// SessionService is the session orchestration facade. RegisterParticipant
// may fail per session; callers treat it as best-effort and a late-joiner
// re-registration path exists on the course management side.
type SessionService interface {
	UpcomingSessions(ctx context.Context, courseID uuid.UUID) ([]Session, error)
	RegisterParticipant(ctx context.Context, sessionID uuid.UUID, email, fullName string) error
}

// RegistrationOutcome records the result of one session registration
// attempt, so partial failure is observable rather than swallowed.
type RegistrationOutcome struct {
	SessionID uuid.UUID
	Err       error
}

type Orchestrator struct {
	enrollments EnrollmentService
	sessions    SessionService
	callTimeout time.Duration
}

func NewOrchestrator(enrollments EnrollmentService, sessions SessionService) *Orchestrator {
	return &Orchestrator{
		enrollments: enrollments,
		sessions:    sessions,
		callTimeout: 5 * time.Second,
	}
}

// CompleteEnrollment runs once per transition into completed; the caller
// guarantees exactly-once via the ledger's idempotent status update.
//
// A transaction without enrollment_id metadata is not an error: not every
// payment is enrollment-related. A failure marking the enrollment paid is
// returned so it gets logged loudly, but never rolls back the payment.
// Session registrations are best-effort: each gets its own short timeout
// and one failure does not stop the rest.
func (o *Orchestrator) CompleteEnrollment(ctx context.Context, tx ledger.Transaction) ([]RegistrationOutcome, error) {
	rawID := tx.Metadata[ledger.MetaEnrollmentID]
	if rawID == "" {
		log.Printf("Transaction %s completed without enrollment_id metadata, no enrollment to activate", tx.ID)
		return nil, nil
	}

	enrollmentID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("invalid enrollment_id %q on transaction %s: %w", rawID, tx.ID, err)
	}

	enr, err := o.enrollments.CompletePayment(ctx, enrollmentID, tx.ProviderTransactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark enrollment %s paid: %w", enrollmentID, err)
	}
	log.Printf("Enrollment %s marked paid (transaction %s)", enrollmentID, tx.ID)

	sessions, err := o.sessions.UpcomingSessions(ctx, enr.CourseID)
	if err != nil {
		log.Printf("Failed to list upcoming sessions for course %s: %v", enr.CourseID, err)
		return nil, nil
	}

	outcomes := make([]RegistrationOutcome, 0, len(sessions))
	for _, session := range sessions {
		callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
		err := o.sessions.RegisterParticipant(callCtx, session.ID, enr.StudentEmail, enr.StudentName)
		cancel()

		if err != nil {
			log.Printf("Failed to register %s for session %s: %v", enr.StudentEmail, session.ID, err)
		}
		outcomes = append(outcomes, RegistrationOutcome{SessionID: session.ID, Err: err})
	}
	return outcomes, nil
}
