package enrollment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HTTPClient calls the course management service, which owns enrollments
// and sessions. It implements both EnrollmentService and SessionService.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type enrollmentResponse struct {
	ID           uuid.UUID `json:"id"`
	CourseID     uuid.UUID `json:"course_id"`
	StudentEmail string    `json:"student_email"`
	StudentName  string    `json:"student_name"`
	Paid         bool      `json:"paid"`
}

func (c *HTTPClient) CompletePayment(ctx context.Context, enrollmentID uuid.UUID, providerTransactionID string) (Enrollment, error) {
	body, err := json.Marshal(map[string]string{
		"provider_transaction_id": providerTransactionID,
	})
	if err != nil {
		return Enrollment{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/internal/enrollments/%s/complete-payment", c.baseURL, enrollmentID)
	var result enrollmentResponse
	if err := c.doJSON(ctx, "POST", url, body, &result); err != nil {
		return Enrollment{}, err
	}

	return Enrollment{
		ID:           result.ID,
		CourseID:     result.CourseID,
		StudentEmail: result.StudentEmail,
		StudentName:  result.StudentName,
		Paid:         result.Paid,
	}, nil
}

type sessionResponse struct {
	ID       uuid.UUID `json:"id"`
	CourseID uuid.UUID `json:"course_id"`
	Title    string    `json:"title"`
	StartsAt time.Time `json:"starts_at"`
}

func (c *HTTPClient) UpcomingSessions(ctx context.Context, courseID uuid.UUID) ([]Session, error) {
	url := fmt.Sprintf("%s/internal/courses/%s/sessions?upcoming=true", c.baseURL, courseID)
	var results []sessionResponse
	if err := c.doJSON(ctx, "GET", url, nil, &results); err != nil {
		return nil, err
	}

	sessions := make([]Session, 0, len(results))
	for _, s := range results {
		sessions = append(sessions, Session{
			ID:       s.ID,
			CourseID: s.CourseID,
			Title:    s.Title,
			StartsAt: s.StartsAt,
		})
	}
	return sessions, nil
}

func (c *HTTPClient) RegisterParticipant(ctx context.Context, sessionID uuid.UUID, email, fullName string) error {
	body, err := json.Marshal(map[string]string{
		"email":     email,
		"full_name": fullName,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/internal/sessions/%s/participants", c.baseURL, sessionID)
	return c.doJSON(ctx, "POST", url, body, nil)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, url string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewBuffer(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("course service returned %d: %s", resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
