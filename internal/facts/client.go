package facts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"progress/internal/web"
)

// Client answers boolean predicates owned by another service. Every
// check is a single synchronous call with a bounded timeout. Transport
// errors, non-2xx statuses and malformed bodies all count as "fact
// does not hold": an unreachable dependency must never be read as
// confirmation.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// TeacherInSchool asks the school registry whether the teacher belongs
// to the school.
func (c *Client) TeacherInSchool(ctx context.Context, schoolID, teacherID int64) bool {
	return c.check(ctx, fmt.Sprintf("/schools/%d/validate-teacher/%d", schoolID, teacherID))
}

// SchoolExists asks the school registry whether the school exists.
func (c *Client) SchoolExists(ctx context.Context, schoolID int64) bool {
	return c.check(ctx, fmt.Sprintf("/schools/validate?id=%d", schoolID))
}

// TimetableExists asks the timetable service whether the timetable exists.
func (c *Client) TimetableExists(ctx context.Context, timetableID int64) bool {
	return c.check(ctx, fmt.Sprintf("/timetables/validate?id=%d", timetableID))
}

func (c *Client) check(ctx context.Context, path string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Unavailable is not the same thing as false, even though both
		// collapse to a denied check; keep them apart in the logs.
		web.Logger().WithError(err).WithField("path", path).Warn("fact check dependency unavailable")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		web.Logger().WithField("path", path).WithField("status", resp.StatusCode).Warn("fact check rejected")
		return false
	}

	var holds bool
	if err := json.NewDecoder(resp.Body).Decode(&holds); err != nil {
		return false
	}
	return holds
}
