package calcom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/atl5d/pwyc-booking/internal/domain"
	"github.com/atl5d/pwyc-booking/internal/observability"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// API versions pinned per endpoint family; Cal.com versions its v2 API by header.
const (
	versionEventTypes = "2024-06-14"
	versionSlots      = "2024-09-04"
	versionBookings   = "2024-08-13"
)

// APIError carries the provider's status and error detail.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cal.com responded %d: %s", e.Status, e.Detail)
}

type Client struct {
	hc      *http.Client
	baseURL string
	apiKey  string
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		hc:      &http.Client{Timeout: 15 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type eventTypeDTO struct {
	ID              int64  `json:"id"`
	Slug            string `json:"slug"`
	Title           string `json:"title"`
	LengthInMinutes int    `json:"lengthInMinutes"`
}

type slotDTO struct {
	Start string `json:"start"`
}

type bookingDTO struct {
	ID         int64                  `json:"id"`
	UID        string                 `json:"uid"`
	Title      string                 `json:"title"`
	Start      time.Time              `json:"start"`
	End        time.Time              `json:"end"`
	MeetingURL string                 `json:"meetingUrl"`
	Location   string                 `json:"location"`
	Status     string                 `json:"status"`
	Metadata   map[string]interface{} `json:"metadata"`
}

type attendeeDTO struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	TimeZone string `json:"timeZone"`
}

type createBookingDTO struct {
	Start         string            `json:"start"`
	EventTypeSlug string            `json:"eventTypeSlug"`
	Username      string            `json:"username"`
	Attendee      attendeeDTO       `json:"attendee"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (c *Client) EventTypes(ctx context.Context, username string) ([]domain.EventDefinition, error) {
	q := url.Values{"username": {username}}
	var dtos []eventTypeDTO
	if err := c.call(ctx, "event_types", http.MethodGet, "/event-types", versionEventTypes, q, nil, &dtos); err != nil {
		return nil, errors.Wrapf(err, "list event types for %s", username)
	}

	defs := make([]domain.EventDefinition, 0, len(dtos))
	for _, d := range dtos {
		defs = append(defs, domain.EventDefinition{
			ID:              d.ID,
			Slug:            d.Slug,
			Title:           d.Title,
			DurationMinutes: d.LengthInMinutes,
		})
	}
	return defs, nil
}

// Slots returns the start time of every available slot for an event type in [start, end].
func (c *Client) Slots(ctx context.Context, username, eventSlug string, start, end time.Time) ([]time.Time, error) {
	q := url.Values{
		"username":      {username},
		"eventTypeSlug": {eventSlug},
		"start":         {start.UTC().Format(time.RFC3339)},
		"end":           {end.UTC().Format(time.RFC3339)},
	}
	var byDate map[string][]slotDTO
	if err := c.call(ctx, "slots", http.MethodGet, "/slots", versionSlots, q, nil, &byDate); err != nil {
		return nil, errors.Wrapf(err, "fetch slots for %s", eventSlug)
	}

	var out []time.Time
	for date, slots := range byDate {
		for _, s := range slots {
			t, err := time.Parse(time.RFC3339, s.Start)
			if err != nil {
				return nil, errors.Wrapf(err, "parse slot start %q on %s", s.Start, date)
			}
			out = append(out, t)
		}
	}
	return out, nil
}

func (c *Client) CreateBooking(ctx context.Context, in domain.ReservationInput) (*domain.Reservation, error) {
	body := createBookingDTO{
		Start:         in.Start.UTC().Format(time.RFC3339),
		EventTypeSlug: in.EventSlug,
		Username:      in.OrganizerUsername,
		Attendee: attendeeDTO{
			Name:     in.AttendeeName,
			Email:    in.AttendeeEmail,
			TimeZone: in.AttendeeTimeZone,
		},
		Metadata: in.Metadata,
	}
	var dto bookingDTO
	if err := c.call(ctx, "create_booking", http.MethodPost, "/bookings", versionBookings, nil, body, &dto); err != nil {
		return nil, errors.Wrap(err, "create booking")
	}
	return dto.toDomain(), nil
}

func (c *Client) GetBooking(ctx context.Context, bookingID string) (*domain.Reservation, error) {
	var dto bookingDTO
	if err := c.call(ctx, "get_booking", http.MethodGet, "/bookings/"+url.PathEscape(bookingID), versionBookings, nil, nil, &dto); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, errors.Wrapf(domain.ErrNotFound, "booking %s", bookingID)
		}
		return nil, errors.Wrapf(err, "get booking %s", bookingID)
	}
	return dto.toDomain(), nil
}

func (d bookingDTO) toDomain() *domain.Reservation {
	id := d.UID
	if id == "" {
		id = strconv.FormatInt(d.ID, 10)
	}
	meeting := d.MeetingURL
	if meeting == "" {
		if u, err := url.Parse(d.Location); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
			meeting = d.Location
		}
	}
	metadata := make(map[string]string, len(d.Metadata))
	for k, v := range d.Metadata {
		metadata[k] = fmt.Sprint(v)
	}
	return &domain.Reservation{
		ID:         id,
		Title:      d.Title,
		Start:      d.Start,
		End:        d.End,
		MeetingURL: meeting,
		Status:     d.Status,
		Metadata:   metadata,
	}
}

func (c *Client) call(ctx context.Context, op, method, path, version string, query url.Values, in, out interface{}) (err error) {
	ctx, span := otel.Tracer("calcom").Start(ctx, "calcom."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method), attribute.String("calcom.path", path))

	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.UpstreamDuration.WithLabelValues("calcom_"+op, outcome).Observe(time.Since(start).Seconds())
	}()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(b)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("cal-api-version", version)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "cal.com unreachable"), domain.ErrUpstream)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return errors.Mark(errors.Wrap(err, "read response"), domain.ErrUpstream)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := string(raw)
		if decodeErr == nil && env.Error != nil && env.Error.Message != "" {
			detail = env.Error.Message
		}
		if len(detail) > 512 {
			detail = detail[:512]
		}
		return errors.Mark(&APIError{Status: resp.StatusCode, Detail: detail}, domain.ErrUpstream)
	}
	if decodeErr != nil {
		return errors.Mark(errors.Wrap(decodeErr, "decode response"), domain.ErrUpstream)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return errors.Mark(errors.Wrap(err, "decode data"), domain.ErrUpstream)
	}
	return nil
}
