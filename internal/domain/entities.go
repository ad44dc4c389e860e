package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventDefinition is a bookable duration template owned by the scheduling provider.
type EventDefinition struct {
	ID              int64
	Slug            string
	Title           string
	DurationMinutes int
}

type DaySlots struct {
	Date  string      `json:"date"`
	Times []time.Time `json:"slots"`
}

type AvailabilityOffer struct {
	Duration     int        `json:"duration"`
	EventSlug    string     `json:"eventSlug"`
	Availability []DaySlots `json:"availability"`
}

// ReservationInput is what gets sent to the provider to lock a slot.
type ReservationInput struct {
	OrganizerUsername string
	EventSlug         string
	Start             time.Time
	AttendeeName      string
	AttendeeEmail     string
	AttendeeTimeZone  string
	Metadata          map[string]string
}

// Reservation is the provider's view of a created booking.
type Reservation struct {
	ID         string
	Title      string
	Start      time.Time
	End        time.Time
	MeetingURL string
	Status     string
	Metadata   map[string]string
}

type ConfirmationStatus string

const (
	StatusConfirmed      ConfirmationStatus = "confirmed"
	StatusPaymentSkipped ConfirmationStatus = "pending_payment_server_side_skipped"
)

type BookingConfirmation struct {
	BookingID     string             `json:"bookingId"`
	MeetingURL    *string            `json:"meetingUrl"`
	StartTime     time.Time          `json:"startTime"`
	EndTime       time.Time          `json:"endTime"`
	Title         string             `json:"title"`
	OfferedAmount string             `json:"offeredAmount"`
	Status        ConfirmationStatus `json:"status"`
	ProofHashtag  string             `json:"proofHashtag"`
	Instructions  string             `json:"instructions"`
}

// PaymentRecord is forwarded to the payment confirmation step after a reservation succeeds.
type PaymentRecord struct {
	BookingID     string          `json:"bookingId"`
	OfferedAmount decimal.Decimal `json:"offeredAmount"`
	AttendeeEmail string          `json:"attendeeEmail"`
}

type HoldStatus string

const (
	HoldHeld     HoldStatus = "HELD"
	HoldReleased HoldStatus = "RELEASED"
	HoldExpired  HoldStatus = "EXPIRED"
)

// PaymentHold is an offered amount held until proof of service is verified.
type PaymentHold struct {
	ID            uuid.UUID       `json:"paymentId"`
	BookingID     string          `json:"bookingId"`
	Amount        decimal.Decimal `json:"offeredAmount"`
	AttendeeEmail string          `json:"attendeeEmail"`
	Status        HoldStatus      `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	ExpiresAt     time.Time       `json:"expiresAt"`
	ReleasedAt    *time.Time      `json:"releasedAt,omitempty"`
}
