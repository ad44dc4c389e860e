package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// SupportedDurations are the event lengths, in minutes, the booking form offers.
var SupportedDurations = []int{15, 30, 60}

func IsSupportedDuration(minutes int) bool {
	for _, d := range SupportedDurations {
		if d == minutes {
			return true
		}
	}
	return false
}

// EventSlugForDuration maps a booked duration onto the organizer's event slug
// using a fmt template such as "%dmin".
func EventSlugForDuration(template string, minutes int) string {
	return fmt.Sprintf(template, minutes)
}

// Amount accepts both JSON strings and JSON numbers.
type Amount string

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*a = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*a = Amount(strings.TrimSpace(str))
		return nil
	}
	*a = Amount(s)
	return nil
}

// Decimal parses the amount and rejects negative values.
func (a Amount) Decimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(string(a))
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse amount %q", string(a))
	}
	if d.IsNegative() {
		return decimal.Zero, errors.Newf("amount %s is negative", d)
	}
	return d, nil
}

type BookingRequest struct {
	AttendeeName       string `json:"attendeeName" validate:"required"`
	AttendeeEmail      string `json:"attendeeEmail" validate:"required,email"`
	StartTime          string `json:"startTime" validate:"required,rfc3339"`
	OfferedAmount      Amount `json:"offeredAmount" validate:"required,nonneg_amount"`
	ServiceDescription string `json:"serviceDescription" validate:"required"`
	BookedDuration     int    `json:"bookedDuration" validate:"required,duration"`
	OrganizerUsername  string `json:"calcomOrganizerUsername" validate:"required"`
	TikTokUsername     string `json:"tiktokUsername"`
	IRLTravelUsername  string `json:"irlTravelUsername"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("rfc3339", func(fl validator.FieldLevel) bool {
			_, err := time.Parse(time.RFC3339, fl.Field().String())
			return err == nil
		})
		_ = v.RegisterValidation("nonneg_amount", func(fl validator.FieldLevel) bool {
			_, err := Amount(fl.Field().String()).Decimal()
			return err == nil
		})
		_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
			return IsSupportedDuration(int(fl.Field().Int()))
		})
		validate = v
	})
	return validate
}

// Validate reports the first failing field as a *ValidationError.
func (r BookingRequest) Validate() error {
	err := requestValidator().Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errors.Wrap(err, "validate booking request")
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return Missing(fe.Field())
	case "email":
		return Invalid(fe.Field(), "must be a valid email address")
	case "rfc3339":
		return Invalid(fe.Field(), "must be an RFC 3339 timestamp")
	case "nonneg_amount":
		return Invalid(fe.Field(), "must be a non-negative number")
	case "duration":
		return Invalid(fe.Field(), "must be one of 15, 30, 60")
	default:
		return Invalid(fe.Field(), fe.Tag())
	}
}

// Start returns the parsed start time; call Validate first.
func (r BookingRequest) Start() time.Time {
	t, _ := time.Parse(time.RFC3339, r.StartTime)
	return t
}

// ProofHashtag is the hashtag a proof-of-service post must carry for a booking.
func ProofHashtag(bookingID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(bookingID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() == 8 {
			break
		}
	}
	return "#pwyc" + b.String()
}

// NormalizeHandle strips whitespace and a leading "@" from a social handle.
func NormalizeHandle(h string) string {
	return strings.TrimPrefix(strings.TrimSpace(h), "@")
}

func ProofInstructions(tiktok, hashtag string) string {
	if handle := NormalizeHandle(tiktok); handle != "" {
		return fmt.Sprintf("Post a before/after TikTok tagging @%s and %s to release payment.", handle, hashtag)
	}
	return fmt.Sprintf("Post a before/after TikTok with %s to release payment.", hashtag)
}
