package scheduling

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/clinic/booking/pkg/apperrors"
	"github.com/clinic/booking/pkg/timeofday"
)

type AvailabilityInput struct {
	Type                string   `json:"type" validate:"required,oneof=custom_date recurring"`
	Date                string   `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Weekdays            []string `json:"weekdays,omitempty" validate:"omitempty,dive,weekday"`
	ConsultingStartTime string   `json:"consulting_start_time" validate:"required,hhmm"`
	ConsultingEndTime   string   `json:"consulting_end_time" validate:"required,hhmm"`
	Session             string   `json:"session" validate:"required,max=64"`
}

type ManualSlotInput struct {
	AvailabilityID uuid.UUID `json:"availability_id" validate:"required"`
	StartTime      string    `json:"start_time" validate:"required,hhmm"`
	EndTime        string    `json:"end_time" validate:"required,hhmm"`
	// PatientLimit defaults to the doctor's policy capacity when zero.
	PatientLimit int `json:"patient_limit,omitempty" validate:"omitempty,min=1,max=100"`
}

type SlotUpdateInput struct {
	StartTime *string `json:"start_time,omitempty" validate:"omitempty,hhmm"`
	EndTime   *string `json:"end_time,omitempty" validate:"omitempty,hhmm"`
}

// ScheduleConfigInput is a partial update; nil fields are left unchanged.
// An empty booking time clears the daily booking window bound.
type ScheduleConfigInput struct {
	ScheduleType     *string `json:"schedule_type,omitempty" validate:"omitempty,oneof=stream wave"`
	SlotDuration     *int    `json:"slot_duration,omitempty" validate:"omitempty,min=5,max=720"`
	ConsultingTime   *int    `json:"consulting_time,omitempty" validate:"omitempty,min=5,max=240"`
	WaveLimit        *int    `json:"wave_limit,omitempty" validate:"omitempty,min=1,max=100"`
	BookingStartTime *string `json:"booking_start_time,omitempty" validate:"omitempty,booking_time"`
	BookingEndTime   *string `json:"booking_end_time,omitempty" validate:"omitempty,booking_time"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// Validator checks request inputs and reports failures as apperrors with
// per-field details keyed by JSON name.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	mustRegister(v, "hhmm", func(fl validator.FieldLevel) bool {
		return timeofday.Valid(fl.Field().String())
	})
	mustRegister(v, "booking_time", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || timeofday.Valid(s)
	})
	mustRegister(v, "weekday", func(fl validator.FieldLevel) bool {
		_, ok := weekdayNames[strings.ToLower(strings.TrimSpace(fl.Field().String()))]
		return ok
	})
	v.RegisterStructValidation(availabilityRules, AvailabilityInput{})

	return &Validator{validate: v}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %q validator: %v", tag, err))
	}
}

// availabilityRules holds the rules that span several fields.
func availabilityRules(sl validator.StructLevel) {
	in := sl.Current().Interface().(AvailabilityInput)

	switch WindowType(in.Type) {
	case WindowCustomDate:
		if in.Date == "" {
			sl.ReportError(in.Date, "date", "Date", "required_custom_date", "")
		}
		if len(in.Weekdays) > 0 {
			sl.ReportError(in.Weekdays, "weekdays", "Weekdays", "excluded_custom_date", "")
		}
	case WindowRecurring:
		if len(in.Weekdays) == 0 {
			sl.ReportError(in.Weekdays, "weekdays", "Weekdays", "required_recurring", "")
		}
		if in.Date != "" {
			sl.ReportError(in.Date, "date", "Date", "excluded_recurring", "")
		}
	}

	start, errStart := timeofday.Parse(in.ConsultingStartTime)
	end, errEnd := timeofday.Parse(in.ConsultingEndTime)
	if errStart == nil && errEnd == nil && !start.Before(end) {
		sl.ReportError(in.ConsultingEndTime, "consulting_end_time", "ConsultingEndTime", "after_start", "")
	}
}

// Struct validates in and returns an Invalid apperror describing every
// violated rule, or nil.
func (v *Validator) Struct(in any) error {
	err := v.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.Invalid(err.Error(), nil)
	}

	fields := make([]FieldError, 0, len(verrs))
	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fieldMessage(fe)
		fields = append(fields, FieldError{Field: fe.Field(), Message: msg})
		messages = append(messages, msg)
	}
	return apperrors.Invalid(strings.Join(messages, "; "), map[string]any{"errors": fields})
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "datetime":
		return field + " must be a date in YYYY-MM-DD format"
	case "hhmm":
		return field + " must be a time in 24-hour HH:MM format"
	case "booking_time":
		return field + " must be a time in 24-hour HH:MM format, or empty to clear it"
	case "weekday":
		return fmt.Sprintf("%s contains %q, which is not a weekday name", strings.Split(field, "[")[0], fe.Value())
	case "required_custom_date":
		return "date is required when type is custom_date"
	case "excluded_custom_date":
		return "weekdays must not be set when type is custom_date"
	case "required_recurring":
		return "weekdays must contain at least one weekday when type is recurring"
	case "excluded_recurring":
		return "date must not be set when type is recurring"
	case "after_start":
		return "consulting_end_time must be after consulting_start_time"
	default:
		return fmt.Sprintf("%s failed the %s rule", field, fe.Tag())
	}
}

// normalizeWeekdays maps weekday names to their canonical capitalized form
// and drops duplicates, keeping the caller's order.
func normalizeWeekdays(days []string) []string {
	seen := make(map[time.Weekday]bool, len(days))
	out := make([]string, 0, len(days))
	for _, d := range days {
		wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(d))]
		if !ok || seen[wd] {
			continue
		}
		seen[wd] = true
		out = append(out, wd.String())
	}
	return out
}
