package appointment

import "errors"

var (
	ErrNotFound          = errors.New("appointment not found")
	ErrPatientNotFound   = errors.New("patient not found")
	ErrDoctorNotFound    = errors.New("doctor not found")
	ErrAccessDenied      = errors.New("access denied")
	ErrDoctorUnavailable = errors.New("doctor not found or not verified")
	ErrSlotUnavailable   = errors.New("selected time slot is not available")
	ErrNotCompleted      = errors.New("can only rate completed appointments")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidRating     = errors.New("rating must be between 1 and 5")
	ErrInvalidInput      = errors.New("invalid input")
	ErrMessageNotFound   = errors.New("message not found")
)
