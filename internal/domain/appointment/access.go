package appointment

import (
	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/platform/auth"
)

// Actor is the caller of a workflow operation.
type Actor struct {
	ID   uuid.UUID
	Role string
}

func ActorFrom(id auth.Identity) Actor {
	return Actor{ID: id.UserID, Role: id.Role}
}

func (a Actor) IsAdmin() bool   { return a.Role == auth.RoleAdmin }
func (a Actor) IsDoctor() bool  { return a.Role == auth.RoleDoctor }
func (a Actor) IsPatient() bool { return a.Role == auth.RolePatient }

// canView admits either participant or an admin. Reschedule, cancel and chat
// share this rule.
func canView(a Actor, appt *Appointment) bool {
	return a.IsAdmin() || appt.IsParticipant(a.ID)
}

// canManage admits the assigned doctor or an admin.
func canManage(a Actor, appt *Appointment) bool {
	return a.IsAdmin() || (a.IsDoctor() && appt.DoctorID == a.ID)
}

// canRate admits only the owning patient.
func canRate(a Actor, appt *Appointment) bool {
	return a.IsPatient() && appt.PatientID == a.ID
}

// scope restricts a listing filter to what the actor may see.
func scope(a Actor, f Filter) Filter {
	switch {
	case a.IsAdmin():
	case a.IsDoctor():
		id := a.ID
		f.DoctorID = &id
	default:
		id := a.ID
		f.PatientID = &id
	}
	return f
}
