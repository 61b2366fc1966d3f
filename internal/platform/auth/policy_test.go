package auth

import (
	"testing"

	"github.com/google/uuid"

	"github.com/medclinic/clinic/internal/platform/apperr"
)

func TestDefaultMatrix_EveryCell(t *testing.T) {
	const (
		D = Deny
		A = Allow
		O = AllowOwn
	)
	// admin, doctor, secretary, patient
	expected := map[Entity]map[Action][4]Rule{
		EntityAppointment: {
			ActionRead:   {A, A, A, O},
			ActionCreate: {A, D, A, O},
			ActionUpdate: {A, D, A, D},
			ActionDelete: {A, D, A, D},
		},
		EntityConsultation: {
			ActionRead:   {A, A, A, D},
			ActionCreate: {A, A, D, D},
			ActionUpdate: {A, A, D, D},
			ActionDelete: {A, D, D, D},
		},
		EntityPrescription: {
			ActionRead:   {A, A, A, D},
			ActionCreate: {A, A, D, D},
			ActionUpdate: {A, A, D, D},
			ActionDelete: {A, D, D, D},
		},
	}
	roles := [4]Role{RoleAdmin, RoleDoctor, RoleSecretary, RolePatient}

	enf := NewDefaultEnforcer()
	cells := 0
	for entity, actions := range expected {
		for action, want := range actions {
			for i, role := range roles {
				cells++
				if got := enf.Rule(role, entity, action); got != want[i] {
					t.Errorf("%s %s %s: got %s, want %s", role, action, entity, got, want[i])
				}
			}
		}
	}
	if cells != len(Entities)*len(Actions)*len(Roles) {
		t.Errorf("expected table to cover %d cells, covered %d", len(Entities)*len(Actions)*len(Roles), cells)
	}
}

func TestMatrix_ValidateDetectsMissingCell(t *testing.T) {
	m := DefaultMatrix()
	delete(m[EntityPrescription][ActionDelete], RoleSecretary)
	if err := m.Validate(); err == nil {
		t.Fatal("expected validation error for a missing cell")
	}
	if _, err := NewEnforcer(m); err == nil {
		t.Fatal("expected NewEnforcer to reject an incomplete matrix")
	}
}

func TestMatrix_ValidateDetectsMissingEntity(t *testing.T) {
	m := DefaultMatrix()
	delete(m, EntityConsultation)
	if err := m.Validate(); err == nil {
		t.Fatal("expected validation error for a missing entity")
	}
}

func TestDefaultMatrix_ReturnsCopy(t *testing.T) {
	m := DefaultMatrix()
	m[EntityAppointment][ActionDelete][RolePatient] = Allow

	if NewDefaultEnforcer().Rule(RolePatient, EntityAppointment, ActionDelete) != Deny {
		t.Error("mutating a returned matrix must not change the default")
	}
}

func TestEnforcer_UnknownInputsDeny(t *testing.T) {
	enf := NewDefaultEnforcer()
	if enf.Rule(Role("nurse"), EntityAppointment, ActionRead) != Deny {
		t.Error("unknown role must be denied")
	}
	if enf.Rule(RoleAdmin, Entity("invoice"), ActionRead) != Deny {
		t.Error("unknown entity must be denied")
	}
	if enf.Rule(RoleAdmin, EntityAppointment, Action("export")) != Deny {
		t.Error("unknown action must be denied")
	}
}

func TestEnforcer_Permits(t *testing.T) {
	enf := NewDefaultEnforcer()

	d := enf.Permits(RolePatient, EntityAppointment, ActionRead)
	if !d.Allowed || !d.OwnershipRequired {
		t.Errorf("expected ownership-scoped allow, got %+v", d)
	}

	d = enf.Permits(RoleSecretary, EntityAppointment, ActionRead)
	if !d.Allowed || d.OwnershipRequired {
		t.Errorf("expected plain allow, got %+v", d)
	}

	d = enf.Permits(RolePatient, EntityConsultation, ActionRead)
	if d.Allowed {
		t.Error("patients must not read consultations")
	}
	if d.Reason == "" {
		t.Error("expected a deny reason")
	}
}

func TestEnforcer_DecideOwnership(t *testing.T) {
	enf := NewDefaultEnforcer()
	own := uuid.New()
	other := uuid.New()

	patient := Principal{Identity: Identity{SubjectID: "u1", Role: RolePatient}, PatientID: own}

	if d := enf.Decide(patient, EntityAppointment, ActionRead, own); !d.Allowed {
		t.Errorf("patient should read own appointment: %+v", d)
	}
	if d := enf.Decide(patient, EntityAppointment, ActionRead, other); d.Allowed {
		t.Error("patient must not read another patient's appointment")
	}
	if d := enf.Decide(patient, EntityAppointment, ActionCreate, own); !d.Allowed {
		t.Errorf("patient should create own appointment: %+v", d)
	}
	if d := enf.Decide(patient, EntityAppointment, ActionUpdate, own); d.Allowed {
		t.Error("patient must not update appointments, even their own")
	}

	unresolved := Principal{Identity: Identity{SubjectID: "u2", Role: RolePatient}}
	if d := enf.Decide(unresolved, EntityAppointment, ActionRead, uuid.Nil); d.Allowed {
		t.Error("an unresolved patient must not own a resource with a nil patient id")
	}

	doctor := Principal{Identity: Identity{SubjectID: "u3", Role: RoleDoctor}}
	if d := enf.Decide(doctor, EntityAppointment, ActionRead, other); !d.Allowed {
		t.Errorf("doctor should read any appointment: %+v", d)
	}
}

func TestEnforcer_AuthorizeReturnsAuthorizationError(t *testing.T) {
	enf := NewDefaultEnforcer()
	sec := Principal{Identity: Identity{SubjectID: "u1", Role: RoleSecretary}}

	err := enf.Authorize(sec, EntityConsultation, ActionCreate, uuid.Nil)
	if apperr.KindOf(err) != apperr.KindAuthorization {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if err := enf.Authorize(sec, EntityAppointment, ActionCreate, uuid.New()); err != nil {
		t.Fatalf("secretary should create appointments, got %v", err)
	}
}

func TestEnforcer_Observer(t *testing.T) {
	enf := NewDefaultEnforcer()
	type call struct {
		entity  Entity
		action  Action
		role    Role
		allowed bool
	}
	var calls []call
	enf.SetObserver(func(e Entity, a Action, r Role, allowed bool) {
		calls = append(calls, call{e, a, r, allowed})
	})

	doc := Principal{Identity: Identity{SubjectID: "u1", Role: RoleDoctor}}
	enf.Decide(doc, EntityPrescription, ActionCreate, uuid.Nil)
	enf.Decide(doc, EntityPrescription, ActionDelete, uuid.Nil)

	if len(calls) != 2 {
		t.Fatalf("expected 2 observed decisions, got %d", len(calls))
	}
	if !calls[0].allowed || calls[1].allowed {
		t.Errorf("unexpected observed decisions %+v", calls)
	}
	if calls[1].action != ActionDelete || calls[1].role != RoleDoctor {
		t.Errorf("unexpected observed cell %+v", calls[1])
	}
}

func TestEnforcer_OwnershipScoped(t *testing.T) {
	enf := NewDefaultEnforcer()
	if !enf.OwnershipScoped(Principal{Identity: Identity{Role: RolePatient}}, EntityAppointment) {
		t.Error("patient appointment reads should be ownership-scoped")
	}
	if enf.OwnershipScoped(Principal{Identity: Identity{Role: RoleAdmin}}, EntityAppointment) {
		t.Error("admin appointment reads should not be ownership-scoped")
	}
}

func TestRule_String(t *testing.T) {
	if Deny.String() != "deny" || Allow.String() != "allow" || AllowOwn.String() != "allow-own" {
		t.Error("unexpected rule names")
	}
	if Rule(0).String() != "undefined" {
		t.Error("zero rule should be undefined")
	}
}
