package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medclinic/clinic/internal/domain/account"
	"github.com/medclinic/clinic/internal/domain/clinical"
	"github.com/medclinic/clinic/internal/domain/identity"
	"github.com/medclinic/clinic/internal/domain/scheduling"
	"github.com/medclinic/clinic/internal/platform/auth"
	"github.com/medclinic/clinic/internal/platform/events"
	"github.com/medclinic/clinic/internal/platform/metrics"
	"github.com/medclinic/clinic/internal/platform/middleware"
)

var signingKey = []byte("server-test-signing-key-0123456789abcdef")

type envelope struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Pagination *struct {
		Total int `json:"total"`
	} `json:"pagination"`
}

type clinic struct {
	t      *testing.T
	e      *echo.Echo
	events *events.Memory

	auditMu sync.Mutex
	audit   []middleware.AuditEntry

	patient, otherPatient *identity.Patient
	doctor                *identity.Doctor
	secretary             *identity.Secretary

	tokens map[string]string
}

func newClinic(t *testing.T) *clinic {
	t.Helper()

	people := identity.NewMemoryRepo()
	accounts := account.NewMemoryRepo()
	records := clinical.NewMemoryStore()
	appointments := scheduling.NewMemoryRepo()
	appointments.InUse = records.HasConsultation

	c := &clinic{
		t:            t,
		events:       &events.Memory{},
		patient:      people.AddPatient(&identity.Patient{Profile: identity.Profile{Email: "ana@clinic.test", FirstName: "Ana", LastName: "Silva"}}),
		otherPatient: people.AddPatient(&identity.Patient{Profile: identity.Profile{Email: "rui@clinic.test", FirstName: "Rui", LastName: "Costa"}}),
		doctor:       people.AddDoctor(&identity.Doctor{Profile: identity.Profile{Email: "house@clinic.test", FirstName: "Greg", LastName: "House"}}),
		secretary:    people.AddSecretary(&identity.Secretary{Profile: identity.Profile{Email: "desk@clinic.test", FirstName: "Pam", LastName: "Beesly"}}),
		tokens:       make(map[string]string),
	}

	hash, err := account.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	for _, a := range []struct {
		id    uuid.UUID
		email string
		role  auth.Role
	}{
		{c.patient.UserID, c.patient.Email, auth.RolePatient},
		{c.otherPatient.UserID, c.otherPatient.Email, auth.RolePatient},
		{c.doctor.UserID, c.doctor.Email, auth.RoleDoctor},
		{c.secretary.UserID, c.secretary.Email, auth.RoleSecretary},
		{uuid.New(), "root@clinic.test", auth.RoleAdmin},
	} {
		accounts.Add(&account.Account{ID: a.id, Email: a.email, PasswordHash: hash, Role: string(a.role)})
	}

	verifier, err := auth.NewVerifier(auth.VerifierConfig{SigningKey: signingKey, Issuer: "clinic", Audience: "clinic-api"})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	c.e = New(Stores{
		People:        people,
		Accounts:      accounts,
		Appointments:  appointments,
		Consultations: records.Consultations(),
		Prescriptions: records.Prescriptions(),
	}, Options{
		Logger:         zerolog.Nop(),
		Metrics:        metrics.New(),
		Verifier:       verifier,
		Issuer:         auth.NewIssuer(signingKey, "clinic", "clinic-api", time.Hour),
		Publisher:      c.events,
		RequestTimeout: 5 * time.Second,
		Audit: middleware.AuditRecorderFunc(func(entry middleware.AuditEntry) error {
			c.auditMu.Lock()
			defer c.auditMu.Unlock()
			c.audit = append(c.audit, entry)
			return nil
		}),
	})
	return c
}

func (c *clinic) do(method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			c.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	c.e.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			c.t.Fatalf("%s %s: decode body %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, env
}

func (c *clinic) login(email string) string {
	c.t.Helper()
	if tok, ok := c.tokens[email]; ok {
		return tok
	}
	rec, env := c.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": "s3cret"})
	if rec.Code != http.StatusOK {
		c.t.Fatalf("login %s: expected 200, got %d: %s", email, rec.Code, rec.Body.String())
	}
	var res account.LoginResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		c.t.Fatalf("decode login result: %v", err)
	}
	c.tokens[email] = res.Token
	return res.Token
}

func expect(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
}

func decodeData(t *testing.T, env envelope, into interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, into); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
}

func TestClinicWorkflow(t *testing.T) {
	c := newClinic(t)
	patient := c.login(c.patient.Email)
	secretary := c.login(c.secretary.Email)
	doctor := c.login(c.doctor.Email)
	when := time.Date(2030, 3, 4, 9, 30, 0, 0, time.UTC)

	// A patient books for themselves; the request status is ignored.
	rec, env := c.do(http.MethodPost, "/api/appointments", patient, map[string]interface{}{
		"doctorId": c.doctor.ID,
		"dateTime": when,
		"reason":   "persistent cough",
		"status":   "confirmed",
	})
	expect(t, rec, http.StatusCreated)
	var appt scheduling.Appointment
	decodeData(t, env, &appt)
	if appt.Status != scheduling.StatusPending {
		t.Errorf("expected pending, got %s", appt.Status)
	}
	if appt.PatientID != c.patient.ID {
		t.Errorf("expected appointment for %s, got %s", c.patient.ID, appt.PatientID)
	}

	// Patients cannot change status, secretaries can.
	rec, _ = c.do(http.MethodPut, "/api/appointments/"+appt.ID.String(), patient, map[string]string{"status": "confirmed"})
	expect(t, rec, http.StatusForbidden)

	rec, env = c.do(http.MethodPut, "/api/appointments/"+appt.ID.String(), secretary, map[string]string{"status": "confirmed"})
	expect(t, rec, http.StatusOK)
	decodeData(t, env, &appt)
	if appt.Status != scheduling.StatusConfirmed {
		t.Errorf("expected confirmed, got %s", appt.Status)
	}

	rec, _ = c.do(http.MethodPut, "/api/appointments/"+appt.ID.String(), secretary, map[string]string{"status": "pending"})
	expect(t, rec, http.StatusBadRequest)

	// One consultation per appointment.
	consult := map[string]interface{}{
		"appointmentId": appt.ID,
		"diagnosis":     "acute bronchitis",
		"treatment":     "rest and fluids",
	}
	rec, env = c.do(http.MethodPost, "/api/consultations", doctor, consult)
	expect(t, rec, http.StatusCreated)
	var cons clinical.Consultation
	decodeData(t, env, &cons)
	if cons.PatientID != c.patient.ID || cons.DoctorID != c.doctor.ID {
		t.Errorf("consultation should inherit appointment parties, got %+v", cons)
	}
	if !cons.DateTime.Equal(when) {
		t.Errorf("expected consultation at appointment time, got %s", cons.DateTime)
	}

	rec, env = c.do(http.MethodPost, "/api/consultations", doctor, consult)
	expect(t, rec, http.StatusConflict)
	if env.Success {
		t.Error("conflict must not report success")
	}

	rec, _ = c.do(http.MethodPost, "/api/consultations", secretary, consult)
	expect(t, rec, http.StatusForbidden)

	// Prescriptions need at least one complete medication line.
	rec, env = c.do(http.MethodPost, "/api/prescriptions", doctor, map[string]interface{}{
		"consultationId": cons.ID,
		"medications": []map[string]string{
			{"medicationName": "Amoxicillin", "dosage": "500mg", "frequency": "3x daily", "duration": "7 days"},
		},
	})
	expect(t, rec, http.StatusCreated)
	var rx clinical.Prescription
	decodeData(t, env, &rx)
	if rx.Status != clinical.PrescriptionDraft {
		t.Errorf("expected draft prescription, got %s", rx.Status)
	}
	if rx.PatientID != c.patient.ID {
		t.Errorf("prescription should inherit patient, got %s", rx.PatientID)
	}

	rec, env = c.do(http.MethodPost, "/api/prescriptions", doctor, map[string]interface{}{
		"consultationId": cons.ID,
		"medications":    []interface{}{},
	})
	expect(t, rec, http.StatusBadRequest)
	if env.Message != "medications must contain at least one entry" {
		t.Errorf("unexpected message %q", env.Message)
	}

	// Patients never see clinical records directly.
	rec, _ = c.do(http.MethodGet, "/api/consultations/"+cons.ID.String(), patient, nil)
	expect(t, rec, http.StatusForbidden)
	rec, _ = c.do(http.MethodGet, "/api/prescriptions", patient, nil)
	expect(t, rec, http.StatusForbidden)

	// A referenced appointment cannot be deleted.
	rec, _ = c.do(http.MethodDelete, "/api/appointments/"+appt.ID.String(), secretary, nil)
	expect(t, rec, http.StatusConflict)

	want := []events.Type{
		events.AppointmentCreated,
		events.AppointmentUpdated,
		events.ConsultationCreated,
		events.PrescriptionCreated,
	}
	got := c.events.Types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestPatientSeesOnlyOwnAppointments(t *testing.T) {
	c := newClinic(t)
	secretary := c.login(c.secretary.Email)
	patient := c.login(c.patient.Email)

	var ids []uuid.UUID
	for i, pid := range []uuid.UUID{c.patient.ID, c.otherPatient.ID, c.otherPatient.ID} {
		rec, env := c.do(http.MethodPost, "/api/appointments", secretary, map[string]interface{}{
			"patientId": pid,
			"doctorId":  c.doctor.ID,
			"dateTime":  time.Date(2030, 1, 10+i, 10, 0, 0, 0, time.UTC),
			"reason":    "check-up",
		})
		expect(t, rec, http.StatusCreated)
		var a scheduling.Appointment
		decodeData(t, env, &a)
		ids = append(ids, a.ID)
	}

	rec, env := c.do(http.MethodGet, "/api/appointments?patientId="+c.otherPatient.ID.String(), patient, nil)
	expect(t, rec, http.StatusOK)
	var items []scheduling.Appointment
	decodeData(t, env, &items)
	if len(items) != 1 || items[0].ID != ids[0] {
		t.Fatalf("expected only own appointment, got %+v", items)
	}
	if env.Pagination == nil || env.Pagination.Total != 1 {
		t.Errorf("expected total 1, got %+v", env.Pagination)
	}

	rec, _ = c.do(http.MethodGet, "/api/appointments/"+ids[1].String(), patient, nil)
	expect(t, rec, http.StatusForbidden)

	rec, _ = c.do(http.MethodGet, "/api/appointments/patient/"+c.otherPatient.ID.String(), patient, nil)
	expect(t, rec, http.StatusForbidden)

	rec, _ = c.do(http.MethodPost, "/api/appointments", patient, map[string]interface{}{
		"patientId": c.otherPatient.ID,
		"doctorId":  c.doctor.ID,
		"dateTime":  time.Date(2030, 2, 1, 10, 0, 0, 0, time.UTC),
		"reason":    "booking for someone else",
	})
	expect(t, rec, http.StatusForbidden)

	rec, env = c.do(http.MethodGet, "/api/appointments", secretary, nil)
	expect(t, rec, http.StatusOK)
	decodeData(t, env, &items)
	if len(items) != 3 {
		t.Errorf("expected secretary to see 3 appointments, got %d", len(items))
	}
}

func TestAuthentication(t *testing.T) {
	c := newClinic(t)

	rec, env := c.do(http.MethodGet, "/api/appointments", "", nil)
	expect(t, rec, http.StatusUnauthorized)
	if env.Success {
		t.Error("expected failure envelope")
	}

	rec, _ = c.do(http.MethodGet, "/api/appointments", "not-a-token", nil)
	expect(t, rec, http.StatusUnauthorized)

	rec, env = c.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": c.doctor.Email, "password": "wrong"})
	expect(t, rec, http.StatusUnauthorized)
	if env.Message != "invalid email or password" {
		t.Errorf("unexpected message %q", env.Message)
	}

	rec, env = c.do(http.MethodGet, "/api/auth/me", c.login(c.doctor.Email), nil)
	expect(t, rec, http.StatusOK)
	var me struct {
		Identity auth.Identity   `json:"identity"`
		Profile  identity.Doctor `json:"profile"`
	}
	decodeData(t, env, &me)
	if me.Identity.Role != auth.RoleDoctor || me.Profile.ID != c.doctor.ID {
		t.Errorf("unexpected me response %+v", me)
	}

	rec, _ = c.do(http.MethodGet, "/api/auth/me", c.login("root@clinic.test"), nil)
	expect(t, rec, http.StatusOK)
}

func TestInfrastructureEndpoints(t *testing.T) {
	c := newClinic(t)

	rec, _ := c.do(http.MethodGet, "/health", "", nil)
	expect(t, rec, http.StatusOK)
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on every response")
	}
	if rec.Header().Get(echo.HeaderXRequestID) == "" {
		t.Error("expected a request id")
	}

	// A denied call shows up in the policy counters.
	rec, _ = c.do(http.MethodGet, "/api/consultations", c.login(c.patient.Email), nil)
	expect(t, rec, http.StatusForbidden)

	rec, _ = c.do(http.MethodGet, "/metrics", "", nil)
	expect(t, rec, http.StatusOK)
	body := rec.Body.String()
	for _, name := range []string{"clinic_http_requests_total", "clinic_policy_decisions_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %s in metrics output", name)
		}
	}

	rec, env := c.do(http.MethodGet, "/api/nowhere", c.login(c.doctor.Email), nil)
	expect(t, rec, http.StatusNotFound)
	if env.Success {
		t.Error("expected failure envelope for unknown route")
	}
}

func (c *clinic) lastAudit() middleware.AuditEntry {
	c.t.Helper()
	c.auditMu.Lock()
	defer c.auditMu.Unlock()
	if len(c.audit) == 0 {
		c.t.Fatal("expected an audit entry")
	}
	return c.audit[len(c.audit)-1]
}

func TestAuditRecordsCaller(t *testing.T) {
	c := newClinic(t)
	patientTok := c.login(c.patient.Email)

	rec, _ := c.do(http.MethodGet, "/api/appointments", patientTok, nil)
	expect(t, rec, http.StatusOK)

	got := c.lastAudit()
	if got.Route != "/api/appointments" || got.Action != "read" {
		t.Errorf("unexpected audit entry %+v", got)
	}
	if got.SubjectID != c.patient.UserID.String() || got.Role != string(auth.RolePatient) {
		t.Errorf("expected the patient as audited caller, got subject %q role %q", got.SubjectID, got.Role)
	}

	secretaryTok := c.login(c.secretary.Email)
	rec, _ = c.do(http.MethodDelete, "/api/appointments/"+uuid.NewString(), patientTok, nil)
	expect(t, rec, http.StatusForbidden)
	if got := c.lastAudit(); !got.Denied || got.Role != string(auth.RolePatient) {
		t.Errorf("expected a denied entry for the patient, got %+v", got)
	}

	rec, _ = c.do(http.MethodDelete, "/api/appointments/"+uuid.NewString(), secretaryTok, nil)
	expect(t, rec, http.StatusNotFound)
	if got := c.lastAudit(); got.SubjectID != c.secretary.UserID.String() || got.Action != "delete" {
		t.Errorf("expected the secretary's delete in the audit log, got %+v", got)
	}
}
