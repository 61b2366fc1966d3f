package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medclinic/clinic/internal/platform/auth"
)

// AuditEntry records who touched which clinical record and how it ended.
type AuditEntry struct {
	Timestamp  time.Time
	RequestID  string
	SubjectID  string
	Role       string
	Entity     string
	ResourceID string
	PatientID  string
	Action     string
	Method     string
	Route      string
	RemoteIP   string
	StatusCode int
	// Denied is set for requests rejected by authentication or
	// authorization.
	Denied bool
}

// AuditRecorder persists audit entries beyond the log stream.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every /api request after it completes, including denied ones.
// Login attempts are audited without a subject.
func Audit(logger zerolog.Logger, recorder AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !strings.HasPrefix(c.Request().URL.Path, "/api/") {
				return next(c)
			}

			err := next(c)

			// Authentication runs further down the chain and replaces the
			// request, so the caller is only visible on the current one.
			req := c.Request()

			status := statusOf(c, err)
			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				RequestID:  requestID(c),
				Entity:     entityFromRoute(c.Path()),
				ResourceID: c.Param("id"),
				PatientID:  patientParam(c),
				Action:     methodToAction(req.Method),
				Method:     req.Method,
				Route:      c.Path(),
				RemoteIP:   c.RealIP(),
				StatusCode: status,
				Denied:     status == http.StatusUnauthorized || status == http.StatusForbidden,
			}
			if p, ok := auth.PrincipalFromContext(req.Context()); ok {
				entry.SubjectID = p.SubjectID
				entry.Role = string(p.Role)
			}

			if recorder != nil {
				if recErr := recorder.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			evt := logger.Info()
			if entry.Denied {
				evt = logger.Warn()
			}
			evt.
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("subject_id", entry.SubjectID).
				Str("role", entry.Role).
				Str("entity", entry.Entity).
				Str("resource_id", entry.ResourceID).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("route", entry.Route).
				Str("remote_ip", entry.RemoteIP).
				Int("status", entry.StatusCode).
				Bool("denied", entry.Denied).
				Msg("record_access")

			return err
		}
	}
}

func methodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// entityFromRoute maps "/api/appointments/:id" to "appointment".
func entityFromRoute(route string) string {
	segs := strings.Split(strings.TrimPrefix(route, "/api/"), "/")
	if len(segs) == 0 || segs[0] == "" {
		return "unknown"
	}
	return strings.TrimSuffix(segs[0], "s")
}

func patientParam(c echo.Context) string {
	if pid := c.Param("patientId"); pid != "" {
		return pid
	}
	return c.QueryParam("patientId")
}
