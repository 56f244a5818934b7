package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specd/internal/docstore"
	"github.com/fyrsmithlabs/specd/internal/faults"
	"github.com/fyrsmithlabs/specd/internal/registry"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Class   faults.Class   `json:"class"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// APIError is an error reported by the server. It carries the server's
// reason code and class, so faults.CodeOf works on the client side.
type APIError struct {
	Status  int
	Reason  string
	Kind    faults.Class
	Message string
	Details map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%s, http %d)", e.Message, e.Reason, e.Status)
}

func (e *APIError) Code() string        { return e.Reason }
func (e *APIError) Class() faults.Class { return e.Kind }

// ErrServerUnavailable is returned by Client when the server cannot be
// reached.
var ErrServerUnavailable = faults.New("server unavailable", faults.CodeUnavailable, faults.ClassInfrastructure)

// statusFor maps a reason code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case faults.CodeNotFound:
		return http.StatusNotFound
	case faults.CodeInvalidInput:
		return http.StatusBadRequest
	case faults.CodeCapabilityViolation:
		return http.StatusForbidden
	case faults.CodeInvalidTransition, faults.CodeDuplicateID, faults.CodeImmutable,
		faults.CodeRevisionConflict, faults.CodeLeaseHeld, faults.CodeConsistency:
		return http.StatusConflict
	case faults.CodeMissingArtifact, faults.CodeCyclicDependency:
		return http.StatusUnprocessableEntity
	case faults.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// toResponse converts err to its status and body.
func toResponse(err error) (int, ErrorResponse) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code := faults.CodeInternal
		switch {
		case he.Code == http.StatusNotFound:
			code = faults.CodeNotFound
		case he.Code < http.StatusInternalServerError:
			code = faults.CodeInvalidInput
		}
		return he.Code, ErrorResponse{Code: code, Class: faults.ClassProtocol, Message: fmt.Sprint(he.Message)}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, ErrorResponse{Code: faults.CodeUnavailable, Class: faults.ClassInfrastructure, Message: err.Error()}
	}

	code := faults.CodeOf(err)
	return statusFor(code), ErrorResponse{
		Code:    code,
		Class:   faults.ClassOf(err),
		Message: err.Error(),
		Details: details(err),
	}
}

// details extracts the structured fields of typed domain errors.
func details(err error) map[string]any {
	var (
		missing *docstore.MissingArtifactError
		trans   *docstore.InvalidTransitionError
		cycle   *docstore.CyclicDependencyError
		dup     *docstore.DuplicateIDError
		capv    *registry.CapabilityViolationError
	)
	switch {
	case errors.As(err, &missing):
		d := map[string]any{"from": missing.From, "to": missing.To}
		if len(missing.Missing) > 0 {
			d["missing"] = missing.Missing
		}
		if len(missing.IncompleteTasks) > 0 {
			d["incomplete_tasks"] = missing.IncompleteTasks
		}
		if len(missing.FailingChecks) > 0 {
			d["failing_checks"] = missing.FailingChecks
		}
		if len(missing.Forbidden) > 0 {
			d["forbidden"] = missing.Forbidden
		}
		return d
	case errors.As(err, &trans):
		return map[string]any{"from": trans.From, "to": trans.To, "current": trans.Current}
	case errors.As(err, &cycle):
		return map[string]any{"path": cycle.Path}
	case errors.As(err, &dup):
		return map[string]any{"id": dup.ID}
	case errors.As(err, &capv):
		return map[string]any{"role": capv.Role, "capability": capv.Capability, "action": capv.Action}
	default:
		return nil
	}
}

// errorHandler writes every handler error as an ErrorResponse.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, body := toResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed", zap.Error(err))
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.logger.Warn(c.Request().Context(), "write error response", zap.Error(err))
	}
}
