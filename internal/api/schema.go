package api

import (
	"net/http"

	"github.com/sqlcrew/sqlcrew/internal/auth"
)

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema source is not configured", false, nil)
		return
	}
	if err := auth.RequireRole(r, auth.RoleSchemaReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	description, err := deps.Schema.Describe(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "SCHEMA_UNAVAILABLE", "failed to describe schema", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, description)
}
