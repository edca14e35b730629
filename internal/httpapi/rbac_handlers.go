package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"fingate.org/internal/auth"
	"fingate.org/internal/obs"
)

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type permissionRequest struct {
	Module string `json:"module"`
	Action string `json:"action"`
}

type assignRoleRequest struct {
	RoleID string `json:"role_id"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, auth.ModuleRBAC, auth.ActionUpdate) {
		return
	}
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.rbac.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r, "CREATE_ROLE", auth.ModuleRBAC, role.ID, nil, role)
	w.Header().Set("Location", fmt.Sprintf("/api/system/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

// handleRolePermissions grants (POST) or revokes (DELETE) a permission.
func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
		return
	}
	if !a.ensurePermission(w, r, auth.ModuleRBAC, auth.ActionUpdate) {
		return
	}
	roleID := strings.TrimSpace(r.PathValue("id"))
	var req permissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	action, apply := "GRANT_PERMISSION", a.rbac.GrantPermission
	if r.Method == http.MethodDelete {
		action, apply = "REVOKE_PERMISSION", a.rbac.RevokePermission
	}
	if err := apply(r.Context(), roleID, req.Module, req.Action); err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r, action, auth.ModuleRBAC, roleID, nil, map[string]string{
		"permission": auth.PermissionKey(req.Module, req.Action),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, auth.ModuleRBAC, auth.ActionUpdate) {
		return
	}
	userID := strings.TrimSpace(r.PathValue("id"))
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.RoleID = strings.TrimSpace(req.RoleID)
	if req.RoleID == "" {
		writeError(w, r, http.StatusBadRequest, "role_id is required")
		return
	}
	if err := a.rbac.AssignRole(r.Context(), userID, req.RoleID); err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r, "ASSIGN_ROLE", auth.ModuleRBAC, userID, nil, map[string]string{"role_id": req.RoleID})
	writeJSON(w, http.StatusCreated, auth.Assignment{UserID: userID, RoleID: req.RoleID})
}

func (a *API) handleUserRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermission(w, r, auth.ModuleRBAC, auth.ActionUpdate) {
		return
	}
	userID, roleID := r.PathValue("id"), r.PathValue("roleID")
	if err := a.rbac.RevokeRole(r.Context(), userID, roleID); err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r, "REVOKE_ROLE", auth.ModuleRBAC, userID, map[string]string{"role_id": roleID}, nil)
	w.WriteHeader(http.StatusNoContent)
}

func handleRBACError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		obs.Error("rbac_operation_failed", map[string]any{"error": err})
		writeError(w, r, http.StatusInternalServerError, "rbac operation failed")
	}
}
