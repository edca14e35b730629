package httpapi

import (
	"context"
	"net/http"
	"testing"

	"fingate.org/internal/auth"
)

func TestRBACRoleManagementFlow(t *testing.T) {
	api := newTestAPI(t)
	headers := api.adminHeaders()
	clerk := api.createUser("clerk@books.io", false)

	resp := api.post("/api/system/roles", map[string]any{"name": " accountant ", "description": "Posts journals"}, headers)
	expectStatus(t, resp, http.StatusCreated)
	role := decode[map[string]any](t, resp)
	roleID, _ := role["id"].(string)
	if roleID == "" || role["name"] != "ACCOUNTANT" {
		t.Fatalf("unexpected role: %v", role)
	}

	resp = api.post("/api/system/roles", map[string]any{"name": "Accountant"}, headers)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = api.post("/api/system/roles/"+roleID+"/permissions",
		map[string]any{"module": "journal", "action": "create"}, headers)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = api.post("/api/system/roles/"+roleID+"/permissions",
		map[string]any{"module": "JOURNAL", "action": "ARCHIVE"}, headers)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = api.post("/api/system/users/"+clerk+"/roles", map[string]any{"role_id": roleID}, headers)
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	ok, err := api.rbac.HasPermission(context.Background(), clerk, auth.ModuleJournal, auth.ActionCreate)
	if err != nil || !ok {
		t.Fatalf("expected clerk to hold JOURNAL:CREATE, ok=%v err=%v", ok, err)
	}

	resp = api.do(http.MethodDelete, "/api/system/roles/"+roleID+"/permissions",
		map[string]any{"module": "JOURNAL", "action": "CREATE"}, headers)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	ok, err = api.rbac.HasPermission(context.Background(), clerk, auth.ModuleJournal, auth.ActionCreate)
	if err != nil || ok {
		t.Fatalf("expected revoked permission, ok=%v err=%v", ok, err)
	}

	resp = api.do(http.MethodDelete, "/api/system/users/"+clerk+"/roles/"+roleID, nil, headers)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = api.do(http.MethodDelete, "/api/system/users/"+clerk+"/roles/"+roleID, nil, headers)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	var granted, assigned int
	for _, a := range api.sink.actions() {
		switch a {
		case "GRANT_PERMISSION":
			granted++
		case "ASSIGN_ROLE":
			assigned++
		}
	}
	if granted != 1 || assigned != 1 {
		t.Fatalf("unexpected audit trail: %v", api.sink.actions())
	}
}

func TestRBACRequiresPermission(t *testing.T) {
	api := newTestAPI(t)
	clerk := api.createUser("clerk@books.io", false)
	headers := map[string]string{"Authorization": "Bearer " + api.tokenFor(clerk, false)}

	resp := api.post("/api/system/roles", map[string]any{"name": "sneaky"}, headers)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.post("/api/system/users/"+clerk+"/roles", map[string]any{"role_id": "anything"}, headers)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestRBACAssignRoleRequiresPayload(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/api/system/users/user-42/roles", map[string]any{"role_id": ""}, api.adminHeaders())
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.post("/api/system/users/user-42/roles", map[string]any{"role_id": "r1", "extra": true}, api.adminHeaders())
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}
