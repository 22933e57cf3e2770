package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func requestWithRoles(roles []string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, roles))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestRequireRole_Allowed(t *testing.T) {
	c, rec := requestWithRoles([]string{RolePharmacist})
	if err := RequireRole(RolePharmacist)(ok)(c); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	c, _ := requestWithRoles([]string{RolePatient})
	expectStatus(t, RequireRole(RolePharmacist)(ok)(c), http.StatusForbidden)
}

func TestRequireRole_NoRoles(t *testing.T) {
	c, _ := requestWithRoles(nil)
	expectStatus(t, RequireRole(RolePharmacist)(ok)(c), http.StatusForbidden)
}

func TestRequireRole_AdminBypass(t *testing.T) {
	c, _ := requestWithRoles([]string{RoleAdmin})
	if err := RequireRole(RolePharmacist)(ok)(c); err != nil {
		t.Errorf("admin should pass, got %v", err)
	}
}
