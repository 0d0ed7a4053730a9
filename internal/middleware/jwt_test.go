package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vitalpoint/account-service/internal/token"
)

func TestAccessAuth(t *testing.T) {
	issuer := token.NewIssuer("test-secret", time.Hour, time.Hour)
	forger := token.NewIssuer("other-secret", time.Hour, time.Hour)

	access, _, err := issuer.IssueAccess(42)
	if err != nil {
		t.Fatal(err)
	}
	refresh, _, _, err := issuer.IssueRefresh(42)
	if err != nil {
		t.Fatal(err)
	}
	forged, _, err := forger.IssueAccess(42)
	if err != nil {
		t.Fatal(err)
	}

	e := echo.New()
	var gotID uint64
	var gotOK bool
	handler := AccessAuth(issuer)(func(c echo.Context) error {
		gotID, gotOK = UserID(c)
		return c.NoContent(http.StatusOK)
	})

	cases := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid access token", "Bearer " + access, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"no bearer prefix", access, http.StatusUnauthorized},
		{"refresh token substituted", "Bearer " + refresh, http.StatusUnauthorized},
		{"forged signature", "Bearer " + forged, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotID, gotOK = 0, false
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			if err := handler(e.NewContext(req, rec)); err != nil {
				t.Fatalf("handler error: %v", err)
			}
			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if tc.wantStatus == http.StatusOK && (!gotOK || gotID != 42) {
				t.Errorf("user id not propagated: id=%d ok=%v", gotID, gotOK)
			}
		})
	}
}
