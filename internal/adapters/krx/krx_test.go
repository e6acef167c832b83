package krx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipopipe/internal/ports"
)

func TestFetchDatasetSendsKeyAndParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sto/stk_isu_base_info", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("AUTH_KEY"))
		assert.Equal(t, "20260213", r.URL.Query().Get("basDd"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"OutBlock_1":[{"BAS_DD":"20260213","ISU_CD":"KR7005930003","TDD_CLSPRC":"71000"}]}`))
	}))
	defer srv.Close()

	c := NewOpenAPIClient(srv.URL+"/", "secret")
	out, err := c.FetchDataset(t.Context(), "sto/stk_isu_base_info", map[string]string{"basDd": "20260213"})
	require.NoError(t, err)
	rows, ok := out["OutBlock_1"].([]any)
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, "KR7005930003", rows[0].(map[string]any)["ISU_CD"])
}

func TestFetchDatasetClassifiesFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
		kind   ports.UpstreamKind
	}{
		{"waf denial", http.StatusOK, "<html>Access Denied</html>", ports.ErrAccessDenied, ports.KindAccessDenied},
		{"denial with 403", http.StatusForbidden, "Access Denied", ports.ErrAccessDenied, ports.KindAccessDenied},
		{"unauthorized", http.StatusUnauthorized, `{"respMsg":"bad key"}`, ports.ErrAuth, ports.KindAuth},
		{"resp code", http.StatusOK, `{"respCode":"401","respMsg":"Unauthorized Key"}`, ports.ErrAuth, ports.KindAuth},
		{"server error", http.StatusBadGateway, "oops", ports.ErrRequest, ports.KindRequest},
		{"bad json", http.StatusOK, "not json", ports.ErrRequest, ports.KindRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewOpenAPIClient(srv.URL, "k").FetchDataset(t.Context(), "p", nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			var ue *ports.UpstreamError
			require.ErrorAs(t, err, &ue)
			assert.Equal(t, tc.kind, ue.Kind)
			assert.Equal(t, "p", ue.Endpoint)
		})
	}
}

func TestFetchBldPostsForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "dbms/MDC/STAT/standard/MDCSTAT01501", r.PostForm.Get("bld"))
		assert.Equal(t, "STK", r.PostForm.Get("mktId"))
		_ = json.NewEncoder(w).Encode(map[string]any{"OutBlock_1": []map[string]string{{"ISU_CD": "A"}}})
	}))
	defer srv.Close()

	c := NewPortalClient(srv.URL, WithRate(100))
	out, err := c.FetchBld(t.Context(), "dbms/MDC/STAT/standard/MDCSTAT01501", map[string]string{"mktId": "STK"})
	require.NoError(t, err)
	assert.Contains(t, out, "OutBlock_1")
}
