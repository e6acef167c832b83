package dart

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipopipe/internal/ports"
)

func serve(t *testing.T, body string, check func(r *http.Request)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "key", srv.Client())
}

func TestFetchDisclosureRows(t *testing.T) {
	c := serve(t, `{"status":"000","message":"정상","list":[
        {"corp_code":"00126380","corp_name":"alpha-tech","rcept_no":"20260214000001","report_nm":"securities filing","rcept_dt":"20260214"}
    ]}`, func(r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/list.json", r.URL.Path)
		assert.Equal(t, "key", q.Get("crtfc_key"))
		assert.Equal(t, "00126380", q.Get("corp_code"))
		assert.Equal(t, "1", q.Get("page_no"))
		assert.Equal(t, "100", q.Get("page_count"))
		assert.Equal(t, "Y", q.Get("last_reprt_at"))
		assert.False(t, q.Has("bgn_de"))
	})

	rows, err := c.FetchDisclosureRows(t.Context(), ports.DisclosureQuery{CorpCode: "00126380", PageNo: 1, PageCount: 100, LastReportAt: "Y"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "20260214000001", rows[0]["rcept_no"])
}

func TestFetchDisclosureRowsNoData(t *testing.T) {
	c := serve(t, `{"status":"013","message":"조회된 데이타가 없습니다."}`, nil)
	rows, err := c.FetchDisclosureRows(t.Context(), ports.DisclosureQuery{CorpCode: "x"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFetchDisclosureRowsStatusErrors(t *testing.T) {
	c := serve(t, `{"status":"010","message":"등록되지 않은 키입니다."}`, nil)
	_, err := c.FetchDisclosureRows(t.Context(), ports.DisclosureQuery{CorpCode: "x"})
	assert.ErrorIs(t, err, ports.ErrAuth)

	c = serve(t, `{"status":"020","message":"요청 제한을 초과하였습니다."}`, nil)
	_, err = c.FetchDisclosureRows(t.Context(), ports.DisclosureQuery{CorpCode: "x"})
	assert.ErrorIs(t, err, ports.ErrRequest)
	assert.Contains(t, err.Error(), "status=020")
}
