package kind

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullLayout = `<table><tbody>
<tr><th>name</th></tr>
<tr>
  <td><img src="kosdaq.gif" alt="코스닥"/>alpha-tech</td>
  <td>2026-02-01</td><td>x</td><td>x</td><td>x</td><td>x</td><td>x</td>
  <td>2026-03-15</td>
  <td>future<br/>securities</td>
</tr>
<tr>
  <td><img alt="유가증권"/>beta&amp;co</td>
  <td></td><td></td><td></td><td></td><td></td><td></td>
  <td>2025-11-03</td>
  <td>&nbsp;gamma&nbsp;</td>
</tr>
</tbody></table>`

func TestParseFullLayout(t *testing.T) {
	today := time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC)
	rows, err := parseCompanyTable(strings.NewReader(fullLayout), today)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "alpha-tech", rows[0]["corp_name"])
	assert.Equal(t, "코스닥", rows[0]["market"])
	assert.Equal(t, "2026-03-15", rows[0]["listing_date"])
	assert.Equal(t, "future securities", rows[0]["lead_manager"])
	assert.Equal(t, "prelisting", rows[0]["stage"])

	assert.Equal(t, "beta&co", rows[1]["corp_name"])
	assert.Equal(t, "유가증권", rows[1]["market"])
	assert.Equal(t, "gamma", rows[1]["lead_manager"])
	assert.Equal(t, "listed", rows[1]["stage"])
}

func TestParseCompactLayout(t *testing.T) {
	doc := `<table>
<tr><td>delta</td><td>KOSDAQ</td><td>공모</td><td>20260401</td><td>lead</td></tr>
<tr><td>epsilon</td><td>KOSPI</td><td></td><td></td><td>lead</td></tr>
<tr><td></td><td>KOSPI</td><td></td><td></td><td>lead</td></tr>
<tr><td>short</td><td>row</td></tr>
</table>`
	rows, err := parseCompanyTable(strings.NewReader(doc), time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "공모", rows[0]["stage"])
	assert.Equal(t, "KOSDAQ", rows[0]["market"])
	assert.Equal(t, "offering", rows[1]["stage"])
}

func TestDeriveStage(t *testing.T) {
	today := time.Date(2026, 2, 14, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "offering", deriveStage("", today))
	assert.Equal(t, "offering", deriveStage("2026-13-40", today))
	assert.Equal(t, "offering", deriveStage("soon", today))
	assert.Equal(t, "prelisting", deriveStage("2026-02-14", today))
	assert.Equal(t, "listed", deriveStage("20260213", today))
}

func TestFetchListingRowsKeepsSession(t *testing.T) {
	var sawCookie bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/listinvstg/pubofrprogcom.do", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "searchPubofrProgComMain", r.URL.Query().Get("method"))
			http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "abc", Path: "/"})
		case http.MethodPost:
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "searchPubofrProgComSub", r.PostForm.Get("method"))
			assert.Equal(t, "3000", r.PostForm.Get("currentPageSize"))
			assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))
			if c, err := r.Cookie("JSESSIONID"); err == nil && c.Value == "abc" {
				sawCookie = true
			}
			_, _ = w.Write([]byte(fullLayout))
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/listinvstg", time.Second)
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC) }

	rows, err := c.FetchListingRows(t.Context())
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.True(t, sawCookie)
}
