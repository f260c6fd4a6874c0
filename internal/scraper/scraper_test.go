package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const page = `<html><head><title>Spring Sale</title><style>p{color:red}</style></head>
<body>
<h1>Garden   tools</h1>
<p>Up to 40% off <b>shovels</b>.</p>
<script>var hidden = "nope";</script>
<ul><li>Rakes</li><li></li></ul>
</body></html>`

func TestExtractURLs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		want []string
	}{
		{"no links here", []string{}},
		{"see https://example.com/a.", []string{"https://example.com/a"}},
		{"http://a.io and (https://b.io)", []string{"http://a.io", "https://b.io"}},
		{"twice https://x.io https://x.io", []string{"https://x.io", "https://x.io"}},
	}
	for _, tc := range cases {
		got := ExtractURLs(tc.text)
		require.ElementsMatch(t, tc.want, got, tc.text)
	}
}

func TestScrapeFlattensVisibleText(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	r := NewResolver(Options{}, zap.NewNop())
	text, err := r.Scrape(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "Spring Sale,Garden tools,Up to 40% off shovels .,Rakes", text)
}

func TestSupplementOnlyForSingleLink(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(page))
	}))
	defer srv.Close()

	r := NewResolver(Options{}, zap.NewNop())
	ctx := context.Background()

	require.NotEmpty(t, r.Supplement(ctx, "look at this "+srv.URL))
	require.Empty(t, r.Supplement(ctx, "two links "+srv.URL+"/a "+srv.URL+"/b"))
	require.Empty(t, r.Supplement(ctx, "same link twice "+srv.URL+" and again "+srv.URL))
	require.Empty(t, r.Supplement(ctx, "no links"))
	require.Equal(t, int32(1), hits.Load())
}

func TestSupplementSwallowsScrapeFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r := NewResolver(Options{}, zap.NewNop())
	require.Empty(t, r.Supplement(context.Background(), "broken "+srv.URL))
}

func TestScrapeTruncates(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	r := NewResolver(Options{MaxChars: 6}, zap.NewNop())
	text, err := r.Scrape(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "Spring", text)
}
