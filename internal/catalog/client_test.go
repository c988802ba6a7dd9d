package catalog

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/mswatii/pokedex-prices/internal/models"
	"github.com/mswatii/pokedex-prices/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

// newTestClient serves handler over an in-memory listener and points a client at it
func newTestClient(t *testing.T, handler fasthttp.RequestHandler, pages PaginatorConfig) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = fasthttp.Serve(ln, handler) }()
	t.Cleanup(func() { _ = ln.Close() })

	doer := &fasthttp.Client{
		Dial: func(addr string) (net.Conn, error) { return ln.Dial() },
	}
	c, err := NewClient(Config{
		BaseURL: "http://catalog.test/v2",
		APIKey:  "secret",
		RPS:     1000,
		Timeout: time.Second,
		Retry:   retry.Policy{Attempts: 3, BaseDelay: time.Millisecond},
		Pages:   pages,
	}, doer, nil)
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{APIKey: "  "}, nil, nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestClient_ListSets(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		assert.Equal(t, "/v2/sets", string(ctx.Path()))
		assert.Equal(t, "secret", string(ctx.Request.Header.Peek("X-Api-Key")))
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"data":[{"set_id":24541,"set_code":"SV3","name":"Obsidian Flames","release_date":"2023-08-11","card_count":230},{"id":"base1","name":"Base","images":{"logo":"logo.png"}}]}`)
	}, PaginatorConfig{})

	sets, err := c.ListSets(context.Background())
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.Equal(t, models.Set{ID: "24541", Code: "SV3", Name: "Obsidian Flames", ReleaseDate: "2023-08-11", CardCount: 230}, sets[0])
	assert.Equal(t, "base1", sets[1].Key())
	assert.Equal(t, "logo.png", sets[1].LogoURL)
}

func TestClient_SetCardsPaginates(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/v2/sets/SV3", string(ctx.Path()))
		assert.Equal(t, "2", string(ctx.QueryArgs().Peek("limit")))
		switch string(ctx.QueryArgs().Peek("page")) {
		case "1":
			ctx.SetBodyString(`{"cards":[{"id":"a","name":"Charizard ex","TCG_Prices":[{"market_price":30.5}]},{"id":"b","name":"Pidgey"}],"set":{"name":"Obsidian Flames","set_code":"SV3"},"pagination":{"page":1}}`)
		case "2":
			ctx.SetBodyString(`{"cards":[{"id":"c","name":"Ralts"}],"pagination":{"page":2}}`)
		default:
			t.Errorf("unexpected page %s", ctx.QueryArgs().Peek("page"))
		}
	}, PaginatorConfig{PageSize: 2})

	cards, err := c.SetCards(context.Background(), models.Set{ID: "24541", Code: "SV3"})
	require.NoError(t, err)
	require.Len(t, cards, 3)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	for _, card := range cards {
		assert.Equal(t, "Obsidian Flames", card.SetName)
		assert.Equal(t, "SV3", card.SetCode)
	}
	assert.Equal(t, "Charizard ex", cards[0].Name)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		if atomic.AddInt32(&calls, 1) < 3 {
			ctx.SetStatusCode(fasthttp.StatusBadGateway)
			return
		}
		ctx.SetBodyString(`{"results":[{"id":"p1","name":"Pikachu"}],"pagination":{"total_pages":1}}`)
	}, PaginatorConfig{PageSize: 10})

	cards, err := c.SearchAll(context.Background(), "Pikachu", 2)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "p1", cards[0].ID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_DoesNotRetryUnauthorized(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		atomic.AddInt32(&calls, 1)
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
	}, PaginatorConfig{})

	_, err := c.ListSets(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_SetCardsUnauthorizedOnFirstPage(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		atomic.AddInt32(&calls, 1)
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
	}, PaginatorConfig{PageSize: 2})

	cards, err := c.SetCards(context.Background(), models.Set{ID: "sv3", Name: "Obsidian Flames"})
	assert.Empty(t, cards)
	assert.ErrorIs(t, err, ErrPartial)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_SetCardsKeepsStatusOnLaterPage(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.QueryArgs().Peek("page")) == "1" {
			ctx.SetBodyString(`{"cards":[{"id":"a"},{"id":"b"}]}`)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
	}, PaginatorConfig{PageSize: 2})

	cards, err := c.SetCards(context.Background(), models.Set{ID: "sv3"})
	assert.Len(t, cards, 2)
	assert.ErrorIs(t, err, ErrPartial)
	var status *StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, fasthttp.StatusBadRequest, status.Code)
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
	// "é" is two bytes; cutting at 2 would split it
	got := truncate("aé-rest", 2)
	assert.Equal(t, "a...", got)
	assert.True(t, utf8.ValidString(got))
}

func TestClient_NotFoundIsPermanent(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		atomic.AddInt32(&calls, 1)
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetBodyString("no such set")
	}, PaginatorConfig{})

	_, err := c.SetPage(context.Background(), "nope", 1, 10)
	var status *StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, fasthttp.StatusNotFound, status.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_Image(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		assert.Equal(t, "/v2/images/sv3-125", string(ctx.Path()))
		assert.Equal(t, "small", string(ctx.QueryArgs().Peek("size")))
		ctx.SetContentType("image/png")
		ctx.SetBody([]byte{0x89, 'P', 'N', 'G'})
	}, PaginatorConfig{})

	img, err := c.Image(context.Background(), "sv3-125", "small")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, img)
}
