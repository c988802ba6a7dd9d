package explorer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mswatii/pokedex-prices/internal/assistant"
	"github.com/mswatii/pokedex-prices/internal/catalog"
	"github.com/mswatii/pokedex-prices/internal/database"
	"github.com/mswatii/pokedex-prices/internal/models"
	"github.com/mswatii/pokedex-prices/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) ListSets(ctx context.Context) ([]models.Set, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Set), args.Error(1)
}

func (m *mockCatalog) SetCards(ctx context.Context, set models.Set) ([]models.Card, error) {
	args := m.Called(ctx, set)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Card), args.Error(1)
}

func (m *mockCatalog) SearchAll(ctx context.Context, query string, maxPages int) ([]models.Card, error) {
	args := m.Called(ctx, query, maxPages)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Card), args.Error(1)
}

func (m *mockCatalog) Image(ctx context.Context, cardID, size string) ([]byte, error) {
	args := m.Called(ctx, cardID, size)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Classify(ctx context.Context, question string) (assistant.Intent, error) {
	args := m.Called(ctx, question)
	return args.Get(0).(assistant.Intent), args.Error(1)
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) UpsertCardPrices(ctx context.Context, prices []database.CardPrice) error {
	return m.Called(ctx, prices).Error(0)
}

func (m *mockRecorder) RecordSetSnapshot(ctx context.Context, s database.SetSnapshot) error {
	return m.Called(ctx, s).Error(0)
}

func card(id, name string, price float64) models.Card {
	raw := models.Record{"id": id, "name": name}
	if price > 0 {
		raw["tcgplayer"] = map[string]any{"prices": map[string]any{"holofoil": map[string]any{"market": price}}}
	}
	return models.CardFromRecord(raw)
}

var (
	obsidian = models.Set{ID: "sv3", Name: "Obsidian Flames", ReleaseDate: "2023/08/11"}
	base     = models.Set{ID: "base1", Name: "Base", ReleaseDate: "1999/01/09"}
	jungle   = models.Set{ID: "base2", Name: "Jungle", ReleaseDate: "1999/06/16"}
)

func TestSets_NewestFirstAndCached(t *testing.T) {
	ctx := context.Background()
	cat := new(mockCatalog)
	cat.On("ListSets", ctx).Return([]models.Set{base, jungle, obsidian}, nil).Once()

	e := New(cat, nil, nil, Options{}, nil)
	sess := session.New(session.TTLs{})

	sets, err := e.Sets(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, []models.Set{obsidian, jungle, base}, sets)

	again, err := e.Sets(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, sets, again)
	cat.AssertNumberOfCalls(t, "ListSets", 1)
}

func TestSets_ErrorIsReported(t *testing.T) {
	ctx := context.Background()
	cat := new(mockCatalog)
	cat.On("ListSets", ctx).Return(nil, catalog.ErrUnauthorized)

	_, err := New(cat, nil, nil, Options{}, nil).Sets(ctx, session.New(session.TTLs{}))
	assert.ErrorIs(t, err, catalog.ErrUnauthorized)
}

func TestMatchSet(t *testing.T) {
	sets := []models.Set{obsidian, {ID: "sv3pt5", Code: "MEW", Name: "151"}, base, {ID: "base4", Name: "Base Set 2"}}

	got, ok := MatchSet(sets, "base")
	require.True(t, ok)
	assert.Equal(t, "base1", got.ID)

	got, ok = MatchSet(sets, "mew")
	require.True(t, ok)
	assert.Equal(t, "151", got.Name)

	got, ok = MatchSet(sets, "obsidian")
	require.True(t, ok)
	assert.Equal(t, "sv3", got.ID)

	_, ok = MatchSet(sets, "Neo Genesis")
	assert.False(t, ok)
	_, ok = MatchSet(sets, " ")
	assert.False(t, ok)
}

func TestSetCards_PricesAndRecords(t *testing.T) {
	ctx := context.Background()
	cat := new(mockCatalog)
	cat.On("SetCards", ctx, obsidian).Return([]models.Card{
		card("a", "Charizard ex", 30.10),
		card("b", "Pidgey", 0),
		card("c", "Ralts", 0.2),
	}, nil).Once()

	rec := new(mockRecorder)
	rec.On("UpsertCardPrices", ctx, mock.MatchedBy(func(p []database.CardPrice) bool {
		return len(p) == 2 && p[0].Card.ID == "a" && p[0].Source == "tcgplayer"
	})).Return(nil)
	rec.On("RecordSetSnapshot", ctx, mock.MatchedBy(func(s database.SetSnapshot) bool {
		return s.SetCode == "sv3" && s.TotalCards == 3 && s.PricedCards == 2 && s.TotalValue == "30.30" &&
			s.Date.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	})).Return(nil)

	e := New(cat, nil, rec, Options{}, nil)
	e.now = func() time.Time { return time.Date(2024, 3, 1, 15, 4, 5, 0, time.UTC) }
	sess := session.New(session.TTLs{})

	batch, err := e.SetCards(ctx, sess, obsidian)
	require.NoError(t, err)
	assert.Len(t, batch.Cards, 3)
	assert.Equal(t, 2, batch.Priced)
	assert.Equal(t, "30.30", batch.Total.StringFixed(2))
	assert.False(t, batch.Partial)
	assert.False(t, batch.Enriched)
	assert.Equal(t, "Holofoil", batch.Cards[0].Finishes[0].Name)
	rec.AssertExpectations(t)

	cached, err := e.SetCards(ctx, sess, obsidian)
	require.NoError(t, err)
	assert.True(t, cached.Cached)
	cat.AssertNumberOfCalls(t, "SetCards", 1)
	cat.AssertNotCalled(t, "SearchAll", mock.Anything, mock.Anything, mock.Anything)
}

func TestSetCards_EnrichesUnpricedBatchOnce(t *testing.T) {
	ctx := context.Background()
	cat := new(mockCatalog)
	cat.On("SetCards", ctx, jungle).Return([]models.Card{card("j1", "Snorlax", 0), card("j2", "Pikachu", 0)}, nil).Once()
	cat.On("SearchAll", ctx, "Jungle", 10).Return([]models.Card{card("j1", "Snorlax", 12), card("zz", "Other", 3)}, nil).Once()

	e := New(cat, nil, nil, Options{}, nil)
	sess := session.New(session.TTLs{})

	batch, err := e.SetCards(ctx, sess, jungle)
	require.NoError(t, err)
	assert.True(t, batch.Enriched)
	assert.Equal(t, 12.0, batch.Cards[0].Price)
	assert.Equal(t, 0.0, batch.Cards[1].Price)

	_, err = e.SetCards(ctx, sess, jungle)
	require.NoError(t, err)
	cat.AssertExpectations(t)
}

func TestSetCards_PartialIsNotCached(t *testing.T) {
	ctx := context.Background()
	cat := new(mockCatalog)
	cat.On("SetCards", ctx, base).Return([]models.Card{card("b1", "Alakazam", 40)}, catalog.ErrPartial)

	e := New(cat, nil, nil, Options{}, nil)
	sess := session.New(session.TTLs{})

	batch, err := e.SetCards(ctx, sess, base)
	require.NoError(t, err)
	assert.True(t, batch.Partial)
	assert.Len(t, batch.Cards, 1)

	_, err = e.SetCards(ctx, sess, base)
	require.NoError(t, err)
	cat.AssertNumberOfCalls(t, "SetCards", 2)
}

func TestSetCards_RejectedKeyIsAnError(t *testing.T) {
	ctx := context.Background()
	cat := new(mockCatalog)
	cat.On("SetCards", ctx, base).Return([]models.Card{}, fmt.Errorf("%w: page 1: %w", catalog.ErrPartial, catalog.ErrUnauthorized))

	e := New(cat, nil, nil, Options{}, nil)
	_, err := e.SetCards(ctx, session.New(session.TTLs{}), base)
	assert.ErrorIs(t, err, catalog.ErrUnauthorized)
	cat.AssertNotCalled(t, "SearchAll", mock.Anything, mock.Anything, mock.Anything)
}

func TestImage_Cached(t *testing.T) {
	ctx := context.Background()
	cat := new(mockCatalog)
	cat.On("Image", ctx, "sv3-1", "small").Return([]byte("img"), nil).Once()

	e := New(cat, nil, nil, Options{}, nil)
	sess := session.New(session.TTLs{})
	for i := 0; i < 2; i++ {
		img, err := e.Image(ctx, sess, "sv3-1", "small")
		require.NoError(t, err)
		assert.Equal(t, []byte("img"), img)
	}
	cat.AssertExpectations(t)

	cat.On("Image", ctx, "missing", "").Return(nil, errors.New("404"))
	_, err := e.Image(ctx, sess, "missing", "")
	assert.Error(t, err)
}

func TestSearch_SortsByPrice(t *testing.T) {
	ctx := context.Background()
	cat := new(mockCatalog)
	cat.On("SearchAll", ctx, "Pikachu", 5).Return([]models.Card{
		card("p1", "Pikachu", 1), card("p2", "Pikachu ex", 20), card("p3", "Pikachu V", 0),
	}, nil)

	cards, err := New(cat, nil, nil, Options{}, nil).Search(ctx, " Pikachu ")
	require.NoError(t, err)
	require.Len(t, cards, 3)
	assert.Equal(t, []string{"p2", "p1", "p3"}, []string{cards[0].Card.ID, cards[1].Card.ID, cards[2].Card.ID})
}
