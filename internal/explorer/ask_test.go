package explorer

import (
	"context"
	"testing"

	"github.com/mswatii/pokedex-prices/internal/assistant"
	"github.com/mswatii/pokedex-prices/internal/models"
	"github.com/mswatii/pokedex-prices/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopN(t *testing.T) {
	assert.Equal(t, 5, TopN("top 5 cards in Evolving Skies"))
	assert.Equal(t, 3, TopN("show me the 3 most expensive cards in Base"))
	assert.Equal(t, DefaultTopN, TopN("best cards in 151"))
	assert.Equal(t, MaxTopN, TopN("top 500 cards"))
	assert.Equal(t, DefaultTopN, TopN("top 0 cards"))
}

func TestAsk_Disabled(t *testing.T) {
	_, err := New(new(mockCatalog), nil, nil, Options{}, nil).Ask(context.Background(), session.New(session.TTLs{}), "hi")
	assert.ErrorIs(t, err, ErrAssistantDisabled)
}

func TestAsk_ClassificationErrorBecomesMessage(t *testing.T) {
	ctx := context.Background()
	cls := new(mockClassifier)
	cls.On("Classify", ctx, "gibberish").Return(assistant.Intent{}, assistant.ErrUnrecognised)

	answer, err := New(new(mockCatalog), cls, nil, Options{}, nil).Ask(ctx, session.New(session.TTLs{}), "gibberish")
	require.NoError(t, err)
	assert.Nil(t, answer.Intent)
	assert.Equal(t, assistant.UnrecognisedMessage, answer.Message)
}

func TestAsk_Intents(t *testing.T) {
	ctx := context.Background()
	setCards := []models.Card{card("a", "Charizard", 10), card("b", "Blastoise", 25.5), card("c", "Pidgey", 0.25)}

	newExplorer := func(question string, intent assistant.Intent) (*Explorer, *mockCatalog) {
		cat := new(mockCatalog)
		cat.On("ListSets", ctx).Return([]models.Set{base, jungle}, nil)
		cat.On("SetCards", ctx, base).Return(setCards, nil)
		cls := new(mockClassifier)
		cls.On("Classify", ctx, question).Return(intent, nil)
		return New(cat, cls, nil, Options{}, nil), cat
	}

	t.Run("total cost", func(t *testing.T) {
		q := "how much is base set worth"
		e, _ := newExplorer(q, assistant.Intent{RequestType: assistant.RequestTotalCost, SearchTerm: "Base"})
		answer, err := e.Ask(ctx, session.New(session.TTLs{}), q)
		require.NoError(t, err)
		require.NotNil(t, answer.Total)
		assert.Equal(t, "35.75", answer.Total.StringFixed(2))
		assert.Equal(t, "base1", answer.Set.ID)
		assert.Contains(t, answer.Message, "$35.75")
	})

	t.Run("top cards", func(t *testing.T) {
		q := "top 2 cards in base"
		e, _ := newExplorer(q, assistant.Intent{RequestType: assistant.RequestTopCards, SearchTerm: "base"})
		answer, err := e.Ask(ctx, session.New(session.TTLs{}), q)
		require.NoError(t, err)
		require.Len(t, answer.Cards, 2)
		assert.Equal(t, "b", answer.Cards[0].Card.ID)
		assert.Equal(t, "a", answer.Cards[1].Card.ID)
	})

	t.Run("set selects it", func(t *testing.T) {
		q := "show me base"
		e, _ := newExplorer(q, assistant.Intent{RequestType: assistant.RequestSet, SearchTerm: "base"})
		sess := session.New(session.TTLs{})
		answer, err := e.Ask(ctx, sess, q)
		require.NoError(t, err)
		assert.Len(t, answer.Cards, 3)
		selected, ok := sess.SelectedSet()
		require.True(t, ok)
		assert.Equal(t, "base1", selected.ID)
	})

	t.Run("unknown set", func(t *testing.T) {
		q := "value of neo"
		e, cat := newExplorer(q, assistant.Intent{RequestType: assistant.RequestTotalCost, SearchTerm: "Neo Genesis"})
		answer, err := e.Ask(ctx, session.New(session.TTLs{}), q)
		require.NoError(t, err)
		assert.Contains(t, answer.Message, "Neo Genesis")
		assert.Nil(t, answer.Total)
		cat.AssertNotCalled(t, "SetCards", ctx, base)
	})

	t.Run("pokemon", func(t *testing.T) {
		q := "mewtwo cards"
		e, cat := newExplorer(q, assistant.Intent{RequestType: assistant.RequestPokemon, SearchTerm: "Mewtwo"})
		cat.On("SearchAll", ctx, "Mewtwo", 5).Return([]models.Card{card("m1", "Mewtwo", 3), card("m2", "Mewtwo ex", 9)}, nil)
		answer, err := e.Ask(ctx, session.New(session.TTLs{}), q)
		require.NoError(t, err)
		require.Len(t, answer.Cards, 2)
		assert.Equal(t, "m2", answer.Cards[0].Card.ID)
		assert.Equal(t, "Found 2 cards for Mewtwo.", answer.Message)
	})
}
