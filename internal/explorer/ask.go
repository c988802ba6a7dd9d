package explorer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/mswatii/pokedex-prices/internal/assistant"
	"github.com/mswatii/pokedex-prices/internal/models"
	"github.com/mswatii/pokedex-prices/internal/session"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultTopN = 10
	MaxTopN     = 50
)

// ErrAssistantDisabled is returned by Ask when no language model is configured
var ErrAssistantDisabled = errors.New("assistant is not configured")

// Answer is the assistant's reply to one question. When the question could not be
// classified or resolved, Intent is nil and Message explains why.
type Answer struct {
	Intent  *assistant.Intent `json:"intent,omitempty"`
	Set     *models.Set       `json:"set,omitempty"`
	Cards   []PricedCard      `json:"cards,omitempty"`
	Total   *decimal.Decimal  `json:"total,omitempty"`
	Message string            `json:"message"`
}

var topNPattern = regexp.MustCompile(`(?i)\btop\s*(\d{1,3})\b|\b(\d{1,3})\s+(?:most\s+)?(?:expensive|valuable|priciest|best)\b`)

// TopN reads "top 5" / "3 most expensive" style counts out of a question
func TopN(question string) int {
	m := topNPattern.FindStringSubmatch(question)
	if m == nil {
		return DefaultTopN
	}
	digits := m[1]
	if digits == "" {
		digits = m[2]
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return DefaultTopN
	}
	if n > MaxTopN {
		return MaxTopN
	}
	return n
}

// Ask classifies a free-text question and answers it with the matching lookup.
// Classification problems and unknown sets are reported in Answer.Message, never as errors;
// the error return is reserved for a missing assistant configuration and catalog outages.
func (e *Explorer) Ask(ctx context.Context, sess *session.Session, question string) (Answer, error) {
	if e.classifier == nil {
		return Answer{}, ErrAssistantDisabled
	}

	intent, err := e.classifier.Classify(ctx, question)
	if err != nil {
		return Answer{Message: err.Error()}, nil
	}
	e.logger.Info("assistant question",
		zap.String("session", sess.ID),
		zap.String("request_type", string(intent.RequestType)),
		zap.String("search_term", intent.SearchTerm))

	answer := Answer{Intent: &intent}

	if intent.RequestType == assistant.RequestPokemon {
		cards, err := e.Search(ctx, intent.SearchTerm)
		if err != nil {
			return answer, err
		}
		answer.Cards = cards
		if len(cards) == 0 {
			answer.Message = fmt.Sprintf("No cards found for %s.", intent.SearchTerm)
		} else {
			answer.Message = fmt.Sprintf("Found %d cards for %s.", len(cards), intent.SearchTerm)
		}
		return answer, nil
	}

	set, err := e.FindSet(ctx, sess, intent.SearchTerm)
	if errors.Is(err, ErrSetNotFound) {
		answer.Message = fmt.Sprintf("Couldn't find a set called %q.", intent.SearchTerm)
		return answer, nil
	}
	if err != nil {
		return answer, err
	}
	answer.Set = &set

	batch, err := e.SetCards(ctx, sess, set)
	if err != nil {
		return answer, err
	}

	switch intent.RequestType {
	case assistant.RequestSet:
		sess.Select(set)
		answer.Cards = batch.Cards
		answer.Message = fmt.Sprintf("%s has %d cards.", set.Name, len(batch.Cards))
	case assistant.RequestTotalCost:
		total := batch.Total
		answer.Total = &total
		answer.Message = fmt.Sprintf("The total market value of %s is $%s across %d priced cards.",
			set.Name, total.StringFixed(2), batch.Priced)
	case assistant.RequestTopCards:
		n := TopN(question)
		cards := append([]PricedCard(nil), batch.Cards...)
		sortByPrice(cards)
		if len(cards) > n {
			cards = cards[:n]
		}
		answer.Cards = cards
		answer.Message = fmt.Sprintf("Top %d cards in %s by market price.", len(cards), set.Name)
	}
	return answer, nil
}
