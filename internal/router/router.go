// Package router turns utterances into outcomes: canned replies for rule-based
// intents, the language model for everything else.
package router

import (
	"context"
	"fmt"
	log "log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"alfred/internal/config"
	"alfred/internal/intent"
)

// Completer answers free-form prompts.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Router struct {
	bridge   Completer
	phrases  config.Phrases
	cards    map[string]config.Card
	outcomes metric.Int64Counter
}

func New(bridge Completer, phrases config.Phrases, cards []config.Card) *Router {
	r := &Router{
		bridge:  bridge,
		phrases: phrases,
		cards:   make(map[string]config.Card, len(cards)),
	}
	for _, c := range cards {
		r.cards[c.ID] = c
	}

	counter, err := meter.Int64Counter("alfred.outcomes",
		metric.WithDescription("Routed utterances by resulting action"))
	if err != nil {
		log.Warn("Failed to create outcome counter", "err", err)
	}
	r.outcomes = counter

	return r
}

// Resolve classifies text and produces its outcome. It never fails: a bridge
// error becomes a spoken apology with ActionError.
func (r *Router) Resolve(ctx context.Context, text string) Outcome {
	ctx, span := tracer.Start(ctx, "resolve utterance")
	defer span.End()

	in := intent.Classify(text)
	span.SetAttributes(attribute.String("intent", in.Kind.String()))

	out := r.resolve(ctx, in)
	span.SetAttributes(attribute.String("action", out.Action.String()))

	if r.outcomes != nil {
		r.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("action", out.Action.String())))
	}

	log.Debug("Resolved", "intent", in.Kind, "action", out.Action)
	return out
}

func (r *Router) resolve(ctx context.Context, in intent.Intent) Outcome {
	switch in.Kind {
	case intent.Stop:
		return Outcome{SpokenText: r.phrases.Stop, Action: ActionStop}

	case intent.Sing:
		label := in.SongQuery
		if label == intent.RandomSong {
			label = r.phrases.RandomSong
		}
		return Outcome{
			SpokenText: fmt.Sprintf(r.phrases.Sing, label),
			Action:     ActionSingSong,
			Payload:    SongRequest{Query: in.SongQuery},
		}

	case intent.ShowCard:
		return r.showCard(in.CardID)

	default:
		answer, err := r.bridge.Complete(ctx, in.Prompt)
		if err != nil {
			log.Error("Failed to reach language model", "err", err)
			return Outcome{SpokenText: r.phrases.BridgeFailed, Action: ActionError}
		}
		return Outcome{SpokenText: answer, Action: ActionNone}
	}
}

func (r *Router) showCard(id string) Outcome {
	card, ok := r.cards[id]
	if !ok {
		log.Error("No card configured", "card", id)
		return Outcome{SpokenText: r.phrases.SystemError, Action: ActionNone}
	}

	action := ActionShowProject
	if id == intent.CardContact {
		action = ActionShowContact
	}

	return Outcome{
		SpokenText: card.Reply,
		Action:     action,
		Payload: Card{
			Title:       card.Title,
			Description: card.Description,
			Image:       card.Image,
			Link:        card.Link,
		},
	}
}

// Greeting is the outcome spoken when the overlay comes online.
func (r *Router) Greeting() Outcome {
	return Outcome{SpokenText: r.phrases.Greeting, Action: ActionNone}
}
