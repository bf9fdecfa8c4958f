package emotion

import (
	"github.com/normanking/cortexcompanion/internal/avatar"
	"github.com/normanking/cortexcompanion/internal/lexicon"
)

// Keywords are the stock per-category keyword lists. Neutral has none; it is
// reached through context bias or the all-zero fallback.
var Keywords = map[avatar.Emotion][]string{
	avatar.EmotionHappy:     {"feliz", "alegre", "gostar", "adorar", "incrível", "maravilhoso", "perfeito"},
	avatar.EmotionSad:       {"triste", "chateado", "decepcionado", "desanimado", "perder", "fracassar"},
	avatar.EmotionAngry:     {"raiva", "bravo", "furioso", "irritado", "ódio", "injusto"},
	avatar.EmotionSurprised: {"surpresa", "incrível", "inesperado", "uau", "impressionante"},
	avatar.EmotionConfused:  {"confuso", "dúvida", "perguntar", "não sei", "não entender"},
	avatar.EmotionExcited:   {"animado", "empolgado", "entusiasmado", "esperançoso", "ansioso"},
}

var defaultTable = lexicon.NewTable(avatar.Emotions, Keywords)

// TimeOfDay is a wall-clock bucket.
type TimeOfDay string

const (
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
	Night     TimeOfDay = "night"
)

// TimeOfDayFor buckets an hour using the fixed 5/12/17/22 boundaries.
func TimeOfDayFor(hour int) TimeOfDay {
	switch {
	case hour >= 5 && hour < 12:
		return Morning
	case hour >= 12 && hour < 17:
		return Afternoon
	case hour >= 17 && hour < 22:
		return Evening
	default:
		return Night
	}
}

// Sentiment is the majority mood of recent interactions.
type Sentiment string

const (
	Positive Sentiment = "positive"
	Negative Sentiment = "negative"
	Neutral  Sentiment = "neutral"
)

// Weights is an additive bias per category.
type Weights map[avatar.Emotion]float64

// DefaultTimeWeights biases mornings toward happy. Neutral is never biased
// by default, so text without keywords falls through to (neutral, 0.5).
func DefaultTimeWeights() map[TimeOfDay]Weights {
	return map[TimeOfDay]Weights{
		Morning:   {avatar.EmotionHappy: 0.1},
		Afternoon: {},
		Evening:   {},
		Night:     {},
	}
}

// DefaultHistoryWeights biases a positive history toward happy.
func DefaultHistoryWeights() map[Sentiment]Weights {
	return map[Sentiment]Weights{
		Positive: {avatar.EmotionHappy: 0.2},
		Negative: {},
		Neutral:  {},
	}
}

// sentimentOf classifies a category as positive, negative or neutral.
func sentimentOf(e avatar.Emotion) Sentiment {
	switch e {
	case avatar.EmotionHappy, avatar.EmotionExcited:
		return Positive
	case avatar.EmotionSad, avatar.EmotionAngry:
		return Negative
	default:
		return Neutral
	}
}

// majority returns positive when positives outnumber negatives, negative
// when reversed, otherwise neutral.
func majority(emotions []avatar.Emotion) Sentiment {
	var pos, neg int
	for _, e := range emotions {
		switch sentimentOf(e) {
		case Positive:
			pos++
		case Negative:
			neg++
		}
	}
	switch {
	case pos > neg:
		return Positive
	case neg > pos:
		return Negative
	default:
		return Neutral
	}
}
