// Package search maintains the lexical and semantic indexes of articles.
package search

import (
	"strings"
	"unicode"

	"github.com/content-store-api/internal/models"
)

// Weight ranks an indexed field. Higher weights must always outrank lower ones.
type Weight int

const (
	WeightBody    Weight = 1
	WeightSummary Weight = 2
	WeightTitle   Weight = 3
)

// Label maps the weight to a Postgres setweight label
func (w Weight) Label() string {
	switch {
	case w >= WeightTitle:
		return "A"
	case w == WeightSummary:
		return "B"
	case w == WeightBody:
		return "C"
	default:
		return "D"
	}
}

// boost doubles per weight step. Term frequency saturates in [0.5, 1), so a
// single hit in a heavier field beats any number of hits in a lighter one.
func (w Weight) boost() float64 {
	if w < 1 {
		return 0.5
	}
	return float64(int(1) << (w - 1))
}

// Field is one weighted text source
type Field struct {
	Name   string
	Text   string
	Weight Weight
}

// Document is the weighted token representation of an article
type Document struct {
	Fields []Field
}

// BuildDocument derives the lexical document for an article
func BuildDocument(a *models.Article) Document {
	return Document{Fields: []Field{
		{Name: "title", Text: a.Title, Weight: WeightTitle},
		{Name: "summary", Text: a.Summary, Weight: WeightSummary},
		{Name: "body", Text: a.Body, Weight: WeightBody},
	}}
}

// Tokenize splits text into lowercase letter/digit runs
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// QueryTerms returns the distinct tokens of a query
func QueryTerms(query string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, t := range Tokenize(query) {
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}
	return terms
}

// Score ranks the document against query terms with a weighted,
// saturating term-frequency model. Every term must occur in some field,
// otherwise the score is zero.
func (d Document) Score(terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}

	counts := make([]map[string]int, len(d.Fields))
	for i, f := range d.Fields {
		counts[i] = make(map[string]int)
		for _, tok := range Tokenize(f.Text) {
			counts[i][tok]++
		}
	}

	var score float64
	for _, term := range terms {
		var termScore float64
		for i, f := range d.Fields {
			tf := counts[i][term]
			if tf == 0 {
				continue
			}
			termScore += f.Weight.boost() * float64(tf) / float64(tf+1)
		}
		if termScore == 0 {
			return 0
		}
		score += termScore
	}
	return score
}
