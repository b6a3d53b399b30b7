// Package extract implements rule-based, dictionary-driven entity and
// verb extraction with no external model. It is deliberately
// deterministic — same dictionaries, same input, same output — since it
// feeds both the importance seed and the knowledge graph.
package extract

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/SarahR1/shodh-memory/model"
)

// Entity is a single extracted mention before graph upsert.
type Entity struct {
	Surface   string
	Canonical string
	Type      model.EntityType
	Proper    bool
}

// Verb is a single classified verb occurrence.
type Verb struct {
	Lemma string
	Class VerbClass
}

// Result is everything extracted from one piece of text.
type Result struct {
	Entities []Entity
	Verbs    []Verb
	Tags     []string
}

var (
	tagPattern    = regexp.MustCompile(`#(\w+)`)
	handlePattern = regexp.MustCompile(`^@\w+$`)
	acronymPattern = regexp.MustCompile(`^[A-Z]{2,6}$`)
	semverPattern  = regexp.MustCompile(`^v?\d+\.\d+\.\d+$`)
)

// Extract runs the full rule-based entity/verb extraction pipeline over
// one piece of text.
func Extract(text string) Result {
	sentences := splitSentences(text)

	var res Result
	seenEntity := make(map[string]int) // canonical -> index into res.Entities
	seenVerb := make(map[string]struct{})
	seenTag := make(map[string]struct{})

	for _, m := range tagPattern.FindAllStringSubmatch(text, -1) {
		tag := strings.ToLower(m[1])
		if _, ok := seenTag[tag]; !ok {
			seenTag[tag] = struct{}{}
			res.Tags = append(res.Tags, tag)
		}
	}

	for _, sentence := range sentences {
		tokens := tokenize(sentence)
		for i, tok := range tokens {
			clean := strings.Trim(tok, `"'(),;:`)
			if clean == "" {
				continue
			}
			lower := strings.ToLower(clean)

			if cls, ok := verbClass(lower); ok {
				if _, dup := seenVerb[lower]; !dup {
					seenVerb[lower] = struct{}{}
					res.Verbs = append(res.Verbs, Verb{Lemma: lower, Class: cls})
				}
				continue
			}

			if isTagToken(lower) {
				if _, ok := seenTag[lower]; !ok {
					seenTag[lower] = struct{}{}
					res.Tags = append(res.Tags, lower)
				}
			}

			if ent, ok := classifyToken(clean, lower, tokens, i); ok {
				if idx, dup := seenEntity[ent.Canonical]; dup {
					res.Entities[idx].Proper = res.Entities[idx].Proper || ent.Proper
					continue
				}
				seenEntity[ent.Canonical] = len(res.Entities)
				res.Entities = append(res.Entities, ent)
			}
		}

		extractCommonNouns(tokens, &res, seenEntity)
	}

	return res
}

func splitSentences(text string) []string {
	// A simple splitter: break on ., !, ? followed by whitespace/EOF. Good
	// enough to know "not at sentence start" and
	// keeps the extractor free of any NLP dependency.
	var sentences []string
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		if r == '.' || r == '!' || r == '?' {
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				sentences = append(sentences, string(runes[start:i+1]))
				start = i + 1
			}
		}
	}
	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}
	if len(sentences) == 0 {
		sentences = []string{text}
	}
	return sentences
}

func tokenize(sentence string) []string {
	return strings.Fields(sentence)
}

func isTagToken(lower string) bool {
	_, isTech := techKeywords[lower]
	return isTech
}

// classifyToken applies the proper-noun / org / location / person rules in
// priority order.
func classifyToken(clean, lower string, tokens []string, idx int) (Entity, bool) {
	if handlePattern.MatchString(clean) {
		return Entity{Surface: clean, Canonical: strings.ToLower(clean), Type: model.EntityOther, Proper: true}, true
	}
	if semverPattern.MatchString(clean) {
		return Entity{Surface: clean, Canonical: strings.ToLower(clean), Type: model.EntityTechnology, Proper: true}, true
	}

	proper := isProperNoun(clean, idx)
	if !proper {
		return Entity{}, false
	}

	entType := inferType(lower, tokens, idx)
	return Entity{Surface: clean, Canonical: lower, Type: entType, Proper: true}, true
}

func isProperNoun(clean string, idx int) bool {
	if clean == "" {
		return false
	}
	runes := []rune(clean)
	if acronymPattern.MatchString(clean) {
		return true
	}
	if _, ok := techKeywords[strings.ToLower(clean)]; ok {
		return true
	}
	if unicode.IsUpper(runes[0]) && idx > 0 {
		return true
	}
	return false
}

// inferType applies a fixed priority order: tech -> org -> location ->
// person-cue -> concept.
func inferType(lower string, tokens []string, idx int) model.EntityType {
	if _, ok := techKeywords[lower]; ok {
		return model.EntityTechnology
	}
	if _, ok := orgIndicators[lower]; ok {
		return model.EntityOrganization
	}
	if idx+1 < len(tokens) {
		next := strings.ToLower(strings.Trim(tokens[idx+1], `.,;:`))
		if _, ok := orgIndicators[next]; ok {
			return model.EntityOrganization
		}
	}
	if _, ok := locationWords[lower]; ok {
		return model.EntityLocation
	}
	if idx > 0 {
		prev := strings.ToLower(tokens[idx-1])
		if _, ok := personCuePrefixes[prev]; ok {
			return model.EntityPerson
		}
	}
	if idx+1 < len(tokens) {
		next := strings.ToLower(strings.Trim(tokens[idx+1], `.,;:`))
		if _, ok := personCueVerbsAfter[next]; ok {
			return model.EntityPerson
		}
	}
	return model.EntityConcept
}

// extractCommonNouns tags "the X"/"a X" spans as low-confidence Concept
// mentions, skipping anything
// already captured as a proper noun.
func extractCommonNouns(tokens []string, res *Result, seen map[string]int) {
	for i := 0; i+1 < len(tokens); i++ {
		det := strings.ToLower(strings.Trim(tokens[i], `.,;:!?`))
		if _, ok := determiners[det]; !ok {
			continue
		}
		noun := strings.Trim(tokens[i+1], `.,;:!?"'`)
		if noun == "" {
			continue
		}
		lower := strings.ToLower(noun)
		if unicode.IsUpper([]rune(noun)[0]) {
			continue // already handled as a proper noun
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = len(res.Entities)
		res.Entities = append(res.Entities, Entity{Surface: noun, Canonical: lower, Type: model.EntityConcept, Proper: false})
	}
}

func verbClass(lower string) (VerbClass, bool) {
	if _, ok := memoryFormingVerbs[lower]; ok {
		return VerbMemoryForming, true
	}
	if _, ok := actionVerbs[lower]; ok {
		return VerbAction, true
	}
	if _, ok := structuralVerbs[lower]; ok {
		return VerbStructural, true
	}
	return "", false
}
