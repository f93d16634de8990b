// Package heuristic scores comments against their construct with fixed,
// deterministic rules. It performs no I/O.
package heuristic

import (
	"fmt"
	"regexp"
	"strings"

	"unremark/internal/engine/parser"
)

const (
	ConfidenceTemplate = 0.95
	ConfidenceOverlap  = 0.70
	ConfidenceMarker   = 0.90
	ConfidenceDefault  = 0.20
)

type Options struct {
	// OverlapThreshold is the share of content tokens that must also appear in
	// the construct's name or parameters.
	OverlapThreshold float64
	// MaxUntracedTokens is how many content tokens may be absent from the
	// construct before the comment counts as adding information.
	MaxUntracedTokens int
}

func DefaultOptions() Options {
	return Options{OverlapThreshold: 0.5, MaxUntracedTokens: 3}
}

type template struct {
	name string
	re   *regexp.Regexp
}

// Paraphrase templates. Group 1 is the slot checked against the construct.
var templates = []template{
	{"constructor", regexp.MustCompile(`^(?:the )?(?:constructor|ctor|initializer)(?: for| of)?(?: the| a| an)? (\w+)(?: class| object| struct)?$`)},
	{"setter", regexp.MustCompile(`^(?:set|sets|setting|assign|assigns|store|stores)(?: the)? (\w+)(?: property| field| attribute| member| variable| value)?(?: (?:to|from) (?:the )?\w+)?$`)},
	{"getter", regexp.MustCompile(`^(?:get|gets|getter for|return|returns|fetch|fetches)(?: the)? (\w+)(?: property| field| attribute| value)?$`)},
	{"create", regexp.MustCompile(`^(?:create|creates|construct|constructs|instantiate|instantiates|make|makes)(?: a| an| the)?(?: new)? (\w+)(?: instance| object)?$`)},
	{"naming", regexp.MustCompile(`^(?:the |this )?(\w+) (?:function|method|class|struct|constructor|variable|field|property|module|import|enum|interface|type)$`)},
	{"action", regexp.MustCompile(`^(?:increment|increments|decrement|decrements|initialize|initializes|initialise|init|update|updates|call|calls|invoke|invokes|import|imports|define|defines|declare|declares|calculate|calculates|compute|computes|print|prints|log|logs|check|checks)(?: the)? (\w+)(?: variable| counter| function| method| module| value)?$`)},
	{"import", regexp.MustCompile(`^(?:import|imports|importing|use|uses|using|require|requires)(?: the)? (\w+)(?: module| library| package| crate)?$`)},
}

type Classifier struct {
	opts Options
}

func New(opts Options) *Classifier {
	if opts.OverlapThreshold <= 0 || opts.OverlapThreshold > 1 {
		opts.OverlapThreshold = DefaultOptions().OverlapThreshold
	}
	if opts.MaxUntracedTokens < 0 {
		opts.MaxUntracedTokens = DefaultOptions().MaxUntracedTokens
	}
	return &Classifier{opts: opts}
}

// Score classifies the comment text against construct. Callers handle
// orphans (nil construct) before scoring; a nil construct yields Uncertain.
func (c *Classifier) Score(text string, construct *parser.Construct) parser.Verdict {
	body := normalize(parser.CommentBody(text))
	if construct == nil || body == "" {
		return verdict(parser.LabelUncertain, ConfidenceDefault, "nothing to compare")
	}

	vocab := stemSet(append(append([]string{}, construct.Vocabulary...), construct.Scope...))
	named := stemSet(append([]string{construct.Name}, construct.Params...))

	for _, t := range templates {
		m := t.re.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		slot := m[1]
		if stopwords[slot] {
			continue
		}
		if vocab[stem(slot)] || named[stem(slot)] {
			return verdict(parser.LabelRedundant, ConfidenceTemplate, "template "+t.name+" restates "+slot)
		}
	}

	tokens := contentTokens(body)

	if len(tokens) > 0 {
		overlap, untraced := 0, 0
		for _, tok := range tokens {
			if named[tok] {
				overlap++
			}
			if !vocab[tok] && !named[tok] {
				untraced++
			}
		}
		ratio := float64(overlap) / float64(len(tokens))
		if ratio >= c.opts.OverlapThreshold && untraced == 0 {
			return verdict(parser.LabelRedundant, ConfidenceOverlap, fmt.Sprintf("token overlap %.2f", ratio))
		}
	}

	for _, w := range parser.SplitWords(body) {
		if markers[w] {
			return verdict(parser.LabelUseful, ConfidenceMarker, "explanatory marker "+w)
		}
	}
	if strings.Contains(body, "?") || strings.Contains(body, "http://") || strings.Contains(body, "https://") {
		return verdict(parser.LabelUseful, ConfidenceMarker, "question or reference")
	}

	untraced := 0
	for _, tok := range tokens {
		if !vocab[tok] && !named[tok] {
			untraced++
		}
	}
	if untraced > c.opts.MaxUntracedTokens {
		return verdict(parser.LabelUseful, ConfidenceMarker, fmt.Sprintf("%d untraced tokens", untraced))
	}

	return verdict(parser.LabelUncertain, ConfidenceDefault, "no rule matched")
}

func verdict(label parser.Label, conf float64, reason string) parser.Verdict {
	return parser.Verdict{
		Label:               label,
		Confidence:          conf,
		Source:              parser.SourceHeuristic,
		HeuristicConfidence: conf,
		Reason:              reason,
	}
}

// normalize lower-cases and drops trailing punctuation and ellipses.
func normalize(body string) string {
	body = strings.ToLower(strings.TrimSpace(body))
	body = strings.TrimRight(body, ".!:;, ")
	return parser.NormalizeSpace(body)
}
