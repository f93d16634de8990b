package parser

import "fmt"

// Language identifies a supported grammar family.
type Language string

const (
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangTSX        Language = "tsx"
	LangPython     Language = "python"
	LangRust       Language = "rust"
)

type CommentKind int

const (
	KindLine CommentKind = iota
	KindBlock
	KindDoc
)

func (k CommentKind) String() string {
	switch k {
	case KindLine:
		return "line"
	case KindBlock:
		return "block"
	case KindDoc:
		return "doc"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Span is a half-open [Start, End) range.
type Span struct {
	Start int
	End   int
}

func (s Span) Len() int { return s.End - s.Start }

func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// RawComment is a comment node as reported by a grammar adapter.
type RawComment struct {
	Kind     CommentKind
	Bytes    Span
	Lines    Span // 0-based rows, End exclusive
	NodeKind string
}

type ConstructKind string

const (
	ConstructFunction  ConstructKind = "function"
	ConstructMethod    ConstructKind = "method"
	ConstructClass     ConstructKind = "class"
	ConstructInterface ConstructKind = "interface"
	ConstructType      ConstructKind = "type"
	ConstructField     ConstructKind = "field"
	ConstructVariable  ConstructKind = "variable"
	ConstructImport    ConstructKind = "import"
	ConstructStatement ConstructKind = "statement"
)

// Construct describes the syntactic unit a comment is attached to.
type Construct struct {
	Kind       ConstructKind
	NodeKind   string
	Name       string
	Params     []string
	Signature  string
	Scope      []string // enclosing named constructs, innermost first
	Vocabulary []string // identifier and keyword words of the construct plus scope names, lower-cased and de-duplicated
	Context    string
	Bytes      Span
	Lines      Span
}

type Attachment string

const (
	AttachLeading  Attachment = "leading"
	AttachTrailing Attachment = "trailing"
	AttachOrphan   Attachment = "orphan"
)

type Label string

const (
	LabelRedundant Label = "redundant"
	LabelUseful    Label = "useful"
	LabelUncertain Label = "uncertain"
)

type VerdictSource string

const (
	SourceHeuristic VerdictSource = "heuristic"
	SourceJudge     VerdictSource = "judge"
	SourceCache     VerdictSource = "cache"
	SourceFallback  VerdictSource = "fallback"
)

type Verdict struct {
	Label               Label
	Confidence          float64
	Source              VerdictSource
	HeuristicConfidence float64
	Reason              string
}

// Comment is one comment occurrence in a file.
type Comment struct {
	File       string
	Language   Language
	Kind       CommentKind
	Bytes      Span
	Lines      Span
	Text       string
	Attachment Attachment
	Construct  *Construct
	Verdict    Verdict
}

// Line returns the 1-based line the comment starts on.
func (c Comment) Line() int { return c.Lines.Start + 1 }

func (c Comment) IsRedundant() bool { return c.Verdict.Label == LabelRedundant }

// Lexeme is a non-comment leaf token used to compare token streams.
type Lexeme struct {
	Kind string
	Text string
}
