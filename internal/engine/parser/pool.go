package parser

import (
	"sync"
	"sync/atomic"

	"unremark/internal/shared/observability"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// ParserPool keeps idle tree-sitter parsers for one grammar. Workers parsing
// files of the same language reuse them instead of allocating a parser per
// file. Safe for concurrent use.
type ParserPool struct {
	language Language
	grammar  *sitter.Language
	idle     sync.Pool

	inUse   atomic.Int64
	created atomic.Int64
}

// PoolStats is a snapshot of one pool's parser counts.
type PoolStats struct {
	Created int64
	InUse   int64
}

// NewParserPool creates a pool for grammar. The grammar must outlive the pool.
func NewParserPool(language Language, grammar *sitter.Language) *ParserPool {
	p := &ParserPool{language: language, grammar: grammar}
	p.idle.New = func() any {
		p.created.Add(1)
		sp := sitter.NewParser()
		_ = sp.SetLanguage(grammar)
		return sp
	}
	return p
}

// Parse leases a parser for a single parse of source. The caller owns the
// returned tree.
func (p *ParserPool) Parse(source []byte) *sitter.Tree {
	sp := p.acquire()
	defer p.release(sp)
	return sp.Parse(source, nil)
}

func (p *ParserPool) acquire() *sitter.Parser {
	sp := p.idle.Get().(*sitter.Parser)
	// The language is set again in case a Reset cleared it.
	_ = sp.SetLanguage(p.grammar)
	p.inUse.Add(1)
	observability.ParsersInUse.WithLabelValues(string(p.language)).Inc()
	return sp
}

// release resets sp so the pool holds no reference to the last tree.
func (p *ParserPool) release(sp *sitter.Parser) {
	p.inUse.Add(-1)
	observability.ParsersInUse.WithLabelValues(string(p.language)).Dec()
	sp.Reset()
	p.idle.Put(sp)
}

func (p *ParserPool) Stats() PoolStats {
	return PoolStats{Created: p.created.Load(), InUse: p.inUse.Load()}
}
