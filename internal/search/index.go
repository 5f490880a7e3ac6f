// Package search maintains an in-memory inverted index over cached
// message text. The index mirrors the persistent store and is rebuilt
// from it on cold start; ingestion keeps it current incrementally.
package search

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"mailstore/internal/model"
)

// Result is a single search hit.
type Result struct {
	FolderID string
	DocID    string
	Snippet  string
}

// doc is one indexed message.
type doc struct {
	id       string
	folderID string
	date     time.Time
	tokens   map[string]bool
	text     string
}

// Index is a token-prefix inverted index, safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	docs     map[string]*doc
	postings map[string]map[string]bool // token -> doc ids
}

// New creates an empty index.
func New() *Index {
	return &Index{
		docs:     make(map[string]*doc),
		postings: make(map[string]map[string]bool),
	}
}

// Add indexes a document, replacing any previous content under the same
// doc ID. Re-adding is how moves and edits are reflected, which keeps the
// index idempotently rebuildable.
func (ix *Index) Add(folderID, docID string, date time.Time, text string) {
	tokens := tokenize(text)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.removeLocked(docID)

	d := &doc{
		id:       docID,
		folderID: folderID,
		date:     date,
		tokens:   tokens,
		text:     text,
	}
	ix.docs[docID] = d
	for tok := range tokens {
		set, ok := ix.postings[tok]
		if !ok {
			set = make(map[string]bool)
			ix.postings[tok] = set
		}
		set[docID] = true
	}
}

// Remove drops a document from the index.
func (ix *Index) Remove(docID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(docID)
}

func (ix *Index) removeLocked(docID string) {
	d, ok := ix.docs[docID]
	if !ok {
		return
	}
	for tok := range d.tokens {
		delete(ix.postings[tok], docID)
		if len(ix.postings[tok]) == 0 {
			delete(ix.postings, tok)
		}
	}
	delete(ix.docs, docID)
}

// Search returns documents matching the query, optionally scoped to one
// folder (empty folderID searches everywhere). Matching is
// case-insensitive token prefix match. Documents containing every query
// token rank above partial matches; within a tier newer documents come
// first. An empty query yields no results.
func (ix *Index) Search(query, folderID string) []Result {
	qtokens := queryTokens(query)
	if len(qtokens) == 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	// For each query token, collect the docs containing a token with
	// that prefix, then count how many query tokens each doc satisfied.
	matched := make(map[string]int)
	for _, q := range qtokens {
		hit := make(map[string]bool)
		for tok, docs := range ix.postings {
			if !strings.HasPrefix(tok, q) {
				continue
			}
			for id := range docs {
				hit[id] = true
			}
		}
		for id := range hit {
			matched[id]++
		}
	}

	type scored struct {
		d   *doc
		all bool
	}
	var hits []scored
	for id, count := range matched {
		d := ix.docs[id]
		if folderID != "" && d.folderID != folderID {
			continue
		}
		hits = append(hits, scored{d: d, all: count == len(qtokens)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].all != hits[j].all {
			return hits[i].all
		}
		if !hits[i].d.date.Equal(hits[j].d.date) {
			return hits[i].d.date.After(hits[j].d.date)
		}
		return hits[i].d.id < hits[j].d.id
	})

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			FolderID: h.d.folderID,
			DocID:    h.d.id,
			Snippet:  snippet(h.d.text, qtokens[0]),
		})
	}
	return results
}

// MessageSource is the slice of the persistent store the index rebuild
// needs.
type MessageSource interface {
	ListAccounts(ctx context.Context) ([]model.Account, error)
	ListFolders(ctx context.Context, accountID string) ([]model.Folder, error)
	ListMessages(ctx context.Context, folderID string, limit, offset int) ([]model.Message, error)
}

// Rebuild repopulates the index from every cached message. Safe to call
// on a warm index; documents are replaced, not duplicated.
func (ix *Index) Rebuild(ctx context.Context, src MessageSource) error {
	accounts, err := src.ListAccounts(ctx)
	if err != nil {
		return err
	}
	for _, acct := range accounts {
		folders, err := src.ListFolders(ctx, acct.ID)
		if err != nil {
			return err
		}
		for _, f := range folders {
			msgs, err := src.ListMessages(ctx, f.ID, 0, 0)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				ix.Add(f.ID, m.ID, m.DateTime(), DocText(&m))
			}
		}
	}
	return nil
}

// DocText is the indexed text of a message: subject plus plain body.
func DocText(m *model.Message) string {
	if m.BodyText == "" {
		return m.Subject
	}
	return m.Subject + "\n" + m.BodyText
}

// tokenize lowercases and splits on any non-letter, non-digit rune.
func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range splitTokens(text) {
		tokens[tok] = true
	}
	return tokens
}

func queryTokens(query string) []string {
	return splitTokens(query)
}

func splitTokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// snippetRadius is how much context surrounds the first match.
const snippetRadius = 40

// snippet extracts a short window around the first occurrence of the
// query token, falling back to the head of the text.
func snippet(text, token string) string {
	lower := strings.ToLower(text)
	pos := strings.Index(lower, token)
	if pos < 0 {
		pos = 0
	}

	start := pos - snippetRadius
	if start < 0 {
		start = 0
	}
	end := pos + len(token) + snippetRadius
	if end > len(text) {
		end = len(text)
	}

	snip := strings.TrimSpace(text[start:end])
	snip = strings.ReplaceAll(snip, "\n", " ")
	return snip
}
