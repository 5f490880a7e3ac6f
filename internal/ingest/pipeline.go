// Package ingest turns fetched remote messages into stored, filtered,
// indexed local messages. A message becomes visible in the store only in
// its final post-filter state; observers never see an intermediate row.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"mailstore/internal/filter"
	"mailstore/internal/model"
	"mailstore/internal/search"
	"mailstore/internal/store"
	"mailstore/internal/transport"
)

// Store is the slice of the persistent store the pipeline uses.
type Store interface {
	GetMessage(ctx context.Context, folderID string, uid uint32) (*model.Message, error)
	InsertMessage(ctx context.Context, m model.Message) (model.Message, error)
	SetFlags(ctx context.Context, id string, flags model.Flags) error
	GetFolderByPath(ctx context.Context, accountID, serverPath string) (*model.Folder, error)
	UpsertFolder(ctx context.Context, f model.Folder) (model.Folder, error)
	ListFilterRules(ctx context.Context, accountID string) ([]model.FilterRule, error)
	QueueOutbox(ctx context.Context, m model.OutboxMessage) (model.OutboxMessage, error)
}

// Outcome classifies what the pipeline did with one raw message.
type Outcome string

const (
	// OutcomeInserted means the message is now cached locally.
	OutcomeInserted Outcome = "inserted"

	// OutcomeUnchanged means the message was already cached with the same
	// server flags and nothing was written.
	OutcomeUnchanged Outcome = "unchanged"

	// OutcomeFlagsUpdated means the message was already cached and only
	// its server flags were refreshed.
	OutcomeFlagsUpdated Outcome = "flags_updated"

	// OutcomeDuplicate means another folder already holds this account's
	// Message-Id; the copy was dropped.
	OutcomeDuplicate Outcome = "duplicate"

	// OutcomeFailed means the message could not be stored; the error is
	// recorded and the rest of the batch proceeds.
	OutcomeFailed Outcome = "failed"
)

// Result reports the disposition of one raw message.
type Result struct {
	UID       uint32
	MessageID string // internal ID, set when inserted
	Outcome   Outcome
	Err       error
}

// Pipeline ingests batches of fetched messages for any account. Filter
// engines are compiled per account and cached until invalidated.
type Pipeline struct {
	store Store
	index *search.Index
	log   *slog.Logger

	mu      sync.Mutex
	engines map[string]*filter.Engine
}

// New creates a pipeline.
func New(st Store, index *search.Index, log *slog.Logger) *Pipeline {
	return &Pipeline{
		store:   st,
		index:   index,
		log:     log,
		engines: make(map[string]*filter.Engine),
	}
}

// InvalidateRules drops the cached filter engine for an account. Called
// after any rule CRUD so the next ingest recompiles from the store.
func (p *Pipeline) InvalidateRules(accountID string) {
	p.mu.Lock()
	delete(p.engines, accountID)
	p.mu.Unlock()
}

// Ingest processes a batch of fetched messages for one account. Each
// message is handled independently; a failure skips that message and is
// reported in its Result.
func (p *Pipeline) Ingest(ctx context.Context, accountID string, batch []*transport.RawMessage) []Result {
	engine := p.engine(ctx, accountID)

	results := make([]Result, 0, len(batch))
	for _, raw := range batch {
		res := p.ingestOne(ctx, accountID, engine, raw)
		if res.Err != nil {
			p.log.Warn("message ingest failed",
				"account", accountID, "folder", raw.Folder, "uid", raw.UID, "error", res.Err)
		}
		results = append(results, res)
	}
	return results
}

// engine returns the compiled rule set for the account, loading it from
// the store on first use. Insertion rejects uncompilable rules, but a rule
// that slipped in anyway (hand-edited database, older schema) is skipped
// individually; the rest of the set keeps filtering.
func (p *Pipeline) engine(ctx context.Context, accountID string) *filter.Engine {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.engines[accountID]; ok {
		return e
	}

	rules, err := p.store.ListFilterRules(ctx, accountID)
	if err != nil {
		p.log.Warn("loading filter rules failed", "account", accountID, "error", err)
		rules = nil
	}

	usable := make([]model.FilterRule, 0, len(rules))
	for _, r := range rules {
		if err := filter.Validate(r); err != nil {
			p.log.Warn("skipping uncompilable filter rule",
				"account", accountID, "rule", r.Name, "error", err)
			continue
		}
		usable = append(usable, r)
	}

	e, err := filter.NewEngine(usable)
	if err != nil {
		p.log.Warn("compiling filter rules failed", "account", accountID, "error", err)
		e, _ = filter.NewEngine(nil)
	}

	p.engines[accountID] = e
	return e
}

func (p *Pipeline) ingestOne(ctx context.Context, accountID string, engine *filter.Engine, raw *transport.RawMessage) Result {
	folder, err := p.ensureFolder(ctx, accountID, raw.Folder, "")
	if err != nil {
		return Result{UID: raw.UID, Outcome: OutcomeFailed, Err: err}
	}

	if existing, err := p.store.GetMessage(ctx, folder.ID, raw.UID); err == nil && existing != nil {
		return p.refreshFlags(ctx, existing, raw)
	} else if err != nil && !store.IsNotFound(err) {
		return Result{UID: raw.UID, Outcome: OutcomeFailed, Err: err}
	}

	m := model.Message{
		AccountID: accountID,
		FolderID:  folder.ID,
		UID:       raw.UID,
		MessageID: raw.MessageID,
		Subject:   raw.Subject,
		From:      raw.From,
		To:        raw.To,
		Cc:        raw.Cc,
		BodyText:  raw.BodyText,
		BodyHTML:  raw.BodyHTML,
		Flags:     raw.Flags,
	}
	if !raw.Date.IsZero() {
		m.Date = raw.Date.UTC().Format(time.RFC3339)
	}

	// Fold all matched actions into the message before it is stored, so
	// the insert writes the final state in one statement.
	actions := engine.Evaluate(&m)
	if err := p.applyActions(ctx, accountID, &m, actions); err != nil {
		return Result{UID: raw.UID, Outcome: OutcomeFailed, Err: err}
	}

	stored, err := p.store.InsertMessage(ctx, m)
	if err != nil {
		if store.IsConflict(err) {
			// Another folder already holds this Message-Id for the
			// account; the copy is dropped.
			p.log.Info("duplicate message-id skipped",
				"account", accountID, "folder", raw.Folder, "uid", raw.UID, "message_id", raw.MessageID)
			return Result{UID: raw.UID, Outcome: OutcomeDuplicate}
		}
		return Result{UID: raw.UID, Outcome: OutcomeFailed, Err: err}
	}

	p.index.Add(stored.FolderID, stored.ID, stored.DateTime(), search.DocText(&stored))

	return Result{UID: raw.UID, MessageID: stored.ID, Outcome: OutcomeInserted}
}

// refreshFlags syncs server flags onto an already cached message. Flags
// are the only mutable server-side field; body and envelope never change
// for a given UID.
func (p *Pipeline) refreshFlags(ctx context.Context, existing *model.Message, raw *transport.RawMessage) Result {
	if existing.Flags == raw.Flags {
		return Result{UID: raw.UID, MessageID: existing.ID, Outcome: OutcomeUnchanged}
	}
	if err := p.store.SetFlags(ctx, existing.ID, raw.Flags); err != nil {
		return Result{UID: raw.UID, MessageID: existing.ID, Outcome: OutcomeFailed, Err: err}
	}
	return Result{UID: raw.UID, MessageID: existing.ID, Outcome: OutcomeFlagsUpdated}
}

// applyActions folds filter actions into the message in evaluation order.
// The last move wins; tags are deduplicated case-insensitively keeping
// the first spelling; forwards queue an outbox copy immediately.
func (p *Pipeline) applyActions(ctx context.Context, accountID string, m *model.Message, actions []model.FilterAction) error {
	moveTo := ""
	for _, action := range actions {
		switch action.Type {
		case model.ActionMarkAsRead:
			m.Flags.Read = true
		case model.ActionDelete:
			m.Flags.Deleted = true
		case model.ActionAddTag:
			m.Tags = addTag(m.Tags, action.Arg)
		case model.ActionMoveToFolder:
			moveTo = action.Arg
		case model.ActionForward:
			if err := p.queueForward(ctx, accountID, m, action.Arg); err != nil {
				return fmt.Errorf("queueing forward: %w", err)
			}
		}
	}

	if moveTo != "" {
		target, err := p.ensureFolder(ctx, accountID, moveTo, model.FolderCustom)
		if err != nil {
			return fmt.Errorf("resolving move target %q: %w", moveTo, err)
		}
		m.FolderID = target.ID
	}
	return nil
}

// ensureFolder resolves a folder by server path, creating it when absent.
// An existing folder's type is never touched here.
func (p *Pipeline) ensureFolder(ctx context.Context, accountID, serverPath string, typ model.FolderType) (*model.Folder, error) {
	f, err := p.store.GetFolderByPath(ctx, accountID, serverPath)
	if err == nil {
		return f, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}

	created, err := p.store.UpsertFolder(ctx, model.Folder{
		AccountID:  accountID,
		Name:       serverPath,
		ServerPath: serverPath,
		Type:       typ,
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (p *Pipeline) queueForward(ctx context.Context, accountID string, m *model.Message, to string) error {
	subject := m.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "fwd:") {
		subject = "Fwd: " + subject
	}
	_, err := p.store.QueueOutbox(ctx, model.OutboxMessage{
		AccountID: accountID,
		To:        []model.EmailAddress{{Address: to}},
		Subject:   subject,
		Body:      m.BodyText,
	})
	return err
}

// addTag appends tag unless an existing tag matches case-insensitively.
func addTag(tags []string, tag string) []string {
	if tag == "" {
		return tags
	}
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return tags
		}
	}
	return append(tags, tag)
}
