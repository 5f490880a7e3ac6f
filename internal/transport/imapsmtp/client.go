package imapsmtp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"mailstore/internal/model"
	"mailstore/internal/transport"
)

// connect dials the IMAP endpoint and authenticates. The caller is
// responsible for Logout on the returned client.
func (a *Adapter) connect(_ context.Context, account model.Account) (*imapclient.Client, error) {
	password, err := a.creds(account.ID)
	if err != nil {
		return nil, &transport.Error{
			Kind:    transport.KindAuth,
			Message: fmt.Sprintf("no credentials for account %s", account.ID),
			Err:     err,
		}
	}

	addr := account.Incoming.Host + ":" + account.Incoming.Port

	var client *imapclient.Client
	if account.Incoming.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, &transport.Error{
			Kind:    transport.KindNetwork,
			Message: fmt.Sprintf("connecting to %s", addr),
			Err:     err,
		}
	}

	if err := client.Login(account.Address.Address, password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &transport.Error{
			Kind:    transport.KindAuth,
			Message: fmt.Sprintf("authentication failed for %s", account.Address.Address),
			Err:     err,
		}
	}

	return client, nil
}

// listFolders enumerates all mailboxes with their attributes.
func (a *Adapter) listFolders(ctx context.Context, account model.Account) ([]transport.FolderInfo, error) {
	client, err := a.connect(ctx, account)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	mailboxes, err := client.List("", "*", nil).Collect()
	if err != nil {
		return nil, serverErr("listing mailboxes", err)
	}

	infos := make([]transport.FolderInfo, 0, len(mailboxes))
	for _, mb := range mailboxes {
		attrs := make([]string, 0, len(mb.Attrs))
		for _, attr := range mb.Attrs {
			attrs = append(attrs, string(attr))
		}
		infos = append(infos, transport.FolderInfo{Path: mb.Mailbox, Attrs: attrs})
	}
	return infos, nil
}

// fetchUIDsSince returns UIDs in folder strictly above uid, ascending.
func (a *Adapter) fetchUIDsSince(ctx context.Context, account model.Account, folder string, uid uint32) ([]uint32, error) {
	client, err := a.connect(ctx, account)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(folder, nil).Wait(); err != nil {
		return nil, serverErr(fmt.Sprintf("selecting %s", folder), err)
	}

	criteria := &imap.SearchCriteria{
		UID: []imap.UIDSet{{imap.UIDRange{Start: imap.UID(uid + 1), Stop: 0}}},
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, serverErr("searching messages", err)
	}

	found := searchData.AllUIDs()
	uids := make([]uint32, 0, len(found))
	for _, u := range found {
		// Servers may echo UIDs at or below the watermark.
		if uint32(u) > uid {
			uids = append(uids, uint32(u))
		}
	}
	return uids, nil
}

// fetchMessage retrieves one full message and parses its MIME body.
func (a *Adapter) fetchMessage(ctx context.Context, account model.Account, folder string, uid uint32) (*transport.RawMessage, error) {
	client, err := a.connect(ctx, account)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(folder, nil).Wait(); err != nil {
		return nil, serverErr(fmt.Sprintf("selecting %s", folder), err)
	}

	uidSet := imap.UIDSetNum(imap.UID(uid))

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, serverErr(fmt.Sprintf("message UID %d not found in %s", uid, folder), nil)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, serverErr("collecting message data", err)
	}

	raw := rawFromBuffer(folder, buf)

	if body := buf.FindBodySection(bodySection); body != nil {
		raw.BodyText, raw.BodyHTML = parseMIMEBody(body)
	}

	if err := fetchCmd.Close(); err != nil {
		return raw, serverErr("closing fetch", err)
	}
	return raw, nil
}

// rawFromBuffer maps envelope and flag data onto a RawMessage.
func rawFromBuffer(folder string, buf *imapclient.FetchMessageBuffer) *transport.RawMessage {
	raw := &transport.RawMessage{
		Folder: folder,
		UID:    uint32(buf.UID),
	}

	if buf.Envelope != nil {
		raw.MessageID = buf.Envelope.MessageID
		raw.Subject = buf.Envelope.Subject
		raw.Date = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			raw.From = model.EmailAddress{Name: from.Name, Address: from.Addr()}
		}
		for _, to := range buf.Envelope.To {
			raw.To = append(raw.To, model.EmailAddress{Name: to.Name, Address: to.Addr()})
		}
		for _, cc := range buf.Envelope.Cc {
			raw.Cc = append(raw.Cc, model.EmailAddress{Name: cc.Name, Address: cc.Addr()})
		}
	}

	for _, flag := range buf.Flags {
		switch flag {
		case imap.FlagSeen:
			raw.Flags.Read = true
		case imap.FlagFlagged:
			raw.Flags.Starred = true
		case imap.FlagDeleted:
			raw.Flags.Deleted = true
		}
	}

	return raw
}

// parseMIMEBody extracts text/plain and text/html bodies from a raw
// RFC 5322 message.
func parseMIMEBody(raw []byte) (textBody, htmlBody string) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Unparseable bodies degrade to plain text.
		return string(raw), ""
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain"):
			textBody = string(body)
		case strings.HasPrefix(contentType, "text/html"):
			htmlBody = string(body)
		}
	}

	return textBody, htmlBody
}

func serverErr(msg string, err error) error {
	return &transport.Error{Kind: transport.KindServer, Message: msg, Err: err}
}
