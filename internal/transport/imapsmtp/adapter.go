// Package imapsmtp implements the transport contract over IMAP for
// retrieval and SMTP for delivery. Each call dials a fresh connection;
// connection reuse is not worth the reconnect bookkeeping at the sync
// intervals involved.
package imapsmtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"mailstore/internal/model"
	"mailstore/internal/transport"
)

// CredentialFunc resolves the password (or app password) for an account.
type CredentialFunc func(accountID string) (string, error)

// Adapter speaks IMAP and SMTP for one or more accounts. Credentials are
// resolved per call so vault rotation takes effect immediately.
type Adapter struct {
	creds CredentialFunc
}

// New creates an adapter backed by the given credential resolver.
func New(creds CredentialFunc) *Adapter {
	return &Adapter{creds: creds}
}

// Ready reports whether the account can be served: credentials resolve
// and the IMAP endpoint accepts a TCP connection.
func (a *Adapter) Ready(_ context.Context, account model.Account) bool {
	if _, err := a.creds(account.ID); err != nil {
		return false
	}

	addr := account.Incoming.Host + ":" + account.Incoming.Port
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// ListFolders enumerates the account's server-side mailboxes.
func (a *Adapter) ListFolders(ctx context.Context, account model.Account) ([]transport.FolderInfo, error) {
	return a.listFolders(ctx, account)
}

// FetchUIDsSince returns UIDs in folder strictly greater than uid.
func (a *Adapter) FetchUIDsSince(ctx context.Context, account model.Account, folder string, uid uint32) ([]uint32, error) {
	return a.fetchUIDsSince(ctx, account, folder, uid)
}

// FetchMessage retrieves and parses a single message.
func (a *Adapter) FetchMessage(ctx context.Context, account model.Account, folder string, uid uint32) (*transport.RawMessage, error) {
	return a.fetchMessage(ctx, account, folder, uid)
}

// Send delivers an outbound message through the account's SMTP endpoint.
func (a *Adapter) Send(_ context.Context, account model.Account, msg *transport.Outgoing) error {
	password, err := a.creds(account.ID)
	if err != nil {
		return &transport.Error{
			Kind:    transport.KindAuth,
			Message: fmt.Sprintf("no credentials for account %s", account.ID),
			Err:     err,
		}
	}

	from := msg.From.Address
	if from == "" {
		from = account.Address.Address
	}

	rcpts := make([]string, 0, len(msg.To))
	for _, to := range msg.To {
		rcpts = append(rcpts, to.Address)
	}
	if len(rcpts) == 0 {
		return &transport.Error{Kind: transport.KindServer, Message: "message has no recipients"}
	}

	body := composeMessage(from, msg)

	addr := account.Outgoing.Host + ":" + account.Outgoing.Port
	if account.Outgoing.TLS {
		return sendSMTPWithTLS(addr, account.Outgoing.Host, account.Address.Address, password, from, rcpts, body)
	}
	return sendSMTPWithStartTLS(addr, account.Outgoing.Host, account.Address.Address, password, from, rcpts, body)
}

// composeMessage assembles RFC 5322 headers plus a plain-text body.
func composeMessage(from string, msg *transport.Outgoing) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("From: %s\r\n", from))
	b.WriteString(fmt.Sprintf("To: %s\r\n", joinAddresses(msg.To)))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return b.String()
}

func joinAddresses(addrs []model.EmailAddress) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}

// sendSMTPWithTLS sends over an implicit TLS connection.
func sendSMTPWithTLS(addr, host, username, password, from string, rcpts []string, body string) error {
	tlsConfig := &tls.Config{ServerName: host}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return &transport.Error{Kind: transport.KindNetwork, Message: fmt.Sprintf("TLS dial to %s", addr), Err: err}
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return &transport.Error{Kind: transport.KindServer, Message: "creating SMTP client", Err: err}
	}
	defer client.Close()

	auth := smtp.PlainAuth("", username, password, host)
	if err := client.Auth(auth); err != nil {
		return &transport.Error{Kind: transport.KindAuth, Message: "SMTP auth", Err: err}
	}

	return sendMailViaSMTPClient(client, from, rcpts, body)
}

// sendSMTPWithStartTLS sends using STARTTLS.
func sendSMTPWithStartTLS(addr, host, username, password, from string, rcpts []string, body string) error {
	conn, err := net.DialTimeout("tcp", addr, 30*time.Second)
	if err != nil {
		return &transport.Error{Kind: transport.KindNetwork, Message: fmt.Sprintf("dial to %s", addr), Err: err}
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return &transport.Error{Kind: transport.KindServer, Message: "creating SMTP client", Err: err}
	}
	defer client.Close()

	tlsConfig := &tls.Config{ServerName: host}
	if err := client.StartTLS(tlsConfig); err != nil {
		return &transport.Error{Kind: transport.KindServer, Message: "SMTP STARTTLS", Err: err}
	}

	auth := smtp.PlainAuth("", username, password, host)
	if err := client.Auth(auth); err != nil {
		return &transport.Error{Kind: transport.KindAuth, Message: "SMTP auth", Err: err}
	}

	return sendMailViaSMTPClient(client, from, rcpts, body)
}

// sendMailViaSMTPClient runs the MAIL/RCPT/DATA sequence on an
// authenticated client.
func sendMailViaSMTPClient(client *smtp.Client, from string, rcpts []string, body string) error {
	if err := client.Mail(from); err != nil {
		return &transport.Error{Kind: transport.KindServer, Message: "SMTP MAIL FROM", Err: err}
	}
	for _, rcpt := range rcpts {
		if err := client.Rcpt(rcpt); err != nil {
			return &transport.Error{Kind: transport.KindServer, Message: fmt.Sprintf("SMTP RCPT TO %s", rcpt), Err: err}
		}
	}

	writer, err := client.Data()
	if err != nil {
		return &transport.Error{Kind: transport.KindServer, Message: "SMTP DATA", Err: err}
	}
	if _, err := writer.Write([]byte(body)); err != nil {
		return &transport.Error{Kind: transport.KindNetwork, Message: "writing message body", Err: err}
	}
	if err := writer.Close(); err != nil {
		return &transport.Error{Kind: transport.KindServer, Message: "closing message body", Err: err}
	}

	return client.Quit()
}
