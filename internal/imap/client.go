package imap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"mailbot/internal/config"
	"mailbot/internal/logger"
	"mailbot/internal/mailtext"
	"mailbot/internal/model"
	"mailbot/internal/retry"
	"mailbot/internal/service"
)

const (
	inbox        = "INBOX"
	draftsFolder = "Drafts"
	spamLabel    = "SPAM"
)

var timeNow = time.Now

// Client is the INBOX of one IMAP account. Message ids have the form
// account/uidvalidity/uid and the watermark is the highest UID seen.
type Client struct {
	addr     string
	username string
	password string
	tls      bool
	junk     string
	account  string
	policy   retry.Policy
	logger   *logger.Logger

	dial func(addr string, tls bool) (*imapclient.Client, error)
}

func NewClient(account string, cfg config.IMAPConfig, logger *logger.Logger) *Client {
	policy := retry.Default
	policy.Retryable = service.IsTransient
	return &Client{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		username: cfg.Username,
		password: cfg.Password,
		tls:      cfg.TLS,
		junk:     cfg.JunkMailbox,
		account:  account,
		policy:   policy,
		logger:   logger,
		dial:     dial,
	}
}

func dial(addr string, tls bool) (*imapclient.Client, error) {
	if tls {
		return imapclient.DialTLS(addr, nil)
	}
	return imapclient.DialStartTLS(addr, nil)
}

// withInbox opens a session, selects INBOX and hands it to fn. The whole
// session is retried on transient failures.
func (c *Client) withInbox(ctx context.Context, op string, fn func(*imapclient.Client, *imap.SelectData) error) error {
	return retry.Do(ctx, c.policy, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		client, err := c.dial(c.addr, c.tls)
		if err != nil {
			return service.Transient(op, fmt.Errorf("connecting to IMAP %s: %w", c.addr, err))
		}
		defer func() { _ = client.Logout().Wait() }()

		if err := client.Login(c.username, c.password).Wait(); err != nil {
			if isNetworkError(err) {
				return service.Transient(op, err)
			}
			return fmt.Errorf("%s: login as %s: %v: %w", op, c.username, err, service.ErrAuthExpired)
		}

		selected, err := client.Select(inbox, nil).Wait()
		if err != nil {
			return mapError(op, fmt.Errorf("selecting INBOX: %w", err))
		}
		return fn(client, selected)
	})
}

func (c *Client) CurrentWatermark(ctx context.Context) (uint64, error) {
	var tip uint64
	err := c.withInbox(ctx, "select", func(_ *imapclient.Client, selected *imap.SelectData) error {
		if selected.UIDNext > 0 {
			tip = uint64(selected.UIDNext) - 1
		}
		return nil
	})
	return tip, err
}

// ListChangesSince searches for UIDs above since. UID n:* always matches
// the newest message, so results at or below since are dropped.
func (c *Client) ListChangesSince(ctx context.Context, since uint64) (uint64, []string, error) {
	latest := since
	var ids []string
	err := c.withInbox(ctx, "uid search", func(client *imapclient.Client, selected *imap.SelectData) error {
		latest = since
		ids = nil

		var set imap.UIDSet
		set.AddRange(imap.UID(since+1), 0)
		data, err := client.UIDSearch(&imap.SearchCriteria{UID: []imap.UIDSet{set}}, nil).Wait()
		if err != nil {
			return mapError("uid search", err)
		}
		for _, uid := range data.AllUIDs() {
			if uint64(uid) <= since {
				continue
			}
			ids = append(ids, MessageID(c.account, selected.UIDValidity, uid))
			if uint64(uid) > latest {
				latest = uint64(uid)
			}
		}
		return nil
	})
	if err != nil {
		return since, nil, err
	}
	c.logger.Debugf("uid search for %s since %d: %d added, latest %d", c.account, since, len(ids), latest)
	return latest, ids, nil
}

// fetched is the stored payload: the RFC 822 bytes plus the UID they came
// from, which the message itself does not carry.
type fetched struct {
	ID     string `json:"id"`
	UID    uint32 `json:"uid"`
	RFC822 []byte `json:"rfc822"`
}

func (c *Client) GetMessage(ctx context.Context, id string) ([]byte, error) {
	validity, uid, err := c.parseID(id)
	if err != nil {
		return nil, err
	}

	var raw []byte
	err = c.withInbox(ctx, "uid fetch", func(client *imapclient.Client, selected *imap.SelectData) error {
		if err := checkValidity(selected, validity, id); err != nil {
			return err
		}
		section := &imap.FetchItemBodySection{Peek: true}
		cmd := client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
			UID:         true,
			BodySection: []*imap.FetchItemBodySection{section},
		})
		defer cmd.Close()

		msg := cmd.Next()
		if msg == nil {
			if err := cmd.Close(); err != nil {
				return mapError("uid fetch", err)
			}
			return fmt.Errorf("message UID %d: %w", uid, service.ErrNotFound)
		}
		buf, err := msg.Collect()
		if err != nil {
			return mapError("uid fetch", err)
		}
		raw = buf.FindBodySection(section)
		if raw == nil {
			return fmt.Errorf("message UID %d has no body: %w", uid, service.ErrNotFound)
		}
		return cmd.Close()
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(fetched{ID: id, UID: uint32(uid), RFC822: raw})
}

func (c *Client) ParseMessage(raw []byte) (*model.Message, error) {
	return ParsePayload(raw)
}

// SetLabel moves spam to the junk mailbox. IMAP has no labels, so any
// other label becomes a keyword flag.
func (c *Client) SetLabel(ctx context.Context, id, label string) error {
	validity, uid, err := c.parseID(id)
	if err != nil {
		return err
	}

	err = c.withInbox(ctx, "uid store", func(client *imapclient.Client, selected *imap.SelectData) error {
		if err := checkValidity(selected, validity, id); err != nil {
			return err
		}
		set := imap.UIDSetNum(uid)
		if strings.EqualFold(label, spamLabel) {
			if _, err := client.Move(set, c.junk).Wait(); err != nil {
				return mapError("uid move", err)
			}
			return nil
		}
		return mapError("uid store", client.Store(set, &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{keyword(label)},
		}, nil).Close())
	})
	if err != nil {
		return err
	}
	c.logger.Infof("Labeled %s as %s", id, label)
	return nil
}

// CreateDraft appends the message to the Drafts mailbox with the \Draft flag.
func (c *Client) CreateDraft(ctx context.Context, to, subject, body string) (string, error) {
	msg, err := mailtext.Compose(c.account, to, subject, body, timeNow())
	if err != nil {
		return "", err
	}

	var draftID string
	err = c.withInbox(ctx, "append", func(client *imapclient.Client, _ *imap.SelectData) error {
		cmd := client.Append(draftsFolder, int64(len(msg)), &imap.AppendOptions{
			Flags: []imap.Flag{imap.FlagDraft, imap.FlagSeen},
		})
		if _, err := cmd.Write(msg); err != nil {
			_ = cmd.Close()
			return mapError("append", err)
		}
		if err := cmd.Close(); err != nil {
			return mapError("append", err)
		}
		data, err := cmd.Wait()
		if err != nil {
			return mapError("append", err)
		}
		if data != nil && data.UID != 0 {
			draftID = MessageID(c.account, data.UIDValidity, data.UID)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	c.logger.Infof("Created draft %s for %s", draftID, to)
	return draftID, nil
}

// MessageID scopes a UID to its account and UIDVALIDITY so that ids stay
// unique across every configured mailbox.
func MessageID(account string, validity uint32, uid imap.UID) string {
	return account + "/" + strconv.FormatUint(uint64(validity), 10) + "/" + strconv.FormatUint(uint64(uid), 10)
}

// parseID splits an id built by MessageID. Ids of other accounts are
// rejected.
func (c *Client) parseID(id string) (uint32, imap.UID, error) {
	rest, uidText, ok := cutLast(id, "/")
	if !ok {
		return 0, 0, fmt.Errorf("invalid IMAP message id %q", id)
	}
	account, validityText, ok := cutLast(rest, "/")
	if !ok {
		return 0, 0, fmt.Errorf("invalid IMAP message id %q", id)
	}
	if account != c.account {
		return 0, 0, fmt.Errorf("message %q does not belong to %s", id, c.account)
	}
	validity, err := strconv.ParseUint(validityText, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid IMAP message id %q", id)
	}
	uid, err := parseUID(uidText)
	if err != nil {
		return 0, 0, err
	}
	return uint32(validity), uid, nil
}

func cutLast(s, sep string) (string, string, bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

// checkValidity rejects ids minted before the mailbox's UIDs were reset.
func checkValidity(selected *imap.SelectData, validity uint32, id string) error {
	if selected.UIDValidity != 0 && selected.UIDValidity != validity {
		return fmt.Errorf("message %s: UIDVALIDITY is now %d: %w", id, selected.UIDValidity, service.ErrNotFound)
	}
	return nil
}

func parseUID(id string) (imap.UID, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid IMAP message id %q", id)
	}
	return imap.UID(n), nil
}

// keyword turns a label into a valid IMAP flag atom.
func keyword(label string) imap.Flag {
	var b strings.Builder
	for _, r := range label {
		switch {
		case r == ' ' || r == '(' || r == ')' || r == '{' || r == '%' || r == '*' || r == '"' || r == '\\' || r == ']':
			b.WriteByte('_')
		case r < 0x20 || r > 0x7e:
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return imap.Flag(b.String())
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isNetworkError(err) {
		return service.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
