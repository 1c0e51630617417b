package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"mailbot/internal/logger"
	"mailbot/internal/mailtext"
	"mailbot/internal/model"
	"mailbot/internal/retry"
	"mailbot/internal/service"
)

const user = "me"

// Client is the Gmail mailbox of one account.
type Client struct {
	svc     *gmail.Service
	account string
	policy  retry.Policy
	logger  *logger.Logger
}

func NewClient(ctx context.Context, httpClient *http.Client, account string, logger *logger.Logger, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	policy := retry.Default
	policy.Retryable = service.IsTransient
	return &Client{
		svc:     svc,
		account: account,
		policy:  policy,
		logger:  logger,
	}, nil
}

func (c *Client) CurrentWatermark(ctx context.Context) (uint64, error) {
	return retry.Value(ctx, c.policy, func(ctx context.Context) (uint64, error) {
		profile, err := c.svc.Users.GetProfile(user).Context(ctx).Do()
		if err != nil {
			return 0, MapError("getProfile", err)
		}
		return profile.HistoryId, nil
	})
}

func (c *Client) ListChangesSince(ctx context.Context, since uint64) (uint64, []string, error) {
	latest := since
	seen := make(map[string]bool)
	var ids []string

	pageToken := ""
	for {
		resp, err := retry.Value(ctx, c.policy, func(ctx context.Context) (*gmail.ListHistoryResponse, error) {
			call := c.svc.Users.History.List(user).
				StartHistoryId(since).
				HistoryTypes("messageAdded").
				LabelId("INBOX").
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			resp, err := call.Do()
			return resp, MapError("history.list", err)
		})
		if err != nil {
			return since, nil, err
		}

		if resp.HistoryId > latest {
			latest = resp.HistoryId
		}
		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message == nil || seen[added.Message.Id] {
					continue
				}
				seen[added.Message.Id] = true
				ids = append(ids, added.Message.Id)
			}
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	c.logger.Debugf("history.list for %s since %d: %d added, latest %d", c.account, since, len(ids), latest)
	return latest, ids, nil
}

// GetMessage returns the full message resource as JSON.
func (c *Client) GetMessage(ctx context.Context, id string) ([]byte, error) {
	msg, err := retry.Value(ctx, c.policy, func(ctx context.Context) (*gmail.Message, error) {
		msg, err := c.svc.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
		return msg, MapError("messages.get", err)
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

func (c *Client) ParseMessage(raw []byte) (*model.Message, error) {
	return ParsePayload(raw)
}

// SetLabel adds label to the message. Moving to SPAM also takes it out of
// the inbox.
func (c *Client) SetLabel(ctx context.Context, id, label string) error {
	req := &gmail.ModifyMessageRequest{AddLabelIds: []string{label}}
	if label == "SPAM" {
		req.RemoveLabelIds = []string{"INBOX"}
	}
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		_, err := c.svc.Users.Messages.Modify(user, id, req).Context(ctx).Do()
		return MapError("messages.modify", err)
	})
	if err != nil {
		return err
	}
	c.logger.Infof("Labeled %s as %s", id, label)
	return nil
}

// CreateDraft stores a plain text draft. Nothing is sent.
func (c *Client) CreateDraft(ctx context.Context, to, subject, body string) (string, error) {
	raw, err := mailtext.Compose(c.account, to, subject, body, time.Now())
	if err != nil {
		return "", err
	}

	draft := &gmail.Draft{Message: &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}}
	created, err := retry.Value(ctx, c.policy, func(ctx context.Context) (*gmail.Draft, error) {
		d, err := c.svc.Users.Drafts.Create(user, draft).Context(ctx).Do()
		return d, MapError("drafts.create", err)
	})
	if err != nil {
		return "", err
	}
	c.logger.Infof("Created draft %s for %s", created.Id, to)
	return created.Id, nil
}
