package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/samber/lo"

	"github.com/vovakirdan/jobchat/internal/chat"
	"github.com/vovakirdan/jobchat/internal/proto"
)

const liveReadLimit = 1 << 20

var _ chat.Backend = (*Client)(nil)

// LoadHistory fetches one page of a job's messages.
func (c *Client) LoadHistory(ctx context.Context, jobID string, page chat.Page) ([]chat.Message, error) {
	query := url.Values{}
	if page.Limit > 0 {
		query.Set("limit", strconv.Itoa(page.Limit))
	}
	if page.Before != nil {
		query.Set("before", proto.FormatCursor(page.Before.CreatedAt, page.Before.ID))
	}
	if page.After != nil {
		query.Set("after", proto.FormatCursor(page.After.CreatedAt, page.After.ID))
	}

	var resp proto.MessagePage
	err := c.doRaw(ctx, http.MethodGet, c.endpoint(jobPath(jobID, "messages"), query), nil, "", &resp)
	switch {
	case err == nil:
		return lo.Map(resp.Messages, func(m proto.Message, _ int) chat.Message { return c.toChat(m) }), nil
	case statusOf(err) == http.StatusNotFound:
		return nil, chat.ErrNotFound
	case temporary(err):
		return nil, &chat.TransientFetchError{Err: err}
	default:
		return nil, fmt.Errorf("load history: %w", err)
	}
}

// CreateMessage persists a draft. Re-sending a client token returns the
// message stored the first time.
func (c *Client) CreateMessage(ctx context.Context, jobID string, d chat.Draft) (chat.Message, error) {
	req := proto.CreateMessageRequest{
		Text:          d.Text,
		AttachmentRef: d.AttachmentRef,
		ClientToken:   d.ClientToken,
	}
	var msg proto.Message
	if err := c.do(ctx, http.MethodPost, jobPath(jobID, "messages"), req, &msg); err != nil {
		if statusOf(err) == http.StatusNotFound {
			err = chat.ErrNotFound
		}
		return chat.Message{}, &chat.PersistError{Err: err}
	}
	return c.toChat(msg), nil
}

// Upload streams an attachment to the job's object storage.
func (c *Client) Upload(ctx context.Context, jobID string, a chat.Attachment) (chat.Uploaded, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeAttachment(mw, a))
	}()

	var resp proto.UploadResponse
	err := c.doRaw(ctx, http.MethodPost, c.endpoint(jobPath(jobID, "attachments"), nil), pr, mw.FormDataContentType(), &resp)
	_ = pr.Close()
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			err = chat.ErrNotFound
		}
		return chat.Uploaded{}, &chat.UploadError{Err: err}
	}
	return chat.Uploaded{Ref: resp.Ref, URL: c.resolve(resp.URL)}, nil
}

func writeAttachment(mw *multipart.Writer, a chat.Attachment) error {
	header := make(textproto.MIMEHeader)
	name := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(a.Name)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, name))
	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, a.Body); err != nil {
		return err
	}
	return mw.Close()
}

// Dial opens the job's live channel and returns once the server has
// registered the subscription.
func (c *Client) Dial(ctx context.Context, jobID string) (chat.Stream, error) {
	token := c.session.Token()
	if token == "" {
		return nil, ErrNotSignedIn
	}

	u := *c.base
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = strings.TrimRight(c.base.Path, "/") + jobPath(jobID, "live")
	u.RawQuery = url.Values{"access_token": {token}}.Encode()

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPClient: c.http})
	if err != nil {
		if resp != nil {
			if resp.StatusCode == http.StatusNotFound {
				return nil, chat.ErrNotFound
			}
			return nil, &APIError{Status: resp.StatusCode, Message: err.Error()}
		}
		return nil, fmt.Errorf("dial live channel: %w", err)
	}
	conn.SetReadLimit(liveReadLimit)

	var frame proto.Frame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		conn.Close(websocket.StatusProtocolError, "no ready frame")
		return nil, fmt.Errorf("await ready: %w", err)
	}
	if frame.Type != proto.OutboundTypeEvent || frame.Event != proto.EventReady {
		conn.Close(websocket.StatusProtocolError, "unexpected frame")
		return nil, fmt.Errorf("await ready: unexpected %s/%s frame", frame.Type, frame.Event)
	}
	c.log.Debug().Str("job_id", jobID).Msg("live channel ready")

	return &stream{conn: conn, client: c}, nil
}

type stream struct {
	conn   *websocket.Conn
	client *Client
}

// Recv returns the next pushed message, skipping events it does not know.
func (s *stream) Recv(ctx context.Context) (chat.Message, error) {
	for {
		var frame proto.Frame
		if err := wsjson.Read(ctx, s.conn, &frame); err != nil {
			return chat.Message{}, err
		}
		switch {
		case frame.Type == proto.OutboundTypeError && frame.Error != nil:
			return chat.Message{}, frame.Error
		case frame.Type == proto.OutboundTypeEvent && frame.Event == proto.EventMessage:
			var msg proto.Message
			if err := json.Unmarshal(frame.Data, &msg); err != nil {
				return chat.Message{}, fmt.Errorf("decode pushed message: %w", err)
			}
			return s.client.toChat(msg), nil
		}
	}
}

func (s *stream) Close() error {
	err := s.conn.Close(websocket.StatusNormalClosure, "bye")
	var ce websocket.CloseError
	if err != nil && errors.As(err, &ce) {
		return nil
	}
	return err
}

func (c *Client) toChat(m proto.Message) chat.Message {
	return chat.Message{
		ID:             m.ID,
		ConversationID: m.JobID,
		SenderID:       m.SenderID,
		CreatedAt:      m.CreatedAt,
		Text:           m.Text,
		AttachmentRef:  m.AttachmentRef,
		AttachmentURL:  c.resolve(m.AttachmentURL),
		ClientToken:    m.ClientToken,
		Sender: chat.SenderDisplay{
			Name:      m.Sender.Name,
			AvatarURL: m.Sender.AvatarURL,
		},
	}
}

func jobPath(jobID, suffix string) string {
	return "/api/jobs/" + url.PathEscape(jobID) + "/" + suffix
}
