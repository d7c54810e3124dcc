package rocket

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/rockgate/internal/bus"
)

// RawEvent is the permissive shape of one inbound payload, shared by the
// push connection and the webhook receiver. The server's payloads vary
// across versions, so alternative field names are kept as documented
// precedence lists rather than probed ad hoc:
//
//	id:        id → messageId → message_id → refId → synthesized uuid
//	sender:    senderId → userId → user_id
//	room:      roomId → channelId → channel_id
//	chat type: roomType → chatType (explicit signal required, never guessed)
//	text:      text → message
//	thread:    threadId → tmid
//	time:      ts → timestamp (epoch ms number or RFC3339 string)
type RawEvent struct {
	Event       string `json:"event"`
	ContentType string `json:"contentType"`
	Removed     bool   `json:"removed"`
	NoticeType  string `json:"t"` // server notice tag; "rm"/"delete" mark withdrawals
	Bot         bool   `json:"bot"`

	ID           string `json:"id"`
	MessageID    string `json:"messageId"`
	MessageIDAlt string `json:"message_id"`
	RefID        string `json:"refId"`

	SenderID    string `json:"senderId"`
	UserID      string `json:"userId"`
	UserIDAlt   string `json:"user_id"`
	SenderName  string `json:"senderName"`
	UserName    string `json:"userName"`
	UserNameAlt string `json:"user_name"`
	SelfID      string `json:"selfId"`

	RoomID       string `json:"roomId"`
	ChannelID    string `json:"channelId"`
	ChannelIDAlt string `json:"channel_id"`
	RoomType     string `json:"roomType"`
	ChatType     string `json:"chatType"`

	Text    string `json:"text"`
	Message string `json:"message"`

	ThreadID string `json:"threadId"`
	TMID     string `json:"tmid"`
	ReplyTo  string `json:"replyTo"`

	TS        json.RawMessage `json:"ts"`
	Timestamp json.RawMessage `json:"timestamp"`

	AccountID    string `json:"accountId"`
	AccountIDAlt string `json:"account_id"`

	Attachments []RawAttachment `json:"attachments"`
}

// RawAttachment is one file reference on an inbound payload.
type RawAttachment struct {
	URL         string `json:"url"`
	TitleLink   string `json:"title_link"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// messageEvents are the event-type tags accepted as chat messages. An
// absent tag is also accepted (older payloads carry none).
var messageEvents = map[string]bool{
	"message":     true,
	"message.new": true,
}

// textContentTypes are the content-type tags denoting plain text. An absent
// tag is treated as text.
var textContentTypes = map[string]bool{
	"text":       true,
	"text/plain": true,
}

// AccountHint returns the payload-supplied account id, if any.
func (e *RawEvent) AccountHint() string {
	return firstNonEmpty(e.AccountID, e.AccountIDAlt)
}

// ParsePush converts one decoded push frame into a canonical message.
// Returns (nil, reason) for frames that are valid JSON but not forwardable
// chat messages; the reason is for debug logging only.
func ParsePush(accountID string, data []byte, now time.Time) (*bus.InboundMessage, string) {
	var ev RawEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, "malformed json"
	}
	return ev.ToInbound(accountID, now, false)
}

// ToInbound applies the acceptance rules and builds the canonical message.
// allowAttachmentsOnly relaxes the non-blank-text requirement for webhook
// payloads that carry attachments without a body.
func (e *RawEvent) ToInbound(accountID string, now time.Time, allowAttachmentsOnly bool) (*bus.InboundMessage, string) {
	if e.Event != "" && !messageEvents[e.Event] {
		return nil, "event type " + e.Event
	}
	if e.ContentType != "" && !textContentTypes[strings.ToLower(e.ContentType)] {
		return nil, "content type " + e.ContentType
	}
	if e.Removed || e.NoticeType == "rm" || e.NoticeType == "delete" {
		return nil, "withdrawal notice"
	}
	if e.Bot {
		return nil, "bot message"
	}

	text := strings.TrimSpace(firstNonEmpty(e.Text, e.Message))
	attachments := e.attachments()
	if text == "" {
		if !allowAttachmentsOnly || len(attachments) == 0 {
			return nil, "blank text"
		}
	}

	sender := firstNonEmpty(e.SenderID, e.UserID, e.UserIDAlt)
	if sender == "" {
		return nil, "no sender id"
	}

	roomID := firstNonEmpty(e.RoomID, e.ChannelID, e.ChannelIDAlt)
	isGroup, ok := chatKind(firstNonEmpty(e.RoomType, e.ChatType))
	if !ok {
		// A room id alone cannot distinguish group from DM; the payload
		// must say which it is.
		return nil, "indeterminate chat type"
	}

	var toTarget string
	if isGroup {
		if roomID == "" {
			return nil, "group message without room id"
		}
		toTarget = "#" + roomID
	} else {
		toTarget = "@" + sender
	}

	id := firstNonEmpty(e.ID, e.MessageID, e.MessageIDAlt, e.RefID)
	if id == "" {
		id = uuid.NewString()
	}

	return &bus.InboundMessage{
		ID:          id,
		AccountID:   accountID,
		FromUserID:  sender,
		ToTarget:    toTarget,
		Content:     text,
		Timestamp:   parseTimestamp(e.TS, e.Timestamp, now),
		RoomID:      roomID,
		ThreadID:    firstNonEmpty(e.ThreadID, e.TMID),
		ReplyToID:   e.ReplyTo,
		SenderName:  firstNonEmpty(e.SenderName, e.UserName, e.UserNameAlt),
		SelfUserID:  e.SelfID,
		IsGroup:     isGroup,
		Attachments: attachments,
	}, ""
}

func (e *RawEvent) attachments() []bus.Attachment {
	if len(e.Attachments) == 0 {
		return nil
	}
	out := make([]bus.Attachment, 0, len(e.Attachments))
	for _, a := range e.Attachments {
		u := firstNonEmpty(a.URL, a.TitleLink)
		if u == "" {
			continue
		}
		out = append(out, bus.Attachment{
			URL:         u,
			Name:        a.Name,
			ContentType: a.ContentType,
			SizeBytes:   a.Size,
		})
	}
	return out
}

// chatKind maps an explicit room/chat type tag to (isGroup, ok).
func chatKind(tag string) (bool, bool) {
	switch strings.ToLower(tag) {
	case "d", "dm", "direct":
		return false, true
	case "c", "p", "channel", "group", "public", "private":
		return true, true
	}
	return false, false
}

// parseTimestamp reads the first parseable timestamp field: an integer is
// epoch milliseconds, a string is RFC3339. Anything else falls back to the
// receipt time.
func parseTimestamp(ts, timestamp json.RawMessage, now time.Time) int64 {
	for _, raw := range []json.RawMessage{ts, timestamp} {
		if len(raw) == 0 {
			continue
		}
		var ms int64
		if err := json.Unmarshal(raw, &ms); err == nil && ms > 0 {
			return ms
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t.UnixMilli()
			}
		}
	}
	return now.UnixMilli()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
