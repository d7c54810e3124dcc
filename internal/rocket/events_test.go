package rocket

import (
	"testing"
	"time"
)

var parseNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestParsePush_AcceptsPlainMessage(t *testing.T) {
	data := []byte(`{
		"event": "message",
		"id": "m1",
		"senderId": "u1",
		"roomId": "r1",
		"roomType": "c",
		"text": "hello",
		"ts": 1748779200000
	}`)

	msg, reason := ParsePush("default", data, parseNow)
	if msg == nil {
		t.Fatalf("expected message, got drop reason %q", reason)
	}
	if msg.ID != "m1" || msg.FromUserID != "u1" || msg.ToTarget != "#r1" {
		t.Errorf("unexpected fields: %+v", msg)
	}
	if !msg.IsGroup {
		t.Error("roomType c should be a group")
	}
	if msg.Timestamp != 1748779200000 {
		t.Errorf("Timestamp = %d", msg.Timestamp)
	}
}

func TestParsePush_DirectMessageTargetsSender(t *testing.T) {
	data := []byte(`{"senderId":"u9","roomId":"r2","roomType":"d","text":"hi"}`)
	msg, reason := ParsePush("default", data, parseNow)
	if msg == nil {
		t.Fatalf("drop reason %q", reason)
	}
	if msg.IsGroup || msg.ToTarget != "@u9" {
		t.Errorf("got target %q isGroup=%v", msg.ToTarget, msg.IsGroup)
	}
}

func TestParsePush_Rejections(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"unknown event", `{"event":"typing","senderId":"u","roomType":"d","text":"x"}`, "event type typing"},
		{"non-text content", `{"contentType":"image/png","senderId":"u","roomType":"d","text":"x"}`, "content type image/png"},
		{"withdrawal flag", `{"removed":true,"senderId":"u","roomType":"d","text":"x"}`, "withdrawal notice"},
		{"deletion notice", `{"t":"rm","senderId":"u","roomType":"d","text":"x"}`, "withdrawal notice"},
		{"blank text", `{"senderId":"u","roomType":"d","text":"   "}`, "blank text"},
		{"no sender", `{"roomType":"d","text":"x"}`, "no sender id"},
		{"no chat type", `{"senderId":"u","roomId":"r","text":"x"}`, "indeterminate chat type"},
		{"bot flag", `{"bot":true,"senderId":"u","roomType":"d","text":"x"}`, "bot message"},
		{"malformed", `{nope`, "malformed json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, reason := ParsePush("a", []byte(tt.data), parseNow)
			if msg != nil {
				t.Fatalf("expected drop, got %+v", msg)
			}
			if reason != tt.want {
				t.Errorf("reason = %q, want %q", reason, tt.want)
			}
		})
	}
}

func TestParsePush_IDPrecedence(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"id wins", `{"id":"a","messageId":"b","refId":"c","senderId":"u","roomType":"d","text":"x"}`, "a"},
		{"messageId next", `{"messageId":"b","refId":"c","senderId":"u","roomType":"d","text":"x"}`, "b"},
		{"refId last", `{"refId":"c","senderId":"u","roomType":"d","text":"x"}`, "c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, reason := ParsePush("a", []byte(tt.data), parseNow)
			if msg == nil {
				t.Fatalf("drop reason %q", reason)
			}
			if msg.ID != tt.want {
				t.Errorf("ID = %q, want %q", msg.ID, tt.want)
			}
		})
	}
}

func TestParsePush_SynthesizedID(t *testing.T) {
	msg, _ := ParsePush("a", []byte(`{"senderId":"u","roomType":"d","text":"x"}`), parseNow)
	if msg == nil || msg.ID == "" {
		t.Fatal("expected a synthesized id")
	}
}

func TestParsePush_TimestampFallback(t *testing.T) {
	tests := []struct {
		name string
		data string
		want int64
	}{
		{"numeric ms", `{"senderId":"u","roomType":"d","text":"x","ts":1700000000000}`, 1700000000000},
		{"rfc3339 string", `{"senderId":"u","roomType":"d","text":"x","timestamp":"2025-06-01T12:00:00Z"}`, parseNow.UnixMilli()},
		{"unparseable", `{"senderId":"u","roomType":"d","text":"x","ts":"soon"}`, parseNow.UnixMilli()},
		{"absent", `{"senderId":"u","roomType":"d","text":"x"}`, parseNow.UnixMilli()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, reason := ParsePush("a", []byte(tt.data), parseNow)
			if msg == nil {
				t.Fatalf("drop reason %q", reason)
			}
			if msg.Timestamp != tt.want {
				t.Errorf("Timestamp = %d, want %d", msg.Timestamp, tt.want)
			}
		})
	}
}

func TestToInbound_WebhookAliases(t *testing.T) {
	ev := RawEvent{
		MessageIDAlt: "wm1",
		UserIDAlt:    "u2",
		UserNameAlt:  "bob",
		ChannelIDAlt: "general",
		ChatType:     "channel",
		Text:         "from webhook",
	}
	msg, reason := ev.ToInbound("ops", parseNow, true)
	if msg == nil {
		t.Fatalf("drop reason %q", reason)
	}
	if msg.ID != "wm1" || msg.FromUserID != "u2" || msg.ToTarget != "#general" || msg.SenderName != "bob" {
		t.Errorf("unexpected fields: %+v", msg)
	}
}

func TestToInbound_AttachmentsOnly(t *testing.T) {
	ev := RawEvent{
		UserIDAlt: "u2",
		ChatType:  "d",
		Attachments: []RawAttachment{
			{TitleLink: "/file-upload/abc/pic.png", Name: "pic.png", ContentType: "image/png", Size: 123},
		},
	}

	// Push path requires non-blank text.
	if msg, _ := ev.ToInbound("a", parseNow, false); msg != nil {
		t.Error("push path must reject attachment-only payloads")
	}

	msg, reason := ev.ToInbound("a", parseNow, true)
	if msg == nil {
		t.Fatalf("drop reason %q", reason)
	}
	if !msg.HasPayload() || len(msg.Attachments) != 1 {
		t.Errorf("attachments not carried: %+v", msg)
	}
	if msg.Attachments[0].URL != "/file-upload/abc/pic.png" {
		t.Errorf("attachment URL = %q", msg.Attachments[0].URL)
	}
}

func TestAccountHint(t *testing.T) {
	if h := (&RawEvent{AccountID: "a", AccountIDAlt: "b"}).AccountHint(); h != "a" {
		t.Errorf("hint = %q, want a", h)
	}
	if h := (&RawEvent{AccountIDAlt: "b"}).AccountHint(); h != "b" {
		t.Errorf("hint = %q, want b", h)
	}
	if h := (&RawEvent{}).AccountHint(); h != "" {
		t.Errorf("hint = %q, want empty", h)
	}
}
