package wire

import (
	"time"

	"github.com/google/uuid"
)

// Identity carries the stable sender fields stamped onto every outbound
// message. The values are loaded by the hosting application at startup and
// never invented here.
type Identity struct {
	SenderID  string
	Name      string
	AvatarSHA string
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// NewHello builds a presence announcement. HELLO has no message_id: it is
// idempotent and never deduplicated.
func NewHello(id Identity, httpPort int, typing bool) Message {
	return Message{
		Type:      TypeHello,
		Version:   Version,
		SenderID:  id.SenderID,
		Name:      id.Name,
		AvatarSHA: id.AvatarSHA,
		HTTPPort:  httpPort,
		Typing:    typing,
		Timestamp: nowMillis(),
	}
}

func NewChat(id Identity, text string) Message {
	msg := newBase(TypeChat, id)
	msg.Text = text
	return msg
}

func NewChatWithMeta(id Identity, text string, meta ChatMeta) Message {
	msg := NewChat(id, text)
	msg.ReplyTo = meta.ReplyTo
	msg.ReplyName = meta.ReplyName
	msg.ReplyPreview = meta.ReplyPreview
	msg.ReplyType = meta.ReplyType
	msg.LinkPreview = meta.LinkPreview
	return msg
}

func NewReaction(id Identity, targetID, emoji string) Message {
	msg := newBase(TypeChat, id)
	msg.Subtype = SubtypeReact
	msg.TargetID = targetID
	msg.Emoji = emoji
	return msg
}

func NewEdit(id Identity, targetID, text string) Message {
	msg := newBase(TypeChat, id)
	msg.Subtype = SubtypeEdit
	msg.TargetID = targetID
	msg.Text = text
	return msg
}

func NewUndo(id Identity, targetID string) Message {
	msg := newBase(TypeChat, id)
	msg.Subtype = SubtypeUndo
	msg.TargetID = targetID
	return msg
}

func NewPin(id Identity, targetID, preview string) Message {
	msg := newBase(TypeChat, id)
	msg.Subtype = SubtypePin
	msg.TargetID = targetID
	msg.Preview = preview
	return msg
}

func NewUnpin(id Identity, targetID string) Message {
	msg := newBase(TypeChat, id)
	msg.Subtype = SubtypeUnpin
	msg.TargetID = targetID
	return msg
}

func NewFile(id Identity, fileID, filename string, size int64, sha256, url string) Message {
	msg := newBase(TypeFile, id)
	msg.FileID = fileID
	msg.Filename = filename
	msg.Size = size
	msg.SHA256 = sha256
	msg.URL = url
	return msg
}

func newBase(msgType string, id Identity) Message {
	return Message{
		Type:      msgType,
		Version:   Version,
		MessageID: uuid.NewString(),
		SenderID:  id.SenderID,
		Name:      id.Name,
		AvatarSHA: id.AvatarSHA,
		Timestamp: nowMillis(),
	}
}
