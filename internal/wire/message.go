package wire

// Multicast group parameters and protocol bounds shared by every peer.
const (
	MulticastGroup = "239.255.77.77"
	UDPPort        = 51337
	TTL            = 1
	Version        = 1

	MaxTextBytes     = 8 * 1024
	MaxDatagramBytes = 50 * 1024
)

// Message kinds carried in the "t" field.
const (
	TypeHello = "HELLO"
	TypeChat  = "CHAT"
	TypeFile  = "FILE"
)

// Chat subtypes that mutate or annotate an earlier CHAT instead of
// appending a new visible message.
const (
	SubtypeReact = "REACT"
	SubtypeEdit  = "EDIT"
	SubtypeUndo  = "UNDO"
	SubtypePin   = "PIN"
	SubtypeUnpin = "UNPIN"
)

// Message is the flat datagram payload exchanged over multicast. Field names
// match the wire encoding exactly so peers on other stacks interoperate.
type Message struct {
	Type      string `json:"t"`
	Version   int    `json:"v"`
	MessageID string `json:"message_id,omitempty"`
	SenderID  string `json:"sender_id"`
	Name      string `json:"name"`
	AvatarSHA string `json:"avatar_sha256"`
	Timestamp int64  `json:"ts"`

	// HELLO fields.
	HTTPPort int  `json:"http_port,omitempty"`
	Typing   bool `json:"typing,omitempty"`

	// CHAT fields.
	Text     string `json:"text,omitempty"`
	Subtype  string `json:"subtype,omitempty"`
	TargetID string `json:"target_id,omitempty"`
	Emoji    string `json:"emoji,omitempty"`
	Preview  string `json:"preview,omitempty"`

	// Reply / link-preview metadata attached by the composer.
	ReplyTo      string       `json:"reply_to,omitempty"`
	ReplyName    string       `json:"reply_name,omitempty"`
	ReplyPreview string       `json:"reply_preview,omitempty"`
	ReplyType    string       `json:"reply_type,omitempty"`
	LinkPreview  *LinkPreview `json:"link_preview,omitempty"`

	// FILE fields.
	FileID   string `json:"file_id,omitempty"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
	URL      string `json:"url,omitempty"`
}

// LinkPreview describes a scraped page card attached to a chat message.
type LinkPreview struct {
	URL         string `json:"url"`
	DisplayURL  string `json:"display_url,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
	ThumbFileID string `json:"thumb_file_id,omitempty"`
}

// ChatMeta bundles the optional reply/link-preview fields for SendChatWithMeta.
type ChatMeta struct {
	ReplyTo      string
	ReplyName    string
	ReplyPreview string
	ReplyType    string
	LinkPreview  *LinkPreview
}
