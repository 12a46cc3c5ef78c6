// Package protocol defines the JSON envelope the companion service pushes to
// websocket subscribers (kiosk pages and the launcher).
package protocol

// Message types used by the websocket feed.
const (
	TypeHello         = "hello"
	TypeImageStored   = "image_stored"
	TypeFolderCreated = "folder_created"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeError         = "error"
)

// Message is the JSON envelope exchanged over websocket.
type Message struct {
	Type   string `json:"type"`
	TS     int64  `json:"ts,omitempty"`
	Folder string `json:"folder,omitempty"`
	Total  int    `json:"total,omitempty"`
	Error  string `json:"error,omitempty"`
	Image  *Image `json:"image,omitempty"`
}

// Image describes one stored image.
type Image struct {
	FileName     string `json:"fileName"`
	OriginalName string `json:"originalName"`
	URL          string `json:"url"`
	Size         int64  `json:"size"`
	ContentType  string `json:"mimetype"`
}
