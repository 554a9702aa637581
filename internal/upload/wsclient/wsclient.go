// Package wsclient is an [upload.Uploader] that delivers revisions over a
// single websocket connection.
//
// Each revision is sent as one JSON text message and the server answers with
// one acknowledgement:
//
//	→ {"type":"audio_revision","id":"…","version":2,"created":"…","duration":95.5,
//	   "transcription":"…","transcription_user_edited":true,"breadcrumbs":[…]}
//	← {"id":"…","version":2,"ok":true}
//
// The connection is dialled lazily and re-dialled after any I/O error.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/revision"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/upload"
)

var _ upload.Uploader = (*Uploader)(nil)

// ErrRejected is returned when the server acknowledges a revision with
// ok=false.
var ErrRejected = errors.New("wsclient: revision rejected")

// MessageType is the "type" of every revision message.
const MessageType = "audio_revision"

// Message is the wire form of one revision.
type Message struct {
	Type          string              `json:"type"`
	ID            string              `json:"id"`
	Version       int                 `json:"version"`
	Created       time.Time           `json:"created"`
	Duration      float64             `json:"duration"`
	Transcription *string             `json:"transcription"`
	UserEdited    bool                `json:"transcription_user_edited"`
	Breadcrumbs   []BreadcrumbMessage `json:"breadcrumbs"`
}

// BreadcrumbMessage is the wire form of one breadcrumb. Cell is the H3 index
// in its canonical lowercase hexadecimal form.
type BreadcrumbMessage struct {
	Cell    string    `json:"cell"`
	Created time.Time `json:"created"`
	Index   int       `json:"index"`
}

// Ack is the server's answer to one [Message].
type Ack struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// NewMessage converts rev to its wire form.
func NewMessage(rev revision.AudioRevision) Message {
	m := Message{
		Type:          MessageType,
		ID:            rev.ID.String(),
		Version:       rev.Version,
		Created:       rev.Created.UTC(),
		Duration:      rev.Duration.Seconds(),
		Transcription: rev.Transcription,
		UserEdited:    rev.UserEdited,
		Breadcrumbs:   make([]BreadcrumbMessage, len(rev.Breadcrumbs)),
	}
	for i, b := range rev.Breadcrumbs {
		m.Breadcrumbs[i] = BreadcrumbMessage{
			Cell:    strconv.FormatUint(uint64(b.Cell), 16),
			Created: b.Created.UTC(),
			Index:   b.Index,
		}
	}
	return m
}

// Option is a functional option for configuring an [Uploader].
type Option func(*Uploader)

// WithHeader adds h to the dial request, for example an Authorization header.
func WithHeader(h http.Header) Option {
	return func(u *Uploader) { u.header = h.Clone() }
}

// WithAckTimeout bounds the wait for an acknowledgement. Default: 30s.
func WithAckTimeout(d time.Duration) Option {
	return func(u *Uploader) {
		if d > 0 {
			u.ackTimeout = d
		}
	}
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(u *Uploader) {
		if l != nil {
			u.log = l
		}
	}
}

// Uploader sends revisions to a websocket endpoint. Messages are serialised
// over one connection, so concurrent Upload calls queue behind each other.
type Uploader struct {
	url        string
	header     http.Header
	ackTimeout time.Duration
	log        *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// New returns an Uploader for the ws:// or wss:// endpoint url.
func New(url string, opts ...Option) *Uploader {
	u := &Uploader{
		url:        url,
		ackTimeout: 30 * time.Second,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

// Upload sends rev and waits for its acknowledgement.
func (u *Uploader) Upload(ctx context.Context, rev revision.AudioRevision) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	conn, err := u.connLocked(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, u.ackTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, conn, NewMessage(rev)); err != nil {
		u.dropLocked(websocket.StatusInternalError, "write failed")
		return fmt.Errorf("wsclient: send %s v%d: %w", rev.ID, rev.Version, err)
	}
	var ack Ack
	if err := wsjson.Read(ctx, conn, &ack); err != nil {
		u.dropLocked(websocket.StatusInternalError, "read failed")
		return fmt.Errorf("wsclient: ack %s v%d: %w", rev.ID, rev.Version, err)
	}

	if ack.ID != rev.ID.String() || ack.Version != rev.Version {
		u.dropLocked(websocket.StatusProtocolError, "unexpected ack")
		return fmt.Errorf("wsclient: ack for %s v%d, want %s v%d", ack.ID, ack.Version, rev.ID, rev.Version)
	}
	if !ack.OK {
		return fmt.Errorf("%w: %s v%d: %s", ErrRejected, rev.ID, rev.Version, ack.Error)
	}
	return nil
}

// Close closes the connection, if any.
func (u *Uploader) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	err := u.conn.Close(websocket.StatusNormalClosure, "uploader closed")
	u.conn = nil
	return err
}

func (u *Uploader) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if u.conn != nil {
		return u.conn, nil
	}
	conn, _, err := websocket.Dial(ctx, u.url, &websocket.DialOptions{HTTPHeader: u.header})
	if err != nil {
		return nil, fmt.Errorf("wsclient: dial %s: %w", u.url, err)
	}
	u.log.Debug("upload connection established", "url", u.url)
	u.conn = conn
	return conn, nil
}

func (u *Uploader) dropLocked(code websocket.StatusCode, reason string) {
	if u.conn == nil {
		return
	}
	_ = u.conn.Close(code, reason)
	u.conn = nil
	u.log.Warn("upload connection dropped", "url", u.url, "reason", reason)
}
