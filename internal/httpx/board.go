package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ariefcatur/canteen-queue/internal/canteen"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// QueueSource is the live engine view the board renders.
type QueueSource interface {
	Snapshot(slotID string) ([]canteen.Booking, error)
	WaitMinutes(b canteen.Booking) int
}

type BoardToken struct {
	Token       string         `json:"token"`
	Status      canteen.Status `json:"status"`
	Position    int            `json:"position"`
	WaitMinutes int            `json:"wait_minutes"`
}

type BoardMessage struct {
	SlotID string       `json:"slot_id"`
	Tokens []BoardToken `json:"tokens"`
	At     time.Time    `json:"at"`
}

// Board pushes a slot's queue to every websocket watching it. It implements
// booking.Notifier; SlotChanged never blocks the caller.
type Board struct {
	source   QueueSource
	log      *zap.Logger
	upgrader websocket.Upgrader
	changed  chan string

	mu          sync.Mutex
	subscribers map[string]map[*watcher]struct{}
}

// watcher is one connection. Only its writeLoop writes to conn; send is
// closed once the watcher leaves the subscriber set.
type watcher struct {
	conn *websocket.Conn
	send chan []byte
}

const watcherBuffer = 8

func NewBoard(source QueueSource, origins []string, log *zap.Logger) *Board {
	b := &Board{
		source:      source,
		log:         log,
		changed:     make(chan string, 256),
		subscribers: make(map[string]map[*watcher]struct{}),
	}
	b.upgrader = websocket.Upgrader{CheckOrigin: originChecker(origins)}
	return b
}

func originChecker(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		o := r.Header.Get("Origin")
		if o == "" {
			return true
		}
		for _, allowed := range origins {
			if allowed == "*" || allowed == o {
				return true
			}
		}
		return false
	}
}

func (b *Board) SlotChanged(slotID string) {
	select {
	case b.changed <- slotID:
	default:
		b.log.Warn("board update dropped", zap.String("slot_id", slotID))
	}
}

// Run broadcasts queued changes until ctx is cancelled, then closes every
// connection.
func (b *Board) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.closeAll()
			return
		case slotID := <-b.changed:
			msg, err := b.render(slotID)
			if err != nil {
				b.log.Warn("board render failed", zap.String("slot_id", slotID), zap.Error(err))
				continue
			}
			b.broadcast(slotID, msg)
		}
	}
}

func (b *Board) render(slotID string) ([]byte, error) {
	snap, err := b.source.Snapshot(slotID)
	if err != nil {
		return nil, err
	}
	msg := BoardMessage{SlotID: slotID, Tokens: make([]BoardToken, 0, len(snap)), At: time.Now().UTC()}
	for _, bk := range snap {
		msg.Tokens = append(msg.Tokens, BoardToken{
			Token:       bk.TokenNumber,
			Status:      bk.Status,
			Position:    bk.QueuePosition,
			WaitMinutes: b.source.WaitMinutes(bk),
		})
	}
	return json.Marshal(msg)
}

func (b *Board) ServeWS(w http.ResponseWriter, r *http.Request) {
	slotID := chi.URLParam(r, "id")
	first, err := b.render(slotID)
	if err != nil {
		handleError(w, b.log, err)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		return
	}
	ww := &watcher{conn: conn, send: make(chan []byte, watcherBuffer)}
	ww.send <- first

	b.mu.Lock()
	if b.subscribers[slotID] == nil {
		b.subscribers[slotID] = make(map[*watcher]struct{})
	}
	b.subscribers[slotID][ww] = struct{}{}
	b.mu.Unlock()
	go b.writeLoop(ww)

	// reads only detect the disconnect
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	b.drop(slotID, ww)
	conn.Close()
}

func (b *Board) writeLoop(w *watcher) {
	defer w.conn.Close()
	for msg := range w.send {
		if err := b.write(w.conn, msg); err != nil {
			return
		}
	}
}

func (b *Board) drop(slotID string, w *watcher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(slotID, w)
}

// remove unsubscribes w. Caller holds b.mu.
func (b *Board) remove(slotID string, w *watcher) {
	if _, ok := b.subscribers[slotID][w]; !ok {
		return
	}
	delete(b.subscribers[slotID], w)
	close(w.send)
}

// broadcast queues msg for every watcher of the slot. A watcher whose buffer
// is full is dropped; its writeLoop then closes the connection.
func (b *Board) broadcast(slotID string, msg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for w := range b.subscribers[slotID] {
		select {
		case w.send <- msg:
		default:
			b.log.Warn("dropping slow board watcher", zap.String("slot_id", slotID))
			b.remove(slotID, w)
		}
	}
}

func (b *Board) write(conn *websocket.Conn, msg []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (b *Board) closeAll() {
	b.mu.Lock()
	var conns []*websocket.Conn
	for slotID, ws := range b.subscribers {
		for w := range ws {
			conns = append(conns, w.conn)
			b.remove(slotID, w)
		}
		delete(b.subscribers, slotID)
	}
	b.mu.Unlock()

	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

// Watchers is the number of open connections on a slot.
func (b *Board) Watchers(slotID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[slotID])
}
