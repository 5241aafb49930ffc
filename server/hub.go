package server

import (
	"encoding/json"
	"log"

	"gradesheet-server/sheet"
)

// Message is the frame exchanged over the websocket feed.
type Message struct {
	Type    string          `json:"type"`
	SheetID string          `json:"sheet_id"`
	Payload json.RawMessage `json:"payload"`
}

// Hub keeps one room per sheet and fans committed changes out to the
// clients watching that sheet. It never mutates state itself: the store
// commits, then hands the updated sheet here.
type Hub struct {
	rooms      map[string]map[*Client]bool
	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client
}

func newHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		broadcast:  make(chan *Message, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			if h.rooms[client.sheetID] == nil {
				h.rooms[client.sheetID] = make(map[*Client]bool)
			}
			h.rooms[client.sheetID][client] = true
			log.Printf("hub: client joined sheet %s", client.sheetID)

		case client := <-h.unregister:
			if clients, ok := h.rooms[client.sheetID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.rooms, client.sheetID)
					}
				}
			}

		case msg := <-h.broadcast:
			clients, ok := h.rooms[msg.SheetID]
			if !ok {
				continue
			}
			frame := msgToBytes(msg)
			for client := range clients {
				select {
				case client.send <- frame:
				default:
					close(client.send)
					delete(clients, client)
				}
			}
		}
	}
}

// SheetChanged is the store's commit callback: snapshot the sheet and
// queue it for the room. A full slot drops the frame rather than block
// the committing request.
func (h *Hub) SheetChanged(s *sheet.Sheet) {
	payload, err := json.Marshal(s)
	if err != nil {
		log.Printf("hub: encode sheet %s: %v", s.ID, err)
		return
	}
	msg := &Message{Type: "SHEET_UPDATED", SheetID: s.ID, Payload: payload}
	select {
	case h.broadcast <- msg:
	default:
		log.Printf("hub: broadcast queue full, dropping update for sheet %s", s.ID)
	}
}

func msgToBytes(msg *Message) []byte {
	b, _ := json.Marshal(msg)
	return b
}
