// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package communication

import (
	"go.uber.org/zap"

	"github.com/teradata-labs/mesh/pkg/message"
)

// MessageHandler observes routed messages. Handlers run synchronously
// on the routing path and must not block.
type MessageHandler func(m *message.Message)

// HandlerID identifies a registered handler for removal.
type HandlerID uint64

type handlerEntry struct {
	id HandlerID
	fn MessageHandler
}

// RegisterHandler subscribes a handler to messages involving agentID.
// Fan-out policy: a receiver's handlers fire for every message routed
// to it; a sender's handlers fire only for the control types COOLDOWN,
// STOP, and SYSTEM.
func (h *Hub) RegisterHandler(agentID string, fn MessageHandler) HandlerID {
	entry := &handlerEntry{id: HandlerID(h.handlerSeq.Add(1)), fn: fn}
	h.mu.Lock()
	h.agentHandlers[agentID] = append(h.agentHandlers[agentID], entry)
	h.mu.Unlock()
	return entry.id
}

// RegisterGlobalHandler subscribes a handler to every routed message.
func (h *Hub) RegisterGlobalHandler(fn MessageHandler) HandlerID {
	entry := &handlerEntry{id: HandlerID(h.handlerSeq.Add(1)), fn: fn}
	h.mu.Lock()
	h.globalHandlers = append(h.globalHandlers, entry)
	h.mu.Unlock()
	return entry.id
}

// RemoveHandler unsubscribes a handler by ID. Idempotent.
func (h *Hub) RemoveHandler(id HandlerID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.globalHandlers = dropHandler(h.globalHandlers, id)
	for agentID, entries := range h.agentHandlers {
		trimmed := dropHandler(entries, id)
		if len(trimmed) == 0 {
			delete(h.agentHandlers, agentID)
		} else {
			h.agentHandlers[agentID] = trimmed
		}
	}
}

func dropHandler(entries []*handlerEntry, id HandlerID) []*handlerEntry {
	for i, entry := range entries {
		if entry.id == id {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}

// notifyHandlers fans one routed message out: global handlers always,
// the receiver's handlers always, the sender's handlers only for
// control types. A handler that panics is removed; the rest still run.
func (h *Hub) notifyHandlers(m *message.Message) {
	h.mu.RLock()
	entries := make([]*handlerEntry, 0, len(h.globalHandlers)+4)
	entries = append(entries, h.globalHandlers...)
	entries = append(entries, h.agentHandlers[m.ReceiverID]...)
	if m.Type.IsSpecial() && m.SenderID != m.ReceiverID {
		entries = append(entries, h.agentHandlers[m.SenderID]...)
	}
	h.mu.RUnlock()

	for _, entry := range entries {
		h.runHandler(entry, m)
	}
}

func (h *Hub) runHandler(entry *handlerEntry, m *message.Message) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("handler panicked, removing it",
				zap.Uint64("handler_id", uint64(entry.id)),
				zap.String("message_id", m.ID),
				zap.Any("panic", r))
			h.RemoveHandler(entry.id)
		}
	}()
	entry.fn(m)
}
