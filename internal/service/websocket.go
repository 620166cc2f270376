package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"coderoom/internal/models"
	"coderoom/internal/repository"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
	// 連線層操作（join、edit）的處理上限，超過就請客戶端重試並全量同步
	opTimeout = 5 * time.Second
)

// Client 代表一個 WebSocket 客戶端連線
type Client struct {
	Conn     *websocket.Conn
	User     *models.User
	ConnID   string
	SendChan chan *models.Message // 訊息發送通道，用於異步傳送訊息

	roomID uint // 已加入的房間，0 表示尚未加入
	closed bool
}

// WebSocketManager 管理所有 WebSocket 連線並實作同步協定
//
// 每條連線的狀態機：Connecting -> Joined -> Active -> Disconnected。
// 編輯經 RoomStateManager 做樂觀並發控制；版本衝突時不套用編輯，
// 改送全量文件給提交者重新同步（輸家重同步，不做合併）
type WebSocketManager struct {
	clients    map[uint]map[*Client]bool // roomID -> client -> bool
	clientsMux sync.RWMutex

	states     *RoomStateManager
	presence   *PresenceTracker
	executions *ExecutionQueue
	memberRepo repository.RoomMemberRepository
}

func NewWebSocketManager(states *RoomStateManager, memberRepo repository.RoomMemberRepository) *WebSocketManager {
	return &WebSocketManager{
		clients:    make(map[uint]map[*Client]bool),
		states:     states,
		memberRepo: memberRepo,
	}
}

// Attach 接上與本管理器互相依賴的元件（兩者廣播都走本管理器）
func (m *WebSocketManager) Attach(presence *PresenceTracker, executions *ExecutionQueue) {
	m.presence = presence
	m.executions = executions
}

// HandleConnection 處理一條新的 WebSocket 連線，直到連線結束才返回
func (m *WebSocketManager) HandleConnection(conn *websocket.Conn, user *models.User) {
	client := &Client{
		Conn:     conn,
		User:     user,
		ConnID:   fmt.Sprintf("%s-%d", conn.RemoteAddr().String(), time.Now().UnixNano()),
		SendChan: make(chan *models.Message, sendBuffer),
	}

	// 連線結束時一律走同一條離開路徑，斷線與 graceful leave 沒有差別
	defer func() {
		m.disconnect(client)
		conn.Close()
	}()

	go m.writePump(client)
	m.readPump(client)
}

// readPump 持續讀取並分發客戶端訊息
func (m *WebSocketManager) readPump(client *Client) {
	client.Conn.SetReadLimit(maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("conn_id", client.ConnID).WithError(err).Warn("WebSocket unexpected close")
			}
			break
		}

		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			m.sendError(client, "invalid_message", "無法解析訊息")
			continue
		}

		m.dispatch(client, &msg)
	}
}

// writePump 處理向客戶端發送訊息與心跳
func (m *WebSocketManager) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.SendChan:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch 依訊息類型處理，join 之前只接受 join
func (m *WebSocketManager) dispatch(client *Client, msg *models.Message) {
	if msg.Type == models.MsgJoin {
		m.handleJoin(client, msg.RoomID)
		return
	}

	// 對未加入的房間做任何操作都視為未授權，只影響該連線
	if client.roomID == 0 || client.roomID != msg.RoomID {
		m.sendError(client, "unauthorized", ErrUnauthorized.Error())
		return
	}

	switch msg.Type {
	case models.MsgEdit:
		m.handleEdit(client, msg)
	case models.MsgCursorMove:
		m.handleCursor(client, msg)
	case models.MsgSelectionChange:
		m.handleSelection(client, msg)
	case models.MsgLanguageChange:
		m.handleLanguageChange(client, msg)
	case models.MsgExecuteCode:
		m.handleExecute(client, msg)
	case models.MsgCancelExecution:
		m.handleCancelExecution(client, msg)
	case models.MsgLeave:
		m.handleLeave(client)
	default:
		m.sendError(client, "unknown_type", "未知的訊息類型: "+msg.Type)
	}
}

// handleJoin 讓連線加入房間：載入（或重建）狀態、全量同步給新連線、
// 登記持久化成員並加入即時參與者
func (m *WebSocketManager) handleJoin(client *Client, roomID uint) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	state, err := m.states.GetOrLoad(ctx, roomID)
	if err != nil {
		switch {
		case errors.Is(err, ErrRoomNotFound):
			m.sendError(client, "room_not_found", ErrRoomNotFound.Error())
		case errors.Is(err, ErrRoomClosed):
			m.sendError(client, "room_closed", ErrRoomClosed.Error())
		default:
			// 持久層讀取失敗對本次載入是致命的，明確請客戶端重試，
			// 不能給出空文件讓用戶誤以為內容被清掉
			m.sendError(client, "storage_unavailable", ErrStorageUnavailable.Error())
		}
		return
	}

	if client.roomID != 0 && client.roomID != roomID {
		m.handleLeave(client) // 一條連線同一時間只屬於一個房間
	}

	m.clientsMux.Lock()
	if m.clients[roomID] == nil {
		m.clients[roomID] = make(map[*Client]bool)
	}
	m.clients[roomID][client] = true
	client.roomID = roomID
	m.clientsMux.Unlock()

	now := time.Now()
	if err := m.memberRepo.Upsert(&models.RoomMember{
		RoomID:     roomID,
		UserID:     client.User.ID,
		Role:       "member",
		IsActive:   true,
		JoinedAt:   now,
		LastSeenAt: now,
	}); err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to persist room membership")
	}

	// 新連線收到完整狀態，而不是增量
	m.send(client, models.MustMessage(models.MsgStateSync, roomID, state))

	m.presence.Join(roomID, client.User, client.ConnID)
}

// handleEdit 套用一次樂觀編輯
func (m *WebSocketManager) handleEdit(client *Client, msg *models.Message) {
	payload, err := msg.DecodeEdit()
	if err != nil {
		m.sendError(client, "invalid_payload", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	newVersion, err := m.states.ApplyEdit(ctx, client.roomID, client.User.ID, payload.File, payload.Content, payload.ExpectedVersion)
	switch {
	case err == nil:
		m.broadcastExcept(client.roomID, client, models.MustMessage(models.MsgEditApplied, client.roomID, &models.EditBroadcast{
			File:       payload.File,
			Content:    payload.Content,
			NewVersion: newVersion,
			AuthorID:   client.User.ID,
		}))

	case errors.Is(err, ErrVersionConflict):
		// 過期的編輯被丟棄，只對提交者送全量文件強制重新同步
		state, loadErr := m.states.GetOrLoad(ctx, client.roomID)
		if loadErr != nil {
			m.sendError(client, "storage_unavailable", ErrStorageUnavailable.Error())
			return
		}
		m.send(client, models.MustMessage(models.MsgVersionMismatch, client.roomID, &models.VersionMismatchPayload{
			CurrentVersion:  state.Version,
			CurrentDocument: state.Documents,
		}))

	default:
		m.sendError(client, "storage_unavailable", ErrStorageUnavailable.Error())
	}
}

// handleCursor 游標更新：無版本、最後寫入者勝、立即重播，不落盤
func (m *WebSocketManager) handleCursor(client *Client, msg *models.Message) {
	payload, err := msg.DecodeCursor()
	if err != nil {
		return // 游標是盡力而為，壞訊息直接丟棄
	}
	m.states.SetCursor(client.roomID, &models.CursorPosition{
		UserID:   client.User.ID,
		Username: client.User.Username,
		Color:    payload.Color,
		Line:     payload.Line,
		Column:   payload.Column,
	})
	m.states.UpdateParticipant(client.roomID, client.User.ID, func(p *models.Participant) {})
	m.broadcastExcept(client.roomID, client,
		models.MustMessage(models.MsgCursorsSync, client.roomID, m.states.Cursors(client.roomID)))
}

// handleSelection 選取範圍更新，處理方式與游標相同
func (m *WebSocketManager) handleSelection(client *Client, msg *models.Message) {
	payload, err := msg.DecodeSelection()
	if err != nil {
		return
	}
	m.states.SetSelection(client.roomID, &models.SelectionRange{
		UserID:      client.User.ID,
		Username:    client.User.Username,
		Color:       payload.Color,
		StartLine:   payload.StartLine,
		StartColumn: payload.StartColumn,
		EndLine:     payload.EndLine,
		EndColumn:   payload.EndColumn,
	})
	m.broadcastExcept(client.roomID, client,
		models.MustMessage(models.MsgSelectionsSync, client.roomID, m.states.Selections(client.roomID)))
}

// handleLanguageChange 語言切換是一次特殊編輯：換成模板、版本 +1、照編輯廣播
func (m *WebSocketManager) handleLanguageChange(client *Client, msg *models.Message) {
	payload, err := msg.DecodeLanguage()
	if err != nil {
		m.sendError(client, "invalid_payload", ErrUnsupportedLang.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	newVersion, doc, err := m.states.SetLanguage(ctx, client.roomID, client.User.ID, payload.Language)
	if err != nil {
		m.sendError(client, "language_change_failed", err.Error())
		return
	}

	m.BroadcastToRoom(client.roomID, models.MustMessage(models.MsgEditApplied, client.roomID, &models.EditBroadcast{
		File:       models.DefaultFile,
		Content:    doc,
		NewVersion: newVersion,
		AuthorID:   client.User.ID,
	}))
}

// handleExecute 提交執行請求給接入控制
func (m *WebSocketManager) handleExecute(client *Client, msg *models.Message) {
	payload, err := msg.DecodeExecute()
	if err != nil {
		m.sendError(client, "invalid_payload", err.Error())
		return
	}
	if _, err := m.executions.Enqueue(client.roomID, client.User.ID, payload.Language, payload.Code, payload.Input); err != nil {
		m.sendError(client, "execution_rejected", err.Error())
	}
}

// handleCancelExecution 取消自己的執行請求
func (m *WebSocketManager) handleCancelExecution(client *Client, msg *models.Message) {
	payload, err := msg.DecodeCancelExecution()
	if err != nil {
		m.sendError(client, "invalid_payload", err.Error())
		return
	}
	if err := m.executions.Cancel(client.roomID, payload.RequestID, client.User.ID); err != nil {
		m.sendError(client, "cancel_failed", err.Error())
	}
}

// handleLeave 讓連線離開目前房間
func (m *WebSocketManager) handleLeave(client *Client) {
	roomID := client.roomID
	if roomID == 0 {
		return
	}

	m.clientsMux.Lock()
	if clients, ok := m.clients[roomID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(m.clients, roomID)
		}
	}
	client.roomID = 0
	m.clientsMux.Unlock()

	if err := m.memberRepo.TouchLastSeen(roomID, client.User.ID); err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Warn("Failed to touch member last seen")
	}

	// 同一用戶可能有多條連線，最後一條離開才移除參與者
	if !m.userStillConnected(roomID, client.User.ID) {
		m.presence.Leave(roomID, client.User.ID)
	}
}

// disconnect 是連線關閉的統一出口，效果等同收到 leave 訊息
func (m *WebSocketManager) disconnect(client *Client) {
	m.handleLeave(client)

	m.clientsMux.Lock()
	if !client.closed {
		client.closed = true
		close(client.SendChan)
	}
	m.clientsMux.Unlock()
}

func (m *WebSocketManager) userStillConnected(roomID, userID uint) bool {
	m.clientsMux.RLock()
	defer m.clientsMux.RUnlock()
	for c := range m.clients[roomID] {
		if c.User.ID == userID {
			return true
		}
	}
	return false
}

// BroadcastToRoom 向房間內所有連線廣播訊息
func (m *WebSocketManager) BroadcastToRoom(roomID uint, msg *models.Message) {
	m.broadcast(roomID, msg, nil)
}

// BroadcastToOthers 向房間內除指定用戶外的所有連線廣播訊息
func (m *WebSocketManager) BroadcastToOthers(roomID uint, excludeUserID uint, msg *models.Message) {
	m.broadcast(roomID, msg, func(c *Client) bool {
		return c.User.ID != excludeUserID
	})
}

// broadcastExcept 向房間內除指定連線外的所有連線廣播訊息
// 同一用戶的其他連線（例如第二個分頁）也要收到，否則會與提交的連線脫節
func (m *WebSocketManager) broadcastExcept(roomID uint, except *Client, msg *models.Message) {
	m.broadcast(roomID, msg, func(c *Client) bool {
		return c != except
	})
}

// SendToUser 只送給房間內指定用戶的連線
func (m *WebSocketManager) SendToUser(roomID uint, userID uint, msg *models.Message) {
	m.broadcast(roomID, msg, func(c *Client) bool {
		return c.User.ID == userID
	})
}

func (m *WebSocketManager) broadcast(roomID uint, msg *models.Message, include func(*Client) bool) {
	m.clientsMux.RLock()
	var targets []*Client
	for client := range m.clients[roomID] {
		if include == nil || include(client) {
			targets = append(targets, client)
		}
	}
	m.clientsMux.RUnlock()

	for _, client := range targets {
		m.send(client, msg)
	}
}

// send 把訊息放進客戶端的發送通道，通道已滿表示客戶端跟不上，斷開連線
//
// closed 檢查與送出必須在同一把鎖內完成：disconnect 在寫鎖下
// 標記並關閉通道，這裡持讀鎖直到送出，兩者才不會交錯在已關閉的
// 通道上送訊息。送出是非阻塞的，持鎖不會卡住廣播
func (m *WebSocketManager) send(client *Client, msg *models.Message) {
	m.clientsMux.RLock()
	defer m.clientsMux.RUnlock()
	if client.closed {
		return
	}

	select {
	case client.SendChan <- msg:
	default:
		logrus.WithField("conn_id", client.ConnID).Warn("Client send buffer full, dropping connection")
		client.Conn.Close()
	}
}

func (m *WebSocketManager) sendError(client *Client, code, message string) {
	m.send(client, models.MustMessage(models.MsgError, client.roomID, &models.ErrorPayload{
		Code:    code,
		Message: message,
	}))
}

// RoomConnections 回傳房間目前的連線數
func (m *WebSocketManager) RoomConnections(roomID uint) int {
	m.clientsMux.RLock()
	defer m.clientsMux.RUnlock()
	return len(m.clients[roomID])
}
